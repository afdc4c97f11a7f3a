package scheduler

import "github.com/vk/framegraph/internal/node"

// readyQueue is a FIFO of ready nodes. The scheduler's mutex guards it.
type readyQueue struct {
	items []*node.Node
	head  int
}

func (q *readyQueue) push(n *node.Node) {
	q.items = append(q.items, n)
}

func (q *readyQueue) pop() *node.Node {
	n := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 >= len(q.items) {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
	return n
}

func (q *readyQueue) len() int {
	return len(q.items) - q.head
}

func (q *readyQueue) reset() {
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
}
