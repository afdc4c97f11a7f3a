package edge

import (
	"fmt"
	"strings"
)

// Policy governs what a push does when the queue is full.
type Policy int

const (
	// Block makes the producer wait for queue space.
	Block Policy = iota
	// DropOldest evicts the oldest queued buffer.
	DropOldest
	// DropNewest discards the incoming buffer.
	DropNewest
)

func (p Policy) String() string {
	switch p {
	case Block:
		return "block"
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy converts a configuration string into a Policy. The empty string
// selects Block.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "block":
		return Block, nil
	case "drop_oldest", "drop-oldest":
		return DropOldest, nil
	case "drop_newest", "drop-newest":
		return DropNewest, nil
	default:
		return Block, fmt.Errorf("unknown backpressure policy %q: must be 'block', 'drop_oldest' or 'drop_newest'", s)
	}
}

// PushResult reports the outcome of a push.
type PushResult int

const (
	// Accepted means the buffer was enqueued with nothing lost.
	Accepted PushResult = iota
	// Blocked means the push did not complete: the queue stayed full past the
	// timeout, the context ended, or the edge was closed.
	Blocked
	// Dropped means the queue lost a buffer: the incoming one under
	// DropNewest, or the oldest one under DropOldest (the incoming buffer is
	// then enqueued).
	Dropped
)

func (r PushResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Blocked:
		return "blocked"
	case Dropped:
		return "dropped"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}
