// Package scheduler runs a graph on a fixed pool of worker goroutines.
//
// # Why Scheduler Exists
//
// Nodes become runnable whenever data lands on their inputs, at arbitrary
// times and from arbitrary goroutines. The scheduler turns those events into
// dispatches: it keeps a FIFO queue of ready node ids, lets each worker claim
// one node at a time, and puts a node back in the queue as long as its inputs
// still satisfy it.
//
// # How It Works
//
//  1. Start validates and freezes the graph, resets every edge, marks every
//     node Idle and queues the ones that are already ready.
//  2. Each edge push runs a hook that tries the destination's Idle -> Ready
//     transition; the goroutine that wins it queues the node and signals one
//     waiting worker.
//  3. A worker pops the oldest id, claims the node (Ready -> Running) and
//     hands it to the executor.
//  4. On success the node goes back to Ready (and to the tail of the queue)
//     or to Idle. On failure it goes to Failed and stays out of dispatch
//     until ResetNode.
//  5. Stop closes the queue, cancels the run context, waits for running
//     invocations, closes the edges and marks every node Stopped.
//
// Cancelling the context given to Start closes the queue too. Running
// invocations finish, and a producer blocked on a full edge gives up its
// buffer. Stop must still be called to join the workers.
//
// A node id is in the queue at most once, because only the goroutine that
// moved the node into Ready may queue it.
//
// # Failure Policy
//
// Node failures stay local unless WithFailFast is set, in which case the
// first one halts the run. Invariant violations (a node leaving Running
// behind the scheduler's back, two workers inside one node) always halt the
// run with a *FatalError, reported by Err and returned by Stop.
package scheduler
