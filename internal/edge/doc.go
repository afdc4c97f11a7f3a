// Package edge implements the bounded FIFO queue that connects one output port
// to one input port.
//
// Each edge carries a backpressure Policy fixed when the edge is built:
//   - Block: a producer pushing to a full queue waits for space, optionally up
//     to a timeout, after which the push fails with a capacity error.
//   - DropOldest: the oldest queued buffer is evicted to make room.
//   - DropNewest: the incoming buffer is discarded.
//
// Every successful push runs the edge's push hook, which the scheduler uses to
// mark the destination node ready and wake an idle worker.
package edge
