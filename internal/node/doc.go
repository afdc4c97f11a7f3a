// Package node defines a processing stage of the pipeline: its ports, the
// Processor capability it runs, its runtime counters and the state machine
// that guarantees at most one worker executes it at a time.
//
// States move as follows:
//
//	Idle -> Ready          every required input has a queued buffer
//	Ready -> Running       exactly one worker wins the claim
//	Running -> Ready|Idle  after outputs are published
//	Running -> Failed      the processor returned an error
//	Failed -> Idle         host reset
//	any -> Stopped         graph teardown
package node
