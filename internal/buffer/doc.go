// Package buffer provides the reference-counted unit of media data that moves
// between nodes, and the size-classed pool that recycles it.
//
// A Buffer is writable until it is sealed. Edges seal every buffer they accept,
// after which the payload is shared read-only by every holder until the last
// Release hands it back to its Pool.
package buffer
