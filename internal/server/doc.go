// Package server exposes a running graph over HTTP.
//
// The routes are read-mostly: JSON snapshots of the scheduler, nodes, ports
// and edges, Prometheus metrics, and a WebSocket stream that pushes a fresh
// snapshot on every tick. The only writes are property updates and resetting
// a failed node. Every handler goes through introspection or the thread-safe
// property set, so requests never pause the workers.
package server
