// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the primary execution lifecycle, decoupled
// from any specific entrypoint like a CLI or server.
//
// An App loads a pipeline through a config.Loader, builds the graph against
// the registered node kinds and runs it on a scheduler. Alongside the run it
// supervises the optional introspection server and snapshot publisher, and
// tears everything down when the context is cancelled, the scheduler halts,
// or (with ExitOnIdle) the pipeline has nothing left to do.
package app
