// Package graph owns the nodes and edges of a pipeline and checks that they
// form a runnable topology.
//
// # Why Graph Package Exists
//
// Nodes and edges refer to each other in both directions, and feedback edges
// make the structure cyclic. The graph keeps both in an arena indexed by
// integer ids, so nodes hold edges by pointer only through wiring that the
// graph recomputes on every topology change.
//
// # Lifecycle
//
// A graph is built with AddNode/AddEdge, checked with Validate and handed to
// a scheduler. While the scheduler runs, the graph is frozen and every
// mutation returns ErrFrozen. To reconfigure, stop the scheduler, edit,
// validate and start again.
//
// # Validation
//
// Validate can be called any number of times and never changes the graph. It
// reports every problem it finds, joined into one error whose parts are
// *BuildError values:
//   - duplicate or invalid node names
//   - dangling node or port references
//   - incompatible port media types
//   - required inputs with no upstream edge
//   - feedback edges that land on ports not declared as feedback inputs
//   - cycles that do not pass through a marked feedback edge
package graph
