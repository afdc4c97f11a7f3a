/*
Package builder turns a pipeline description into a graph ready for the
scheduler.

The construction is a three-phase process:

 1. Node Creation: every node declaration is resolved against the registry.
    The kind supplies ports, property defaults and a processor factory; the
    declaration's attributes override the defaults.

 2. Edge Linking: every edge declaration is parsed ("node.port" on both
    sides), its policy and timeout resolved, and the edge added to the graph,
    which checks port existence, fan-in and media types.

 3. Validation: the finished graph is validated as a whole (required inputs
    connected, no cycle outside feedback edges).

Problems found in phases 1 and 2 are collected rather than returned one at a
time, so a user sees every broken declaration in one run.
*/
package builder
