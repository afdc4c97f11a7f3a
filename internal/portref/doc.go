/*
Package portref parses and formats references to node ports.

The canonical form is `node.port`, e.g. `camera.out`. The port may be
omitted (`camera`), which refers to the node's first port in the
direction the reference is used.
*/
package portref
