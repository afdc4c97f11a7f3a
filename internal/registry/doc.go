// Package registry maps node kind names to the ports, properties and
// processor factory that implement them.
//
// Modules are compiled into the binary and add their kinds through the
// Module interface. A pipeline description then refers to kinds by name and
// the builder asks the registry for fresh node configurations.
package registry
