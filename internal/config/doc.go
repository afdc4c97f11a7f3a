// Package config defines the format-agnostic description of a pipeline and
// the Loader interface that produces it.
//
// A Model lists node declarations (a name, a registered kind and property
// overrides), edge declarations between "node.port" references and optional
// scheduler settings. The builder package turns a Model into a graph; the hcl
// package provides the file-based Loader.
package config
