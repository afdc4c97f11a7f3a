package node

// AnyType is the media type that is compatible with every other type.
const AnyType = "any"

// Port is a named, typed input or output of a node.
type Port struct {
	Name string
	// Type is a media type name such as "video/raw". Empty means AnyType.
	Type string
	// Optional inputs do not gate readiness. Ignored on outputs.
	Optional bool
	// Feedback inputs may be the target of a marked back edge. They never
	// gate readiness, since nothing arrives on them before the first cycle
	// completes. Ignored on outputs.
	Feedback bool
}

// MediaType returns the effective type name.
func (p Port) MediaType() string {
	if p.Type == "" {
		return AnyType
	}
	return p.Type
}

// Gating reports whether the port must hold a buffer for its node to be ready.
func (p Port) Gating() bool {
	return !p.Optional && !p.Feedback
}

// Compatible reports whether an output of type from may feed an input of
// type to.
func Compatible(from, to Port) bool {
	a, b := from.MediaType(), to.MediaType()
	return a == AnyType || b == AnyType || a == b
}
