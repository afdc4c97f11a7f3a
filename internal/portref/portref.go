package portref

import (
	"fmt"
	"regexp"
	"strings"
)

// nameRegex matches a node or port name.
var nameRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*$`)

// Ref points at one port of one node.
type Ref struct {
	Node string
	// Port is empty when the reference names only the node.
	Port string
}

// String serializes the Ref into its canonical form.
func (r Ref) String() string {
	if r.Port == "" {
		return r.Node
	}
	return r.Node + "." + r.Port
}

// HasPort reports whether the reference names a port explicitly.
func (r Ref) HasPort() bool {
	return r.Port != ""
}

// ValidName checks that name can be used as a node or port name.
func ValidName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("invalid name %q: must start with a letter or underscore and contain only letters, digits, '_' or '-'", name)
	}
	return nil
}

// Parse creates a Ref from its canonical string representation.
func Parse(raw string) (Ref, error) {
	if raw == "" {
		return Ref{}, fmt.Errorf("port reference cannot be empty")
	}

	parts := strings.Split(raw, ".")
	if len(parts) > 2 {
		return Ref{}, fmt.Errorf("invalid port reference %q: expected 'node.port'", raw)
	}
	for _, part := range parts {
		if part == "" {
			return Ref{}, fmt.Errorf("port reference %q contains empty segment", raw)
		}
		if err := ValidName(part); err != nil {
			return Ref{}, fmt.Errorf("port reference %q: %w", raw, err)
		}
	}

	ref := Ref{Node: parts[0]}
	if len(parts) == 2 {
		ref.Port = parts[1]
	}
	return ref, nil
}

// MustParse is like Parse but panics on error. It is intended for tests and
// static wiring.
func MustParse(raw string) Ref {
	ref, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return ref
}
