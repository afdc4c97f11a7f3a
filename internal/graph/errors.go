package graph

import (
	"errors"
	"fmt"
)

// ErrFrozen is returned by topology mutations while a scheduler runs the graph.
var ErrFrozen = errors.New("graph is running: stop the scheduler before changing topology")

// BuildErrorKind classifies a BuildError.
type BuildErrorKind int

const (
	KindInvalidNode BuildErrorKind = iota
	KindDuplicateNode
	KindUnknownNode
	KindUnknownPort
	KindPortTaken
	KindTypeMismatch
	KindUnconnectedInput
	KindFeedback
	KindCycle
)

func (k BuildErrorKind) String() string {
	switch k {
	case KindInvalidNode:
		return "invalid node"
	case KindDuplicateNode:
		return "duplicate node"
	case KindUnknownNode:
		return "unknown node"
	case KindUnknownPort:
		return "unknown port"
	case KindPortTaken:
		return "port already connected"
	case KindTypeMismatch:
		return "port type mismatch"
	case KindUnconnectedInput:
		return "unconnected input"
	case KindFeedback:
		return "invalid feedback edge"
	case KindCycle:
		return "cycle"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// BuildError reports a topology problem found while building or validating
// a graph.
type BuildError struct {
	Kind   BuildErrorKind
	Node   string
	Port   string
	Detail string
}

// Sentinels for errors.Is, matched by Kind.
var (
	ErrDuplicateNode    = &BuildError{Kind: KindDuplicateNode}
	ErrUnknownNode      = &BuildError{Kind: KindUnknownNode}
	ErrUnknownPort      = &BuildError{Kind: KindUnknownPort}
	ErrPortTaken        = &BuildError{Kind: KindPortTaken}
	ErrTypeMismatch     = &BuildError{Kind: KindTypeMismatch}
	ErrUnconnectedInput = &BuildError{Kind: KindUnconnectedInput}
	ErrFeedback         = &BuildError{Kind: KindFeedback}
	ErrCycle            = &BuildError{Kind: KindCycle}
)

// Error implements the error interface.
func (e *BuildError) Error() string {
	where := e.Node
	if e.Port != "" {
		where += "." + e.Port
	}
	switch {
	case where != "" && e.Detail != "":
		return fmt.Sprintf("%s at '%s': %s", e.Kind, where, e.Detail)
	case where != "":
		return fmt.Sprintf("%s at '%s'", e.Kind, where)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	default:
		return e.Kind.String()
	}
}

// Is matches another BuildError of the same kind that carries no location,
// which lets the package sentinels work with errors.Is.
func (e *BuildError) Is(target error) bool {
	t, ok := target.(*BuildError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Node == "" && t.Port == "" && t.Detail == ""
}

func buildErr(kind BuildErrorKind, nodeName, port, format string, args ...any) *BuildError {
	return &BuildError{Kind: kind, Node: nodeName, Port: port, Detail: fmt.Sprintf(format, args...)}
}
