// Package property holds the typed, named settings of a node. Values are
// cty values so that they can come straight from HCL attributes, be read and
// written as strings over HTTP, and be read by processors on every
// invocation.
package property

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

var (
	// ErrUnknown is returned for a property name that was never declared.
	ErrUnknown = errors.New("unknown property")
	// ErrReadOnly is returned when writing a computed property.
	ErrReadOnly = errors.New("property is read-only")
)

// Descriptor describes a declared property.
type Descriptor struct {
	Name     string
	Type     cty.Type
	Default  cty.Value
	Doc      string
	ReadOnly bool
}

type entry struct {
	desc   Descriptor
	value  cty.Value
	getter func() cty.Value
}

// Set is a concurrency-safe collection of properties.
type Set struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{entries: make(map[string]*entry)}
}

// Declare adds a writable property. A null default becomes the null value of
// the declared type.
func (s *Set) Declare(d Descriptor) error {
	if d.Name == "" {
		return errors.New("property name cannot be empty")
	}
	if d.Type == cty.NilType {
		return fmt.Errorf("property %q has no type", d.Name)
	}
	val := cty.NullVal(d.Type)
	if !d.Default.IsNull() {
		conv, err := convert.Convert(d.Default, d.Type)
		if err != nil {
			return fmt.Errorf("default for property %q: %w", d.Name, err)
		}
		val = conv
	}
	d.Default = val

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[d.Name]; exists {
		return fmt.Errorf("property %q already declared", d.Name)
	}
	s.entries[d.Name] = &entry{desc: d, value: val}
	return nil
}

// DeclareComputed adds a read-only property whose value comes from getter.
func (s *Set) DeclareComputed(name string, typ cty.Type, doc string, getter func() cty.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("property %q already declared", name)
	}
	s.entries[name] = &entry{
		desc:   Descriptor{Name: name, Type: typ, Doc: doc, ReadOnly: true},
		getter: getter,
	}
	return nil
}

// Has reports whether name is declared.
func (s *Set) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[name]
	return ok
}

// Names returns the declared names in sorted order.
func (s *Set) Names() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Describe returns the descriptor of name.
func (s *Set) Describe(name string) (Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	return e.desc, nil
}

// Get returns the current value of name.
func (s *Set) Get(name string) (cty.Value, error) {
	s.mu.RLock()
	e, ok := s.entries[name]
	var val cty.Value
	var getter func() cty.Value
	if ok {
		val, getter = e.value, e.getter
	}
	s.mu.RUnlock()

	if !ok {
		return cty.NilVal, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	if getter != nil {
		return getter(), nil
	}
	return val, nil
}

// Set converts v to the declared type and stores it.
func (s *Set) Set(name string, v cty.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	if e.desc.ReadOnly {
		return fmt.Errorf("%w: %s", ErrReadOnly, name)
	}
	conv, err := convert.Convert(v, e.desc.Type)
	if err != nil {
		return fmt.Errorf("property %q expects %s: %w", name, e.desc.Type.FriendlyName(), err)
	}
	e.value = conv
	return nil
}

// SetString parses s into the declared type of name and stores it.
func (s *Set) SetString(name, str string) error {
	desc, err := s.Describe(name)
	if err != nil {
		return err
	}
	if desc.Type.IsPrimitiveType() {
		return s.Set(name, cty.StringVal(str))
	}
	val, err := ctyjson.Unmarshal([]byte(str), desc.Type)
	if err != nil {
		return fmt.Errorf("property %q expects JSON %s: %w", name, desc.Type.FriendlyName(), err)
	}
	return s.Set(name, val)
}

// GetString renders the value of name as a string. Primitive values use
// their natural form; collections are rendered as JSON.
func (s *Set) GetString(name string) (string, error) {
	val, err := s.Get(name)
	if err != nil {
		return "", err
	}
	return FormatValue(val)
}

// FormatValue renders a cty value the way GetString does.
func FormatValue(val cty.Value) (string, error) {
	if val.IsNull() {
		return "", nil
	}
	if !val.IsKnown() {
		return "", errors.New("value is unknown")
	}
	if val.Type().IsPrimitiveType() {
		str, err := convert.Convert(val, cty.String)
		if err != nil {
			return "", err
		}
		return str.AsString(), nil
	}
	raw, err := ctyjson.Marshal(val, val.Type())
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Strings renders every property, for introspection.
func (s *Set) Strings() map[string]string {
	out := make(map[string]string)
	for _, name := range s.Names() {
		if str, err := s.GetString(name); err == nil {
			out[name] = str
		}
	}
	return out
}

// Int returns name as an int, or def when it is unset or not numeric.
func (s *Set) Int(name string, def int) int {
	var out int
	if s.decode(name, &out) {
		return out
	}
	return def
}

// Float returns name as a float64, or def.
func (s *Set) Float(name string, def float64) float64 {
	var out float64
	if s.decode(name, &out) {
		return out
	}
	return def
}

// Bool returns name as a bool, or def.
func (s *Set) Bool(name string, def bool) bool {
	var out bool
	if s.decode(name, &out) {
		return out
	}
	return def
}

// String returns name as a string, or def.
func (s *Set) String(name string, def string) string {
	var out string
	if s.decode(name, &out) {
		return out
	}
	return def
}

// Duration parses name as a Go duration string, or returns def.
func (s *Set) Duration(name string, def time.Duration) time.Duration {
	str := s.String(name, "")
	if str == "" {
		return def
	}
	d, err := time.ParseDuration(str)
	if err != nil {
		return def
	}
	return d
}

func (s *Set) decode(name string, target any) bool {
	val, err := s.Get(name)
	if err != nil || val.IsNull() || !val.IsKnown() {
		return false
	}
	return gocty.FromCtyValue(val, target) == nil
}
