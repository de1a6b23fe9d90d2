// Package schema describes the shape of structured values that a language
// model is asked to produce.
//
// Shapes are declared explicitly, once, at definition time: each Shape lists
// its fields and each field carries a value-kind tag. Closure walks a root
// shape to find every structured definition a prompt must include, Render
// turns that set into Go source text, and Validate checks a JSON document
// against a shape.
package schema

import (
	"fmt"
	"sort"
	"sync"
)

// Kind tags the declared value kind of a field.
type Kind int

const (
	KindPrimitive Kind = iota
	KindNested
	KindUnion
	KindList
	KindSet
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindNested:
		return "nested"
	case KindUnion:
		return "union"
	case KindList:
		return "list"
	case KindSet:
		return "set"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Primitive type names. They double as the Go type text used when rendering.
const (
	PrimString = "string"
	PrimInt    = "int"
	PrimFloat  = "float64"
	PrimBool   = "bool"
	PrimTime   = "time.Time"
	PrimAny    = "any"
)

// Type is the declared type of a field.
type Type struct {
	Kind Kind
	// Name is the primitive type name (KindPrimitive).
	Name string
	// Shape is the referenced structured value (KindNested).
	Shape *Shape
	// Alternatives are the members of a union (KindUnion).
	Alternatives []*Type
	// Elem is the element type of a list or set, or the value type of a map.
	Elem *Type
}

func Prim(name string) *Type { return &Type{Kind: KindPrimitive, Name: name} }
func Str() *Type             { return Prim(PrimString) }
func Int() *Type             { return Prim(PrimInt) }
func Float() *Type           { return Prim(PrimFloat) }
func Bool() *Type            { return Prim(PrimBool) }
func Time() *Type            { return Prim(PrimTime) }
func Any() *Type             { return Prim(PrimAny) }

// Ref refers to another shape, possibly the one being declared.
func Ref(s *Shape) *Type { return &Type{Kind: KindNested, Shape: s} }

func ListOf(elem *Type) *Type { return &Type{Kind: KindList, Elem: elem} }
func SetOf(elem *Type) *Type  { return &Type{Kind: KindSet, Elem: elem} }

// MapOf is an object with string keys and values of type elem.
func MapOf(elem *Type) *Type { return &Type{Kind: KindMap, Elem: elem} }

// OneOf is a union of alternatives.
func OneOf(alts ...*Type) *Type { return &Type{Kind: KindUnion, Alternatives: alts} }

// Field is one entry of a shape's field manifest.
type Field struct {
	// Name is the Go identifier used when rendering.
	Name string
	// JSON is the key in the encoded object. Defaults to Name.
	JSON     string
	Type     *Type
	Optional bool
	Doc      string
}

// F declares a required field.
func F(name string, t *Type) Field {
	return Field{Name: name, JSON: name, Type: t}
}

// As sets the JSON key.
func (f Field) As(key string) Field {
	f.JSON = key
	return f
}

// Opt marks the field optional.
func (f Field) Opt() Field {
	f.Optional = true
	return f
}

// Describe attaches a doc line.
func (f Field) Describe(doc string) Field {
	f.Doc = doc
	return f
}

func (f Field) key() string {
	if f.JSON != "" {
		return f.JSON
	}
	return f.Name
}

// Shape describes a structured value. A shape either carries a field manifest,
// an enum value list, or is opaque. Opaque shapes are not introspectable and
// never appear in a closure.
type Shape struct {
	Name   string
	Doc    string
	Fields []Field
	Enum   []string

	opaque bool
}

// Struct declares a record shape. Fields may be added later with Add, which is
// how self-referential shapes are built.
func Struct(name, doc string, fields ...Field) *Shape {
	return &Shape{Name: name, Doc: doc, Fields: fields}
}

// Enum declares a string enumeration.
func Enum(name, doc string, values ...string) *Shape {
	return &Shape{Name: name, Doc: doc, Enum: values}
}

// Opaque declares a named type with no field manifest.
func Opaque(name string) *Shape {
	return &Shape{Name: name, opaque: true}
}

// Add appends fields and returns the shape.
func (s *Shape) Add(fields ...Field) *Shape {
	s.Fields = append(s.Fields, fields...)
	return s
}

// Structured reports whether s exposes a field manifest (or enum values).
func (s *Shape) Structured() bool {
	return s != nil && !s.opaque
}

// IsEnum reports whether s is an enumeration.
func (s *Shape) IsEnum() bool {
	return s != nil && len(s.Enum) > 0
}

// Field returns the field with the given JSON key.
func (s *Shape) Field(key string) (Field, bool) {
	for _, f := range s.Fields {
		if f.key() == key {
			return f, true
		}
	}
	return Field{}, false
}

// Registry maps shape names to shapes.
type Registry struct {
	mu     sync.RWMutex
	shapes map[string]*Shape
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{shapes: make(map[string]*Shape)}
}

// Register adds shapes. Names must be unique.
func (r *Registry) Register(shapes ...*Shape) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range shapes {
		if s == nil || s.Name == "" {
			return fmt.Errorf("shape must have a name")
		}
		if existing, ok := r.shapes[s.Name]; ok && existing != s {
			return fmt.Errorf("shape %q already registered", s.Name)
		}
		r.shapes[s.Name] = s
	}
	return nil
}

// Get returns the shape registered under name.
func (r *Registry) Get(name string) (*Shape, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.shapes[name]
	return s, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.shapes))
	for n := range r.shapes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
