package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

var (
	timeType       = reflect.TypeOf(time.Time{})
	rawMessageType = reflect.TypeOf(json.RawMessage{})
	byteSliceType  = reflect.TypeOf([]byte(nil))
)

// Of builds the shape of T, which must be a struct (or pointer to struct).
func Of[T any]() (*Shape, error) {
	return FromType(reflect.TypeOf((*T)(nil)).Elem())
}

// MustOf is Of for package-level declarations.
func MustOf[T any]() *Shape {
	s, err := Of[T]()
	if err != nil {
		panic(err)
	}
	return s
}

// FromType builds a shape from a Go struct type using its json tags. A
// `desc:"..."` tag becomes the field doc. Self-referential structs are
// supported.
func FromType(t reflect.Type) (*Shape, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema: %s is not a struct", t)
	}
	b := builder{shapes: make(map[reflect.Type]*Shape)}
	return b.structShape(t)
}

type builder struct {
	shapes map[reflect.Type]*Shape
}

func (b *builder) structShape(t reflect.Type) (*Shape, error) {
	if s, ok := b.shapes[t]; ok {
		return s, nil
	}
	name := t.Name()
	if name == "" {
		return nil, fmt.Errorf("schema: anonymous struct %s has no name", t)
	}
	s := Struct(name, "")
	b.shapes[t] = s

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		key, opts, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if key == "-" {
			continue
		}
		if key == "" {
			key = sf.Name
		}

		ft := sf.Type
		optional := strings.Contains(opts, "omitempty") || strings.Contains(opts, "omitzero")
		if ft.Kind() == reflect.Pointer {
			optional = true
			ft = ft.Elem()
		}
		typ, err := b.typeOf(ft)
		if err != nil {
			return nil, fmt.Errorf("schema: %s.%s: %w", name, sf.Name, err)
		}
		f := F(sf.Name, typ).As(key).Describe(sf.Tag.Get("desc"))
		if optional {
			f = f.Opt()
		}
		s.Add(f)
	}
	return s, nil
}

func (b *builder) typeOf(t reflect.Type) (*Type, error) {
	switch t {
	case timeType:
		return Time(), nil
	case rawMessageType:
		return Any(), nil
	case byteSliceType:
		return Str(), nil
	}

	switch t.Kind() {
	case reflect.String:
		return Str(), nil
	case reflect.Bool:
		return Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Int(), nil
	case reflect.Float32, reflect.Float64:
		return Float(), nil
	case reflect.Interface:
		return Any(), nil
	case reflect.Pointer:
		return b.typeOf(t.Elem())
	case reflect.Slice, reflect.Array:
		elem, err := b.typeOf(t.Elem())
		if err != nil {
			return nil, err
		}
		return ListOf(elem), nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, fmt.Errorf("map key %s is not a string", t.Key())
		}
		elem, err := b.typeOf(t.Elem())
		if err != nil {
			return nil, err
		}
		return MapOf(elem), nil
	case reflect.Struct:
		s, err := b.structShape(t)
		if err != nil {
			return nil, err
		}
		return Ref(s), nil
	}
	return nil, fmt.Errorf("unsupported kind %s", t.Kind())
}
