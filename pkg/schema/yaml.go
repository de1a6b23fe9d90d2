package schema

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ShapeFile is the YAML form of a set of shape declarations:
//
//	shapes:
//	  - name: Person
//	    doc: A person.
//	    fields:
//	      - {name: Name, json: name, type: string}
//	      - {name: Pets, json: pets, type: "[]Pet", optional: true}
//	      - {name: Contact, json: contact, type: "Email | Phone"}
//	  - name: Color
//	    enum: [red, green, blue]
//
// Type expressions are primitives (string, int, float64, bool, time.Time,
// any), shape names, []T, set[T], map[string]T, unions written A | B, and
// parenthesized expressions.
type ShapeFile struct {
	Shapes []ShapeDecl `yaml:"shapes"`
}

type ShapeDecl struct {
	Name   string      `yaml:"name"`
	Doc    string      `yaml:"doc"`
	Enum   []string    `yaml:"enum"`
	Opaque bool        `yaml:"opaque"`
	Fields []FieldDecl `yaml:"fields"`
}

type FieldDecl struct {
	Name     string `yaml:"name"`
	JSON     string `yaml:"json"`
	Type     string `yaml:"type"`
	Optional bool   `yaml:"optional"`
	Doc      string `yaml:"doc"`
}

// ParseShapes decodes YAML declarations into shapes, in declaration order.
// Shapes may refer to each other, and to themselves, by name.
func ParseShapes(data []byte) ([]*Shape, error) {
	var file ShapeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse shapes: %w", err)
	}

	byName := make(map[string]*Shape, len(file.Shapes))
	shapes := make([]*Shape, 0, len(file.Shapes))
	for _, d := range file.Shapes {
		if d.Name == "" {
			return nil, fmt.Errorf("shape without a name")
		}
		if _, dup := byName[d.Name]; dup {
			return nil, fmt.Errorf("shape %s declared twice", d.Name)
		}
		var s *Shape
		switch {
		case d.Opaque:
			s = Opaque(d.Name)
		case len(d.Enum) > 0:
			s = Enum(d.Name, d.Doc, d.Enum...)
		default:
			s = Struct(d.Name, d.Doc)
		}
		byName[d.Name] = s
		shapes = append(shapes, s)
	}

	// Fields are resolved once every name is known.
	for i, d := range file.Shapes {
		for _, fd := range d.Fields {
			if fd.Name == "" {
				return nil, fmt.Errorf("shape %s: field without a name", d.Name)
			}
			t, err := parseType(fd.Type, byName)
			if err != nil {
				return nil, fmt.Errorf("shape %s field %s: %w", d.Name, fd.Name, err)
			}
			f := F(fd.Name, t).Describe(fd.Doc)
			if fd.JSON != "" {
				f = f.As(fd.JSON)
			}
			if fd.Optional {
				f = f.Opt()
			}
			shapes[i].Add(f)
		}
	}
	return shapes, nil
}

func parseType(expr string, shapes map[string]*Shape) (*Type, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty type")
	}

	if alts := splitUnion(expr); len(alts) > 1 {
		types := make([]*Type, 0, len(alts))
		for _, a := range alts {
			t, err := parseType(a, shapes)
			if err != nil {
				return nil, err
			}
			types = append(types, t)
		}
		return OneOf(types...), nil
	}

	switch {
	case strings.HasPrefix(expr, "(") && strings.HasSuffix(expr, ")"):
		return parseType(expr[1:len(expr)-1], shapes)
	case strings.HasPrefix(expr, "[]"):
		elem, err := parseType(expr[2:], shapes)
		if err != nil {
			return nil, err
		}
		return ListOf(elem), nil
	case strings.HasPrefix(expr, "set[") && strings.HasSuffix(expr, "]"):
		elem, err := parseType(expr[4:len(expr)-1], shapes)
		if err != nil {
			return nil, err
		}
		return SetOf(elem), nil
	case strings.HasPrefix(expr, "map[string]"):
		elem, err := parseType(expr[len("map[string]"):], shapes)
		if err != nil {
			return nil, err
		}
		return MapOf(elem), nil
	case strings.HasPrefix(expr, "map["):
		return nil, fmt.Errorf("%s: map keys must be string", expr)
	}

	switch expr {
	case PrimString, PrimInt, PrimFloat, PrimBool, PrimTime, PrimAny:
		return Prim(expr), nil
	case "float":
		return Float(), nil
	case "time":
		return Time(), nil
	}
	if s, ok := shapes[expr]; ok {
		return Ref(s), nil
	}
	return nil, fmt.Errorf("unknown type %q", expr)
}

// splitUnion splits expr on '|' outside brackets and parentheses.
func splitUnion(expr string) []string {
	var (
		parts []string
		depth int
		start int
	)
	for i, r := range expr {
		switch r {
		case '[', '(':
			depth++
		case ']', ')':
			depth--
		case '|':
			if depth == 0 {
				parts = append(parts, expr[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, expr[start:])
}
