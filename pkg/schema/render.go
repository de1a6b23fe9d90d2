package schema

import (
	"fmt"
	"go/token"
	"strings"
)

// RenderShape returns the canonical Go source definition of a single shape.
func RenderShape(s *Shape) (string, error) {
	if err := check(s); err != nil {
		return "", err
	}

	var b strings.Builder
	writeDoc(&b, "", s.Doc)

	if s.IsEnum() {
		quoted := make([]string, len(s.Enum))
		for i, v := range s.Enum {
			quoted[i] = fmt.Sprintf("%q", v)
		}
		fmt.Fprintf(&b, "// %s is one of: %s.\n", s.Name, strings.Join(quoted, ", "))
		fmt.Fprintf(&b, "type %s string\n", s.Name)
		return b.String(), nil
	}

	fmt.Fprintf(&b, "type %s struct {\n", s.Name)
	for _, f := range s.Fields {
		writeDoc(&b, "\t", f.Doc)
		expr, note := typeExpr(f.Type)
		if f.Optional && needsPointer(f.Type) {
			expr = "*" + expr
		}
		tag := f.key()
		if f.Optional {
			tag += ",omitempty"
		}
		fmt.Fprintf(&b, "\t%s %s `json:\"%s\"`", f.Name, expr, tag)
		if note != "" {
			fmt.Fprintf(&b, " // %s", note)
		}
		b.WriteString("\n")
	}
	b.WriteString("}\n")
	return b.String(), nil
}

// Render concatenates the definitions of every shape in shapes, dropping
// definitions whose text is identical to one already emitted.
func Render(shapes []*Shape) (string, error) {
	seen := make(map[string]bool, len(shapes))
	var parts []string
	for _, s := range shapes {
		text, err := RenderShape(s)
		if err != nil {
			return "", err
		}
		if seen[text] {
			continue
		}
		seen[text] = true
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n"), nil
}

// RenderClosure renders the closure of root.
func RenderClosure(root *Shape) (string, error) {
	if !root.Structured() {
		return "", fmt.Errorf("shape %q is not a structured value", nameOf(root))
	}
	return Render(Closure(root))
}

func writeDoc(b *strings.Builder, indent, doc string) {
	if doc == "" {
		return
	}
	for _, line := range strings.Split(strings.TrimSpace(doc), "\n") {
		fmt.Fprintf(b, "%s// %s\n", indent, strings.TrimSpace(line))
	}
}

func typeExpr(t *Type) (expr, note string) {
	switch t.Kind {
	case KindPrimitive:
		return t.Name, ""
	case KindNested:
		return t.Shape.Name, ""
	case KindUnion:
		names := make([]string, len(t.Alternatives))
		for i, alt := range t.Alternatives {
			names[i], _ = typeExpr(alt)
		}
		return "any", "one of: " + strings.Join(names, " | ")
	case KindList:
		elem, note := typeExpr(t.Elem)
		return "[]" + elem, note
	case KindSet:
		elem, note := typeExpr(t.Elem)
		if note != "" {
			return "[]" + elem, "unique items; " + note
		}
		return "[]" + elem, "unique items"
	case KindMap:
		elem, note := typeExpr(t.Elem)
		return "map[string]" + elem, note
	}
	return "any", ""
}

func needsPointer(t *Type) bool {
	switch t.Kind {
	case KindList, KindSet, KindMap, KindUnion:
		return false
	case KindPrimitive:
		return t.Name != PrimAny
	}
	return true
}

func nameOf(s *Shape) string {
	if s == nil {
		return "<nil>"
	}
	return s.Name
}

// check reports malformed declarations.
func check(s *Shape) error {
	if s == nil {
		return fmt.Errorf("nil shape")
	}
	if !token.IsIdentifier(s.Name) {
		return fmt.Errorf("shape name %q is not a valid identifier", s.Name)
	}
	if !s.Structured() {
		return fmt.Errorf("shape %q has no field manifest", s.Name)
	}
	if s.IsEnum() && len(s.Fields) > 0 {
		return fmt.Errorf("shape %q declares both fields and enum values", s.Name)
	}
	keys := make(map[string]bool, len(s.Fields))
	for i, f := range s.Fields {
		if !token.IsIdentifier(f.Name) {
			return fmt.Errorf("shape %q: field %d has invalid name %q", s.Name, i, f.Name)
		}
		if keys[f.key()] {
			return fmt.Errorf("shape %q: duplicate field key %q", s.Name, f.key())
		}
		keys[f.key()] = true
		if err := checkType(f.Type); err != nil {
			return fmt.Errorf("shape %q: field %s: %w", s.Name, f.Name, err)
		}
	}
	return nil
}

func checkType(t *Type) error {
	if t == nil {
		return fmt.Errorf("missing type")
	}
	switch t.Kind {
	case KindPrimitive:
		if t.Name == "" {
			return fmt.Errorf("primitive without a name")
		}
	case KindNested:
		if t.Shape == nil || t.Shape.Name == "" {
			return fmt.Errorf("nested type without a shape")
		}
	case KindUnion:
		if len(t.Alternatives) == 0 {
			return fmt.Errorf("union without alternatives")
		}
		for _, alt := range t.Alternatives {
			if err := checkType(alt); err != nil {
				return err
			}
		}
	case KindList, KindSet, KindMap:
		if err := checkType(t.Elem); err != nil {
			return fmt.Errorf("%s element: %w", t.Kind, err)
		}
	default:
		return fmt.Errorf("unknown kind %s", t.Kind)
	}
	return nil
}
