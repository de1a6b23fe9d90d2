package schema

// Closure returns every structured shape reachable from root through field
// types, union alternatives, and collection elements. The result contains
// root (when root is structured), holds each shape once, and is ordered by
// first visit in a depth-first walk.
func Closure(root *Shape) []*Shape {
	c := closure{seen: make(map[*Shape]bool)}
	c.visit(root)
	return c.out
}

type closure struct {
	seen map[*Shape]bool
	out  []*Shape
}

func (c *closure) visit(s *Shape) {
	// The visited set is the cycle guard for self- and mutually-referential shapes.
	if !s.Structured() || c.seen[s] {
		return
	}
	c.seen[s] = true
	c.out = append(c.out, s)
	for _, f := range s.Fields {
		c.visitType(f.Type)
	}
}

func (c *closure) visitType(t *Type) {
	if t == nil {
		return
	}
	switch t.Kind {
	case KindUnion:
		for _, alt := range t.Alternatives {
			c.visitType(alt)
		}
	case KindList, KindSet, KindMap:
		c.visitType(t.Elem)
	case KindNested:
		c.visit(t.Shape)
	}
}
