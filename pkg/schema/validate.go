package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ValidationError locates a single mismatch between a document and a shape.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Path + ": " + e.Message
}

// Validate checks that data is a JSON object matching s. All mismatches are
// reported, joined, so the message is useful as corrective feedback.
func Validate(s *Shape, data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("invalid JSON: unexpected data after top-level value")
	}

	v := validator{}
	v.shape("$", s, doc)
	return errors.Join(v.errs...)
}

type validator struct {
	errs []error
}

func (v *validator) fail(path, format string, args ...any) {
	v.errs = append(v.errs, &ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) shape(path string, s *Shape, val any) {
	if !s.Structured() {
		// Opaque shapes cannot be introspected; accept anything.
		return
	}
	if s.IsEnum() {
		str, ok := val.(string)
		if !ok {
			v.fail(path, "expected %s (string enum), got %s", s.Name, describe(val))
			return
		}
		if !slices.Contains(s.Enum, str) {
			v.fail(path, "%q is not a valid %s; expected one of %s", str, s.Name, strings.Join(s.Enum, ", "))
		}
		return
	}

	obj, ok := val.(map[string]any)
	if !ok {
		v.fail(path, "expected object %s, got %s", s.Name, describe(val))
		return
	}
	for _, f := range s.Fields {
		fv, present := obj[f.key()]
		fpath := path + "." + f.key()
		if !present || fv == nil {
			if !f.Optional && !(present && acceptsNull(f.Type)) {
				v.fail(fpath, "missing required field")
			}
			continue
		}
		v.typ(fpath, f.Type, fv)
	}
	for key := range obj {
		if _, ok := s.Field(key); !ok {
			v.fail(path+"."+key, "unknown field for %s", s.Name)
		}
	}
}

func (v *validator) typ(path string, t *Type, val any) {
	switch t.Kind {
	case KindPrimitive:
		if msg := primitive(t.Name, val); msg != "" {
			v.fail(path, "%s", msg)
		}
	case KindNested:
		v.shape(path, t.Shape, val)
	case KindUnion:
		for _, alt := range t.Alternatives {
			probe := validator{}
			probe.typ(path, alt, val)
			if len(probe.errs) == 0 {
				return
			}
		}
		names := make([]string, len(t.Alternatives))
		for i, alt := range t.Alternatives {
			names[i], _ = typeExpr(alt)
		}
		v.fail(path, "value matches none of: %s", strings.Join(names, " | "))
	case KindList, KindSet:
		arr, ok := val.([]any)
		if !ok {
			v.fail(path, "expected array, got %s", describe(val))
			return
		}
		seen := make(map[string]bool, len(arr))
		for i, item := range arr {
			v.typ(fmt.Sprintf("%s[%d]", path, i), t.Elem, item)
			if t.Kind == KindSet {
				key, _ := json.Marshal(item)
				if seen[string(key)] {
					v.fail(fmt.Sprintf("%s[%d]", path, i), "duplicate item in set")
				}
				seen[string(key)] = true
			}
		}
	case KindMap:
		obj, ok := val.(map[string]any)
		if !ok {
			v.fail(path, "expected object, got %s", describe(val))
			return
		}
		for k, item := range obj {
			v.typ(path+"."+k, t.Elem, item)
		}
	}
}

func acceptsNull(t *Type) bool {
	return t != nil && t.Kind == KindPrimitive && t.Name == PrimAny
}

func primitive(name string, val any) string {
	switch name {
	case PrimAny:
		return ""
	case PrimString:
		if _, ok := val.(string); !ok {
			return "expected string, got " + describe(val)
		}
	case PrimBool:
		if _, ok := val.(bool); !ok {
			return "expected boolean, got " + describe(val)
		}
	case PrimInt:
		n, ok := val.(json.Number)
		if !ok {
			return "expected integer, got " + describe(val)
		}
		if _, ok := integral(n.String()); !ok {
			return fmt.Sprintf("expected integer, got %s", n)
		}
	case PrimFloat:
		if _, ok := val.(json.Number); !ok {
			return "expected number, got " + describe(val)
		}
	case PrimTime:
		str, ok := val.(string)
		if !ok {
			return "expected RFC 3339 timestamp string, got " + describe(val)
		}
		if _, err := time.Parse(time.RFC3339, str); err != nil {
			return fmt.Sprintf("expected RFC 3339 timestamp, got %q", str)
		}
	}
	return ""
}

func describe(val any) string {
	switch val.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", val)
}

// maxExactInt is the largest magnitude a float64 holds without losing
// integer precision.
const maxExactInt = 1 << 53

// integral reports whether the JSON number text has an integer value, such
// as 40, 40.0 or 4e1, and returns that value.
func integral(num string) (int64, bool) {
	if n, err := strconv.ParseInt(num, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > maxExactInt {
		return 0, false
	}
	return int64(f), true
}

// IntegralNumbers rewrites number literals with an integer value but a
// fraction or exponent (40.0, 4e1) in their plain integer form, so the text
// decodes into Go integer fields. Strings and malformed input are copied
// unchanged.
func IntegralNumbers(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inString := false
	for i := 0; i < len(text); {
		c := text[i]
		if inString {
			b.WriteByte(c)
			switch c {
			case '\\':
				if i+1 < len(text) {
					b.WriteByte(text[i+1])
					i++
				}
			case '"':
				inString = false
			}
			i++
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			i++
			continue
		}
		if c != '-' && (c < '0' || c > '9') {
			b.WriteByte(c)
			i++
			continue
		}
		j := i + 1
		for j < len(text) && strings.IndexByte("0123456789.eE+-", text[j]) >= 0 {
			j++
		}
		num := text[i:j]
		if strings.ContainsAny(num, ".eE") {
			if n, ok := integral(num); ok {
				num = strconv.FormatInt(n, 10)
			}
		}
		b.WriteString(num)
		i = j
	}
	return b.String()
}
