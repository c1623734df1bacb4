package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Kind is the type of a schema field.
type Kind string

const (
	KindText        Kind = "text"
	KindSlug        Kind = "slug"
	KindInteger     Kind = "integer"
	KindNumber      Kind = "number"
	KindCheckbox    Kind = "checkbox"
	KindSelect      Kind = "select"
	KindMultiselect Kind = "multiselect"
	KindDate        Kind = "date"
	// KindDocument is long-form markdown stored in its own file (or the markdown body).
	KindDocument Kind = "document"
)

const dateLayout = "2006-01-02"

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Field declares one top-level field of an entry.
type Field struct {
	Name     string   `yaml:"name"`
	Kind     Kind     `yaml:"kind"`
	Label    string   `yaml:"label,omitempty"`
	Required bool     `yaml:"required,omitempty"`
	Options  []string `yaml:"options,omitempty"`
	Default  any      `yaml:"default,omitempty"`
	Min      *float64 `yaml:"min,omitempty"`
	Max      *float64 `yaml:"max,omitempty"`
}

func (f Field) check() error {
	if f.Name == "" {
		return fmt.Errorf("field name cannot be empty")
	}
	switch f.Kind {
	case KindText, KindSlug, KindInteger, KindNumber, KindCheckbox, KindDate, KindDocument:
	case KindSelect, KindMultiselect:
		if len(f.Options) == 0 {
			return fmt.Errorf("field %q: %s requires options", f.Name, f.Kind)
		}
	case "":
		return fmt.Errorf("field %q: missing kind", f.Name)
	default:
		return fmt.Errorf("field %q: unknown kind %q", f.Name, f.Kind)
	}
	if f.Default != nil {
		if _, err := f.coerce(f.Default); err != nil {
			return fmt.Errorf("field %q: invalid default: %w", f.Name, err)
		}
	}
	return nil
}

// zero is the default value of the field.
func (f Field) zero() any {
	if f.Default != nil {
		if v, err := f.coerce(f.Default); err == nil {
			return v
		}
	}
	switch f.Kind {
	case KindInteger:
		return int64(0)
	case KindNumber:
		return float64(0)
	case KindCheckbox:
		return false
	case KindSelect:
		return f.Options[0]
	case KindMultiselect:
		return []any{}
	default:
		return ""
	}
}

// coerce converts a decoded value to the canonical Go type of the field kind.
// JSON and YAML decode numbers differently; coercion makes both agree.
func (f Field) coerce(v any) (any, error) {
	if v == nil {
		return f.emptyValue(), nil
	}
	switch f.Kind {
	case KindInteger:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case uint64:
			return int64(n), nil
		case float64:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("%v is not an integer", n)
			}
			return int64(n), nil
		case json.Number:
			return n.Int64()
		case string:
			if n == "" {
				return int64(0), nil
			}
			return strconv.ParseInt(n, 10, 64)
		}
	case KindNumber:
		switch n := v.(type) {
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case float64:
			return n, nil
		case json.Number:
			return n.Float64()
		case string:
			if n == "" {
				return float64(0), nil
			}
			return strconv.ParseFloat(n, 64)
		}
	case KindCheckbox:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			return strconv.ParseBool(b)
		}
	case KindMultiselect:
		switch l := v.(type) {
		case []any:
			out := make([]any, 0, len(l))
			for _, item := range l {
				out = append(out, fmt.Sprint(item))
			}
			return out, nil
		case []string:
			out := make([]any, 0, len(l))
			for _, item := range l {
				out = append(out, item)
			}
			return out, nil
		case string:
			if l == "" {
				return []any{}, nil
			}
			out := []any{}
			for _, item := range strings.Split(l, ",") {
				out = append(out, strings.TrimSpace(item))
			}
			return out, nil
		}
	case KindDate:
		switch d := v.(type) {
		case time.Time:
			return d.Format(dateLayout), nil
		case string:
			return d, nil
		}
	default:
		switch s := v.(type) {
		case string:
			return s, nil
		case fmt.Stringer:
			return s.String(), nil
		case int, int64, float64, bool:
			return fmt.Sprint(s), nil
		}
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, f.Kind)
}

func (f Field) emptyValue() any {
	switch f.Kind {
	case KindInteger:
		return int64(0)
	case KindNumber:
		return float64(0)
	case KindCheckbox:
		return false
	case KindMultiselect:
		return []any{}
	default:
		return ""
	}
}

func (f Field) validate(v any) string {
	c, err := f.coerce(v)
	if err != nil {
		return err.Error()
	}
	switch f.Kind {
	case KindText, KindDocument:
		if f.Required && strings.TrimSpace(c.(string)) == "" {
			return "required"
		}
	case KindSlug:
		s := c.(string)
		if s == "" {
			return "required"
		}
		if !slugPattern.MatchString(s) {
			return "must contain lowercase letters, digits and dashes only"
		}
	case KindSelect:
		if !slices.Contains(f.Options, c.(string)) {
			return fmt.Sprintf("must be one of %s", strings.Join(f.Options, ", "))
		}
	case KindMultiselect:
		for _, item := range c.([]any) {
			if !slices.Contains(f.Options, item.(string)) {
				return fmt.Sprintf("%q is not one of %s", item, strings.Join(f.Options, ", "))
			}
		}
	case KindDate:
		s := c.(string)
		if s == "" {
			if f.Required {
				return "required"
			}
			return ""
		}
		if _, err := time.Parse(dateLayout, s); err != nil {
			return "must be a date (YYYY-MM-DD)"
		}
	case KindInteger, KindNumber:
		var n float64
		if i, ok := c.(int64); ok {
			n = float64(i)
		} else {
			n = c.(float64)
		}
		if f.Min != nil && n < *f.Min {
			return fmt.Sprintf("must be at least %v", *f.Min)
		}
		if f.Max != nil && n > *f.Max {
			return fmt.Sprintf("must be at most %v", *f.Max)
		}
	}
	return ""
}

func (f Field) equal(a, b any) bool {
	if f.Kind == KindDocument {
		as, _ := f.coerce(a)
		bs, _ := f.coerce(b)
		sa, _ := as.(string)
		sb, _ := bs.(string)
		return strings.TrimRight(sa, "\n") == strings.TrimRight(sb, "\n")
	}
	ca, errA := f.coerce(a)
	cb, errB := f.coerce(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(normalize(a), normalize(b))
	}
	return reflect.DeepEqual(normalize(ca), normalize(cb))
}

// normalize round-trips a value through JSON so that numeric types and map types of
// different decoders compare equal.
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func normalizedEqual(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}
