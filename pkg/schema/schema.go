// Package schema validates decoded configuration documents against closed
// CUE definitions and reports every violation with its dotted field path.
package schema

import (
	"fmt"
	"math"
	"math/big"
	"slices"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

type Violation struct {
	Path    string
	Message string
}

func (v Violation) String() string {
	if v.Path == "" {
		return v.Message
	}

	return v.Path + ": " + v.Message
}

// Error carries the violations of one document, ordered by path.
type Error struct {
	Violations []Violation
}

func (e *Error) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}

	return strings.Join(msgs, "; ")
}

// Schema is one CUE definition. A cue.Context is not safe for concurrent
// use, so Apply calls are serialized.
type Schema struct {
	mu  sync.Mutex
	ctx *cue.Context
	def cue.Value
}

// Compile compiles src and selects the definition named def, e.g. "#Client".
func Compile(src, def string) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	d := v.LookupPath(cue.ParsePath(def))
	if !d.Exists() {
		return nil, fmt.Errorf("schema defines no %s", def)
	}
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("schema %s: %w", def, err)
	}

	return &Schema{ctx: ctx, def: d}, nil
}

func MustCompile(src, def string) *Schema {
	s, err := Compile(src, def)
	if err != nil {
		panic(err)
	}

	return s
}

// Apply unifies data with the definition. On success it returns the
// completed document as JSON, defaults filled in; otherwise it returns
// every violation found.
func (s *Schema) Apply(data any) ([]byte, []Violation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.ctx.Encode(Normalize(data))
	if err := v.Err(); err != nil {
		return nil, violations(err)
	}

	v = s.def.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, violations(err)
	}

	out, err := v.MarshalJSON()
	if err != nil {
		return nil, violations(err)
	}

	return out, nil
}

// Normalize rewrites values decoded from JSON, YAML or TOML into the forms
// the CUE encoder understands: maps get string keys and floats holding a
// whole number become integers, so that they unify with int constraints.
func Normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[k] = Normalize(x)
		}

		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[fmt.Sprint(k)] = Normalize(x)
		}

		return out
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = Normalize(x)
		}

		return out
	case float32:
		return normalizeFloat(float64(val))
	case float64:
		return normalizeFloat(val)
	default:
		return v
	}
}

func normalizeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return f
	}
	if f >= math.MinInt64 && f < math.MaxInt64 {
		return int64(f)
	}

	// Out of int64 range: keep the exact value so that bounds report it.
	i, _ := big.NewFloat(f).Int(nil)

	return i
}

func violations(err error) []Violation {
	msgs := make(map[string][]string)
	var paths []string
	for _, e := range cueerrors.Errors(err) {
		path := fieldPath(e.Path())
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)

		if _, ok := msgs[path]; !ok {
			paths = append(paths, path)
		}
		if !slices.Contains(msgs[path], msg) {
			msgs[path] = append(msgs[path], msg)
		}
	}
	slices.Sort(paths)

	out := make([]Violation, 0, len(paths))
	for _, p := range paths {
		out = append(out, Violation{Path: p, Message: strings.Join(summarize(msgs[p]), "; ")})
	}

	return out
}

// summarize drops the "N errors in empty disjunction" headline when the
// individual alternatives are also listed.
func summarize(msgs []string) []string {
	if len(msgs) < 2 {
		return msgs
	}

	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if !strings.Contains(m, "empty disjunction") {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return msgs[:1]
	}

	return out
}

func fieldPath(elems []string) string {
	fields := make([]string, 0, len(elems))
	for _, e := range elems {
		if strings.HasPrefix(e, "#") {
			continue
		}
		fields = append(fields, e)
	}

	return strings.Join(fields, ".")
}
