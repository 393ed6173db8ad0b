package feed

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/rzbill/docflow/internal/event"
)

// Filter is a compiled CEL predicate over an event. The zero Filter matches
// everything.
//
// Variables: type, submission_id, document_ref (strings), ts_ms (int) and
// data (the decoded payload as a map).
type Filter struct {
	prog cel.Program
}

// NewFilter compiles expr. An empty expression yields a match-all filter.
func NewFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("type", cel.StringType),
		cel.Variable("submission_id", cel.StringType),
		cel.Variable("document_ref", cel.StringType),
		cel.Variable("ts_ms", cel.IntType),
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, iss.Err()
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return Filter{}, errNotBool
	}
	prog, err := env.Program(ast)
	if err != nil {
		return Filter{}, err
	}
	return Filter{prog: prog}, nil
}

var errNotBool = errors.New("filter expression must evaluate to bool")

// Match evaluates the filter. Evaluation errors count as no match.
func (f Filter) Match(ev event.Envelope) bool {
	if f.prog == nil {
		return true
	}
	data := map[string]any{}
	if ev.Payload != nil {
		if b, err := json.Marshal(ev.Payload); err == nil {
			_ = json.Unmarshal(b, &data)
		}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"type":          string(ev.Type),
		"submission_id": ev.SubmissionID,
		"document_ref":  ev.DocumentRef,
		"ts_ms":         ev.Timestamp.UnixMilli(),
		"data":          data,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
