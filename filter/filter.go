// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

// Package filter compiles binding filter expressions and evaluates them
// against messages. Expressions are CEL programs over the message's address,
// headers, payload text, parsed JSON payload and size. An empty expression
// compiles to a filter that matches everything.
package filter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
)

// ErrInvalid reports a filter expression that failed to parse or type-check.
var ErrInvalid = errors.New("invalid filter expression")

// Filter wraps a compiled CEL program. The zero value matches everything.
type Filter struct {
	prog    cel.Program
	expr    string
	enabled bool
}

// Compile parses and type-checks a filter expression. An empty or
// whitespace-only expression yields a match-all filter.
func Compile(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &Filter{}, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("address", cel.StringType),
		cel.Variable("size", cel.IntType),
		cel.Variable("text", cel.StringType),
		// Parsed JSON payload (map/list/values) for field filtering.
		cel.Variable("json", cel.DynType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
		// Current time in ms for windowed filters.
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, iss.Err())
	}
	checked, iss := env.Check(ast)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, iss.Err())
	}
	prog, err := env.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	return &Filter{prog: prog, expr: expr, enabled: true}, nil
}

// String returns the original expression, or "" for a match-all filter.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}

// Matches evaluates the filter against a message. A nil or match-all filter
// returns true. Evaluation errors are surfaced so callers can skip the
// binding instead of silently dropping the error.
func (f *Filter) Matches(address string, headers map[string]string, payload []byte) (bool, error) {
	if f == nil || !f.enabled {
		return true, nil
	}

	var jsonObj any
	_ = json.Unmarshal(payload, &jsonObj)

	if headers == nil {
		headers = map[string]string{}
	}

	out, _, err := f.prog.Eval(map[string]any{
		"address": address,
		"size":    int64(len(payload)),
		"text":    string(payload),
		"json":    jsonObj,
		"headers": headers,
		"now_ms":  time.Now().UnixMilli(),
	})
	if err != nil {
		return false, fmt.Errorf("filter evaluation failed: %w", err)
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter did not evaluate to bool: %q", f.expr)
	}
	return b, nil
}
