// Package calc exposes an arithmetic calculator to the model.
package calc

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/expr-lang/expr"

	"github.com/assistant0/assistant0/runtime/agent/toolerrors"
	"github.com/assistant0/assistant0/runtime/agent/tools"
)

// Toolset is the name tools of this package are grouped under.
const Toolset = "calc"

const calculatorSchema = `{
  "type": "object",
  "properties": {
    "expression": {"type": "string", "minLength": 1, "maxLength": 256, "description": "Arithmetic expression, e.g. (2 + 3) * sqrt(16) or 2 ** 10."}
  },
  "required": ["expression"],
  "additionalProperties": false
}`

var env = map[string]any{"pi": math.Pi, "e": math.E}

var functions = []expr.Option{
	unary("sqrt", math.Sqrt),
	unary("log", math.Log),
	unary("log10", math.Log10),
	unary("exp", math.Exp),
	unary("sin", math.Sin),
	unary("cos", math.Cos),
	unary("tan", math.Tan),
	expr.Function("pow", func(params ...any) (any, error) {
		return math.Pow(toFloat(params[0]), toFloat(params[1])), nil
	}),
}

// Tools returns the calculator tool.
func Tools() []tools.Tool {
	return []tools.Tool{{
		Name:        "calculator",
		Toolset:     Toolset,
		Description: "Evaluate an arithmetic expression. Useful when you need to answer questions about math.",
		Schema:      json.RawMessage(calculatorSchema),
		Access:      tools.Plain{},
		Handler:     calculate,
	}}
}

func calculate(_ context.Context, call tools.Call) (tools.Result, error) {
	var args struct {
		Expression string `json:"expression"`
	}
	if err := call.Decode(&args); err != nil {
		return tools.Result{}, err
	}
	out, err := Evaluate(args.Expression)
	if err != nil {
		return tools.Result{}, err
	}
	return tools.Result{Value: out}, nil
}

// Evaluate computes a numeric expression and formats the result.
func Evaluate(expression string) (string, error) {
	opts := append([]expr.Option{expr.Env(env)}, functions...)
	prog, err := expr.Compile(expression, opts...)
	if err != nil {
		return "", toolerrors.Wrap(fmt.Sprintf("Invalid expression %q.", expression), err)
	}
	v, err := expr.Run(prog, env)
	if err != nil {
		return "", toolerrors.Wrap(fmt.Sprintf("Cannot evaluate %q.", expression), err)
	}
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n), nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return "", toolerrors.Errorf("%q is not a finite number.", expression)
		}
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	default:
		return "", toolerrors.Errorf("%q does not evaluate to a number.", expression)
	}
}

func unary(name string, fn func(float64) float64) expr.Option {
	return expr.Function(name, func(params ...any) (any, error) {
		return fn(toFloat(params[0])), nil
	})
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case float64:
		return n
	default:
		return math.NaN()
	}
}
