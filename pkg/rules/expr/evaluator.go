package expr

import (
	"log/slog"
)

// Context is the record a condition is evaluated against.
type Context map[string]interface{}

// Evaluator interprets condition trees. It holds no mutable state and is safe
// for concurrent use.
type Evaluator struct {
	logger *slog.Logger
}

// NewEvaluator creates an evaluator. A nil logger uses slog.Default().
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{logger: logger.With("component", "rules.expr")}
}

var defaultEvaluator = NewEvaluator(nil)

// Evaluate evaluates n against ctx with the default evaluator.
func Evaluate(n *Node, ctx Context) bool {
	return defaultEvaluator.Evaluate(n, ctx)
}

// Evaluate reports whether ctx satisfies n. It never panics; problems in the
// tree make the affected node false.
func (e *Evaluator) Evaluate(n *Node, ctx Context) bool {
	if n == nil {
		return true
	}
	if n.Malformed != "" {
		e.logger.Warn("malformed condition evaluated as false", "reason", n.Malformed)
		return false
	}

	switch n.Type {
	case NodeLeaf:
		return e.evaluateLeaf(n, ctx)

	case NodeAll:
		result := true
		for _, child := range n.Children {
			if !e.Evaluate(child, ctx) {
				result = false
			}
		}
		return result

	case NodeAny:
		result := false
		for _, child := range n.Children {
			if e.Evaluate(child, ctx) {
				result = true
			}
		}
		return result

	case NodeNone:
		for _, child := range n.Children {
			if e.Evaluate(child, ctx) {
				return false
			}
		}
		return true

	default:
		e.logger.Warn("unknown condition node type evaluated as false", "type", string(n.Type))
		return false
	}
}

func (e *Evaluator) evaluateLeaf(n *Node, ctx Context) bool {
	if !n.Operator.Valid() {
		e.logger.Warn("unsupported operator evaluated as false",
			"field", n.Field,
			"operator", string(n.Operator),
		)
		return false
	}

	actual, found := lookupField(n.Field, ctx)
	if !found {
		return n.Operator == OpNotExists
	}
	return evaluateOperator(n.Operator, actual, n.Value)
}
