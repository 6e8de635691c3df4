package template

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"
)

// EvalCondition evaluates a boolean step condition against the context.
// The expression may be wrapped in {{ }}. Identifiers resolve through
// the context; dotted selectors walk nested records. Missing paths
// evaluate to nil, so `review.approved == true` is false rather than an
// error when the step was skipped.
func EvalCondition(expr string, ctx map[string]any) (bool, error) {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "{{") && strings.HasSuffix(expr, "}}") {
		expr = strings.TrimSpace(strings.TrimPrefix(strings.TrimSuffix(expr, "}}"), "{{"))
	}
	if expr == "" {
		return false, fmt.Errorf("empty condition")
	}

	node, err := parser.ParseExpr(expr)
	if err != nil {
		return false, fmt.Errorf("parse condition: %w", err)
	}
	value, err := evalExpr(node, ctx)
	if err != nil {
		return false, err
	}
	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("condition did not evaluate to bool (got %T)", value)
	}
	return b, nil
}

// ConditionRefs returns the dotted paths an expression reads, for the
// static output-usage check.
func ConditionRefs(expr string) []string {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "{{") && strings.HasSuffix(expr, "}}") {
		expr = strings.TrimSpace(strings.TrimPrefix(strings.TrimSuffix(expr, "}}"), "{{"))
	}
	node, err := parser.ParseExpr(expr)
	if err != nil {
		return nil
	}
	var refs []string
	collectRefs(node, &refs)
	return refs
}

func collectRefs(node ast.Expr, refs *[]string) {
	switch expr := node.(type) {
	case *ast.Ident:
		if expr.Name != "true" && expr.Name != "false" {
			*refs = append(*refs, expr.Name)
		}
	case *ast.SelectorExpr:
		if path, ok := selectorPath(expr); ok {
			*refs = append(*refs, path)
			return
		}
		collectRefs(expr.X, refs)
	case *ast.BinaryExpr:
		collectRefs(expr.X, refs)
		collectRefs(expr.Y, refs)
	case *ast.UnaryExpr:
		collectRefs(expr.X, refs)
	case *ast.ParenExpr:
		collectRefs(expr.X, refs)
	case *ast.IndexExpr:
		collectRefs(expr.X, refs)
		collectRefs(expr.Index, refs)
	}
}

func selectorPath(expr *ast.SelectorExpr) (string, bool) {
	switch x := expr.X.(type) {
	case *ast.Ident:
		return x.Name + "." + expr.Sel.Name, true
	case *ast.SelectorExpr:
		base, ok := selectorPath(x)
		if !ok {
			return "", false
		}
		return base + "." + expr.Sel.Name, true
	}
	return "", false
}

func evalExpr(node ast.Expr, ctx map[string]any) (any, error) {
	switch expr := node.(type) {
	case *ast.BasicLit:
		switch expr.Kind {
		case token.STRING:
			return strconv.Unquote(expr.Value)
		case token.INT:
			return strconv.Atoi(expr.Value)
		case token.FLOAT:
			return strconv.ParseFloat(expr.Value, 64)
		default:
			return nil, fmt.Errorf("unsupported literal: %s", expr.Value)
		}
	case *ast.Ident:
		switch expr.Name {
		case "true":
			return true, nil
		case "false":
			return false, nil
		default:
			v, _ := Resolve(expr.Name, ctx)
			return v, nil
		}
	case *ast.SelectorExpr:
		if path, ok := selectorPath(expr); ok {
			v, _ := Resolve(path, ctx)
			return v, nil
		}
		return nil, fmt.Errorf("unsupported selector")
	case *ast.UnaryExpr:
		if expr.Op != token.NOT {
			return nil, fmt.Errorf("unsupported unary operator: %s", expr.Op)
		}
		v, err := evalExpr(expr.X, ctx)
		if err != nil {
			return nil, err
		}
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("! requires bool, got %T", v)
		}
		return !b, nil
	case *ast.BinaryExpr:
		left, err := evalExpr(expr.X, ctx)
		if err != nil {
			return nil, err
		}
		right, err := evalExpr(expr.Y, ctx)
		if err != nil {
			return nil, err
		}
		return evalBinary(expr.Op, left, right)
	case *ast.ParenExpr:
		return evalExpr(expr.X, ctx)
	case *ast.IndexExpr:
		base, err := evalExpr(expr.X, ctx)
		if err != nil {
			return nil, err
		}
		index, err := evalExpr(expr.Index, ctx)
		if err != nil {
			return nil, err
		}
		return lookupIndex(base, index)
	default:
		return nil, fmt.Errorf("unsupported expression: %T", node)
	}
}

func evalBinary(op token.Token, left, right any) (any, error) {
	switch op {
	case token.LAND, token.LOR:
		lb, lok := left.(bool)
		rb, rok := right.(bool)
		if !lok || !rok {
			return nil, fmt.Errorf("logical operators require bools")
		}
		if op == token.LAND {
			return lb && rb, nil
		}
		return lb || rb, nil
	case token.EQL, token.NEQ, token.LSS, token.GTR, token.LEQ, token.GEQ:
		return compare(op, left, right)
	default:
		return nil, fmt.Errorf("unsupported operator: %s", op.String())
	}
}

func compare(op token.Token, left, right any) (bool, error) {
	// nil compares equal only to nil.
	if left == nil || right == nil {
		switch op {
		case token.EQL:
			return left == nil && right == nil, nil
		case token.NEQ:
			return !(left == nil && right == nil), nil
		default:
			return false, nil
		}
	}

	switch l := left.(type) {
	case int:
		r, ok := coerceFloat(right)
		if !ok {
			return false, fmt.Errorf("mismatched types for comparison")
		}
		return compareFloats(op, float64(l), r), nil
	case int64:
		r, ok := coerceFloat(right)
		if !ok {
			return false, fmt.Errorf("mismatched types for comparison")
		}
		return compareFloats(op, float64(l), r), nil
	case float64:
		r, ok := coerceFloat(right)
		if !ok {
			return false, fmt.Errorf("mismatched types for comparison")
		}
		return compareFloats(op, l, r), nil
	case string:
		rs, ok := right.(string)
		if !ok {
			return false, fmt.Errorf("mismatched types for comparison")
		}
		return compareStrings(op, l, rs), nil
	case bool:
		rb, ok := right.(bool)
		if !ok {
			return false, fmt.Errorf("mismatched types for comparison")
		}
		return compareBools(op, l, rb), nil
	default:
		return false, fmt.Errorf("unsupported comparison types: %T", left)
	}
}

func compareFloats(op token.Token, left, right float64) bool {
	switch op {
	case token.EQL:
		return left == right
	case token.NEQ:
		return left != right
	case token.LSS:
		return left < right
	case token.GTR:
		return left > right
	case token.LEQ:
		return left <= right
	case token.GEQ:
		return left >= right
	}
	return false
}

func compareStrings(op token.Token, left, right string) bool {
	switch op {
	case token.EQL:
		return left == right
	case token.NEQ:
		return left != right
	case token.LSS:
		return left < right
	case token.GTR:
		return left > right
	case token.LEQ:
		return left <= right
	case token.GEQ:
		return left >= right
	}
	return false
}

func compareBools(op token.Token, left, right bool) bool {
	switch op {
	case token.EQL:
		return left == right
	case token.NEQ:
		return left != right
	}
	return false
}

func coerceFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func lookupIndex(base any, index any) (any, error) {
	list, ok := base.([]any)
	if !ok {
		return nil, fmt.Errorf("invalid index on %T", base)
	}
	i, ok := index.(int)
	if !ok {
		return nil, fmt.Errorf("index must be int")
	}
	if i < 0 || i >= len(list) {
		return nil, fmt.Errorf("index out of range: %d", i)
	}
	return list[i], nil
}
