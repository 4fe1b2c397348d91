package verilog

import (
	"fmt"
	"strconv"

	"github.com/robert-at-pretension-io/tbgen/internal/actions"
)

// CompileExpr renders an expression tree. Binary and unary nodes are not
// parenthesized here; ResolveValue wraps whole expressions when they are
// used as values.
func CompileExpr(e actions.Expr) string {
	switch x := e.(type) {
	case actions.BinaryOp:
		return CompileExpr(x.Left) + " " + x.Op + " " + CompileExpr(x.Right)
	case actions.UnaryOp:
		return x.Op + " " + CompileExpr(x.Operand)
	case actions.Signal:
		return dutPath(x.Path.Path())
	case actions.Peek:
		return ResolveName(x.Port)
	case actions.Var:
		return Name(x.Name)
	case actions.Const:
		return strconv.FormatInt(int64(x), 10)
	}
	return fmt.Sprint(e)
}
