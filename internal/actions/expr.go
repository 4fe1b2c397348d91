package actions

// Expr is a node in a condition or value expression tree.
type Expr interface {
	expr()
}

// Operators understood by the testbench language.
const (
	OpAdd  = "+"
	OpSub  = "-"
	OpMul  = "*"
	OpDiv  = "/"
	OpMod  = "%"
	OpAnd  = "&"
	OpOr   = "|"
	OpXor  = "^"
	OpShl  = "<<"
	OpShr  = ">>"
	OpEq   = "=="
	OpNe   = "!="
	OpLt   = "<"
	OpLe   = "<="
	OpGt   = ">"
	OpGe   = ">="
	OpLAnd = "&&"
	OpLOr  = "||"

	OpNot    = "!"
	OpInvert = "~"
	OpNeg    = "-"
)

type BinaryOp struct {
	Left  Expr
	Op    string
	Right Expr
}

type UnaryOp struct {
	Op      string
	Operand Expr
}

// Const is an integer literal inside an expression.
type Const int64

func (BinaryOp) expr() {}
func (UnaryOp) expr() {}
func (Const) expr() {}
func (Peek) expr() {}
func (Signal) expr() {}
func (Var) expr() {}

// Binary is shorthand for BinaryOp{l, op, r}.
func Binary(l Expr, op string, r Expr) BinaryOp {
	return BinaryOp{Left: l, Op: op, Right: r}
}

// Unary is shorthand for UnaryOp{op, x}.
func Unary(op string, x Expr) UnaryOp {
	return UnaryOp{Op: op, Operand: x}
}
