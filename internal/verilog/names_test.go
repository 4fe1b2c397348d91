package verilog

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/robert-at-pretension-io/tbgen/internal/actions"
	"github.com/robert-at-pretension-io/tbgen/internal/circuit"
)

func TestResolveValue(t *testing.T) {
	unsigned := circuit.Port{Name: "U", Type: circuit.Bits(8, circuit.In)}
	signed := circuit.Port{Name: "S", Type: circuit.SInt(8, circuit.In)}
	data := &actions.File{Name: "stim/data.raw", Mode: actions.ModeRead, ChunkSize: 2}
	inner := circuit.NewSelectPath(circuit.Port{Name: "q", Type: circuit.Bit(circuit.Out)}, "top", "reg0")

	tests := []struct {
		name  string
		port  circuit.PortRef
		value actions.Value
		want  string
	}{
		{"bitvector", unsigned, actions.BV(8, 200), "8'd200"},
		{"bitvector_wraps_negative", unsigned, actions.BV(8, -3), "8'd253"},
		{"signed_negative_int", signed, actions.Int(-3), "8'd253"},
		{"signed_positive_int", signed, actions.Int(3), "3"},
		{"unsigned_negative_int", unsigned, actions.Int(-3), "-3"},
		{"unknown", unsigned, actions.Unknown, "'X"},
		{"hiz", unsigned, actions.HiZ, "'Z"},
		{"peek", unsigned, actions.Peek{Port: signed}, "S"},
		{"peek_internal", unsigned, actions.Peek{Port: circuit.InternalPort{Path: "core.acc"}}, "dut.core.acc"},
		{"signal", unsigned, actions.Signal{Path: inner}, "dut.reg0.q"},
		{"file_read", unsigned, actions.FileRead{File: data}, "data_in"},
		{"expression", unsigned, actions.Binary(actions.Peek{Port: signed}, actions.OpAdd, actions.Const(1)), "(S + 1)"},
		{"float", circuit.Port{Name: "V", Type: circuit.Real(circuit.In)}, actions.Float(0.25), "0.25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveValue(tt.port, tt.value))
		})
	}
}

func TestResolveValueBitVectorWidths(t *testing.T) {
	for _, width := range []int{1, 4, 8, 16, 33, 64} {
		for _, v := range []int64{0, 1, 5, -1, -7} {
			port := circuit.Port{Name: "S", Type: circuit.SInt(width, circuit.In)}
			mask := uint64(1)<<uint(width) - 1
			if width == 64 {
				mask = ^uint64(0)
			}
			want := fmt.Sprintf("%d'd%d", width, uint64(v)&mask)
			assert.Equal(t, want, ResolveValue(port, actions.BV(width, v)), "BV(%d, %d)", width, v)
			if v < 0 {
				assert.Equal(t, want, ResolveValue(port, actions.Int(v)), "Int(%d) at width %d", v, width)
			}
		}
	}
}

func TestResolveName(t *testing.T) {
	leaf := circuit.Port{Name: "O", Type: circuit.Bit(circuit.Out)}

	assert.Equal(t, "O", ResolveName(leaf))
	assert.Equal(t, "O", ResolveName(circuit.NewSelectPath(leaf, "top")))
	assert.Equal(t, "dut.inst.sub.O", ResolveName(circuit.NewSelectPath(leaf, "top", "inst", "sub")))
	assert.Equal(t, "dut.mem.cells", ResolveName(circuit.InternalPort{Path: "mem.cells"}))
	assert.Equal(t, `\a[0] `, ResolveName(circuit.Port{Name: "a[0]"}))
}

func TestCompileExpr(t *testing.T) {
	a := actions.Peek{Port: circuit.Port{Name: "a"}}
	x := actions.Var{Name: "x"}
	sig := actions.Signal{Path: circuit.NewSelectPath(circuit.Port{Name: "cnt"}, "top", "ctr")}

	tests := []struct {
		name string
		expr actions.Expr
		want string
	}{
		{"binary", actions.Binary(a, actions.OpAdd, actions.Const(1)), "a + 1"},
		{"nested_binary", actions.Binary(actions.Binary(a, actions.OpAdd, actions.Const(1)), actions.OpMul, x), "a + 1 * x"},
		{"unary", actions.Unary(actions.OpNot, a), "! a"},
		{"signal", actions.Binary(sig, actions.OpLt, actions.Const(10)), "dut.ctr.cnt < 10"},
		{"variable", x, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompileExpr(tt.expr))
		})
	}
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `"Hello %d\n"`, quote("Hello %d\n"))
	assert.Equal(t, `"say \"hi\"\t\\"`, quote("say \"hi\"\t\\"))
}
