package actions

import (
	"math/big"

	"github.com/robert-at-pretension-io/tbgen/internal/circuit"
)

// Value is anything that can be poked into or expected from a port.
type Value interface {
	value()
}

// BitVector is a fixed-width unsigned constant.
type BitVector struct {
	Width int
	bits  *big.Int
}

// BV returns v truncated to width bits. Negative values wrap to their
// two's complement representation.
func BV(width int, v int64) BitVector {
	return BVBig(width, big.NewInt(v))
}

// BVBig is BV for arbitrarily wide constants.
func BVBig(width int, v *big.Int) BitVector {
	mod := new(big.Int).Lsh(big.NewInt(1), uint(width))
	u := new(big.Int).Mod(v, mod)
	return BitVector{Width: width, bits: u}
}

// Uint returns the unsigned value of the vector.
func (b BitVector) Uint() *big.Int {
	if b.bits == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(b.bits)
}

// Int is a plain integer literal whose interpretation depends on the port
// it is assigned to.
type Int int64

// Float is a real-valued literal.
type Float float64

type sentinel int

const (
	// Unknown is the don't-care bit value.
	Unknown sentinel = iota
	// HiZ is the high-impedance bit value.
	HiZ
	// Any accepts every observed value in an Expect.
	Any
)

// Peek refers to the current value of another port.
type Peek struct {
	Port circuit.PortRef
}

// Signal wraps a hierarchical reference to a signal inside the device
// under test.
type Signal struct {
	Path circuit.SelectPath
}

func (BitVector) value() {}
func (Int) value() {}
func (Float) value() {}
func (sentinel) value() {}
func (Peek) value() {}
func (Signal) value() {}
func (FileRead) value() {}
func (Var) value() {}
func (BinaryOp) value() {}
func (UnaryOp) value() {}
func (Const) value() {}

// IsAny reports whether v accepts any observed value.
func IsAny(v Value) bool {
	s, ok := v.(sentinel)
	return ok && s == Any
}
