package pipeline

import (
	"github.com/sarchlab/rv5sim/insts"
)

// mulPartials splits the operands into 16-bit halves and forms the four
// partial products. Execute produces the partials; memory sums them the
// following cycle. The high halves are sign-extended for the signed
// operand of MULH and MULHSU, and the sums work out in two's complement.
func mulPartials(op insts.Op, a, b uint32) (ll, lh, hl, hh uint64) {
	aLo := uint64(a & 0xFFFF)
	bLo := uint64(b & 0xFFFF)

	aHi := uint64(a >> 16)
	if op == insts.OpMULH || op == insts.OpMULHSU {
		aHi = uint64(int64(int32(a) >> 16))
	}
	bHi := uint64(b >> 16)
	if op == insts.OpMULH {
		bHi = uint64(int64(int32(b) >> 16))
	}

	return aLo * bLo, aLo * bHi, aHi * bLo, aHi * bHi
}

// mulResult sums the partial products and selects the architectural half.
func mulResult(op insts.Op, ll, lh, hl, hh uint64) uint32 {
	product := ll + lh<<16 + hl<<16 + hh<<32
	if op == insts.OpMUL {
		return uint32(product)
	}
	return uint32(product >> 32)
}

// DivUnit is the iterative divider. It retires one quotient bit per cycle
// with a restoring step, so every division takes 32 cycles in the memory
// stage. Division by zero and the most-negative overflow case fall out of
// the iteration with the architectural results; no special casing.
type DivUnit struct {
	busy bool

	dividend uint32
	divisor  uint32
	rem      uint64
	quot     uint32
	bit      int

	// Sign reversion, applied when the result is taken. The quotient
	// flips only for signed operands of differing sign with a nonzero
	// divisor; the remainder follows the dividend sign.
	negQuot bool
	negRem  bool
	wantRem bool
}

// Start begins a division. The unit reports Busy for the next 32 cycles.
func (d *DivUnit) Start(op insts.Op, a, b uint32) {
	signed := op == insts.OpDIV || op == insts.OpREM
	d.wantRem = op == insts.OpREM || op == insts.OpREMU

	dividend, divisor := a, b
	d.negQuot = false
	d.negRem = false
	if signed {
		d.negQuot = (int32(a) < 0) != (int32(b) < 0) && b != 0
		d.negRem = int32(a) < 0
		if int32(a) < 0 {
			dividend = uint32(-int32(a))
		}
		if int32(b) < 0 {
			divisor = uint32(-int32(b))
		}
	}

	d.dividend = dividend
	d.divisor = divisor
	d.rem = 0
	d.quot = 0
	d.bit = 31
	d.busy = true
}

// Busy reports whether an iteration is in flight.
func (d *DivUnit) Busy() bool {
	return d.busy
}

// Cancel abandons the iteration when the owning instruction is flushed.
func (d *DivUnit) Cancel() {
	d.busy = false
}

// Tick performs one restoring step.
func (d *DivUnit) Tick() {
	if !d.busy {
		return
	}

	d.rem = d.rem<<1 | uint64(d.dividend>>uint(d.bit)&1)
	if d.rem >= uint64(d.divisor) {
		d.rem -= uint64(d.divisor)
		d.quot |= 1 << uint(d.bit)
	}

	if d.bit == 0 {
		d.busy = false
		return
	}
	d.bit--
}

// Result returns the quotient or remainder with sign reversion applied.
// Only valid once Busy has fallen.
func (d *DivUnit) Result() uint32 {
	if d.wantRem {
		r := uint32(d.rem)
		if d.negRem {
			r = uint32(-int32(r))
		}
		return r
	}

	q := d.quot
	if d.negQuot {
		q = uint32(-int32(q))
	}
	return q
}
