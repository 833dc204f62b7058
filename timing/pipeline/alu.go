package pipeline

import (
	"math/bits"

	"github.com/sarchlab/rv5sim/insts"
)

// addSub computes a+b or a-b on one shared adder. The carry out of a
// subtraction is the borrow complement, which the unsigned comparison uses
// directly.
func addSub(a, b uint32, sub bool) (uint32, bool) {
	var cin uint64
	if sub {
		b = ^b
		cin = 1
	}
	wide := uint64(a) + uint64(b) + cin
	return uint32(wide), wide>>32 != 0
}

// lessThan compares through the shared adder: unsigned is the inverted
// carry, signed is the difference sign corrected by overflow.
func lessThan(a, b uint32, signed bool) bool {
	diff, carry := addSub(a, b, true)
	if !signed {
		return !carry
	}
	overflow := (a^b)&(a^diff)>>31 != 0
	return (diff>>31 != 0) != overflow
}

// shift runs every shift through a single right shifter. Left shifts
// bit-reverse the operand on the way in and out.
func shift(value, amount uint32, left, arithmetic bool) uint32 {
	amount &= 31
	if left {
		value = bits.Reverse32(value)
	}
	if arithmetic {
		value = uint32(int32(value) >> amount)
	} else {
		value >>= amount
	}
	if left {
		value = bits.Reverse32(value)
	}
	return value
}

// aluRun evaluates a single-cycle integer operation.
func aluRun(op insts.Op, a, b uint32) uint32 {
	switch op {
	case insts.OpADD, insts.OpADDI:
		sum, _ := addSub(a, b, false)
		return sum
	case insts.OpSUB:
		diff, _ := addSub(a, b, true)
		return diff
	case insts.OpSLT, insts.OpSLTI:
		return boolBit(lessThan(a, b, true))
	case insts.OpSLTU, insts.OpSLTIU:
		return boolBit(lessThan(a, b, false))
	case insts.OpXOR, insts.OpXORI:
		return a ^ b
	case insts.OpOR, insts.OpORI:
		return a | b
	case insts.OpAND, insts.OpANDI:
		return a & b
	case insts.OpSLL, insts.OpSLLI:
		return shift(a, b, true, false)
	case insts.OpSRL, insts.OpSRLI:
		return shift(a, b, false, false)
	case insts.OpSRA, insts.OpSRAI:
		return shift(a, b, false, true)
	}
	return 0
}

// branchTaken evaluates a conditional branch through the shared adder.
func branchTaken(op insts.Op, a, b uint32) bool {
	switch op {
	case insts.OpBEQ:
		diff, _ := addSub(a, b, true)
		return diff == 0
	case insts.OpBNE:
		diff, _ := addSub(a, b, true)
		return diff != 0
	case insts.OpBLT:
		return lessThan(a, b, true)
	case insts.OpBGE:
		return !lessThan(a, b, true)
	case insts.OpBLTU:
		return lessThan(a, b, false)
	case insts.OpBGEU:
		return !lessThan(a, b, false)
	}
	return false
}

func boolBit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
