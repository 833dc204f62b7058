package pipeline

import (
	"github.com/sarchlab/rv5sim/insts"
)

// slowProducer reports whether an instruction's result is not available
// until after the memory stage: loads, the two-cycle multiply, the
// iterative divide, and CSR reads which resolve at commit. Consumers of
// these cannot take the execute-stage forwarding path.
func slowProducer(inst *insts.Instruction) bool {
	return inst.IsLoad() || inst.IsMul() || inst.IsDiv() || inst.IsCsr()
}

// producesReg reports whether the instruction writes reg, for a nonzero
// reg.
func producesReg(inst *insts.Instruction, reg uint8) bool {
	return reg != 0 && inst.WritesRd() && inst.Rd == reg
}

// readsReg reports whether the instruction consumes reg as a source.
func readsReg(inst *insts.Instruction, reg uint8) bool {
	if reg == 0 {
		return false
	}
	return (inst.ReadsRs1() && inst.Rs1 == reg) ||
		(inst.ReadsRs2() && inst.Rs2 == reg)
}

// needsDispatchStall reports whether the instruction about to leave
// decode depends on a slow producer currently in execute. The dependent
// holds in decode for one cycle so the producer's value can come off the
// memory/writeback forwarding path instead.
func needsDispatchStall(next *insts.Instruction, idex *DecodeExecuteRegister) bool {
	if !idex.Valid || idex.Exception.Valid {
		return false
	}
	if !slowProducer(idex.Inst) {
		return false
	}
	return readsReg(next, idex.Inst.Rd) && producesReg(idex.Inst, idex.Inst.Rd)
}

// forward resolves one source operand for the execute stage against the
// in-flight results ahead of it. The youngest match wins: execute/memory
// first, then memory/writeback. The register file itself is written at
// writeback before decode reads it, so older producers need no path.
//
// The second result is false when the needed value exists but is not
// ready yet (a slow producer still in the memory stage); execute must
// hold and retry.
func (p *Pipeline) forward(reg uint8, base uint32) (uint32, bool) {
	if reg == 0 {
		return 0, true
	}

	if p.exmem.Valid && !p.exmem.Exception.Valid &&
		producesReg(p.exmem.Inst, reg) {
		if slowProducer(p.exmem.Inst) {
			return 0, false
		}
		return p.exmem.AluResult, true
	}

	if p.memwb.Valid && !p.memwb.Exception.Valid &&
		producesReg(p.memwb.Inst, reg) {
		return wbValue(&p.memwb), true
	}

	return base, true
}

// wbValue is the value an instruction in memory/writeback will commit.
func wbValue(r *MemoryWritebackRegister) uint32 {
	if r.Inst.IsLoad() {
		return loadValue(r.Inst, r.MemVaddr, r.MemData)
	}
	return r.Result
}

// loadValue extracts and extends a load result from the aligned memory
// word it came back in.
func loadValue(inst *insts.Instruction, vaddr, word uint32) uint32 {
	v := word >> (8 * (vaddr & 3))
	switch inst.Width() {
	case insts.MemWidthByte:
		if inst.LoadUnsigned() {
			return v & 0xFF
		}
		return uint32(int32(int8(v)))
	case insts.MemWidthHalf:
		if inst.LoadUnsigned() {
			return v & 0xFFFF
		}
		return uint32(int32(int16(v)))
	}
	return v
}

// storeLanes positions a store value and byte mask within the aligned
// word addressed by vaddr.
func storeLanes(width insts.MemWidth, vaddr, value uint32) (uint32, uint8) {
	off := vaddr & 3
	var mask uint8
	switch width {
	case insts.MemWidthByte:
		mask = 0x1
	case insts.MemWidthHalf:
		mask = 0x3
	default:
		mask = 0xF
	}
	return value << (8 * off), mask << off
}
