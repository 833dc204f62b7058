package emu

import (
	"fmt"

	"github.com/sarchlab/rv5sim/insts"
)

// Emulator is the functional RV32IM reference. It executes instructions
// one at a time with no timing model, no address translation, and no
// privilege state. The timing core must produce the same architectural
// results for user-level code; differential tests rely on that.
type Emulator struct {
	regFile *RegFile
	memory  *Memory
	decoder *insts.Decoder

	halted   bool
	exitCode int32

	instructions uint64
}

// NewEmulator creates a functional emulator over the given register file
// and memory.
func NewEmulator(regFile *RegFile, memory *Memory) *Emulator {
	return &Emulator{
		regFile: regFile,
		memory:  memory,
		decoder: insts.NewDecoder(),
	}
}

// RegFile returns the emulator's register file.
func (e *Emulator) RegFile() *RegFile {
	return e.regFile
}

// Memory returns the emulator's memory.
func (e *Emulator) Memory() *Memory {
	return e.memory
}

// Halted returns true once the program has executed EBREAK or an
// exit ECALL.
func (e *Emulator) Halted() bool {
	return e.halted
}

// ExitCode returns the value of a0 at the point the program halted.
func (e *Emulator) ExitCode() int32 {
	return e.exitCode
}

// Instructions returns the number of instructions executed.
func (e *Emulator) Instructions() uint64 {
	return e.instructions
}

// Run executes until the program halts or maxInstructions is reached.
// A maxInstructions of 0 means no limit.
func (e *Emulator) Run(maxInstructions uint64) error {
	for !e.halted {
		if maxInstructions > 0 && e.instructions >= maxInstructions {
			return fmt.Errorf("instruction limit reached at pc=%#x", e.regFile.PC)
		}
		if err := e.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Step executes a single instruction.
func (e *Emulator) Step() error {
	pc := e.regFile.PC
	word := e.memory.Read32(pc)
	inst := e.decoder.Decode(word)
	if inst.Op == insts.OpUnknown {
		return fmt.Errorf("illegal instruction %#08x at pc=%#x", word, pc)
	}

	e.instructions++
	nextPC := pc + 4

	rs1 := e.regFile.ReadReg(inst.Rs1)
	rs2 := e.regFile.ReadReg(inst.Rs2)

	switch {
	case inst.Format == insts.FormatU, inst.Format == insts.FormatJ,
		inst.Op == insts.OpJALR:
		nextPC = e.execJump(inst, pc, rs1)
	case inst.IsBranch():
		if branchTaken(inst.Op, rs1, rs2) {
			nextPC = pc + uint32(inst.Imm)
		}
	case inst.IsLoad():
		e.execLoad(inst, rs1)
	case inst.IsStore():
		e.execStore(inst, rs1, rs2)
	case inst.Format == insts.FormatR, inst.Format == insts.FormatI:
		e.regFile.WriteReg(inst.Rd, e.execALU(inst, rs1, rs2))
	case inst.Op == insts.OpECALL, inst.Op == insts.OpEBREAK:
		e.halted = true
		e.exitCode = int32(e.regFile.ReadReg(10)) // a0
	case inst.Op == insts.OpFENCE, inst.Op == insts.OpFENCEI,
		inst.Op == insts.OpWFI:
		// No-ops in the flat model.
	default:
		return fmt.Errorf("unsupported instruction %s at pc=%#x in flat mode",
			inst.Op, pc)
	}

	e.regFile.PC = nextPC
	return nil
}

func (e *Emulator) execJump(inst *insts.Instruction, pc, rs1 uint32) uint32 {
	switch inst.Op {
	case insts.OpLUI:
		e.regFile.WriteReg(inst.Rd, uint32(inst.Imm))
		return pc + 4
	case insts.OpAUIPC:
		e.regFile.WriteReg(inst.Rd, pc+uint32(inst.Imm))
		return pc + 4
	case insts.OpJAL:
		e.regFile.WriteReg(inst.Rd, pc+4)
		return pc + uint32(inst.Imm)
	case insts.OpJALR:
		e.regFile.WriteReg(inst.Rd, pc+4)
		return (rs1 + uint32(inst.Imm)) &^ 1
	}
	return pc + 4
}

func (e *Emulator) execLoad(inst *insts.Instruction, rs1 uint32) {
	addr := rs1 + uint32(inst.Imm)
	var value uint32
	switch inst.Op {
	case insts.OpLB:
		value = uint32(int32(int8(e.memory.Read8(addr))))
	case insts.OpLBU:
		value = uint32(e.memory.Read8(addr))
	case insts.OpLH:
		value = uint32(int32(int16(e.memory.Read16(addr))))
	case insts.OpLHU:
		value = uint32(e.memory.Read16(addr))
	case insts.OpLW:
		value = e.memory.Read32(addr)
	}
	e.regFile.WriteReg(inst.Rd, value)
}

func (e *Emulator) execStore(inst *insts.Instruction, rs1, rs2 uint32) {
	addr := rs1 + uint32(inst.Imm)
	switch inst.Op {
	case insts.OpSB:
		e.memory.Write8(addr, uint8(rs2))
	case insts.OpSH:
		e.memory.Write16(addr, uint16(rs2))
	case insts.OpSW:
		e.memory.Write32(addr, rs2)
	}
}

func (e *Emulator) execALU(inst *insts.Instruction, rs1, rs2 uint32) uint32 {
	imm := uint32(inst.Imm)

	switch inst.Op {
	case insts.OpADDI:
		return rs1 + imm
	case insts.OpSLTI:
		return boolTo32(int32(rs1) < inst.Imm)
	case insts.OpSLTIU:
		return boolTo32(rs1 < imm)
	case insts.OpXORI:
		return rs1 ^ imm
	case insts.OpORI:
		return rs1 | imm
	case insts.OpANDI:
		return rs1 & imm
	case insts.OpSLLI:
		return rs1 << (imm & 31)
	case insts.OpSRLI:
		return rs1 >> (imm & 31)
	case insts.OpSRAI:
		return uint32(int32(rs1) >> (imm & 31))
	case insts.OpADD:
		return rs1 + rs2
	case insts.OpSUB:
		return rs1 - rs2
	case insts.OpSLL:
		return rs1 << (rs2 & 31)
	case insts.OpSLT:
		return boolTo32(int32(rs1) < int32(rs2))
	case insts.OpSLTU:
		return boolTo32(rs1 < rs2)
	case insts.OpXOR:
		return rs1 ^ rs2
	case insts.OpSRL:
		return rs1 >> (rs2 & 31)
	case insts.OpSRA:
		return uint32(int32(rs1) >> (rs2 & 31))
	case insts.OpOR:
		return rs1 | rs2
	case insts.OpAND:
		return rs1 & rs2
	case insts.OpMUL:
		return rs1 * rs2
	case insts.OpMULH:
		return uint32((int64(int32(rs1)) * int64(int32(rs2))) >> 32)
	case insts.OpMULHSU:
		return uint32((int64(int32(rs1)) * int64(rs2)) >> 32)
	case insts.OpMULHU:
		return uint32((uint64(rs1) * uint64(rs2)) >> 32)
	case insts.OpDIV:
		return DivSigned(rs1, rs2)
	case insts.OpDIVU:
		return DivUnsigned(rs1, rs2)
	case insts.OpREM:
		return RemSigned(rs1, rs2)
	case insts.OpREMU:
		return RemUnsigned(rs1, rs2)
	}
	return 0
}

func branchTaken(op insts.Op, rs1, rs2 uint32) bool {
	switch op {
	case insts.OpBEQ:
		return rs1 == rs2
	case insts.OpBNE:
		return rs1 != rs2
	case insts.OpBLT:
		return int32(rs1) < int32(rs2)
	case insts.OpBGE:
		return int32(rs1) >= int32(rs2)
	case insts.OpBLTU:
		return rs1 < rs2
	case insts.OpBGEU:
		return rs1 >= rs2
	}
	return false
}

func boolTo32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// DivSigned implements the architected DIV result, including the defined
// divide-by-zero (-1) and overflow (MIN_INT / -1 = MIN_INT) cases.
func DivSigned(rs1, rs2 uint32) uint32 {
	a, b := int32(rs1), int32(rs2)
	switch {
	case b == 0:
		return 0xFFFFFFFF
	case a == -0x80000000 && b == -1:
		return 0x80000000
	default:
		return uint32(a / b)
	}
}

// DivUnsigned implements the architected DIVU result.
func DivUnsigned(rs1, rs2 uint32) uint32 {
	if rs2 == 0 {
		return 0xFFFFFFFF
	}
	return rs1 / rs2
}

// RemSigned implements the architected REM result.
func RemSigned(rs1, rs2 uint32) uint32 {
	a, b := int32(rs1), int32(rs2)
	switch {
	case b == 0:
		return rs1
	case a == -0x80000000 && b == -1:
		return 0
	default:
		return uint32(a % b)
	}
}

// RemUnsigned implements the architected REMU result.
func RemUnsigned(rs1, rs2 uint32) uint32 {
	if rs2 == 0 {
		return rs1
	}
	return rs1 % rs2
}
