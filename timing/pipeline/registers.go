// Package pipeline implements the 5-stage in-order pipeline of the core:
// fetch, decode, execute, memory, writeback, with operand forwarding,
// branch prediction, iterative multiply/divide, and precise traps.
package pipeline

import (
	"github.com/sarchlab/rv5sim/insts"
	"github.com/sarchlab/rv5sim/timing/csr"
)

// Exception is a pending trap carried along with an instruction. It is
// raised in whatever stage detects it and accepted at writeback, so traps
// stay precise and speculatively-fetched faults get flushed with their
// instruction.
type Exception struct {
	// Valid indicates an exception is pending on this instruction.
	Valid bool
	// Cause is the architectural cause code.
	Cause csr.Cause
	// Tval is the value saved into mtval (faulting address or opcode).
	Tval uint32
}

// FetchDecodeRegister holds state between fetch and decode.
type FetchDecodeRegister struct {
	// Valid indicates if this pipeline register contains valid data.
	Valid bool

	// PC is the program counter of the fetched instruction.
	PC uint32

	// Word is the raw 32-bit instruction word.
	Word uint32

	// PredictTaken indicates the history table redirected fetch after
	// this instruction.
	PredictTaken bool

	// PredictTarget is the predicted target address.
	PredictTarget uint32

	// Exception carries a fetch-side fault (access fault, page fault).
	Exception Exception
}

// Clear resets the register to the empty state.
func (r *FetchDecodeRegister) Clear() {
	*r = FetchDecodeRegister{}
}

// DecodeExecuteRegister holds state between decode and execute.
type DecodeExecuteRegister struct {
	// Valid indicates if this pipeline register contains valid data.
	Valid bool

	// PC is the program counter of the instruction.
	PC uint32

	// Inst is the decoded instruction.
	Inst *insts.Instruction

	// Operand values read from the register file.
	Rs1Value uint32
	Rs2Value uint32

	// Branch prediction info, propagated from fetch.
	PredictTaken  bool
	PredictTarget uint32

	// Exception carries a fault from fetch or decode.
	Exception Exception
}

// Clear resets the register to the empty state.
func (r *DecodeExecuteRegister) Clear() {
	*r = DecodeExecuteRegister{}
}

// ExecuteMemoryRegister holds state between execute and memory.
type ExecuteMemoryRegister struct {
	// Valid indicates if this pipeline register contains valid data.
	Valid bool

	// PC is the program counter of the instruction.
	PC uint32

	// Inst is the decoded instruction.
	Inst *insts.Instruction

	// AluResult is the execute-stage result (ALU value, link address).
	AluResult uint32

	// StoreData is the store operand after forwarding, in register lanes.
	StoreData uint32

	// MemAddr is the translated physical address for loads and stores;
	// MemVaddr keeps the virtual address for mtval.
	MemAddr  uint32
	MemVaddr uint32

	// MemIO is true when the access bypasses the data cache.
	MemIO bool

	// Partial products of a two-cycle multiply, produced in execute and
	// summed in memory. Stored in two's complement.
	MulLL uint64
	MulLH uint64
	MulHL uint64
	MulHH uint64

	// Exception carries a fault detected by or before execute.
	Exception Exception
}

// Clear resets the register to the empty state.
func (r *ExecuteMemoryRegister) Clear() {
	*r = ExecuteMemoryRegister{}
}

// MemoryWritebackRegister holds state between memory and writeback.
type MemoryWritebackRegister struct {
	// Valid indicates if this pipeline register contains valid data.
	Valid bool

	// PC is the program counter of the instruction.
	PC uint32

	// Inst is the decoded instruction.
	Inst *insts.Instruction

	// Result is the value to commit for non-load instructions.
	Result uint32

	// MemData is the raw aligned word returned by the data cache; load
	// formatting (shift, extend) happens at writeback.
	MemData uint32

	// MemVaddr is kept for load formatting and mtval.
	MemVaddr uint32

	// Exception carries a fault to be accepted at writeback.
	Exception Exception
}

// Clear resets the register to the empty state.
func (r *MemoryWritebackRegister) Clear() {
	*r = MemoryWritebackRegister{}
}
