// Package insts provides the RV32IM and privileged instruction model.
package insts

// Op identifies an instruction operation.
type Op int

// Operation codes for all supported instructions.
const (
	OpUnknown Op = iota

	// Upper-immediate and jumps.
	OpLUI
	OpAUIPC
	OpJAL
	OpJALR

	// Conditional branches.
	OpBEQ
	OpBNE
	OpBLT
	OpBGE
	OpBLTU
	OpBGEU

	// Loads.
	OpLB
	OpLH
	OpLW
	OpLBU
	OpLHU

	// Stores.
	OpSB
	OpSH
	OpSW

	// Register-immediate ALU.
	OpADDI
	OpSLTI
	OpSLTIU
	OpXORI
	OpORI
	OpANDI
	OpSLLI
	OpSRLI
	OpSRAI

	// Register-register ALU.
	OpADD
	OpSUB
	OpSLL
	OpSLT
	OpSLTU
	OpXOR
	OpSRL
	OpSRA
	OpOR
	OpAND

	// M extension.
	OpMUL
	OpMULH
	OpMULHSU
	OpMULHU
	OpDIV
	OpDIVU
	OpREM
	OpREMU

	// Fences.
	OpFENCE
	OpFENCEI

	// System.
	OpECALL
	OpEBREAK
	OpMRET
	OpSRET
	OpWFI
	OpSFENCEVMA

	// CSR access.
	OpCSRRW
	OpCSRRS
	OpCSRRC
	OpCSRRWI
	OpCSRRSI
	OpCSRRCI
)

var opNames = map[Op]string{
	OpUnknown: "unknown",
	OpLUI:     "lui", OpAUIPC: "auipc", OpJAL: "jal", OpJALR: "jalr",
	OpBEQ: "beq", OpBNE: "bne", OpBLT: "blt", OpBGE: "bge",
	OpBLTU: "bltu", OpBGEU: "bgeu",
	OpLB: "lb", OpLH: "lh", OpLW: "lw", OpLBU: "lbu", OpLHU: "lhu",
	OpSB: "sb", OpSH: "sh", OpSW: "sw",
	OpADDI: "addi", OpSLTI: "slti", OpSLTIU: "sltiu", OpXORI: "xori",
	OpORI: "ori", OpANDI: "andi", OpSLLI: "slli", OpSRLI: "srli",
	OpSRAI: "srai",
	OpADD:  "add", OpSUB: "sub", OpSLL: "sll", OpSLT: "slt",
	OpSLTU: "sltu", OpXOR: "xor", OpSRL: "srl", OpSRA: "sra",
	OpOR: "or", OpAND: "and",
	OpMUL: "mul", OpMULH: "mulh", OpMULHSU: "mulhsu", OpMULHU: "mulhu",
	OpDIV: "div", OpDIVU: "divu", OpREM: "rem", OpREMU: "remu",
	OpFENCE: "fence", OpFENCEI: "fence.i",
	OpECALL: "ecall", OpEBREAK: "ebreak", OpMRET: "mret", OpSRET: "sret",
	OpWFI: "wfi", OpSFENCEVMA: "sfence.vma",
	OpCSRRW: "csrrw", OpCSRRS: "csrrs", OpCSRRC: "csrrc",
	OpCSRRWI: "csrrwi", OpCSRRSI: "csrrsi", OpCSRRCI: "csrrci",
}

// String returns the assembler mnemonic for the operation.
func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return "unknown"
}

// Format identifies the encoding format of an instruction.
type Format int

// Instruction encoding formats.
const (
	FormatUnknown Format = iota
	FormatR              // register-register
	FormatI              // register-immediate, loads, JALR
	FormatS              // stores
	FormatB              // conditional branches
	FormatU              // LUI, AUIPC
	FormatJ              // JAL
	FormatSystem         // ECALL, xRET, CSR, fences
)

// MemWidth is the width of a memory access in bytes.
type MemWidth int

// Memory access widths.
const (
	MemWidthNone MemWidth = 0
	MemWidthByte MemWidth = 1
	MemWidthHalf MemWidth = 2
	MemWidthWord MemWidth = 4
)

// Instruction represents a decoded instruction.
type Instruction struct {
	// Op is the decoded operation.
	Op Op

	// Format is the encoding format.
	Format Format

	// Raw is the original 32-bit instruction word.
	Raw uint32

	// Register fields. Rd is the destination, Rs1/Rs2 the sources.
	Rd  uint8
	Rs1 uint8
	Rs2 uint8

	// Imm is the sign-extended immediate for I/S/B/U/J formats.
	Imm int32

	// Csr is the CSR address for CSR instructions.
	Csr uint16
}

// IsLoad returns true for load instructions.
func (i *Instruction) IsLoad() bool {
	switch i.Op {
	case OpLB, OpLH, OpLW, OpLBU, OpLHU:
		return true
	}
	return false
}

// IsStore returns true for store instructions.
func (i *Instruction) IsStore() bool {
	switch i.Op {
	case OpSB, OpSH, OpSW:
		return true
	}
	return false
}

// IsBranch returns true for conditional branches.
func (i *Instruction) IsBranch() bool {
	switch i.Op {
	case OpBEQ, OpBNE, OpBLT, OpBGE, OpBLTU, OpBGEU:
		return true
	}
	return false
}

// IsJump returns true for unconditional jumps (JAL, JALR).
func (i *Instruction) IsJump() bool {
	return i.Op == OpJAL || i.Op == OpJALR
}

// IsMul returns true for multiply operations.
func (i *Instruction) IsMul() bool {
	switch i.Op {
	case OpMUL, OpMULH, OpMULHSU, OpMULHU:
		return true
	}
	return false
}

// IsDiv returns true for divide and remainder operations.
func (i *Instruction) IsDiv() bool {
	switch i.Op {
	case OpDIV, OpDIVU, OpREM, OpREMU:
		return true
	}
	return false
}

// IsCsr returns true for CSR access instructions.
func (i *Instruction) IsCsr() bool {
	switch i.Op {
	case OpCSRRW, OpCSRRS, OpCSRRC, OpCSRRWI, OpCSRRSI, OpCSRRCI:
		return true
	}
	return false
}

// CsrUsesImm returns true for CSR instructions whose source operand is the
// zero-extended Rs1 field rather than the register value.
func (i *Instruction) CsrUsesImm() bool {
	switch i.Op {
	case OpCSRRWI, OpCSRRSI, OpCSRRCI:
		return true
	}
	return false
}

// Width returns the memory access width for loads and stores.
func (i *Instruction) Width() MemWidth {
	switch i.Op {
	case OpLB, OpLBU, OpSB:
		return MemWidthByte
	case OpLH, OpLHU, OpSH:
		return MemWidthHalf
	case OpLW, OpSW:
		return MemWidthWord
	}
	return MemWidthNone
}

// LoadUnsigned returns true for zero-extending loads.
func (i *Instruction) LoadUnsigned() bool {
	return i.Op == OpLBU || i.Op == OpLHU
}

// WritesRd returns true if the instruction writes a general-purpose
// register. x0 writes are discarded by the register file, so the caller
// does not need to special-case Rd==0.
func (i *Instruction) WritesRd() bool {
	switch i.Format {
	case FormatR, FormatI, FormatU, FormatJ:
		return true
	case FormatSystem:
		return i.IsCsr()
	}
	return false
}

// ReadsRs1 returns true if the instruction reads Rs1.
func (i *Instruction) ReadsRs1() bool {
	switch i.Format {
	case FormatR, FormatI, FormatS, FormatB:
		return true
	case FormatSystem:
		return i.IsCsr() && !i.CsrUsesImm()
	}
	return false
}

// ReadsRs2 returns true if the instruction reads Rs2.
func (i *Instruction) ReadsRs2() bool {
	switch i.Format {
	case FormatR, FormatS, FormatB:
		return true
	}
	return false
}
