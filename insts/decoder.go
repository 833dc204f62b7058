package insts

// Major opcode values (instruction word bits [6:0]).
const (
	opcodeLUI    = 0x37
	opcodeAUIPC  = 0x17
	opcodeJAL    = 0x6F
	opcodeJALR   = 0x67
	opcodeBranch = 0x63
	opcodeLoad   = 0x03
	opcodeStore  = 0x23
	opcodeOpImm  = 0x13
	opcodeOp     = 0x33
	opcodeFence  = 0x0F
	opcodeSystem = 0x73
)

// Decoder decodes RV32IM instruction words.
type Decoder struct{}

// NewDecoder creates a new instruction decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode decodes a 32-bit instruction word. It always returns a non-nil
// instruction; undecodable words are returned with Op set to OpUnknown so
// the pipeline can raise an illegal-instruction trap at the right point.
func (d *Decoder) Decode(word uint32) *Instruction {
	inst := &Instruction{
		Raw: word,
		Rd:  uint8((word >> 7) & 0x1F),
		Rs1: uint8((word >> 15) & 0x1F),
		Rs2: uint8((word >> 20) & 0x1F),
	}

	funct3 := (word >> 12) & 0x7
	funct7 := (word >> 25) & 0x7F

	switch word & 0x7F {
	case opcodeLUI:
		inst.Op = OpLUI
		inst.Format = FormatU
		inst.Imm = immU(word)
	case opcodeAUIPC:
		inst.Op = OpAUIPC
		inst.Format = FormatU
		inst.Imm = immU(word)
	case opcodeJAL:
		inst.Op = OpJAL
		inst.Format = FormatJ
		inst.Imm = immJ(word)
	case opcodeJALR:
		if funct3 != 0 {
			break
		}
		inst.Op = OpJALR
		inst.Format = FormatI
		inst.Imm = immI(word)
	case opcodeBranch:
		d.decodeBranch(inst, funct3)
	case opcodeLoad:
		d.decodeLoad(inst, funct3)
	case opcodeStore:
		d.decodeStore(inst, funct3)
	case opcodeOpImm:
		d.decodeOpImm(inst, funct3, funct7)
	case opcodeOp:
		d.decodeOp(inst, funct3, funct7)
	case opcodeFence:
		d.decodeFence(inst, funct3)
	case opcodeSystem:
		d.decodeSystem(inst, funct3, funct7)
	}

	return inst
}

func (d *Decoder) decodeBranch(inst *Instruction, funct3 uint32) {
	ops := [8]Op{OpBEQ, OpBNE, OpUnknown, OpUnknown, OpBLT, OpBGE, OpBLTU, OpBGEU}
	op := ops[funct3]
	if op == OpUnknown {
		return
	}
	inst.Op = op
	inst.Format = FormatB
	inst.Imm = immB(inst.Raw)
}

func (d *Decoder) decodeLoad(inst *Instruction, funct3 uint32) {
	ops := [8]Op{OpLB, OpLH, OpLW, OpUnknown, OpLBU, OpLHU, OpUnknown, OpUnknown}
	op := ops[funct3]
	if op == OpUnknown {
		return
	}
	inst.Op = op
	inst.Format = FormatI
	inst.Imm = immI(inst.Raw)
}

func (d *Decoder) decodeStore(inst *Instruction, funct3 uint32) {
	ops := [8]Op{OpSB, OpSH, OpSW, OpUnknown, OpUnknown, OpUnknown, OpUnknown, OpUnknown}
	op := ops[funct3]
	if op == OpUnknown {
		return
	}
	inst.Op = op
	inst.Format = FormatS
	inst.Imm = immS(inst.Raw)
}

func (d *Decoder) decodeOpImm(inst *Instruction, funct3, funct7 uint32) {
	inst.Format = FormatI
	inst.Imm = immI(inst.Raw)

	switch funct3 {
	case 0:
		inst.Op = OpADDI
	case 1:
		if funct7 != 0 {
			inst.Format = FormatUnknown
			return
		}
		inst.Op = OpSLLI
		inst.Imm = int32(inst.Rs2) // shamt
	case 2:
		inst.Op = OpSLTI
	case 3:
		inst.Op = OpSLTIU
	case 4:
		inst.Op = OpXORI
	case 5:
		switch funct7 {
		case 0x00:
			inst.Op = OpSRLI
		case 0x20:
			inst.Op = OpSRAI
		default:
			inst.Format = FormatUnknown
			return
		}
		inst.Imm = int32(inst.Rs2) // shamt
	case 6:
		inst.Op = OpORI
	case 7:
		inst.Op = OpANDI
	}
}

func (d *Decoder) decodeOp(inst *Instruction, funct3, funct7 uint32) {
	switch funct7 {
	case 0x01: // M extension
		ops := [8]Op{OpMUL, OpMULH, OpMULHSU, OpMULHU, OpDIV, OpDIVU, OpREM, OpREMU}
		inst.Op = ops[funct3]
		inst.Format = FormatR
	case 0x00:
		ops := [8]Op{OpADD, OpSLL, OpSLT, OpSLTU, OpXOR, OpSRL, OpOR, OpAND}
		inst.Op = ops[funct3]
		inst.Format = FormatR
	case 0x20:
		switch funct3 {
		case 0:
			inst.Op = OpSUB
		case 5:
			inst.Op = OpSRA
		default:
			return
		}
		inst.Format = FormatR
	}
}

func (d *Decoder) decodeFence(inst *Instruction, funct3 uint32) {
	switch funct3 {
	case 0:
		inst.Op = OpFENCE
	case 1:
		inst.Op = OpFENCEI
	default:
		return
	}
	inst.Format = FormatSystem
}

func (d *Decoder) decodeSystem(inst *Instruction, funct3, funct7 uint32) {
	inst.Format = FormatSystem

	switch funct3 {
	case 0:
		if funct7 == 0x09 {
			inst.Op = OpSFENCEVMA
			return
		}
		switch inst.Raw >> 20 {
		case 0x000:
			inst.Op = OpECALL
		case 0x001:
			inst.Op = OpEBREAK
		case 0x302:
			inst.Op = OpMRET
		case 0x102:
			inst.Op = OpSRET
		case 0x105:
			inst.Op = OpWFI
		default:
			inst.Format = FormatUnknown
		}
	case 1, 2, 3, 5, 6, 7:
		ops := [8]Op{
			OpUnknown, OpCSRRW, OpCSRRS, OpCSRRC,
			OpUnknown, OpCSRRWI, OpCSRRSI, OpCSRRCI,
		}
		inst.Op = ops[funct3]
		inst.Csr = uint16(inst.Raw >> 20)
	default:
		inst.Format = FormatUnknown
	}
}

// immI extracts the sign-extended I-format immediate.
func immI(word uint32) int32 {
	return int32(word) >> 20
}

// immS extracts the sign-extended S-format immediate.
func immS(word uint32) int32 {
	return (int32(word)>>25)<<5 | int32((word>>7)&0x1F)
}

// immB extracts the sign-extended B-format immediate.
func immB(word uint32) int32 {
	imm := (int32(word) >> 31) << 12
	imm |= int32((word>>7)&0x1) << 11
	imm |= int32((word>>25)&0x3F) << 5
	imm |= int32((word>>8)&0xF) << 1
	return imm
}

// immU extracts the U-format immediate.
func immU(word uint32) int32 {
	return int32(word & 0xFFFFF000)
}

// immJ extracts the sign-extended J-format immediate.
func immJ(word uint32) int32 {
	imm := (int32(word) >> 31) << 20
	imm |= int32((word>>12)&0xFF) << 12
	imm |= int32((word>>20)&0x1) << 11
	imm |= int32((word>>21)&0x3FF) << 1
	return imm
}
