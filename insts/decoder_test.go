package insts_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rv5sim/insts"
)

var _ = Describe("Decoder", func() {
	var d *insts.Decoder

	BeforeEach(func() {
		d = insts.NewDecoder()
	})

	Describe("ALU instructions", func() {
		It("should decode addi", func() {
			// addi x1, x0, 5
			inst := d.Decode(0x00500093)
			Expect(inst.Op).To(Equal(insts.OpADDI))
			Expect(inst.Format).To(Equal(insts.FormatI))
			Expect(inst.Rd).To(Equal(uint8(1)))
			Expect(inst.Rs1).To(Equal(uint8(0)))
			Expect(inst.Imm).To(Equal(int32(5)))
		})

		It("should sign-extend negative I immediates", func() {
			// addi x2, x1, -1
			inst := d.Decode(0xFFF08113)
			Expect(inst.Op).To(Equal(insts.OpADDI))
			Expect(inst.Imm).To(Equal(int32(-1)))
		})

		It("should decode add and sub by funct7", func() {
			// add x3, x1, x2
			inst := d.Decode(0x002081B3)
			Expect(inst.Op).To(Equal(insts.OpADD))
			Expect(inst.Rs2).To(Equal(uint8(2)))

			// sub x3, x1, x2
			inst = d.Decode(0x402081B3)
			Expect(inst.Op).To(Equal(insts.OpSUB))
		})

		It("should decode shift immediates with the shamt field", func() {
			// slli x1, x1, 3
			inst := d.Decode(0x00309093)
			Expect(inst.Op).To(Equal(insts.OpSLLI))
			Expect(inst.Imm).To(Equal(int32(3)))

			// srai x1, x1, 4
			inst = d.Decode(0x4040D093)
			Expect(inst.Op).To(Equal(insts.OpSRAI))
			Expect(inst.Imm).To(Equal(int32(4)))
		})

		It("should decode lui and auipc with the upper immediate", func() {
			// lui x5, 0x12345
			inst := d.Decode(0x123452B7)
			Expect(inst.Op).To(Equal(insts.OpLUI))
			Expect(inst.Imm).To(Equal(int32(0x12345000)))

			// auipc x6, 1
			inst = d.Decode(0x00001317)
			Expect(inst.Op).To(Equal(insts.OpAUIPC))
			Expect(inst.Imm).To(Equal(int32(0x1000)))
		})
	})

	Describe("memory instructions", func() {
		It("should decode lw", func() {
			// lw x4, 8(x2)
			inst := d.Decode(0x00812203)
			Expect(inst.Op).To(Equal(insts.OpLW))
			Expect(inst.IsLoad()).To(BeTrue())
			Expect(inst.Width()).To(Equal(insts.MemWidthWord))
			Expect(inst.Imm).To(Equal(int32(8)))
		})

		It("should decode sw with the split S immediate", func() {
			// sw x4, 12(x2)
			inst := d.Decode(0x00412623)
			Expect(inst.Op).To(Equal(insts.OpSW))
			Expect(inst.IsStore()).To(BeTrue())
			Expect(inst.Rs2).To(Equal(uint8(4)))
			Expect(inst.Imm).To(Equal(int32(12)))
		})

		It("should mark lbu and lhu as zero-extending", func() {
			// lbu x4, 0(x2)
			Expect(d.Decode(0x00014203).LoadUnsigned()).To(BeTrue())
			// lh x4, 0(x2)
			Expect(d.Decode(0x00011203).LoadUnsigned()).To(BeFalse())
		})
	})

	Describe("control flow", func() {
		It("should decode jal with the scrambled J immediate", func() {
			// jal x1, +8
			inst := d.Decode(0x008000EF)
			Expect(inst.Op).To(Equal(insts.OpJAL))
			Expect(inst.Imm).To(Equal(int32(8)))
		})

		It("should decode jalr", func() {
			// jalr x0, 0(x1)
			inst := d.Decode(0x00008067)
			Expect(inst.Op).To(Equal(insts.OpJALR))
			Expect(inst.Rs1).To(Equal(uint8(1)))
		})

		It("should decode branches and their immediates", func() {
			// beq x1, x2, +8
			inst := d.Decode(0x00208463)
			Expect(inst.Op).To(Equal(insts.OpBEQ))
			Expect(inst.Imm).To(Equal(int32(8)))
			Expect(inst.IsBranch()).To(BeTrue())
		})

		It("should sign-extend backward branch offsets", func() {
			// bne x1, x2, -4
			inst := d.Decode(0xFE209EE3)
			Expect(inst.Op).To(Equal(insts.OpBNE))
			Expect(inst.Imm).To(Equal(int32(-4)))
		})
	})

	Describe("M extension", func() {
		It("should decode multiply and divide by funct7", func() {
			// mul x3, x1, x2
			Expect(d.Decode(0x022081B3).Op).To(Equal(insts.OpMUL))
			// mulhu x3, x1, x2
			Expect(d.Decode(0x0220B1B3).Op).To(Equal(insts.OpMULHU))
			// div x3, x1, x2
			Expect(d.Decode(0x0220C1B3).Op).To(Equal(insts.OpDIV))
			// remu x3, x1, x2
			Expect(d.Decode(0x0220F1B3).Op).To(Equal(insts.OpREMU))
		})
	})

	Describe("system instructions", func() {
		It("should decode environment calls", func() {
			Expect(d.Decode(0x00000073).Op).To(Equal(insts.OpECALL))
			Expect(d.Decode(0x00100073).Op).To(Equal(insts.OpEBREAK))
		})

		It("should decode trap returns and wfi", func() {
			Expect(d.Decode(0x30200073).Op).To(Equal(insts.OpMRET))
			Expect(d.Decode(0x10200073).Op).To(Equal(insts.OpSRET))
			Expect(d.Decode(0x10500073).Op).To(Equal(insts.OpWFI))
		})

		It("should decode fences", func() {
			Expect(d.Decode(0x0000000F).Op).To(Equal(insts.OpFENCE))
			Expect(d.Decode(0x0000100F).Op).To(Equal(insts.OpFENCEI))
			// sfence.vma x0, x0
			Expect(d.Decode(0x12000073).Op).To(Equal(insts.OpSFENCEVMA))
		})

		It("should decode CSR instructions with the CSR address", func() {
			// csrrw x1, mscratch, x2
			inst := d.Decode(0x340110F3)
			Expect(inst.Op).To(Equal(insts.OpCSRRW))
			Expect(inst.Csr).To(Equal(uint16(0x340)))
			Expect(inst.WritesRd()).To(BeTrue())

			// csrrsi x1, mstatus, 8
			inst = d.Decode(0x300460F3)
			Expect(inst.Op).To(Equal(insts.OpCSRRSI))
			Expect(inst.CsrUsesImm()).To(BeTrue())
			Expect(inst.Rs1).To(Equal(uint8(8))) // zimm
		})
	})

	Describe("illegal words", func() {
		It("should return OpUnknown instead of failing", func() {
			inst := d.Decode(0xFFFFFFFF)
			Expect(inst).NotTo(BeNil())
			Expect(inst.Op).To(Equal(insts.OpUnknown))
			Expect(inst.Raw).To(Equal(uint32(0xFFFFFFFF)))
		})

		It("should reject loads with a reserved width", func() {
			// funct3 3 in the load major opcode
			Expect(d.Decode(0x00013203).Op).To(Equal(insts.OpUnknown))
		})
	})
})
