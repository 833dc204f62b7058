package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rv5sim/emu"
)

// Instruction word helpers for building test programs.
func iType(op, funct3, rd, rs1 uint32, imm int32) uint32 {
	return uint32(imm)&0xFFF<<20 | rs1<<15 | funct3<<12 | rd<<7 | op
}

func rType(funct7, funct3, rd, rs1, rs2 uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | 0x33
}

func addi(rd, rs1 uint32, imm int32) uint32 { return iType(0x13, 0, rd, rs1, imm) }
func add(rd, rs1, rs2 uint32) uint32        { return rType(0x00, 0, rd, rs1, rs2) }
func lw(rd, rs1 uint32, imm int32) uint32   { return iType(0x03, 2, rd, rs1, imm) }

func sw(rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm) & 0xFFF
	return u>>5<<25 | rs2<<20 | rs1<<15 | 2<<12 | (u&0x1F)<<7 | 0x23
}

func jal(rd uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>20&1)<<31 | (u>>1&0x3FF)<<21 | (u>>11&1)<<20 | (u>>12&0xFF)<<12 | rd<<7 | 0x6F
}

func beq(rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>12&1)<<31 | (u>>5&0x3F)<<25 | rs2<<20 | rs1<<15 |
		(u>>1&0xF)<<8 | (u>>11&1)<<7 | 0x63
}

const ecall = 0x00000073

var _ = Describe("Emulator", func() {
	var (
		regs *emu.RegFile
		mem  *emu.Memory
		e    *emu.Emulator
	)

	BeforeEach(func() {
		regs = &emu.RegFile{}
		mem = emu.NewMemory()
		e = emu.NewEmulator(regs, mem)
	})

	load := func(base uint32, words ...uint32) {
		for i, w := range words {
			mem.Write32(base+uint32(i)*4, w)
		}
		regs.PC = base
	}

	It("should execute a straight-line ALU program", func() {
		load(0x1000,
			addi(1, 0, 5),
			addi(2, 0, 7),
			add(10, 1, 2),
			ecall,
		)
		Expect(e.Run(0)).To(Succeed())
		Expect(e.Halted()).To(BeTrue())
		Expect(e.ExitCode()).To(Equal(int32(12)))
	})

	It("should round-trip values through memory", func() {
		load(0x1000,
			addi(1, 0, 0x123),
			addi(2, 0, 0x400),
			sw(2, 1, 0),
			lw(10, 2, 0),
			ecall,
		)
		Expect(e.Run(0)).To(Succeed())
		Expect(e.ExitCode()).To(Equal(int32(0x123)))
		Expect(mem.Read32(0x400)).To(Equal(uint32(0x123)))
	})

	It("should follow taken branches", func() {
		load(0x1000,
			addi(1, 0, 1),
			beq(1, 0, 12),   // not taken
			addi(10, 0, 11), // executed
			beq(0, 0, 8),    // taken, skips the next addi
			addi(10, 0, 99),
			ecall,
		)
		Expect(e.Run(0)).To(Succeed())
		Expect(e.ExitCode()).To(Equal(int32(11)))
	})

	It("should link and jump with jal", func() {
		load(0x1000,
			jal(1, 8), // skip one word
			addi(10, 0, 99),
			ecall,
		)
		Expect(e.Run(0)).To(Succeed())
		Expect(e.ExitCode()).To(Equal(int32(0)))
		Expect(regs.ReadReg(1)).To(Equal(uint32(0x1004)))
	})

	It("should count instructions", func() {
		load(0x1000, addi(1, 0, 1), addi(2, 0, 2), ecall)
		Expect(e.Run(0)).To(Succeed())
		Expect(e.Instructions()).To(Equal(uint64(3)))
	})

	It("should stop at the instruction limit", func() {
		load(0x1000,
			beq(0, 0, 0), // spin forever
		)
		Expect(e.Run(10)).NotTo(Succeed())
	})

	It("should report illegal instructions", func() {
		load(0x1000, 0xFFFFFFFF)
		Expect(e.Step()).NotTo(Succeed())
	})
})

var _ = Describe("architected division results", func() {
	DescribeTable("DivSigned",
		func(a, b, want uint32) {
			Expect(emu.DivSigned(a, b)).To(Equal(want))
		},
		Entry("simple", uint32(20), uint32(3), uint32(6)),
		Entry("negative dividend", uint32(0xFFFFFFEC), uint32(3), uint32(0xFFFFFFFA)),
		Entry("divide by zero", uint32(20), uint32(0), uint32(0xFFFFFFFF)),
		Entry("overflow", uint32(0x80000000), uint32(0xFFFFFFFF), uint32(0x80000000)),
	)

	DescribeTable("RemSigned",
		func(a, b, want uint32) {
			Expect(emu.RemSigned(a, b)).To(Equal(want))
		},
		Entry("simple", uint32(20), uint32(3), uint32(2)),
		Entry("negative dividend", uint32(0xFFFFFFEC), uint32(3), uint32(0xFFFFFFFE)),
		Entry("divide by zero keeps the dividend", uint32(20), uint32(0), uint32(20)),
		Entry("overflow", uint32(0x80000000), uint32(0xFFFFFFFF), uint32(0)),
	)

	DescribeTable("unsigned variants",
		func(a, b, q, r uint32) {
			Expect(emu.DivUnsigned(a, b)).To(Equal(q))
			Expect(emu.RemUnsigned(a, b)).To(Equal(r))
		},
		Entry("simple", uint32(20), uint32(3), uint32(6), uint32(2)),
		Entry("divide by zero", uint32(20), uint32(0), uint32(0xFFFFFFFF), uint32(20)),
		Entry("large values", uint32(0xFFFFFFFF), uint32(2), uint32(0x7FFFFFFF), uint32(1)),
	)
})
