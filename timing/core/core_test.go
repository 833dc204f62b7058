package core_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rv5sim/emu"
	"github.com/sarchlab/rv5sim/loader"
	"github.com/sarchlab/rv5sim/timing/config"
	"github.com/sarchlab/rv5sim/timing/core"
	"github.com/sarchlab/rv5sim/timing/csr"
)

func iType(op, funct3, rd, rs1 uint32, imm int32) uint32 {
	return uint32(imm)<<20 | rs1<<15 | funct3<<12 | rd<<7 | op
}

func addi(rd, rs1 uint32, imm int32) uint32 { return iType(0x13, 0, rd, rs1, imm) }
func slli(rd, rs1, shamt uint32) uint32     { return iType(0x13, 1, rd, rs1, int32(shamt)) }
func csrrw(rd, addr, rs1 uint32) uint32     { return iType(0x73, 1, rd, rs1, int32(addr)) }
func csrrsi(rd, addr, imm uint32) uint32    { return iType(0x73, 6, rd, imm, int32(addr)) }

func add(rd, rs1, rs2 uint32) uint32 {
	return rs2<<20 | rs1<<15 | rd<<7 | 0x33
}

func sw(rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5&0x7F)<<25 | rs2<<20 | rs1<<15 | 2<<12 | (u&0x1F)<<7 | 0x23
}

func bne(rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>12&1)<<31 | (u>>5&0x3F)<<25 | rs2<<20 | rs1<<15 |
		1<<12 | (u>>1&0xF)<<8 | (u>>11&1)<<7 | 0x63
}

func lui(rd, imm20 uint32) uint32 { return imm20<<12 | rd<<7 | 0x37 }

func jal(rd uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>20&1)<<31 | (u>>1&0x3FF)<<21 | (u>>11&1)<<20 |
		(u>>12&0xFF)<<12 | rd<<7 | 0x6F
}

var _ = Describe("Core", func() {
	var (
		cfg config.CoreConfig
		mem *emu.Memory
		c   *core.Core
	)

	BeforeEach(func() {
		cfg = config.DefaultConfig()
		cfg.ResetVector = 0x1000
		cfg.ICacheLines = 8
		cfg.DCacheLines = 8
		cfg.LineBytes = 16
		cfg.BusLatency = 1
		cfg.IOBase = 0xF0000000
		cfg.IOLimit = 0xF0001000
		Expect(cfg.Validate()).To(Succeed())

		mem = emu.NewMemory()
		c = core.New(cfg, mem)
	})

	load := func(addr uint32, words ...uint32) {
		for i, w := range words {
			mem.Write32(addr+uint32(i*4), w)
		}
	}

	// sumWords computes 10+9+...+1 and exits through the exit device with
	// the sum as the code.
	sumWords := []uint32{
		addi(1, 0, 0),
		addi(2, 0, 10),
		add(1, 1, 2), // loop
		addi(2, 2, -1),
		bne(2, 0, -8),
		slli(3, 1, 1),
		addi(3, 3, 1),
		lui(4, 0xF0000),
		sw(4, 3, 0),
		0x00100073, // ebreak: halts the flat reference after the exit store
	}

	sumProgram := func() {
		load(cfg.ResetVector, sumWords...)
	}

	It("should run a program to completion and report its exit code", func() {
		sumProgram()

		c.Run(5000)
		Expect(c.Halted()).To(BeTrue())
		Expect(c.ExitCode()).To(Equal(uint32(55)))

		stats := c.Stats()
		Expect(stats.Pipeline.Instructions).To(BeNumerically(">=", 35))
		Expect(stats.Pipeline.IPC()).To(BeNumerically(">", 0.0))
		Expect(stats.ICache.Fills).To(BeNumerically(">", 0))
		Expect(stats.Predictor.TakenGuess).To(BeNumerically(">", 0))
		Expect(stats.Pipeline.Mispredicts).To(BeNumerically(">=", 1))
	})

	It("should stop at the cycle limit when the program never exits", func() {
		load(cfg.ResetVector, jal(0, 0))

		n := c.Run(100)
		Expect(n).To(Equal(uint64(100)))
		Expect(c.Halted()).To(BeFalse())
	})

	It("should load segments and zero their BSS tails", func() {
		mem.Write32(0x3004, 0xDEADBEEF) // stale data under the BSS

		c.LoadProgram(&loader.Program{
			EntryPoint: 0x3000,
			Segments: []loader.Segment{
				{VirtAddr: 0x3000, Data: []byte{1, 2, 3, 4}, MemSize: 8},
			},
		})

		Expect(mem.Read32(0x3000)).To(Equal(uint32(0x04030201)))
		Expect(mem.Read32(0x3004)).To(Equal(uint32(0)))
	})

	It("should deliver a timer interrupt through the core inputs", func() {
		load(cfg.ResetVector,
			lui(1, 0x2),
			csrrw(0, csr.AddrMtvec, 1),
			addi(1, 0, 1),
			slli(1, 1, 7), // MTI enable bit
			csrrw(0, csr.AddrMie, 1),
			csrrsi(0, csr.AddrMstatus, 8),
			jal(0, 0), // spin
		)
		load(0x2000, addi(5, 0, 1))

		c.Run(200)
		c.SetTimerInterrupt(true)
		for i := 0; i < 500 && c.Regs.X[5] != 1; i++ {
			c.Tick()
		}

		Expect(c.Regs.X[5]).To(Equal(uint32(1)))
		Expect(c.CSRs.Mcause).To(Equal(uint32(7) | 1<<31))
	})

	It("should match the functional emulator on architectural state", func() {
		sumProgram()
		c.Run(5000)
		Expect(c.Halted()).To(BeTrue())

		refMem := emu.NewMemory()
		for i, w := range sumWords {
			refMem.Write32(cfg.ResetVector+uint32(i*4), w)
		}
		refRegs := &emu.RegFile{PC: cfg.ResetVector}
		ref := emu.NewEmulator(refRegs, refMem)
		Expect(ref.Run(uint64(len(sumWords) * 5))).To(Succeed())

		Expect(c.Regs.X[1]).To(Equal(refRegs.X[1]))
		Expect(c.Regs.X[2]).To(Equal(refRegs.X[2]))
		Expect(c.Regs.X[3]).To(Equal(refRegs.X[3]))
		Expect(mem.Read32(cfg.IOBase)).To(Equal(refMem.Read32(cfg.IOBase)))
	})

	It("should keep running correctly across a cache flush", func() {
		sumProgram()
		c.Run(30)
		c.FlushCaches()

		c.Run(5000)
		Expect(c.Halted()).To(BeTrue())
		Expect(c.ExitCode()).To(Equal(uint32(55)))
		Expect(c.Stats().ICache.Flushes).To(Equal(uint64(1)))
		Expect(c.Stats().DCache.Flushes).To(Equal(uint64(1)))
	})

	It("should restart cleanly after a reset", func() {
		sumProgram()
		c.Run(30)
		c.Reset()

		Expect(c.Regs.X[1]).To(Equal(uint32(0)))
		Expect(c.CSRs.Priv).To(Equal(csr.PrivMachine))
		Expect(c.Stats().Pipeline.Cycles).To(Equal(uint64(0)))

		c.Run(5000)
		Expect(c.Halted()).To(BeTrue())
		Expect(c.ExitCode()).To(Equal(uint32(55)))
	})
})
