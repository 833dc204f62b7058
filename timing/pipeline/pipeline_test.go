package pipeline_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rv5sim/emu"
	"github.com/sarchlab/rv5sim/timing/bus"
	"github.com/sarchlab/rv5sim/timing/cache"
	"github.com/sarchlab/rv5sim/timing/csr"
	"github.com/sarchlab/rv5sim/timing/mmu"
	"github.com/sarchlab/rv5sim/timing/pipeline"
)

const (
	resetVector = uint32(0x1000)
	handlerBase = uint32(0x2000)

	instEcall  = uint32(0x00000073)
	instMret   = uint32(0x30200073)
	instFenceI = uint32(0x0000100F)
)

// Instruction encoders, enough of the ISA to assemble the test programs.

func iType(op, funct3, rd, rs1 uint32, imm int32) uint32 {
	return uint32(imm)<<20 | rs1<<15 | funct3<<12 | rd<<7 | op
}

func rType(funct7, funct3, rd, rs1, rs2 uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | 0x33
}

func sType(funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5&0x7F)<<25 | rs2<<20 | rs1<<15 | funct3<<12 | (u&0x1F)<<7 | 0x23
}

func bType(funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>12&1)<<31 | (u>>5&0x3F)<<25 | rs2<<20 | rs1<<15 |
		funct3<<12 | (u>>1&0xF)<<8 | (u>>11&1)<<7 | 0x63
}

func uType(op, rd, imm20 uint32) uint32 {
	return imm20<<12 | rd<<7 | op
}

func jType(rd uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>20&1)<<31 | (u>>1&0x3FF)<<21 | (u>>11&1)<<20 |
		(u>>12&0xFF)<<12 | rd<<7 | 0x6F
}

func addi(rd, rs1 uint32, imm int32) uint32 { return iType(0x13, 0, rd, rs1, imm) }
func slli(rd, rs1, shamt uint32) uint32     { return iType(0x13, 1, rd, rs1, int32(shamt)) }
func add(rd, rs1, rs2 uint32) uint32        { return rType(0, 0, rd, rs1, rs2) }
func sub(rd, rs1, rs2 uint32) uint32        { return rType(0x20, 0, rd, rs1, rs2) }
func lw(rd, rs1 uint32, imm int32) uint32   { return iType(0x03, 2, rd, rs1, imm) }
func sw(rs1, rs2 uint32, imm int32) uint32  { return sType(2, rs1, rs2, imm) }
func lui(rd, imm20 uint32) uint32           { return uType(0x37, rd, imm20) }
func auipc(rd, imm20 uint32) uint32         { return uType(0x17, rd, imm20) }
func jal(rd uint32, imm int32) uint32       { return jType(rd, imm) }
func jalr(rd, rs1 uint32, imm int32) uint32 { return iType(0x67, 0, rd, rs1, imm) }
func beq(rs1, rs2 uint32, imm int32) uint32 { return bType(0, rs1, rs2, imm) }
func bne(rs1, rs2 uint32, imm int32) uint32 { return bType(1, rs1, rs2, imm) }

func csrrw(rd, addr, rs1 uint32) uint32  { return iType(0x73, 1, rd, rs1, int32(addr)) }
func csrrs(rd, addr, rs1 uint32) uint32  { return iType(0x73, 2, rd, rs1, int32(addr)) }
func csrrsi(rd, addr, imm uint32) uint32 { return iType(0x73, 6, rd, imm, int32(addr)) }
func csrrci(rd, addr, imm uint32) uint32 { return iType(0x73, 7, rd, imm, int32(addr)) }

// loadImm materializes an arbitrary 32-bit constant with a lui/addi pair.
func loadImm(rd, v uint32) []uint32 {
	hi := (v + 0x800) >> 12 & 0xFFFFF
	lo := int32(v<<20) >> 20
	return []uint32{lui(rd, hi), addi(rd, rd, lo)}
}

// machine is a pipeline wired to small caches over one shared memory.
type machine struct {
	mem  *emu.Memory
	regs *emu.RegFile
	csrs *csr.File
	ibus *bus.MemoryPort
	dbus *bus.MemoryPort
	p    *pipeline.Pipeline
}

func newMachine(busLatency int) *machine {
	m := &machine{
		mem:  emu.NewMemory(),
		regs: &emu.RegFile{},
		csrs: csr.New(),
	}
	m.ibus = bus.NewMemoryPort(m.mem, busLatency)
	m.dbus = bus.NewMemoryPort(m.mem, busLatency)

	ic := cache.NewICache(cache.Geometry{Lines: 8, LineBytes: 16}, m.ibus)
	dc := cache.NewDCache(
		cache.Geometry{Lines: 8, LineBytes: 16},
		m.dbus,
		bus.AddrRange{Start: 0xF0000000, End: 0xF0001000},
	)
	mm := mmu.New(4, bus.NewMemoryPort(m.mem, busLatency))

	m.p = pipeline.New(m.regs, m.csrs, mm, ic, dc, 16, resetVector)
	return m
}

func (m *machine) load(addr uint32, words ...uint32) {
	for i, w := range words {
		m.mem.Write32(addr+uint32(i*4), w)
	}
}

// runRetired ticks until n instructions have retired.
func (m *machine) runRetired(n uint64) {
	m.runUntil(func() bool { return m.p.Stats().Instructions >= n })
}

func (m *machine) runUntil(cond func() bool) {
	for i := 0; i < 5000; i++ {
		if cond() {
			return
		}
		m.p.Tick()
	}
	Fail("program did not reach the expected state")
}

// vector installs a trap handler that sets x5 and points mtvec at it. The
// two instructions occupy the first two program slots.
func vector(m *machine) []uint32 {
	m.load(handlerBase, addi(5, 0, 1))
	return []uint32{
		lui(1, handlerBase>>12),
		csrrw(0, csr.AddrMtvec, 1),
	}
}

var _ = Describe("Pipeline", func() {
	It("should execute a dependent ALU chain with forwarding", func() {
		m := newMachine(1)
		m.load(resetVector,
			addi(1, 0, 5),
			addi(2, 1, -1),
			add(3, 1, 2),
			sub(4, 3, 1),
		)

		m.runRetired(4)
		Expect(m.regs.X[1]).To(Equal(uint32(5)))
		Expect(m.regs.X[2]).To(Equal(uint32(4)))
		Expect(m.regs.X[3]).To(Equal(uint32(9)))
		Expect(m.regs.X[4]).To(Equal(uint32(4)))
		Expect(m.csrs.Minstret).To(Equal(uint64(4)))
	})

	It("should stall a load-use dependency and still forward the value", func() {
		m := newMachine(1)
		m.load(resetVector,
			addi(2, 0, 0x200),
			addi(1, 0, 7),
			sw(2, 1, 0),
			lw(3, 2, 0),
			addi(4, 3, 1),
		)

		m.runRetired(5)
		Expect(m.regs.X[3]).To(Equal(uint32(7)))
		Expect(m.regs.X[4]).To(Equal(uint32(8)))
		Expect(m.p.Stats().StallCycles).To(BeNumerically(">", 0))
	})

	It("should replay a load that races the store ahead of it", func() {
		// A slow bus keeps the store in flight when the load reaches the
		// memory stage.
		m := newMachine(4)
		m.load(resetVector,
			addi(2, 0, 0x200),
			addi(1, 0, 42),
			sw(2, 1, 0),
			lw(3, 2, 0),
		)

		m.runRetired(4)
		Expect(m.regs.X[3]).To(Equal(uint32(42)))
		Expect(m.p.Stats().Replays).To(BeNumerically(">=", 1))
	})

	It("should honor a store-collision replay over a trap in the same cycle", func() {
		// A slow bus keeps the store acknowledgement outstanding while an
		// older undecodable word reaches writeback; the replay must win
		// the cycle and the trap fire right after, with its own PC.
		m := newMachine(4)
		prog := append(vector(m),
			addi(2, 0, 0x200),  // 0x1008
			addi(1, 0, 42),     // 0x100C
			sw(2, 1, 0),        // 0x1010
			uint32(0xFFFFFFFF), // 0x1014: traps at writeback
			lw(3, 2, 0),        // 0x1018: collides with the store
		)
		m.load(resetVector, prog...)

		m.runUntil(func() bool { return m.regs.X[5] == 1 })
		Expect(m.p.Stats().Replays).To(BeNumerically(">=", 1))
		Expect(m.csrs.Mcause).To(Equal(uint32(csr.CauseIllegalInstruction)))
		Expect(m.csrs.Mepc).To(Equal(resetVector + 0x14))
		Expect(m.regs.X[3]).To(Equal(uint32(0)))
		Expect(m.mem.Read32(0x200)).To(Equal(uint32(42)))
	})

	It("should run a counted loop, mispredicting only at the edges", func() {
		m := newMachine(1)
		m.load(resetVector,
			addi(1, 0, 0),
			addi(2, 0, 3),
			addi(1, 1, 1),
			bne(1, 2, -4),
			addi(3, 0, 99),
		)

		m.runRetired(9)
		Expect(m.regs.X[1]).To(Equal(uint32(3)))
		Expect(m.regs.X[3]).To(Equal(uint32(99)))

		// First taken iteration and the final fall-through are the only
		// wrong guesses; the middle iteration predicts correctly.
		Expect(m.p.Stats().Mispredicts).To(Equal(uint64(2)))
		Expect(m.p.PredictorStats().Updates).To(Equal(uint64(3)))
	})

	It("should link and return through jal and jalr", func() {
		m := newMachine(1)
		m.load(resetVector,
			jal(1, 12),     // 0x1000: link 0x1004, jump 0x100C
			addi(2, 0, 55), // 0x1004
			jal(0, 8),      // 0x1008: jump 0x1010
			jalr(0, 1, 0),  // 0x100C: jump back to 0x1004
			addi(3, 0, 77), // 0x1010
		)

		m.runRetired(5)
		Expect(m.regs.X[1]).To(Equal(resetVector + 4))
		Expect(m.regs.X[2]).To(Equal(uint32(55)))
		Expect(m.regs.X[3]).To(Equal(uint32(77)))
	})

	It("should commit CSR read-modify-write at writeback", func() {
		m := newMachine(1)
		m.load(resetVector,
			addi(1, 0, 0x55),
			csrrw(2, csr.AddrMscratch, 1),  // x2=0, mscratch=0x55
			csrrs(3, csr.AddrMscratch, 0),  // x3=0x55, no write
			csrrci(4, csr.AddrMscratch, 5), // x4=0x55, mscratch=0x50
			csrrs(5, csr.AddrMscratch, 0),  // x5=0x50
		)

		m.runRetired(5)
		Expect(m.regs.X[2]).To(Equal(uint32(0)))
		Expect(m.regs.X[3]).To(Equal(uint32(0x55)))
		Expect(m.regs.X[4]).To(Equal(uint32(0x55)))
		Expect(m.regs.X[5]).To(Equal(uint32(0x50)))
		Expect(m.csrs.Mscratch).To(Equal(uint32(0x50)))
	})

	It("should trap on ecall and come back through mret", func() {
		m := newMachine(1)
		prog := append(vector(m),
			instEcall,     // 0x1008
			addi(6, 0, 9), // 0x100C: resumed after mret
		)
		m.load(resetVector, prog...)

		// The handler bumps mepc past the ecall and returns.
		m.load(handlerBase,
			csrrs(5, csr.AddrMepc, 0),
			addi(5, 5, 4),
			csrrw(0, csr.AddrMepc, 5),
			instMret,
		)

		m.runUntil(func() bool { return m.regs.X[6] == 9 })
		Expect(m.regs.X[5]).To(Equal(resetVector + 0xC))
		Expect(m.csrs.Mcause).To(Equal(uint32(csr.CauseEcallFromM)))
		Expect(m.csrs.Priv).To(Equal(csr.PrivMachine))

		// lui, csrrw, the four handler instructions, and the resumed
		// addi all retire; the ecall itself does not.
		Expect(m.csrs.Minstret).To(Equal(uint64(7)))
	})

	It("should drop to user mode through mret and trap back on ecall", func() {
		m := newMachine(1)
		prog := append(vector(m),
			auipc(2, 0),    // 0x1008: x2=0x1008
			addi(2, 2, 16), // x2=0x1018
			csrrw(0, csr.AddrMepc, 2),
			instMret,  // to 0x1018 in user mode
			instEcall, // 0x1018
		)
		m.load(resetVector, prog...)

		m.runUntil(func() bool { return m.regs.X[5] == 1 })
		Expect(m.csrs.Mcause).To(Equal(uint32(csr.CauseEcallFromU)))
		Expect(m.csrs.Mepc).To(Equal(resetVector + 0x18))
		Expect(m.csrs.MPP).To(Equal(csr.PrivUser))
		Expect(m.csrs.Priv).To(Equal(csr.PrivMachine))
	})

	It("should trap an undecodable word as an illegal instruction", func() {
		m := newMachine(1)
		prog := append(vector(m), uint32(0xFFFFFFFF))
		m.load(resetVector, prog...)

		m.runUntil(func() bool { return m.regs.X[5] == 1 })
		Expect(m.csrs.Mcause).To(Equal(uint32(csr.CauseIllegalInstruction)))
		Expect(m.csrs.Mtval).To(Equal(uint32(0xFFFFFFFF)))
		Expect(m.csrs.Mepc).To(Equal(resetVector + 8))
	})

	It("should trap a misaligned load with the faulting address", func() {
		m := newMachine(1)
		prog := append(vector(m),
			addi(2, 0, 0x200),
			lw(4, 2, 1),
		)
		m.load(resetVector, prog...)

		m.runUntil(func() bool { return m.regs.X[5] == 1 })
		Expect(m.csrs.Mcause).To(Equal(uint32(csr.CauseLoadMisaligned)))
		Expect(m.csrs.Mtval).To(Equal(uint32(0x201)))
		Expect(m.csrs.Mepc).To(Equal(resetVector + 0xC))
	})

	It("should trap a fetch that hits a bus error", func() {
		m := newMachine(1)
		m.ibus.AddErrorRange(bus.AddrRange{Start: 0x1010, End: 0x1020})
		prog := append(vector(m),
			addi(6, 0, 1), // 0x1008
			addi(6, 6, 1), // 0x100C
			// 0x1010 onward is unreachable over the broken bus.
		)
		m.load(resetVector, prog...)

		m.runUntil(func() bool { return m.regs.X[5] == 1 })
		Expect(m.csrs.Mcause).To(Equal(uint32(csr.CauseFetchAccessFault)))
		Expect(m.csrs.Mtval).To(Equal(uint32(0x1010)))
	})

	It("should trap a load that hits a bus error", func() {
		m := newMachine(1)
		m.dbus.AddErrorRange(bus.AddrRange{Start: 0x200, End: 0x210})
		prog := append(vector(m),
			addi(2, 0, 0x200),
			lw(3, 2, 0),
		)
		m.load(resetVector, prog...)

		m.runUntil(func() bool { return m.regs.X[5] == 1 })
		Expect(m.csrs.Mcause).To(Equal(uint32(csr.CauseLoadAccessFault)))
		Expect(m.csrs.Mtval).To(Equal(uint32(0x200)))
	})

	It("should take an external interrupt on an exact boundary", func() {
		m := newMachine(1)
		prog := append(vector(m),
			addi(1, 0, 1),
			slli(1, 1, 11), // MEI enable bit
			csrrw(0, csr.AddrMie, 1),
			csrrsi(0, csr.AddrMstatus, 8), // mstatus.MIE
			jal(0, 0),                     // 0x1018: spin
		)
		m.load(resetVector, prog...)

		m.runRetired(6)
		m.csrs.SetExternalInterrupt(true)

		m.runUntil(func() bool { return m.regs.X[5] == 1 })
		Expect(m.csrs.Mcause).To(Equal(uint32(11) | 1<<31))
		Expect(m.csrs.Mepc).To(Equal(resetVector + 0x18))
		Expect(m.csrs.Priv).To(Equal(csr.PrivMachine))
		Expect(m.csrs.MIE).To(BeFalse())
	})

	It("should expose stores to fetch after fence.i", func() {
		m := newMachine(1)
		m.load(resetVector,
			lui(2, 0x1),   // x2=0x1000
			lui(4, 0x200), // builds "addi x3,x0,2"
			addi(4, 4, 0x193),
			sw(2, 4, 0x18), // overwrite the word at 0x1018
			instFenceI,
			addi(6, 0, 1), // 0x1014
			addi(3, 0, 1), // 0x1018: replaced before it runs
		)

		m.runUntil(func() bool { return m.regs.X[3] != 0 })
		Expect(m.regs.X[3]).To(Equal(uint32(2)))
	})

	It("should fault a user access to an unmapped page", func() {
		m := newMachine(1)

		// Identity-map the code page with user permissions; everything
		// else is unmapped.
		root := uint32(0x10000)
		leaf := uint32(0x11000)
		m.mem.Write32(root, (leaf>>12)<<10|mmu.PteV)
		m.mem.Write32(leaf+1*4,
			(resetVector>>12)<<10|mmu.PteV|mmu.PteR|mmu.PteX|mmu.PteU)

		m.csrs.Satp = csr.Satp{Mode: true, PPN: root >> 12}
		m.csrs.Priv = csr.PrivUser
		m.csrs.Mtvec = handlerBase
		m.load(handlerBase, addi(5, 0, 1))

		m.load(resetVector,
			lui(2, 0x400),
			lw(3, 2, 0), // VA 0x00400000 has no mapping
		)

		m.runUntil(func() bool { return m.regs.X[5] == 1 })
		Expect(m.csrs.Mcause).To(Equal(uint32(csr.CauseLoadPageFault)))
		Expect(m.csrs.Mtval).To(Equal(uint32(0x00400000)))
		Expect(m.csrs.Mepc).To(Equal(resetVector + 4))
		Expect(m.csrs.Priv).To(Equal(csr.PrivMachine))
	})

	DescribeTable("multiply and divide through the pipeline",
		func(funct3, a, b, want uint32) {
			m := newMachine(1)
			prog := append(loadImm(1, a), loadImm(2, b)...)
			prog = append(prog, rType(1, funct3, 3, 1, 2))
			m.load(resetVector, prog...)

			m.runRetired(5)
			Expect(m.regs.X[3]).To(Equal(want))
		},
		Entry("mul -1*2", uint32(0), uint32(0xFFFFFFFF), uint32(2), uint32(0xFFFFFFFE)),
		Entry("mul 64K*64K low", uint32(0), uint32(0x10000), uint32(0x10000), uint32(0)),
		Entry("mulh -1*2", uint32(1), uint32(0xFFFFFFFF), uint32(2), uint32(0xFFFFFFFF)),
		Entry("mulh 64K*64K", uint32(1), uint32(0x10000), uint32(0x10000), uint32(1)),
		Entry("mulhsu -1*2u", uint32(2), uint32(0xFFFFFFFF), uint32(2), uint32(0xFFFFFFFF)),
		Entry("mulhu max*2", uint32(3), uint32(0xFFFFFFFF), uint32(2), uint32(1)),
		Entry("div 7/2", uint32(4), uint32(7), uint32(2), uint32(3)),
		Entry("div -7/2", uint32(4), uint32(0xFFFFFFF9), uint32(2), uint32(0xFFFFFFFD)),
		Entry("div 7/-2", uint32(4), uint32(7), uint32(0xFFFFFFFE), uint32(0xFFFFFFFD)),
		Entry("div by zero", uint32(4), uint32(5), uint32(0), uint32(0xFFFFFFFF)),
		Entry("div overflow", uint32(4), uint32(0x80000000), uint32(0xFFFFFFFF), uint32(0x80000000)),
		Entry("divu big/2", uint32(5), uint32(0xFFFFFFFE), uint32(2), uint32(0x7FFFFFFF)),
		Entry("rem -7/2", uint32(6), uint32(0xFFFFFFF9), uint32(2), uint32(0xFFFFFFFF)),
		Entry("rem by zero", uint32(6), uint32(5), uint32(0), uint32(5)),
		Entry("rem overflow", uint32(6), uint32(0x80000000), uint32(0xFFFFFFFF), uint32(0)),
		Entry("remu 7/2", uint32(7), uint32(7), uint32(2), uint32(1)),
	)
})
