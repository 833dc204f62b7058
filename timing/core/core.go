// Package core assembles the timing model of the processor: backing
// memory, the instruction, data, and page-walk bus ports, both caches,
// the MMU, the CSR file, and the pipeline.
package core

import (
	"github.com/sarchlab/rv5sim/emu"
	"github.com/sarchlab/rv5sim/loader"
	"github.com/sarchlab/rv5sim/timing/bus"
	"github.com/sarchlab/rv5sim/timing/cache"
	"github.com/sarchlab/rv5sim/timing/config"
	"github.com/sarchlab/rv5sim/timing/csr"
	"github.com/sarchlab/rv5sim/timing/mmu"
	"github.com/sarchlab/rv5sim/timing/pipeline"
)

// Statistics aggregates the counters of every unit in the core.
type Statistics struct {
	Pipeline  pipeline.Statistics
	Predictor pipeline.PredictorStatistics
	ICache    cache.Statistics
	DCache    cache.Statistics
	MMU       mmu.Statistics
	CSR       csr.Statistics
}

// Core is one simulated hart with its memory system.
type Core struct {
	Config config.CoreConfig

	Mem  *emu.Memory
	Regs *emu.RegFile
	CSRs *csr.File

	ICache   *cache.ICache
	DCache   *cache.DCache
	MMU      *mmu.MMU
	Pipeline *pipeline.Pipeline

	ibus *bus.MemoryPort
	dbus *bus.MemoryPort
	wbus *bus.MemoryPort

	// The first word of the I/O window doubles as the exit device: a
	// store of value v with bit 0 set halts the core with code v>>1.
	exitAddr uint32
}

// New builds a core from the configuration, backed by the given memory.
func New(cfg config.CoreConfig, mem *emu.Memory) *Core {
	c := &Core{
		Config:   cfg,
		Mem:      mem,
		Regs:     &emu.RegFile{},
		CSRs:     csr.New(),
		exitAddr: cfg.IOBase,
	}

	c.ibus = bus.NewMemoryPort(mem, cfg.BusLatency)
	c.dbus = bus.NewMemoryPort(mem, cfg.BusLatency)
	c.wbus = bus.NewMemoryPort(mem, cfg.BusLatency)

	c.ICache = cache.NewICache(
		cache.Geometry{Lines: cfg.ICacheLines, LineBytes: cfg.LineBytes},
		c.ibus,
	)
	c.DCache = cache.NewDCache(
		cache.Geometry{Lines: cfg.DCacheLines, LineBytes: cfg.LineBytes},
		c.dbus,
		bus.AddrRange{Start: cfg.IOBase, End: cfg.IOLimit},
	)
	c.MMU = mmu.New(cfg.TlbEntriesPerPort, c.wbus)

	c.Pipeline = pipeline.New(
		c.Regs, c.CSRs, c.MMU, c.ICache, c.DCache,
		cfg.PredictorEntries, cfg.ResetVector,
	)

	return c
}

// InstructionBus returns the instruction-side memory port, for fault
// injection and inspection.
func (c *Core) InstructionBus() *bus.MemoryPort {
	return c.ibus
}

// DataBus returns the data-side memory port.
func (c *Core) DataBus() *bus.MemoryPort {
	return c.dbus
}

// LoadProgram copies a loaded ELF image into backing memory.
func (c *Core) LoadProgram(prog *loader.Program) {
	for _, seg := range prog.Segments {
		c.Mem.WriteBytes(seg.VirtAddr, seg.Data)
		for addr := seg.VirtAddr + uint32(len(seg.Data)); addr < seg.VirtAddr+seg.MemSize; addr++ {
			c.Mem.Write8(addr, 0)
		}
	}
}

// Tick advances the whole core by one cycle.
func (c *Core) Tick() {
	c.Pipeline.Tick()
}

// Run ticks the core until it halts or maxCycles elapse. It returns the
// number of cycles consumed.
func (c *Core) Run(maxCycles uint64) uint64 {
	var n uint64
	for n < maxCycles && !c.Halted() {
		c.Tick()
		n++
	}
	return n
}

// Halted reports whether the program signaled exit through the exit
// device word.
func (c *Core) Halted() bool {
	return c.Mem.Read32(c.exitAddr)&1 != 0
}

// ExitCode returns the code the program exited with.
func (c *Core) ExitCode() uint32 {
	return c.Mem.Read32(c.exitAddr) >> 1
}

// FlushCaches starts both cache flush sequencers. The walks run as the
// core ticks; the pipeline holds fetch and memory accesses until they
// finish.
func (c *Core) FlushCaches() {
	c.ICache.Flush()
	c.DCache.Flush()
}

// SetTimerInterrupt drives the timer interrupt line.
func (c *Core) SetTimerInterrupt(asserted bool) {
	c.CSRs.SetTimerInterrupt(asserted)
}

// SetSoftwareInterrupt drives the software interrupt line.
func (c *Core) SetSoftwareInterrupt(asserted bool) {
	c.CSRs.SetSoftwareInterrupt(asserted)
}

// SetExternalInterrupt drives the external interrupt line.
func (c *Core) SetExternalInterrupt(asserted bool) {
	c.CSRs.SetExternalInterrupt(asserted)
}

// Reset returns the architectural state and pipeline to the reset state.
// Cache and TLB contents survive, as they would through a hardware reset
// line that only clears control state.
func (c *Core) Reset() {
	c.Regs.Reset()
	c.CSRs.Reset()
	c.Pipeline.Reset()
}

// Stats collects the counters of every unit.
func (c *Core) Stats() Statistics {
	return Statistics{
		Pipeline:  c.Pipeline.Stats(),
		Predictor: c.Pipeline.PredictorStats(),
		ICache:    c.ICache.Stats(),
		DCache:    c.DCache.Stats(),
		MMU:       c.MMU.Stats(),
		CSR:       c.CSRs.Stats(),
	}
}
