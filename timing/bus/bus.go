// Package bus models the external memory interface of the core: single
// in-flight command/response pairs per side, with burst reads used for
// cache line fills. The real transport behind the port (AXI, Wishbone,
// simple SRAM timing) is outside the model; this package provides a
// memory-backed implementation with configurable latency.
package bus

import (
	"github.com/sarchlab/rv5sim/emu"
)

// Command is a single memory request.
type Command struct {
	// Address is the physical byte address of the first word.
	Address uint32

	// Write is true for store commands.
	Write bool

	// Data is the word to store for write commands.
	Data uint32

	// Mask selects the byte lanes written by a write command (bit 0 is
	// the lowest byte of the word).
	Mask uint8

	// Burst is the number of sequential words a read command returns.
	// Zero is treated as one.
	Burst int
}

// Response is one word of reply to an accepted command. A read command of
// burst N produces N responses in address order; a write produces one.
type Response struct {
	// Data is the word read (undefined for write acknowledgements).
	Data uint32

	// Error indicates a transport error for this word.
	Error bool
}

// Port is one side (instruction or data) of the external memory interface.
// At most one command is in flight; Issue returns false while busy and the
// caller retries on a later cycle.
type Port interface {
	// Issue submits a command. It returns false if the port is busy.
	Issue(cmd Command) bool

	// Tick advances the port by one cycle.
	Tick()

	// TakeResponse returns the response available this cycle, if any,
	// and consumes it.
	TakeResponse() (Response, bool)

	// Busy returns true while an accepted command has responses still
	// owed to the core.
	Busy() bool
}

// AddrRange is a half-open physical address range [Start, End).
type AddrRange struct {
	Start uint32
	End   uint32
}

// Contains reports whether addr falls inside the range.
func (r AddrRange) Contains(addr uint32) bool {
	return addr >= r.Start && addr < r.End
}

// MemoryPort is a Port backed by simulator memory with a fixed access
// latency. The first response of a command appears Latency cycles after
// acceptance; burst words then arrive one per cycle.
type MemoryPort struct {
	memory  *emu.Memory
	latency int

	pending    Command
	active     bool
	countdown  int
	wordsLeft  int
	nextAddr   uint32
	writeAcked bool

	resp      Response
	respValid bool

	errorRanges []AddrRange
}

// NewMemoryPort creates a memory-backed port with the given first-word
// latency in cycles.
func NewMemoryPort(memory *emu.Memory, latency int) *MemoryPort {
	if latency < 1 {
		latency = 1
	}
	return &MemoryPort{
		memory:  memory,
		latency: latency,
	}
}

// AddErrorRange marks a physical address range as faulting: every response
// for a word in the range reports a transport error. Used to model broken
// devices and to exercise access-fault paths in tests.
func (p *MemoryPort) AddErrorRange(r AddrRange) {
	p.errorRanges = append(p.errorRanges, r)
}

func (p *MemoryPort) faulting(addr uint32) bool {
	for _, r := range p.errorRanges {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

// Issue submits a command. It returns false if the port is busy.
func (p *MemoryPort) Issue(cmd Command) bool {
	if p.active {
		return false
	}

	burst := cmd.Burst
	if burst < 1 || cmd.Write {
		burst = 1
	}

	p.pending = cmd
	p.active = true
	p.countdown = p.latency
	p.wordsLeft = burst
	p.nextAddr = cmd.Address &^ 3
	p.writeAcked = false
	return true
}

// Busy returns true while an accepted command has responses still owed.
func (p *MemoryPort) Busy() bool {
	return p.active
}

// Tick advances the port by one cycle, producing at most one response.
func (p *MemoryPort) Tick() {
	p.respValid = false

	if !p.active {
		return
	}
	if p.countdown > 1 {
		p.countdown--
		return
	}
	p.countdown = 0

	if p.pending.Write {
		p.commitWrite()
		p.resp = Response{Error: p.faulting(p.pending.Address)}
		p.respValid = true
		p.active = false
		return
	}

	p.resp = Response{
		Data:  p.memory.Read32(p.nextAddr),
		Error: p.faulting(p.nextAddr),
	}
	p.respValid = true
	p.nextAddr += 4
	p.wordsLeft--
	if p.wordsLeft == 0 {
		p.active = false
	}
}

// TakeResponse returns and consumes the response available this cycle.
func (p *MemoryPort) TakeResponse() (Response, bool) {
	if !p.respValid {
		return Response{}, false
	}
	p.respValid = false
	return p.resp, true
}

func (p *MemoryPort) commitWrite() {
	if p.faulting(p.pending.Address) {
		return
	}
	addr := p.pending.Address &^ 3
	for lane := uint32(0); lane < 4; lane++ {
		if p.pending.Mask&(1<<lane) != 0 {
			p.memory.Write8(addr+lane, uint8(p.pending.Data>>(8*lane)))
		}
	}
}
