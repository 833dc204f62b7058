// Package mmu models Sv32 address translation: one private TLB per access
// port (instruction, data) with round-robin replacement, and a single
// shared two-level page walker.
package mmu

import (
	"github.com/sarchlab/rv5sim/timing/bus"
	"github.com/sarchlab/rv5sim/timing/csr"
)

// Sv32 page table entry flag bits.
const (
	PteV = 1 << 0 // valid
	PteR = 1 << 1 // readable
	PteW = 1 << 2 // writable
	PteX = 1 << 3 // executable
	PteU = 1 << 4 // user accessible
)

// PortID identifies a translation port.
type PortID int

// Translation ports. The instruction and data sides each own a TLB; the
// walker is shared.
const (
	PortInstruction PortID = iota
	PortData
	numPorts
)

// AccessType is the kind of memory access being translated.
type AccessType int

// Access types checked against PTE permission bits.
const (
	AccessRead AccessType = iota
	AccessWrite
	AccessExecute
)

// Entry is one TLB entry. Fault entries cache a failed walk so the access
// replays into a page fault without re-walking.
type Entry struct {
	Valid bool
	Fault bool
	Super bool

	// VPN is the 20-bit virtual page number (both Sv32 levels).
	VPN uint32

	// PPN is the 20-bit physical page number. For superpages only the
	// upper 10 bits participate in translation.
	PPN uint32

	// Permission bits from the PTE.
	Read    bool
	Write   bool
	Execute bool
	User    bool
}

// matches reports whether the entry translates vaddr. Superpage entries
// compare the upper 10 VPN bits only.
func (e *Entry) matches(vaddr uint32) bool {
	if !e.Valid {
		return false
	}
	vpn := vaddr >> 12
	if e.Super {
		return e.VPN>>10 == vpn>>10
	}
	return e.VPN == vpn
}

// Translation is the outcome of a lookup.
type Translation struct {
	// Phys is the translated physical address when Ready and not Fault.
	Phys uint32

	// Ready is true when the translation completed this cycle.
	Ready bool

	// Busy is true while a page walk is in flight (for this port or the
	// other one); the requesting stage must halt and retry.
	Busy bool

	// Fault is true for a page fault or permission violation.
	Fault bool
}

// Statistics holds translation statistics.
type Statistics struct {
	Lookups    uint64
	Hits       uint64
	Walks      uint64
	WalkFaults uint64
}

type tlbPort struct {
	entries []Entry
	next    int
}

func (p *tlbPort) insert(e Entry) {
	p.entries[p.next] = e
	p.next = (p.next + 1) % len(p.entries)
}

// walkState is the shared page walker state machine.
type walkState int

// Walker states. Exactly one walk is in flight system-wide.
const (
	walkIdle walkState = iota
	walkLevel1Cmd
	walkLevel1Rsp
	walkLevel0Cmd
	walkLevel0Rsp
)

type walker struct {
	state     walkState
	port      PortID
	vpn       uint32
	rootPPN   uint32
	level0PPN uint32
}

// MMU provides translation for both access ports over one shared walker.
type MMU struct {
	ports  [numPorts]tlbPort
	walker walker
	bus    bus.Port

	stats Statistics
}

// New creates an MMU with the given number of TLB entries per port. The
// bus port is used by the page walker for page table reads.
func New(entriesPerPort int, busPort bus.Port) *MMU {
	m := &MMU{bus: busPort}
	for i := range m.ports {
		m.ports[i].entries = make([]Entry, entriesPerPort)
	}
	return m
}

// Stats returns translation statistics.
func (m *MMU) Stats() Statistics {
	return m.stats
}

// WalkInFlight reports whether the shared walker is busy.
func (m *MMU) WalkInFlight() bool {
	return m.walker.state != walkIdle
}

// Translate looks up vaddr on the given port. Machine mode and disabled
// translation pass addresses through unchanged. A TLB miss engages the
// shared walker and reports Busy until the walk completes and the access
// is retried.
func (m *MMU) Translate(
	id PortID,
	vaddr uint32,
	access AccessType,
	priv csr.Privilege,
	satp csr.Satp,
) Translation {
	if !satp.Mode || priv == csr.PrivMachine {
		return Translation{Phys: vaddr, Ready: true}
	}

	m.stats.Lookups++

	for i := range m.ports[id].entries {
		e := &m.ports[id].entries[i]
		if !e.matches(vaddr) {
			continue
		}
		m.stats.Hits++
		if e.Fault || !m.permitted(e, access, priv) {
			return Translation{Ready: true, Fault: true}
		}
		return Translation{Phys: e.physical(vaddr), Ready: true}
	}

	// Miss. Only one walk runs at a time; the other port waits.
	if m.walker.state != walkIdle {
		return Translation{Busy: true}
	}

	m.walker = walker{
		state:   walkLevel1Cmd,
		port:    id,
		vpn:     vaddr >> 12,
		rootPPN: satp.PPN,
	}
	m.stats.Walks++
	return Translation{Busy: true}
}

func (m *MMU) permitted(e *Entry, access AccessType, priv csr.Privilege) bool {
	switch priv {
	case csr.PrivUser:
		if !e.User {
			return false
		}
	case csr.PrivSupervisor:
		if e.User {
			return false
		}
	}

	switch access {
	case AccessRead:
		return e.Read
	case AccessWrite:
		return e.Write
	case AccessExecute:
		return e.Execute
	}
	return false
}

// physical combines an entry's frame with the untranslated address bits.
func (e *Entry) physical(vaddr uint32) uint32 {
	if e.Super {
		return (e.PPN>>10)<<22 | vaddr&0x3FFFFF
	}
	return e.PPN<<12 | vaddr&0xFFF
}

// Tick advances the shared page walker by one cycle.
func (m *MMU) Tick() {
	m.bus.Tick()

	switch m.walker.state {
	case walkLevel1Cmd:
		addr := m.walker.rootPPN<<12 + (m.walker.vpn>>10)*4
		if m.bus.Issue(bus.Command{Address: addr, Burst: 1}) {
			m.walker.state = walkLevel1Rsp
		}
	case walkLevel1Rsp:
		resp, ok := m.bus.TakeResponse()
		if !ok {
			return
		}
		m.finishLevel1(resp)
	case walkLevel0Cmd:
		addr := m.walker.level0PPN<<12 + (m.walker.vpn&0x3FF)*4
		if m.bus.Issue(bus.Command{Address: addr, Burst: 1}) {
			m.walker.state = walkLevel0Rsp
		}
	case walkLevel0Rsp:
		resp, ok := m.bus.TakeResponse()
		if !ok {
			return
		}
		m.finishLevel0(resp)
	}
}

func (m *MMU) finishLevel1(resp bus.Response) {
	pte := resp.Data
	if resp.Error || !pteSound(pte) {
		m.insertFault(true)
		return
	}

	if pte&(PteR|PteX) != 0 {
		// Level-1 leaf: superpage.
		m.insertLeaf(pte, true)
		return
	}

	m.walker.level0PPN = pte >> 10
	m.walker.state = walkLevel0Cmd
}

func (m *MMU) finishLevel0(resp bus.Response) {
	pte := resp.Data
	if resp.Error || !pteSound(pte) || pte&(PteR|PteX) == 0 {
		// A non-leaf at the last level is a translation fault.
		m.insertFault(false)
		return
	}
	m.insertLeaf(pte, false)
}

// pteSound checks basic PTE validity: the valid bit must be set, and
// write-without-read is reserved.
func pteSound(pte uint32) bool {
	if pte&PteV == 0 {
		return false
	}
	if pte&PteW != 0 && pte&PteR == 0 {
		return false
	}
	return true
}

func (m *MMU) insertLeaf(pte uint32, super bool) {
	m.ports[m.walker.port].insert(Entry{
		Valid:   true,
		Super:   super,
		VPN:     m.walker.vpn,
		PPN:     pte >> 10,
		Read:    pte&PteR != 0,
		Write:   pte&PteW != 0,
		Execute: pte&PteX != 0,
		User:    pte&PteU != 0,
	})
	m.walker.state = walkIdle
}

func (m *MMU) insertFault(super bool) {
	m.ports[m.walker.port].insert(Entry{
		Valid: true,
		Fault: true,
		Super: super,
		VPN:   m.walker.vpn,
	})
	m.stats.WalkFaults++
	m.walker.state = walkIdle
}

// OnContextSwitch invalidates all entries cached from failed walks. Called
// on satp writes and privilege transitions so a fixed fault does not keep
// replaying from the TLB.
func (m *MMU) OnContextSwitch() {
	for p := range m.ports {
		for i := range m.ports[p].entries {
			if m.ports[p].entries[i].Fault {
				m.ports[p].entries[i].Valid = false
			}
		}
	}
}

// InvalidateAll clears every entry of both ports. Implements the explicit
// TLB-invalidate instruction.
func (m *MMU) InvalidateAll() {
	for p := range m.ports {
		for i := range m.ports[p].entries {
			m.ports[p].entries[i] = Entry{}
		}
		m.ports[p].next = 0
	}
}
