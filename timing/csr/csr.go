// Package csr models the privileged architectural state: privilege level,
// machine status, interrupt enable/pending bits, trap bookkeeping, and the
// Sv32 translation pointer.
package csr

// Privilege is the current privilege level.
type Privilege uint8

// Privilege levels.
const (
	PrivUser       Privilege = 0
	PrivSupervisor Privilege = 1
	PrivMachine    Privilege = 3
)

// String returns the privilege level name.
func (p Privilege) String() string {
	switch p {
	case PrivUser:
		return "user"
	case PrivSupervisor:
		return "supervisor"
	case PrivMachine:
		return "machine"
	}
	return "invalid"
}

// CSR addresses. This set is the closed allow-list of the modeled core;
// access to any other address is an illegal instruction.
const (
	AddrSatp      = 0x180
	AddrMstatus   = 0x300
	AddrMie       = 0x304
	AddrMtvec     = 0x305
	AddrMscratch  = 0x340
	AddrMepc      = 0x341
	AddrMcause    = 0x342
	AddrMtval     = 0x343
	AddrMip       = 0x344
	AddrMcycle    = 0xB00
	AddrMinstret  = 0xB02
	AddrMcycleH   = 0xB80
	AddrMinstretH = 0xB82
	AddrCycle     = 0xC00
	AddrInstret   = 0xC02
	AddrCycleH    = 0xC80
	AddrInstretH  = 0xC82
	AddrMhartid   = 0xF14
)

// Cause is an exception or interrupt cause code.
type Cause uint32

// Exception cause codes.
const (
	CauseMisalignedFetch    Cause = 0
	CauseFetchAccessFault   Cause = 1
	CauseIllegalInstruction Cause = 2
	CauseBreakpoint         Cause = 3
	CauseLoadMisaligned     Cause = 4
	CauseLoadAccessFault    Cause = 5
	CauseStoreMisaligned    Cause = 6
	CauseStoreAccessFault   Cause = 7
	CauseEcallFromU         Cause = 8
	CauseEcallFromS         Cause = 9
	CauseEcallFromM         Cause = 11
	CauseFetchPageFault     Cause = 12
	CauseLoadPageFault      Cause = 13
	CauseStorePageFault     Cause = 15
)

// Interrupt cause codes (without the interrupt bit).
const (
	CauseMachineSoftwareInt Cause = 3
	CauseMachineTimerInt    Cause = 7
	CauseMachineExternalInt Cause = 11
)

// Interrupt bit positions in mie/mip.
const (
	mipMSI = 1 << 3
	mipMTI = 1 << 7
	mipMEI = 1 << 11
)

// Satp is the decoded translation pointer.
type Satp struct {
	// Mode is true when Sv32 translation is enabled.
	Mode bool
	// PPN is the physical page number of the root page table.
	PPN uint32
}

// WriteEffect reports the pipeline-visible side effect of a CSR write.
type WriteEffect int

// Write effects.
const (
	// EffectNone means no special handling beyond the serializing flush.
	EffectNone WriteEffect = iota
	// EffectContextSwitch means the translation context changed and
	// fault-cached TLB entries must be invalidated.
	EffectContextSwitch
)

// File is the control and status register file.
type File struct {
	// Priv is the current privilege level.
	Priv Privilege

	// mstatus fields.
	MIE  bool      // machine interrupt enable
	MPIE bool      // previous interrupt enable
	MPP  Privilege // previous privilege

	// Interrupt enable and pending bits (MEI, MTI, MSI).
	Mie uint32
	Mip uint32

	Mtvec    uint32
	Mscratch uint32
	Mepc     uint32
	Mcause   uint32
	Mtval    uint32

	Satp Satp

	Mcycle   uint64
	Minstret uint64

	stats Statistics
}

// Statistics counts trap activity.
type Statistics struct {
	Exceptions Uint64ByCause
	Interrupts uint64
	Returns    uint64
}

// Uint64ByCause is a small fixed table of per-cause exception counts.
type Uint64ByCause [16]uint64

// New creates a CSR file in the reset state: machine mode, interrupts
// disabled, translation off.
func New() *File {
	return &File{
		Priv: PrivMachine,
		MPP:  PrivUser,
	}
}

// Reset restores the reset state.
func (f *File) Reset() {
	*f = File{
		Priv: PrivMachine,
		MPP:  PrivUser,
	}
}

// Stats returns trap statistics.
func (f *File) Stats() Statistics {
	return f.stats
}

// legal reports whether the address is in the allow-list and reachable
// from the current privilege level. The list is closed-world: unlisted
// addresses are illegal even if a real hart would implement them.
func (f *File) legal(addr uint16, write bool) bool {
	if Privilege(addr>>8&3) > f.Priv {
		return false
	}

	switch addr {
	case AddrSatp, AddrMstatus, AddrMie, AddrMtvec, AddrMscratch,
		AddrMepc, AddrMcause, AddrMtval, AddrMip,
		AddrMcycle, AddrMinstret, AddrMcycleH, AddrMinstretH:
		return true
	case AddrCycle, AddrInstret, AddrCycleH, AddrInstretH, AddrMhartid:
		return !write
	}
	return false
}

// Read returns a CSR value. The second result is false for an illegal
// access, which the pipeline turns into an illegal-instruction trap.
func (f *File) Read(addr uint16) (uint32, bool) {
	if !f.legal(addr, false) {
		return 0, false
	}

	switch addr {
	case AddrMstatus:
		return f.packMstatus(), true
	case AddrMie:
		return f.Mie, true
	case AddrMip:
		return f.Mip, true
	case AddrMtvec:
		return f.Mtvec, true
	case AddrMscratch:
		return f.Mscratch, true
	case AddrMepc:
		return f.Mepc, true
	case AddrMcause:
		return f.Mcause, true
	case AddrMtval:
		return f.Mtval, true
	case AddrSatp:
		return f.packSatp(), true
	case AddrMcycle, AddrCycle:
		return uint32(f.Mcycle), true
	case AddrMcycleH, AddrCycleH:
		return uint32(f.Mcycle >> 32), true
	case AddrMinstret, AddrInstret:
		return uint32(f.Minstret), true
	case AddrMinstretH, AddrInstretH:
		return uint32(f.Minstret >> 32), true
	case AddrMhartid:
		return 0, true
	}
	return 0, false
}

// Write stores a CSR value. The second result is false for an illegal
// access.
func (f *File) Write(addr uint16, value uint32) (WriteEffect, bool) {
	if !f.legal(addr, true) {
		return EffectNone, false
	}

	switch addr {
	case AddrMstatus:
		f.unpackMstatus(value)
		return EffectContextSwitch, true
	case AddrMie:
		f.Mie = value & (mipMSI | mipMTI | mipMEI)
	case AddrMip:
		// Only the software bit is directly writable; timer and
		// external pending bits follow the input lines.
		f.Mip = f.Mip&^uint32(mipMSI) | value&mipMSI
	case AddrMtvec:
		f.Mtvec = value &^ 3
	case AddrMscratch:
		f.Mscratch = value
	case AddrMepc:
		f.Mepc = value &^ 1
	case AddrMcause:
		f.Mcause = value
	case AddrMtval:
		f.Mtval = value
	case AddrSatp:
		f.Satp = Satp{
			Mode: value>>31 != 0,
			PPN:  value & 0x3FFFFF,
		}
		return EffectContextSwitch, true
	case AddrMcycle:
		f.Mcycle = f.Mcycle&^uint64(0xFFFFFFFF) | uint64(value)
	case AddrMcycleH:
		f.Mcycle = f.Mcycle&0xFFFFFFFF | uint64(value)<<32
	case AddrMinstret:
		f.Minstret = f.Minstret&^uint64(0xFFFFFFFF) | uint64(value)
	case AddrMinstretH:
		f.Minstret = f.Minstret&0xFFFFFFFF | uint64(value)<<32
	}
	return EffectNone, true
}

func (f *File) packMstatus() uint32 {
	var v uint32
	if f.MIE {
		v |= 1 << 3
	}
	if f.MPIE {
		v |= 1 << 7
	}
	v |= uint32(f.MPP) << 11
	return v
}

func (f *File) unpackMstatus(v uint32) {
	f.MIE = v&(1<<3) != 0
	f.MPIE = v&(1<<7) != 0
	mpp := Privilege(v >> 11 & 3)
	if mpp == 2 {
		mpp = PrivUser // reserved encoding
	}
	f.MPP = mpp
}

func (f *File) packSatp() uint32 {
	v := f.Satp.PPN & 0x3FFFFF
	if f.Satp.Mode {
		v |= 1 << 31
	}
	return v
}

// Trap enters a trap: it checkpoints the faulting PC and cause, stacks
// privilege and interrupt enable into mstatus, raises privilege to
// machine mode, and returns the trap vector to redirect fetch to.
func (f *File) Trap(pc uint32, cause Cause, interrupt bool, tval uint32) uint32 {
	f.Mepc = pc
	f.Mcause = uint32(cause)
	if interrupt {
		f.Mcause |= 1 << 31
		f.stats.Interrupts++
	} else if cause < 16 {
		f.stats.Exceptions[cause]++
	}
	f.Mtval = tval

	f.MPIE = f.MIE
	f.MIE = false
	f.MPP = f.Priv
	f.Priv = PrivMachine

	return f.Mtvec
}

// Ret executes a trap return: previous privilege and interrupt enable are
// restored and fetch redirects to mepc.
func (f *File) Ret() uint32 {
	f.Priv = f.MPP
	f.MIE = f.MPIE
	f.MPIE = true
	f.MPP = PrivUser
	f.stats.Returns++
	return f.Mepc
}

// SetTimerInterrupt drives the timer interrupt input line.
func (f *File) SetTimerInterrupt(asserted bool) {
	f.setLine(mipMTI, asserted)
}

// SetSoftwareInterrupt drives the software interrupt input line.
func (f *File) SetSoftwareInterrupt(asserted bool) {
	f.setLine(mipMSI, asserted)
}

// SetExternalInterrupt drives the external interrupt input line.
func (f *File) SetExternalInterrupt(asserted bool) {
	f.setLine(mipMEI, asserted)
}

func (f *File) setLine(bit uint32, asserted bool) {
	if asserted {
		f.Mip |= bit
	} else {
		f.Mip &^= bit
	}
}

// PendingInterrupt returns the highest-priority enabled pending interrupt,
// if interrupts are currently takeable. Machine interrupts are masked by
// mstatus.MIE in machine mode and always takeable below it.
func (f *File) PendingInterrupt() (Cause, bool) {
	if f.Priv == PrivMachine && !f.MIE {
		return 0, false
	}

	pending := f.Mip & f.Mie
	switch {
	case pending&mipMEI != 0:
		return CauseMachineExternalInt, true
	case pending&mipMSI != 0:
		return CauseMachineSoftwareInt, true
	case pending&mipMTI != 0:
		return CauseMachineTimerInt, true
	}
	return 0, false
}

// EcallCause returns the environment-call cause for the current privilege.
func (f *File) EcallCause() Cause {
	switch f.Priv {
	case PrivUser:
		return CauseEcallFromU
	case PrivSupervisor:
		return CauseEcallFromS
	}
	return CauseEcallFromM
}
