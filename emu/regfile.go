// Package emu provides the architectural state and a functional RV32IM
// reference emulator shared by the timing model.
package emu

// RegFile represents the RV32 integer register file: 32 general-purpose
// 32-bit registers. x0 is hardwired to zero. Within one simulated cycle a
// read that races a write observes the newest written value
// (last-writer-wins), which is what callers get naturally from the
// evaluate-then-commit tick order.
type RegFile struct {
	// X holds general-purpose registers x0-x31. X[0] always reads as 0.
	X [32]uint32

	// PC is the program counter.
	PC uint32
}

// ReadReg reads a register value. Register 0 always returns 0.
func (r *RegFile) ReadReg(reg uint8) uint32 {
	if reg == 0 || reg >= 32 {
		return 0
	}
	return r.X[reg]
}

// WriteReg writes a value to a register. Writes to x0 are discarded.
func (r *RegFile) WriteReg(reg uint8, value uint32) {
	if reg == 0 || reg >= 32 {
		return
	}
	r.X[reg] = value
}

// Reset clears all registers and the PC.
func (r *RegFile) Reset() {
	*r = RegFile{}
}
