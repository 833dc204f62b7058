package pipeline

import (
	"github.com/sarchlab/rv5sim/emu"
	"github.com/sarchlab/rv5sim/insts"
	"github.com/sarchlab/rv5sim/timing/cache"
	"github.com/sarchlab/rv5sim/timing/csr"
	"github.com/sarchlab/rv5sim/timing/mmu"
)

// redirectClass orders the sources that can re-steer fetch in one cycle.
// Exactly one redirect applies per cycle; a losing trap is latched and
// fires the next cycle.
type redirectClass int

const (
	redirectNone redirectClass = iota
	// redirectFetchReplay re-steers fetch after a stale prediction.
	redirectFetchReplay
	// redirectMispredict corrects a resolved branch or jump.
	redirectMispredict
	// redirectTrap enters or returns from a trap, or serializes after a
	// committed CSR access or fence.
	redirectTrap
	// redirectDataReplay refetches a load that raced an in-flight store.
	redirectDataReplay
)

type redirect struct {
	class  redirectClass
	target uint32
}

// trapKind distinguishes the writeback events that share the trap-class
// redirect slot.
type trapKind int

const (
	trapException trapKind = iota
	trapInterrupt
	trapReturn
	// trapSerialize flushes younger instructions after a committed state
	// change (CSR write, fence.i, sfence.vma) and resumes in sequence.
	trapSerialize
)

type trapEvent struct {
	kind  trapKind
	pc    uint32
	cause csr.Cause
	tval  uint32
}

// Statistics holds pipeline performance counters.
type Statistics struct {
	Cycles       uint64
	Instructions uint64
	StallCycles  uint64
	Mispredicts  uint64
	Replays      uint64
}

// IPC returns retired instructions per cycle.
func (s Statistics) IPC() float64 {
	if s.Cycles == 0 {
		return 0
	}
	return float64(s.Instructions) / float64(s.Cycles)
}

// Pipeline is the 5-stage in-order pipeline. Each Tick evaluates the
// stages back to front, resolves at most one fetch redirect by fixed
// priority, and then latches the stage registers that fired.
type Pipeline struct {
	regs    *emu.RegFile
	decoder *insts.Decoder
	csrFile *csr.File
	mmu     *mmu.MMU
	icache  *cache.ICache
	dcache  *cache.DCache

	predictor *Predictor
	div       DivUnit

	pc          uint32
	resetVector uint32

	ifid  FetchDecodeRegister
	idex  DecodeExecuteRegister
	exmem ExecuteMemoryRegister
	memwb MemoryWritebackRegister

	divStarted  bool
	pendingTrap *trapEvent

	stats Statistics
}

// New creates a pipeline over the given architectural state, translation,
// and cache units. Fetch starts at resetVector.
func New(
	regs *emu.RegFile,
	csrFile *csr.File,
	m *mmu.MMU,
	icache *cache.ICache,
	dcache *cache.DCache,
	predictorEntries int,
	resetVector uint32,
) *Pipeline {
	return &Pipeline{
		regs:        regs,
		decoder:     insts.NewDecoder(),
		csrFile:     csrFile,
		mmu:         m,
		icache:      icache,
		dcache:      dcache,
		predictor:   NewPredictor(predictorEntries),
		pc:          resetVector,
		resetVector: resetVector,
	}
}

// PC returns the fetch program counter.
func (p *Pipeline) PC() uint32 {
	return p.pc
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() Statistics {
	return p.stats
}

// PredictorStats returns branch history table statistics.
func (p *Pipeline) PredictorStats() PredictorStatistics {
	return p.predictor.Stats()
}

// Reset flushes all in-flight state and restarts fetch at the reset
// vector. Architectural state held elsewhere is not touched.
func (p *Pipeline) Reset() {
	p.flushAll()
	p.pendingTrap = nil
	p.pc = p.resetVector
	p.stats = Statistics{}
}

// Tick advances the pipeline by one cycle.
func (p *Pipeline) Tick() {
	p.stats.Cycles++
	p.csrFile.Mcycle++

	p.predictor.Tick()
	p.icache.Tick()
	p.dcache.Tick()
	p.mmu.Tick()
	p.div.Tick()

	var red redirect
	var ev *trapEvent

	if p.pendingTrap != nil {
		ev = p.pendingTrap
		p.pendingTrap = nil
		p.raise(&red, redirectTrap, 0)
	}

	// A pending interrupt stops dispatch; it is accepted once every
	// instruction already past decode has drained, so the interrupted PC
	// is exact.
	drain := false
	if ev == nil {
		if cause, ok := p.csrFile.PendingInterrupt(); ok {
			drain = true
			if !p.idex.Valid && !p.exmem.Valid && !p.memwb.Valid {
				epc := p.pc
				if p.ifid.Valid {
					epc = p.ifid.PC
				}
				ev = &trapEvent{kind: trapInterrupt, pc: epc, cause: cause}
				p.raise(&red, redirectTrap, 0)
			}
		}
	}

	if ev == nil {
		ev = p.evalWriteback()
		if ev != nil {
			p.raise(&red, redirectTrap, 0)
		}
	}
	doomed := ev != nil

	var nextMEMWB MemoryWritebackRegister
	memStall := false
	if doomed {
		p.checkDoomedReplay(&red)
	} else {
		nextMEMWB, memStall = p.evalMemory(&red)
	}

	var nextEXMEM ExecuteMemoryRegister
	exSelf := false
	if !doomed && !memStall {
		nextEXMEM, exSelf = p.evalExecute(&red)
	}
	exStall := memStall || exSelf

	var dispatched DecodeExecuteRegister
	idSelf := false
	if !doomed && !exStall && !drain {
		dispatched, idSelf = p.evalDecode()
	}
	idStall := exStall || drain || idSelf

	var fetched FetchDecodeRegister
	if !doomed && (!p.ifid.Valid || !idStall) {
		fetched = p.evalFetch(&red)
	}

	if memStall || exSelf || idSelf {
		p.stats.StallCycles++
	}

	switch red.class {
	case redirectDataReplay:
		p.pc = red.target
		p.flushAll()
		if ev != nil && ev.kind != trapSerialize {
			p.pendingTrap = ev
		}
	case redirectTrap:
		p.pc = p.applyTrap(ev)
		p.flushAll()
	case redirectMispredict:
		p.memwb = nextMEMWB
		p.exmem = nextEXMEM
		p.idex.Clear()
		p.ifid.Clear()
		p.pc = red.target
	case redirectFetchReplay:
		p.latch(nextMEMWB, memStall, nextEXMEM, exSelf, dispatched, idStall, fetched)
		p.pc = red.target
	default:
		p.latch(nextMEMWB, memStall, nextEXMEM, exSelf, dispatched, idStall, fetched)
	}
}

// raise records a redirect candidate if it outranks the current one.
func (p *Pipeline) raise(r *redirect, class redirectClass, target uint32) {
	if class > r.class {
		r.class = class
		r.target = target
	}
}

// latch commits the cycle's stage outputs. A stalled stage holds its
// register; the stage behind it receives a bubble when its consumer
// fired.
func (p *Pipeline) latch(
	nextMEMWB MemoryWritebackRegister, memStall bool,
	nextEXMEM ExecuteMemoryRegister, exSelf bool,
	dispatched DecodeExecuteRegister, idStall bool,
	fetched FetchDecodeRegister,
) {
	consumedFetch := false

	if memStall {
		p.memwb.Clear()
	} else {
		p.memwb = nextMEMWB
		if exSelf {
			p.exmem.Clear()
		} else {
			p.exmem = nextEXMEM
			if idStall {
				p.idex.Clear()
			} else {
				p.idex = dispatched
				p.ifid = fetched
				consumedFetch = true
			}
		}
	}

	// A held decode slot that happens to be empty can still accept a
	// completed fetch.
	if !consumedFetch && !p.ifid.Valid {
		p.ifid = fetched
	}
}

func (p *Pipeline) flushAll() {
	p.ifid.Clear()
	p.idex.Clear()
	p.exmem.Clear()
	p.memwb.Clear()
	if p.divStarted {
		p.div.Cancel()
		p.divStarted = false
	}
}

// applyTrap performs the architectural side of the winning trap-class
// redirect and returns the new fetch target.
func (p *Pipeline) applyTrap(ev *trapEvent) uint32 {
	var target uint32
	switch ev.kind {
	case trapException:
		target = p.csrFile.Trap(ev.pc, ev.cause, false, ev.tval)
	case trapInterrupt:
		target = p.csrFile.Trap(ev.pc, ev.cause, true, 0)
	case trapReturn:
		target = p.csrFile.Ret()
	case trapSerialize:
		return ev.pc
	}
	p.mmu.OnContextSwitch()
	return target
}

// evalWriteback retires the instruction in memory/writeback. It returns
// the trap event to arbitrate, if the instruction raises one.
func (p *Pipeline) evalWriteback() *trapEvent {
	if !p.memwb.Valid {
		return nil
	}
	in := &p.memwb

	if in.Exception.Valid {
		return &trapEvent{
			kind:  trapException,
			pc:    in.PC,
			cause: in.Exception.Cause,
			tval:  in.Exception.Tval,
		}
	}

	inst := in.Inst
	var ev *trapEvent
	switch {
	case inst.IsCsr():
		ev = p.commitCsr(in)
	case inst.Op == insts.OpECALL:
		ev = &trapEvent{kind: trapException, pc: in.PC, cause: p.csrFile.EcallCause()}
	case inst.Op == insts.OpEBREAK:
		ev = &trapEvent{kind: trapException, pc: in.PC, cause: csr.CauseBreakpoint, tval: in.PC}
	case inst.Op == insts.OpMRET:
		if p.csrFile.Priv != csr.PrivMachine {
			ev = illegal(in)
		} else {
			ev = &trapEvent{kind: trapReturn}
		}
	case inst.Op == insts.OpSRET:
		// Supervisor trap state is not modeled; traps always target
		// machine mode, so there is nothing for sret to return from.
		ev = illegal(in)
	case inst.Op == insts.OpFENCEI:
		p.icache.Flush()
		ev = &trapEvent{kind: trapSerialize, pc: in.PC + 4}
	case inst.Op == insts.OpSFENCEVMA:
		if p.csrFile.Priv == csr.PrivUser {
			ev = illegal(in)
		} else {
			p.mmu.InvalidateAll()
			ev = &trapEvent{kind: trapSerialize, pc: in.PC + 4}
		}
	case inst.Op == insts.OpWFI, inst.Op == insts.OpFENCE:
		// Both retire without effect; a pending interrupt is what ends
		// the wait, and it is sampled every cycle anyway.
	case inst.IsLoad():
		p.regs.WriteReg(inst.Rd, loadValue(inst, in.MemVaddr, in.MemData))
	default:
		if inst.WritesRd() {
			p.regs.WriteReg(inst.Rd, in.Result)
		}
	}

	// A trap return retires architecturally; only a faulting instruction
	// does not count.
	if ev == nil || ev.kind == trapSerialize || ev.kind == trapReturn {
		p.csrFile.Minstret++
		p.stats.Instructions++
	}
	return ev
}

func illegal(in *MemoryWritebackRegister) *trapEvent {
	return &trapEvent{
		kind:  trapException,
		pc:    in.PC,
		cause: csr.CauseIllegalInstruction,
		tval:  in.Inst.Raw,
	}
}

// commitCsr performs the read-modify-write of a CSR instruction at the
// commit point and schedules the serializing flush behind it.
func (p *Pipeline) commitCsr(in *MemoryWritebackRegister) *trapEvent {
	inst := in.Inst

	old, ok := p.csrFile.Read(inst.Csr)
	if !ok {
		return illegal(in)
	}

	src := in.Result
	value := src
	write := true
	switch inst.Op {
	case insts.OpCSRRS, insts.OpCSRRSI:
		value = old | src
		write = inst.Rs1 != 0
	case insts.OpCSRRC, insts.OpCSRRCI:
		value = old &^ src
		write = inst.Rs1 != 0
	}

	if write {
		effect, ok := p.csrFile.Write(inst.Csr, value)
		if !ok {
			return illegal(in)
		}
		if effect == csr.EffectContextSwitch {
			p.mmu.OnContextSwitch()
		}
	}

	p.regs.WriteReg(inst.Rd, old)
	return &trapEvent{kind: trapSerialize, pc: in.PC + 4}
}

// evalMemory runs the memory-stage access. The bool result is true when
// the stage holds (cache busy, divider iterating).
func (p *Pipeline) evalMemory(red *redirect) (MemoryWritebackRegister, bool) {
	if !p.exmem.Valid {
		return MemoryWritebackRegister{}, false
	}
	in := &p.exmem

	out := MemoryWritebackRegister{
		Valid:     true,
		PC:        in.PC,
		Inst:      in.Inst,
		Result:    in.AluResult,
		MemVaddr:  in.MemVaddr,
		Exception: in.Exception,
	}
	if in.Exception.Valid {
		return out, false
	}

	inst := in.Inst
	switch {
	case inst.IsLoad():
		data, status := p.dcache.Access(p.loadRequest(in))
		switch status {
		case cache.Done:
			out.MemData = data
		case cache.Busy:
			return MemoryWritebackRegister{}, true
		case cache.Redo:
			p.stats.Replays++
			p.raise(red, redirectDataReplay, in.PC)
			return MemoryWritebackRegister{}, true
		case cache.Fault:
			out.Exception = Exception{
				Valid: true,
				Cause: csr.CauseLoadAccessFault,
				Tval:  in.MemVaddr,
			}
		}
	case inst.IsStore():
		data, mask := storeLanes(inst.Width(), in.MemVaddr, in.StoreData)
		_, status := p.dcache.Access(cache.Request{
			Addr:  in.MemAddr,
			Mask:  mask,
			Write: true,
			Data:  data,
			IO:    in.MemIO,
		})
		switch status {
		case cache.Busy:
			return MemoryWritebackRegister{}, true
		case cache.Fault:
			out.Exception = Exception{
				Valid: true,
				Cause: csr.CauseStoreAccessFault,
				Tval:  in.MemVaddr,
			}
		}
	case inst.IsMul():
		out.Result = mulResult(inst.Op, in.MulLL, in.MulLH, in.MulHL, in.MulHH)
	case inst.IsDiv():
		if !p.divStarted {
			p.div.Start(inst.Op, in.AluResult, in.StoreData)
			p.divStarted = true
			return MemoryWritebackRegister{}, true
		}
		if p.div.Busy() {
			return MemoryWritebackRegister{}, true
		}
		p.divStarted = false
		out.Result = p.div.Result()
	}

	return out, false
}

// checkDoomedReplay runs store collision detection for a memory-stage
// load even when a trap is about to flush it: the replay redirect
// outranks the trap, which stays pending one more cycle.
func (p *Pipeline) checkDoomedReplay(red *redirect) {
	in := &p.exmem
	if !in.Valid || in.Exception.Valid || !in.Inst.IsLoad() || in.MemIO {
		return
	}
	if p.dcache.Collides(p.loadRequest(in)) {
		p.stats.Replays++
		p.raise(red, redirectDataReplay, in.PC)
	}
}

func (p *Pipeline) loadRequest(in *ExecuteMemoryRegister) cache.Request {
	_, mask := storeLanes(in.Inst.Width(), in.MemVaddr, 0)
	return cache.Request{Addr: in.MemAddr, Mask: mask, IO: in.MemIO}
}

// evalExecute runs the execute stage for the instruction in
// decode/execute. The bool result is true when the stage holds (operand
// not forwardable yet, translation busy).
func (p *Pipeline) evalExecute(red *redirect) (ExecuteMemoryRegister, bool) {
	if !p.idex.Valid {
		return ExecuteMemoryRegister{}, false
	}
	in := &p.idex

	out := ExecuteMemoryRegister{
		Valid:     true,
		PC:        in.PC,
		Inst:      in.Inst,
		Exception: in.Exception,
	}
	if in.Exception.Valid {
		return out, false
	}

	inst := in.Inst

	var a, b uint32
	if inst.ReadsRs1() {
		value, ready := p.forward(inst.Rs1, in.Rs1Value)
		if !ready {
			return ExecuteMemoryRegister{}, true
		}
		a = value
	}
	if inst.ReadsRs2() {
		value, ready := p.forward(inst.Rs2, in.Rs2Value)
		if !ready {
			return ExecuteMemoryRegister{}, true
		}
		b = value
	}

	switch {
	case inst.IsBranch() || inst.IsJump():
		p.resolveBranch(in, a, b, &out, red)
	case inst.IsLoad() || inst.IsStore():
		if p.resolveAddress(in, a, b, &out) {
			return ExecuteMemoryRegister{}, true
		}
	case inst.IsMul():
		out.MulLL, out.MulLH, out.MulHL, out.MulHH = mulPartials(inst.Op, a, b)
	case inst.IsDiv():
		out.AluResult = a
		out.StoreData = b
	case inst.IsCsr():
		if inst.CsrUsesImm() {
			out.AluResult = uint32(inst.Rs1)
		} else {
			out.AluResult = a
		}
	case inst.Op == insts.OpLUI:
		out.AluResult = uint32(inst.Imm)
	case inst.Op == insts.OpAUIPC:
		out.AluResult = in.PC + uint32(inst.Imm)
	case inst.Op == insts.OpUnknown:
		out.Exception = Exception{
			Valid: true,
			Cause: csr.CauseIllegalInstruction,
			Tval:  inst.Raw,
		}
	case inst.Format == insts.FormatI:
		out.AluResult = aluRun(inst.Op, a, uint32(inst.Imm))
	case inst.Format == insts.FormatR:
		out.AluResult = aluRun(inst.Op, a, b)
	}

	// A taken prediction on something that is not a branch can only come
	// from code that changed under the predictor. Correct and unlearn.
	if in.PredictTaken && !inst.IsBranch() && !inst.IsJump() {
		p.predictor.Clear(in.PC)
		p.stats.Mispredicts++
		p.raise(red, redirectMispredict, in.PC+4)
	}

	return out, false
}

// resolveBranch evaluates a branch or jump, trains the predictor, and
// raises a misprediction redirect when fetch went the wrong way.
func (p *Pipeline) resolveBranch(
	in *DecodeExecuteRegister,
	a, b uint32,
	out *ExecuteMemoryRegister,
	red *redirect,
) {
	inst := in.Inst

	taken := true
	var target uint32
	switch inst.Op {
	case insts.OpJAL:
		target = in.PC + uint32(inst.Imm)
		out.AluResult = in.PC + 4
	case insts.OpJALR:
		target = (a + uint32(inst.Imm)) &^ 1
		out.AluResult = in.PC + 4
	default:
		taken = branchTaken(inst.Op, a, b)
		target = in.PC + uint32(inst.Imm)
	}

	p.predictor.Update(in.PC, taken, target)

	if taken && target&3 != 0 {
		out.Exception = Exception{
			Valid: true,
			Cause: csr.CauseMisalignedFetch,
			Tval:  target,
		}
		return
	}

	correct := taken == in.PredictTaken && (!taken || in.PredictTarget == target)
	if !correct {
		next := in.PC + 4
		if taken {
			next = target
		}
		p.stats.Mispredicts++
		p.raise(red, redirectMispredict, next)
	}
}

// resolveAddress computes and translates the effective address of a load
// or store. It returns true when execute must hold for the translation.
func (p *Pipeline) resolveAddress(
	in *DecodeExecuteRegister,
	a, b uint32,
	out *ExecuteMemoryRegister,
) bool {
	inst := in.Inst
	vaddr := a + uint32(inst.Imm)
	out.MemVaddr = vaddr

	if vaddr&uint32(inst.Width()-1) != 0 {
		cause := csr.CauseLoadMisaligned
		if inst.IsStore() {
			cause = csr.CauseStoreMisaligned
		}
		out.Exception = Exception{Valid: true, Cause: cause, Tval: vaddr}
		return false
	}

	access := mmu.AccessRead
	if inst.IsStore() {
		access = mmu.AccessWrite
	}
	tr := p.mmu.Translate(mmu.PortData, vaddr, access, p.csrFile.Priv, p.csrFile.Satp)
	if tr.Busy {
		return true
	}
	if tr.Fault {
		cause := csr.CauseLoadPageFault
		if inst.IsStore() {
			cause = csr.CauseStorePageFault
		}
		out.Exception = Exception{Valid: true, Cause: cause, Tval: vaddr}
		return false
	}

	out.MemAddr = tr.Phys
	out.MemIO = p.dcache.InIOWindow(tr.Phys)
	out.StoreData = b
	return false
}

// evalDecode decodes the fetched word and reads operands. The bool result
// is true when dispatch holds for a slow producer in execute.
func (p *Pipeline) evalDecode() (DecodeExecuteRegister, bool) {
	if !p.ifid.Valid {
		return DecodeExecuteRegister{}, false
	}
	in := &p.ifid

	inst := p.decoder.Decode(in.Word)
	out := DecodeExecuteRegister{
		Valid:         true,
		PC:            in.PC,
		Inst:          inst,
		PredictTaken:  in.PredictTaken,
		PredictTarget: in.PredictTarget,
		Exception:     in.Exception,
	}

	if !out.Exception.Valid {
		if needsDispatchStall(inst, &p.idex) {
			return DecodeExecuteRegister{}, true
		}
		out.Rs1Value = p.regs.ReadReg(inst.Rs1)
		out.Rs2Value = p.regs.ReadReg(inst.Rs2)
	}

	return out, false
}

// evalFetch translates the fetch PC, reads the instruction cache, and
// consults the branch history table.
func (p *Pipeline) evalFetch(red *redirect) FetchDecodeRegister {
	tr := p.mmu.Translate(
		mmu.PortInstruction, p.pc, mmu.AccessExecute,
		p.csrFile.Priv, p.csrFile.Satp,
	)
	if tr.Busy {
		return FetchDecodeRegister{}
	}

	out := FetchDecodeRegister{Valid: true, PC: p.pc}
	if tr.Fault {
		out.Exception = Exception{
			Valid: true,
			Cause: csr.CauseFetchPageFault,
			Tval:  p.pc,
		}
		p.pc += 4
		return out
	}

	word, status := p.icache.Fetch(tr.Phys)
	switch status {
	case cache.FetchBusy:
		return FetchDecodeRegister{}
	case cache.FetchError:
		out.Exception = Exception{
			Valid: true,
			Cause: csr.CauseFetchAccessFault,
			Tval:  p.pc,
		}
		p.pc += 4
		return out
	}

	out.Word = word
	pred := p.predictor.Predict(p.pc)
	switch {
	case pred.Stale:
		// The lookup raced this cycle's table write. Drop the guess and
		// re-steer to the fall-through via the lowest-priority redirect.
		p.raise(red, redirectFetchReplay, p.pc+4)
	case pred.Taken:
		out.PredictTaken = true
		out.PredictTarget = pred.Target
		p.pc = pred.Target
	default:
		p.pc += 4
	}
	return out
}
