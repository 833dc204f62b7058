package pipeline

// Prediction is the outcome of a history table lookup.
type Prediction struct {
	// Taken is true when the table expects a taken branch at this PC.
	Taken bool

	// Target is the last observed target of the branch.
	Target uint32

	// Stale is true when the predicting slot has a write in flight this
	// cycle. The prediction must be dropped and fetch re-steered to the
	// fall-through address.
	Stale bool

	slot int
}

type predictorEntry struct {
	valid   bool
	tag     uint32
	counter uint8 // 2-bit saturating taken counter
	target  uint32
}

// PredictorStatistics counts history table activity.
type PredictorStatistics struct {
	Lookups    uint64
	TakenGuess uint64
	Updates    uint64
	StaleDrops uint64
}

// Predictor is the fetch-stage branch history table. Entries are indexed
// by the low PC bits above the word offset and tagged with all remaining
// upper bits, so a prediction is only ever given for the exact PC that
// trained it.
type Predictor struct {
	entries []predictorEntry

	hazardValid bool
	hazardSlot  int

	stats PredictorStatistics
}

// NewPredictor creates a history table with the given entry count, which
// must be a power of two.
func NewPredictor(entries int) *Predictor {
	return &Predictor{
		entries: make([]predictorEntry, entries),
	}
}

// Stats returns history table statistics.
func (p *Predictor) Stats() PredictorStatistics {
	return p.stats
}

func (p *Predictor) slot(pc uint32) int {
	return int(pc>>2) & (len(p.entries) - 1)
}

func (p *Predictor) tag(pc uint32) uint32 {
	shift := 2
	for n := len(p.entries); n > 1; n >>= 1 {
		shift++
	}
	return pc >> shift
}

// Tick opens a new cycle; the write-in-flight hazard from the previous
// cycle is released.
func (p *Predictor) Tick() {
	p.hazardValid = false
}

// Predict looks up the PC. A taken prediction whose slot is being written
// this same cycle is flagged stale: the table read raced the write, so
// the guess cannot be trusted.
func (p *Predictor) Predict(pc uint32) Prediction {
	p.stats.Lookups++

	slot := p.slot(pc)
	e := &p.entries[slot]
	if !e.valid || e.tag != p.tag(pc) || e.counter < 2 {
		return Prediction{slot: slot}
	}

	if p.hazardValid && p.hazardSlot == slot {
		p.stats.StaleDrops++
		return Prediction{Stale: true, slot: slot}
	}

	p.stats.TakenGuess++
	return Prediction{Taken: true, Target: e.target, slot: slot}
}

// Update trains the table with a resolved branch or jump and raises the
// write hazard on the slot for the rest of the cycle.
func (p *Predictor) Update(pc uint32, taken bool, target uint32) {
	p.stats.Updates++

	slot := p.slot(pc)
	p.hazardValid = true
	p.hazardSlot = slot

	e := &p.entries[slot]
	if !e.valid || e.tag != p.tag(pc) {
		counter := uint8(1)
		if taken {
			counter = 2
		}
		*e = predictorEntry{
			valid:   true,
			tag:     p.tag(pc),
			counter: counter,
			target:  target,
		}
		return
	}

	if taken {
		if e.counter < 3 {
			e.counter++
		}
		e.target = target
	} else if e.counter > 0 {
		e.counter--
	}
}

// Clear drops the entry for a PC. Used when a PC that once held a branch
// no longer decodes as one.
func (p *Predictor) Clear(pc uint32) {
	slot := p.slot(pc)
	if p.entries[slot].tag == p.tag(pc) {
		p.entries[slot] = predictorEntry{}
	}
	p.hazardValid = true
	p.hazardSlot = slot
}
