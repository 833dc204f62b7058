// Package cache provides the L1 instruction and data caches of the core.
// Both are direct-mapped with a line-loader state machine that fetches
// whole lines over the external bus; tag and replacement state lives in an
// Akita cache directory with associativity 1.
package cache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// Geometry describes a cache's shape.
type Geometry struct {
	// Lines is the number of cache lines (sets, with one way each).
	Lines int
	// LineBytes is the line size in bytes.
	LineBytes int
}

// Words returns the number of 32-bit words per line.
func (g Geometry) Words() int {
	return g.LineBytes / 4
}

// LineAddr returns the line-aligned address containing addr.
func (g Geometry) LineAddr(addr uint32) uint32 {
	return addr &^ uint32(g.LineBytes-1)
}

// Index returns the direct-mapped line index for addr.
func (g Geometry) Index(addr uint32) int {
	return int(addr/uint32(g.LineBytes)) & (g.Lines - 1)
}

// Statistics holds cache performance statistics.
type Statistics struct {
	// Reads is the number of read lookups.
	Reads uint64
	// Writes is the number of write accesses (data cache only).
	Writes uint64
	// Hits is the number of lookups that hit a valid line.
	Hits uint64
	// Misses is the number of lookups that missed.
	Misses uint64
	// Fills is the number of completed line fills.
	Fills uint64
	// Replays is the number of accesses forced to replay (data cache).
	Replays uint64
	// Flushes is the number of completed full-cache flushes.
	Flushes uint64
}

// HitRate returns the fraction of lookups that hit.
func (s Statistics) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// tagStore wraps the Akita directory plus the per-line state the directory
// does not track (data words and the transport-error bit).
type tagStore struct {
	geometry  Geometry
	directory *akitacache.DirectoryImpl
	data      [][]byte
	lineErr   []bool
}

func newTagStore(geometry Geometry) *tagStore {
	data := make([][]byte, geometry.Lines)
	for i := range data {
		data[i] = make([]byte, geometry.LineBytes)
	}

	return &tagStore{
		geometry: geometry,
		directory: akitacache.NewDirectory(
			geometry.Lines,
			1, // direct-mapped
			geometry.LineBytes,
			akitacache.NewLRUVictimFinder(),
		),
		data:    data,
		lineErr: make([]bool, geometry.Lines),
	}
}

// lookup returns the valid block holding the line of addr, or nil.
func (t *tagStore) lookup(addr uint32) *akitacache.Block {
	block := t.directory.Lookup(0, uint64(t.geometry.LineAddr(addr)))
	if block == nil || !block.IsValid {
		return nil
	}
	return block
}

// victim returns the block that a fill of addr will overwrite, marking it
// invalid so lookups cannot observe a half-filled line.
func (t *tagStore) victim(addr uint32) *akitacache.Block {
	block := t.directory.FindVictim(uint64(t.geometry.LineAddr(addr)))
	block.IsValid = false
	return block
}

// complete publishes a filled line: tag and valid bit are set in the same
// step the data words became defined.
func (t *tagStore) complete(block *akitacache.Block, addr uint32, faulted bool) {
	block.Tag = uint64(t.geometry.LineAddr(addr))
	block.IsValid = true
	block.IsDirty = false
	t.lineErr[block.SetID] = faulted
	t.directory.Visit(block)
}

// invalidateNext invalidates the line at index idx; used by the flush
// sequencer which walks one index per cycle.
func (t *tagStore) invalidateNext(idx int) {
	for _, set := range t.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.SetID == idx {
				block.IsValid = false
				block.IsDirty = false
			}
		}
	}
	t.lineErr[idx] = false
}

func (t *tagStore) lineData(block *akitacache.Block) []byte {
	return t.data[block.SetID]
}

// readWord reads the aligned 32-bit word at addr from a line's data.
func (t *tagStore) readWord(block *akitacache.Block, addr uint32) uint32 {
	line := t.lineData(block)
	off := int(addr) & (t.geometry.LineBytes - 1) &^ 3
	return uint32(line[off]) | uint32(line[off+1])<<8 |
		uint32(line[off+2])<<16 | uint32(line[off+3])<<24
}

// writeBytes writes the masked bytes of a word into a line's data.
func (t *tagStore) writeBytes(block *akitacache.Block, addr uint32, data uint32, mask uint8) {
	line := t.lineData(block)
	off := int(addr) & (t.geometry.LineBytes - 1) &^ 3
	for lane := 0; lane < 4; lane++ {
		if mask&(1<<lane) != 0 {
			line[off+lane] = byte(data >> (8 * lane))
		}
	}
}

// fillState is the line-loader state machine state.
type fillState int

const (
	fillIdle fillState = iota
	fillIssue
	fillWait
)
