package cache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/rv5sim/timing/bus"
)

// FetchStatus is the outcome of an instruction cache lookup.
type FetchStatus int

const (
	// FetchHit means the word is available this cycle.
	FetchHit FetchStatus = iota
	// FetchBusy means the line is being filled (or a flush is running);
	// the fetch unit must hold and retry.
	FetchBusy
	// FetchError means the line was filled with a bus transport error;
	// the fetch must be reported as an instruction access fault.
	FetchError
)

// ICache is the direct-mapped L1 instruction cache. A miss engages the
// line loader, which bursts one full line from the instruction bus; fetch
// halts until the fill completes.
type ICache struct {
	tags *tagStore
	port bus.Port

	fill       fillState
	fillAddr   uint32
	fillWord   int
	fillErr    bool
	fillTarget *akitacache.Block

	flushing  bool
	flushNext int

	stats Statistics
}

// NewICache creates an instruction cache over the given bus port.
func NewICache(geometry Geometry, port bus.Port) *ICache {
	return &ICache{
		tags: newTagStore(geometry),
		port: port,
	}
}

// Stats returns cache statistics.
func (c *ICache) Stats() Statistics {
	return c.stats
}

// Busy returns true while a fill or flush is in progress.
func (c *ICache) Busy() bool {
	return c.fill != fillIdle || c.flushing
}

// Flush starts the flush sequencer, which walks every index invalidating
// tags. The pipeline must halt fetch until Busy returns false.
func (c *ICache) Flush() {
	c.flushing = true
	c.flushNext = 0
}

// Fetch looks up the word at the given physical address. On a miss it
// starts the line loader and reports FetchBusy; the caller retries the
// same address until the fill lands.
func (c *ICache) Fetch(phys uint32) (uint32, FetchStatus) {
	if c.flushing || c.fill != fillIdle {
		return 0, FetchBusy
	}

	c.stats.Reads++

	if block := c.tags.lookup(phys); block != nil {
		c.stats.Hits++
		if c.tags.lineErr[block.SetID] {
			return 0, FetchError
		}
		return c.tags.readWord(block, phys), FetchHit
	}

	c.stats.Misses++
	c.startFill(phys)
	return 0, FetchBusy
}

func (c *ICache) startFill(phys uint32) {
	c.fill = fillIssue
	c.fillAddr = c.tags.geometry.LineAddr(phys)
	c.fillWord = 0
	c.fillErr = false
}

// Tick advances the line loader and flush sequencer by one cycle.
func (c *ICache) Tick() {
	c.port.Tick()

	// The port holds each burst word for a single cycle; consume it even
	// while the flush walk runs, or a fill caught by the flush never
	// completes and fetch deadlocks.
	if resp, ok := c.port.TakeResponse(); ok && c.fill == fillWait {
		c.storeFillWord(resp)
	}

	if c.flushing {
		c.tags.invalidateNext(c.flushNext)
		c.flushNext++
		if c.flushNext == c.tags.geometry.Lines {
			c.flushing = false
			c.stats.Flushes++
		}
		return
	}

	if c.fill == fillIssue {
		accepted := c.port.Issue(bus.Command{
			Address: c.fillAddr,
			Burst:   c.tags.geometry.Words(),
		})
		if accepted {
			c.fillTarget = c.tags.victim(c.fillAddr)
			c.fill = fillWait
		}
	}
}

func (c *ICache) storeFillWord(resp bus.Response) {
	if resp.Error {
		c.fillErr = true
	}
	c.tags.writeBytes(c.fillTarget, c.fillAddr+uint32(c.fillWord*4), resp.Data, 0xF)
	c.fillWord++
	if c.fillWord == c.tags.geometry.Words() {
		c.tags.complete(c.fillTarget, c.fillAddr, c.fillErr)
		c.fillTarget = nil
		c.fill = fillIdle
		c.stats.Fills++
	}
}
