package cache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/rv5sim/timing/bus"
)

// Status is the outcome of a data cache access.
type Status int

const (
	// Done means the access completed this cycle.
	Done Status = iota
	// Busy means a required resource (line fill, bus, flush) is not
	// ready; the memory stage holds and retries the same access.
	Busy
	// Redo means the access raced an in-flight write and must be
	// replayed from fetch rather than return possibly-stale data.
	Redo
	// Fault means the access hit a line poisoned by a bus transport
	// error, or the bus reported an error for an I/O access.
	Fault
)

// Request is one data-side memory access. Addr is a physical address;
// Mask selects the byte lanes of the aligned word; Data carries the store
// value already shifted into its lanes.
type Request struct {
	Addr  uint32
	Mask  uint8
	Write bool
	Data  uint32
	IO    bool
}

// portOwner identifies which state machine the next bus response belongs to.
type portOwner int

const (
	ownerNone portOwner = iota
	ownerFill
	ownerStore
	ownerIO
)

// DCache is the direct-mapped, write-through L1 data cache. Loads that
// miss engage the line loader; stores go to the bus and update the line on
// a hit. A load that collides with an in-flight store is replayed instead
// of returning stale data. Accesses inside the I/O window bypass the cache
// entirely.
type DCache struct {
	tags *tagStore
	port bus.Port

	ioWindow bus.AddrRange

	fill       fillState
	fillAddr   uint32
	fillWord   int
	fillErr    bool
	fillTarget *akitacache.Block

	owner portOwner

	// In-flight write, for store-to-load collision detection.
	storeValid bool
	storeAddr  uint32
	storeMask  uint8

	// Outstanding uncached I/O access.
	ioPending bool
	ioAddr    uint32
	ioReady   bool
	ioData    uint32
	ioErr     bool

	flushing  bool
	flushNext int

	stats Statistics
}

// NewDCache creates a data cache over the given bus port. Accesses whose
// physical address falls inside ioWindow skip the cache.
func NewDCache(geometry Geometry, port bus.Port, ioWindow bus.AddrRange) *DCache {
	return &DCache{
		tags:     newTagStore(geometry),
		port:     port,
		ioWindow: ioWindow,
	}
}

// Stats returns cache statistics.
func (c *DCache) Stats() Statistics {
	return c.stats
}

// Busy returns true while a fill or flush is in progress.
func (c *DCache) Busy() bool {
	return c.fill != fillIdle || c.flushing
}

// InIOWindow reports whether a physical address bypasses the cache.
func (c *DCache) InIOWindow(addr uint32) bool {
	return c.ioWindow.Contains(addr)
}

// Flush starts the flush sequencer, which walks every index invalidating
// tags. The pipeline blocks until Busy returns false.
func (c *DCache) Flush() {
	c.flushing = true
	c.flushNext = 0
}

// Access performs one data access. The memory stage calls this every cycle
// with the same request until the status is Done, Redo, or Fault.
func (c *DCache) Access(req Request) (uint32, Status) {
	if c.flushing {
		return 0, Busy
	}
	if req.IO || c.InIOWindow(req.Addr) {
		return c.accessIO(req)
	}
	if req.Write {
		return 0, c.accessWrite(req)
	}
	return c.accessRead(req)
}

// Collides reports whether a read would race the in-flight write and
// must be replayed rather than observe a half-applied line.
func (c *DCache) Collides(req Request) bool {
	return c.storeValid && c.storeAddr&^3 == req.Addr&^3 && c.storeMask&req.Mask != 0
}

func (c *DCache) accessRead(req Request) (uint32, Status) {
	// A read that overlaps an in-flight write must not observe the line
	// before the write lands; force a replay.
	if c.Collides(req) {
		c.stats.Replays++
		return 0, Redo
	}

	if c.fill != fillIdle {
		return 0, Busy
	}

	c.stats.Reads++

	if block := c.tags.lookup(req.Addr); block != nil {
		c.stats.Hits++
		if c.tags.lineErr[block.SetID] {
			return 0, Fault
		}
		return c.tags.readWord(block, req.Addr), Done
	}

	c.stats.Misses++
	c.startFill(req.Addr)
	return 0, Busy
}

func (c *DCache) accessWrite(req Request) Status {
	if c.fill != fillIdle || c.storeValid {
		return Busy
	}

	accepted := c.port.Issue(bus.Command{
		Address: req.Addr &^ 3,
		Write:   true,
		Data:    req.Data,
		Mask:    req.Mask,
	})
	if !accepted {
		return Busy
	}

	c.stats.Writes++
	c.owner = ownerStore
	c.storeValid = true
	c.storeAddr = req.Addr
	c.storeMask = req.Mask

	// Write-through: update the line in place on a hit so later reads
	// see the new bytes; no allocation on a miss.
	if block := c.tags.lookup(req.Addr); block != nil {
		c.stats.Hits++
		c.tags.writeBytes(block, req.Addr, req.Data, req.Mask)
	} else {
		c.stats.Misses++
	}

	return Done
}

func (c *DCache) accessIO(req Request) (uint32, Status) {
	if c.ioReady && c.ioAddr == req.Addr {
		c.ioReady = false
		c.ioPending = false
		if c.ioErr {
			return 0, Fault
		}
		return c.ioData, Done
	}

	if c.ioPending {
		return 0, Busy
	}
	if c.fill != fillIdle || c.storeValid {
		return 0, Busy
	}

	accepted := c.port.Issue(bus.Command{
		Address: req.Addr &^ 3,
		Write:   req.Write,
		Data:    req.Data,
		Mask:    req.Mask,
	})
	if !accepted {
		return 0, Busy
	}

	c.owner = ownerIO
	c.ioPending = true
	c.ioAddr = req.Addr
	c.ioReady = false
	if req.Write {
		c.stats.Writes++
	} else {
		c.stats.Reads++
	}
	return 0, Busy
}

func (c *DCache) startFill(phys uint32) {
	c.fill = fillIssue
	c.fillAddr = c.tags.geometry.LineAddr(phys)
	c.fillWord = 0
	c.fillErr = false
}

// Tick advances the line loader, flush sequencer, and in-flight store and
// I/O bookkeeping by one cycle.
func (c *DCache) Tick() {
	c.port.Tick()

	// The port holds a response for a single cycle; drain it even while
	// the flush walk runs, or an in-flight store acknowledgement is lost
	// and the collision window never closes.
	consumed := false
	if resp, ok := c.port.TakeResponse(); ok {
		c.consumeResponse(resp)
		consumed = true
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
	if consumed {
		return
	}

	if c.fill == fillIssue && !c.port.Busy() {
		accepted := c.port.Issue(bus.Command{
			Address: c.fillAddr,
			Burst:   c.tags.geometry.Words(),
		})
		if accepted {
			c.owner = ownerFill
			c.fillTarget = c.tags.victim(c.fillAddr)
			c.fill = fillWait
		}
	}
}

func (c *DCache) consumeResponse(resp bus.Response) {
	switch c.owner {
	case ownerFill:
		c.storeFillWord(resp)
	case ownerStore:
		// Write acknowledged; the collision window closes here.
		c.storeValid = false
		c.owner = ownerNone
	case ownerIO:
		c.ioData = resp.Data
		c.ioErr = resp.Error
		c.ioReady = true
		c.owner = ownerNone
	}
}

func (c *DCache) storeFillWord(resp bus.Response) {
	if resp.Error {
		c.fillErr = true
	}
	c.tags.writeBytes(c.fillTarget, c.fillAddr+uint32(c.fillWord*4), resp.Data, 0xF)
	c.fillWord++
	if c.fillWord == c.tags.geometry.Words() {
		c.tags.complete(c.fillTarget, c.fillAddr, c.fillErr)
		c.fillTarget = nil
		c.fill = fillIdle
		c.owner = ownerNone
		c.stats.Fills++
	}
}
