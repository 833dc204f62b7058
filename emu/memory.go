package emu

// pageShift is log2 of the backing-store page size.
const pageShift = 12

// pageSize is the allocation granularity of the sparse memory.
const pageSize = 1 << pageShift

// Memory is a sparse byte-addressable memory for a 32-bit physical address
// space. Pages are allocated on first write; reads of untouched memory
// return zero. All accesses are little-endian.
type Memory struct {
	pages map[uint32]*[pageSize]byte
}

// NewMemory creates an empty sparse memory.
func NewMemory() *Memory {
	return &Memory{
		pages: make(map[uint32]*[pageSize]byte),
	}
}

func (m *Memory) page(addr uint32, allocate bool) *[pageSize]byte {
	pageNum := addr >> pageShift
	page, ok := m.pages[pageNum]
	if !ok && allocate {
		page = new([pageSize]byte)
		m.pages[pageNum] = page
	}
	return page
}

// Read8 reads a byte.
func (m *Memory) Read8(addr uint32) uint8 {
	page := m.page(addr, false)
	if page == nil {
		return 0
	}
	return page[addr&(pageSize-1)]
}

// Write8 writes a byte.
func (m *Memory) Write8(addr uint32, value uint8) {
	m.page(addr, true)[addr&(pageSize-1)] = value
}

// Read16 reads a little-endian halfword.
func (m *Memory) Read16(addr uint32) uint16 {
	return uint16(m.Read8(addr)) | uint16(m.Read8(addr+1))<<8
}

// Write16 writes a little-endian halfword.
func (m *Memory) Write16(addr uint32, value uint16) {
	m.Write8(addr, uint8(value))
	m.Write8(addr+1, uint8(value>>8))
}

// Read32 reads a little-endian word.
func (m *Memory) Read32(addr uint32) uint32 {
	// Fast path: the whole word lies within one page.
	if addr&(pageSize-1) <= pageSize-4 {
		page := m.page(addr, false)
		if page == nil {
			return 0
		}
		off := addr & (pageSize - 1)
		return uint32(page[off]) | uint32(page[off+1])<<8 |
			uint32(page[off+2])<<16 | uint32(page[off+3])<<24
	}
	return uint32(m.Read16(addr)) | uint32(m.Read16(addr+2))<<16
}

// Write32 writes a little-endian word.
func (m *Memory) Write32(addr uint32, value uint32) {
	m.Write16(addr, uint16(value))
	m.Write16(addr+2, uint16(value>>16))
}

// ReadBytes copies length bytes starting at addr into a new slice.
func (m *Memory) ReadBytes(addr uint32, length int) []byte {
	out := make([]byte, length)
	for i := range out {
		out[i] = m.Read8(addr + uint32(i))
	}
	return out
}

// WriteBytes copies data into memory starting at addr.
func (m *Memory) WriteBytes(addr uint32, data []byte) {
	for i, b := range data {
		m.Write8(addr+uint32(i), b)
	}
}
