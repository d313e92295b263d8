package intcode

import (
	"fmt"
	"math"
)

// maxAddressable bounds memory when no cap is configured. Larger slices
// cannot be allocated.
const maxAddressable = min(math.MaxInt/8, 1<<40)

// Memory is the live, growable cell array of a machine. Every access at or
// beyond the current length extends the backing storage with zeros first, so
// reads of untouched cells always yield 0.
type Memory struct {
	cells []int64
	max   int64 // 0 means unlimited
}

func newMemory(program []int64, maxCells int) Memory {
	cells := make([]int64, len(program))
	copy(cells, program)
	return Memory{cells: cells, max: int64(maxCells)}
}

// ensure grows the memory so that addr is a valid index.
func (m *Memory) ensure(addr int64) error {
	if addr < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeAddress, addr)
	}
	if addr < int64(len(m.cells)) {
		return nil
	}
	if m.max > 0 && addr >= m.max {
		return fmt.Errorf("%w: address %d, limit %d cells", ErrMemoryLimit, addr, m.max)
	}
	if addr >= maxAddressable {
		return fmt.Errorf("%w: address %d", ErrMemoryLimit, addr)
	}

	n := addr + 1
	if n <= int64(cap(m.cells)) {
		m.cells = m.cells[:n]
		return nil
	}
	size := int64(cap(m.cells)) * 2
	if size < n {
		size = n
	}
	if m.max > 0 && size > m.max {
		size = m.max
	}
	if size > maxAddressable {
		size = maxAddressable
	}
	grown := make([]int64, n, size)
	copy(grown, m.cells)
	m.cells = grown
	return nil
}

// Read returns the cell at addr.
func (m *Memory) Read(addr int64) (int64, error) {
	if err := m.ensure(addr); err != nil {
		return 0, err
	}
	return m.cells[addr], nil
}

// Write stores v at addr.
func (m *Memory) Write(addr, v int64) error {
	if err := m.ensure(addr); err != nil {
		return err
	}
	m.cells[addr] = v
	return nil
}

// Len returns the current length of the memory.
func (m *Memory) Len() int {
	return len(m.cells)
}

// Snapshot returns a copy of the cells.
func (m *Memory) Snapshot() []int64 {
	out := make([]int64, len(m.cells))
	copy(out, m.cells)
	return out
}

func (m *Memory) clone() Memory {
	return Memory{cells: m.Snapshot(), max: m.max}
}

// trimmed returns the cells without trailing zeros.
func (m *Memory) trimmed() []int64 {
	n := len(m.cells)
	for n > 0 && m.cells[n-1] == 0 {
		n--
	}
	return m.cells[:n]
}
