package alloc

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// SliceMemory is a Memory over a Go byte slice. The engine uses wazero
// linear memory; SliceMemory serves tests and tools that compile and
// inspect frames without an engine.
type SliceMemory struct {
	mu   sync.RWMutex
	data []byte
}

// NewSliceMemory creates a zeroed memory of size bytes.
func NewSliceMemory(size uint32) *SliceMemory {
	return &SliceMemory{data: make([]byte, size)}
}

// Size returns the memory size in bytes.
func (m *SliceMemory) Size() uint32 {
	return uint32(len(m.data))
}

func (m *SliceMemory) bounds(offset, length uint32) error {
	if uint64(offset)+uint64(length) > uint64(len(m.data)) {
		return fmt.Errorf("memory access out of bounds: offset=%d, length=%d, size=%d", offset, length, len(m.data))
	}
	return nil
}

// Read returns a copy of length bytes at offset.
func (m *SliceMemory) Read(offset, length uint32) ([]byte, error) {
	if err := m.bounds(offset, length); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]byte, length)
	copy(out, m.data[offset:])
	return out, nil
}

// Write copies data to offset.
func (m *SliceMemory) Write(offset uint32, data []byte) error {
	if err := m.bounds(offset, uint32(len(data))); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.data[offset:], data)
	return nil
}

func (m *SliceMemory) ReadU8(offset uint32) (uint8, error) {
	b, err := m.Read(offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (m *SliceMemory) ReadU16(offset uint32) (uint16, error) {
	b, err := m.Read(offset, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (m *SliceMemory) ReadU32(offset uint32) (uint32, error) {
	b, err := m.Read(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (m *SliceMemory) ReadU64(offset uint32) (uint64, error) {
	b, err := m.Read(offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (m *SliceMemory) WriteU8(offset uint32, value uint8) error {
	return m.Write(offset, []byte{value})
}

func (m *SliceMemory) WriteU16(offset uint32, value uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], value)
	return m.Write(offset, b[:])
}

func (m *SliceMemory) WriteU32(offset uint32, value uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], value)
	return m.Write(offset, b[:])
}

func (m *SliceMemory) WriteU64(offset uint32, value uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], value)
	return m.Write(offset, b[:])
}
