package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	ndrruntime "github.com/wippyai/ndr-runtime"
	"github.com/wippyai/ndr-runtime/internal/binary"
)

// PageSize is the size of one native memory page.
const PageSize = 64 << 10

const memoryExport = "memory"

// NativeMemory is the address space frames and scratch buffers live in:
// a wazero linear memory whose minimum and maximum are equal, so it never
// grows and the backing slice never moves under concurrent access.
type NativeMemory struct {
	runtime wazero.Runtime
	module  api.Module
	mem     api.Memory
}

// NewNativeMemory instantiates a memory of pages pages.
func NewNativeMemory(ctx context.Context, pages uint32) (*NativeMemory, error) {
	if pages == 0 || pages > 65536 {
		return nil, fmt.Errorf("native memory: %d pages out of range", pages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithMemoryLimitPages(pages))
	mod, err := rt.Instantiate(ctx, memoryModule(pages))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("native memory: %w", err)
	}
	mem := mod.ExportedMemory(memoryExport)
	if mem == nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("native memory: module exports no %q", memoryExport)
	}
	return &NativeMemory{runtime: rt, module: mod, mem: mem}, nil
}

// memoryModule encodes a module that only defines and exports one
// fixed-size memory.
func memoryModule(pages uint32) []byte {
	w := binary.NewWriter()
	w.WriteBytes([]byte{0x00, 0x61, 0x73, 0x6d})
	w.WriteBytes([]byte{0x01, 0x00, 0x00, 0x00})

	// Memory section
	sec := binary.NewWriter()
	sec.LEB128(1)
	sec.Byte(0x01) // limits with max
	sec.LEB128(pages)
	sec.LEB128(pages)
	w.Byte(0x05)
	w.LEB128(uint32(sec.Len()))
	w.WriteBytes(sec.Bytes())

	// Export section
	sec.Reset()
	sec.LEB128(1)
	sec.Name(memoryExport)
	sec.Byte(0x02) // memory
	sec.LEB128(0)
	w.Byte(0x07)
	w.LEB128(uint32(sec.Len()))
	w.WriteBytes(sec.Bytes())
	return w.Bytes()
}

// Close releases the runtime backing the memory.
func (m *NativeMemory) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}

// Size returns the memory size in bytes.
func (m *NativeMemory) Size() uint32 {
	return m.mem.Size()
}

// Read returns a view of length bytes at offset.
func (m *NativeMemory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("memory read out of bounds: offset=%d, length=%d", offset, length)
	}
	return data, nil
}

func (m *NativeMemory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return fmt.Errorf("memory write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	return nil
}

func (m *NativeMemory) ReadU8(offset uint32) (uint8, error) {
	v, ok := m.mem.ReadByte(offset)
	if !ok {
		return 0, fmt.Errorf("memory read out of bounds: offset=%d", offset)
	}
	return v, nil
}

func (m *NativeMemory) ReadU16(offset uint32) (uint16, error) {
	v, ok := m.mem.ReadUint16Le(offset)
	if !ok {
		return 0, fmt.Errorf("memory read out of bounds: offset=%d", offset)
	}
	return v, nil
}

func (m *NativeMemory) ReadU32(offset uint32) (uint32, error) {
	v, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, fmt.Errorf("memory read out of bounds: offset=%d", offset)
	}
	return v, nil
}

func (m *NativeMemory) ReadU64(offset uint32) (uint64, error) {
	v, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, fmt.Errorf("memory read out of bounds: offset=%d", offset)
	}
	return v, nil
}

func (m *NativeMemory) WriteU8(offset uint32, value uint8) error {
	if !m.mem.WriteByte(offset, value) {
		return fmt.Errorf("memory write out of bounds: offset=%d", offset)
	}
	return nil
}

func (m *NativeMemory) WriteU16(offset uint32, value uint16) error {
	if !m.mem.WriteUint16Le(offset, value) {
		return fmt.Errorf("memory write out of bounds: offset=%d", offset)
	}
	return nil
}

func (m *NativeMemory) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return fmt.Errorf("memory write out of bounds: offset=%d", offset)
	}
	return nil
}

func (m *NativeMemory) WriteU64(offset uint32, value uint64) error {
	if !m.mem.WriteUint64Le(offset, value) {
		return fmt.Errorf("memory write out of bounds: offset=%d", offset)
	}
	return nil
}

var _ ndrruntime.Memory = (*NativeMemory)(nil)
var _ ndrruntime.MemorySizer = (*NativeMemory)(nil)
