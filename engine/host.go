package engine

import (
	"context"
	"sync"

	"github.com/wippyai/ndr-runtime/alloc"
	"github.com/wippyai/ndr-runtime/metadata"
	"github.com/wippyai/ndr-runtime/ndr"
)

// WorkerID identifies the engine worker executing a dispatch.
type WorkerID = metadata.WorkerID

// Frame is a procedure call stack in native memory.
type Frame = ndr.Frame

// DefaultPages is the native memory size of hosts created without an
// explicit size.
const DefaultPages = 16

// Host owns a native memory and the scratch heap carved out of it. One
// host is shared by every worker and caller that uses it.
type Host struct {
	mem  *NativeMemory
	heap *alloc.Heap
}

// NewHost creates a host with pages of native memory. Address zero is
// never handed out.
func NewHost(ctx context.Context, pages uint32) (*Host, error) {
	if pages == 0 {
		pages = DefaultPages
	}
	mem, err := NewNativeMemory(ctx, pages)
	if err != nil {
		return nil, err
	}
	heap, err := alloc.NewHeap(mem, 0, mem.Size())
	if err != nil {
		_ = mem.Close(ctx)
		return nil, err
	}
	return &Host{mem: mem, heap: heap}, nil
}

// Memory returns the host's native memory.
func (h *Host) Memory() *NativeMemory { return h.mem }

// Heap returns the host's scratch heap.
func (h *Host) Heap() *alloc.Heap { return h.heap }

// NewFrame allocates a zeroed frame for syntax s.
func (h *Host) NewFrame(s ndr.Syntax, size uint32) (*Frame, error) {
	return ndr.NewFrame(h.mem, h.heap, s, size)
}

// Close releases the native memory.
func (h *Host) Close(ctx context.Context) error {
	return h.mem.Close(ctx)
}

var (
	defaultHost     *Host
	defaultHostErr  error
	defaultHostOnce sync.Once
)

// DefaultHost returns the process-wide host, creating it on first use.
func DefaultHost(ctx context.Context) (*Host, error) {
	defaultHostOnce.Do(func() {
		defaultHost, defaultHostErr = NewHost(context.WithoutCancel(ctx), DefaultPages)
	})
	return defaultHost, defaultHostErr
}
