package alloc

import (
	"fmt"
	"sort"
	"sync"

	ndrruntime "github.com/wippyai/ndr-runtime"
	"github.com/wippyai/ndr-runtime/errors"
)

const (
	// Granularity is the block size unit and the alignment of every
	// returned region.
	Granularity = 16
	// HeaderSize is the size header stored immediately before a region.
	HeaderSize = 8

	guardMagic uint32 = 0x4e445221
	freedMask  uint32 = 0xffffffff
)

type span struct {
	addr uint32 // block start, header included
	size uint32
}

// Stats is a snapshot of heap accounting.
type Stats struct {
	Live      int    // outstanding allocations
	InUse     uint32 // block bytes held by live allocations
	Requested uint64 // bytes requested by live allocations
	Free      uint32 // bytes on the free list
	Capacity  uint32 // total managed bytes
}

// Heap is a first-fit allocator over a region of a Memory. Each region is
// preceded by an 8-byte header holding the requested size and a guard
// word, so Free needs only the pointer. Safe for concurrent use.
type Heap struct {
	mu    sync.Mutex
	mem   ndrruntime.Memory
	start uint32
	end   uint32
	free  []span // sorted by addr, never adjacent

	live      int
	inUse     uint32
	requested uint64
}

var _ ndrruntime.Allocator = (*Heap)(nil)

// NewHeap manages [base, limit) of mem. Blocks are placed so that returned
// regions are Granularity aligned and never at address zero.
func NewHeap(mem ndrruntime.Memory, base, limit uint32) (*Heap, error) {
	start := alignUp(max(base, Granularity), Granularity) + (Granularity - HeaderSize)
	if limit <= start {
		return nil, errors.AllocationFailed(0, fmt.Sprintf("heap region [%d, %d) too small", base, limit))
	}
	end := start + (limit-start)/Granularity*Granularity
	if end == start {
		return nil, errors.AllocationFailed(0, fmt.Sprintf("heap region [%d, %d) too small", base, limit))
	}
	return &Heap{
		mem:   mem,
		start: start,
		end:   end,
		free:  []span{{addr: start, size: end - start}},
	}, nil
}

func alignUp(v, n uint32) uint32 {
	return (v + n - 1) &^ (n - 1)
}

func blockSize(size uint32) uint32 {
	return alignUp(size+HeaderSize, Granularity)
}

// Alloc returns a region of at least size bytes. Zero-size requests get
// the minimum block.
func (h *Heap) Alloc(size uint32) (uint32, error) {
	if size > h.end-h.start {
		return 0, errors.AllocationFailed(size, "larger than heap")
	}
	need := blockSize(size)

	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.free {
		s := &h.free[i]
		if s.size < need {
			continue
		}
		addr := s.addr
		if s.size == need {
			h.free = append(h.free[:i], h.free[i+1:]...)
		} else {
			s.addr += need
			s.size -= need
		}
		if err := h.writeHeader(addr, size, size^guardMagic); err != nil {
			return 0, err
		}
		h.live++
		h.inUse += need
		h.requested += uint64(size)
		return addr + HeaderSize, nil
	}
	return 0, errors.AllocationFailed(size, "out of memory")
}

// Free releases a region returned by Alloc. Free(0) is a no-op.
func (h *Heap) Free(ptr uint32) error {
	if ptr == 0 {
		return nil
	}
	if ptr < h.start+HeaderSize || ptr >= h.end || ptr%Granularity != 0 {
		return errors.Corrupted(ptr, "pointer not allocated by this heap")
	}
	addr := ptr - HeaderSize

	h.mu.Lock()
	defer h.mu.Unlock()

	size, guard, err := h.readHeader(addr)
	if err != nil {
		return err
	}
	switch guard {
	case size ^ guardMagic:
	case size ^ guardMagic ^ freedMask:
		return errors.Corrupted(ptr, "double free")
	default:
		return errors.Corrupted(ptr, "size header guard mismatch")
	}
	need := blockSize(size)
	if addr+need > h.end {
		return errors.Corrupted(ptr, "size header exceeds heap")
	}
	if err := h.writeHeader(addr, size, size^guardMagic^freedMask); err != nil {
		return err
	}
	h.insert(span{addr: addr, size: need})
	h.live--
	h.inUse -= need
	h.requested -= uint64(size)
	return nil
}

// SizeOf returns the size requested for ptr.
func (h *Heap) SizeOf(ptr uint32) (uint32, error) {
	if ptr < h.start+HeaderSize || ptr >= h.end {
		return 0, errors.Corrupted(ptr, "pointer not allocated by this heap")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	size, guard, err := h.readHeader(ptr - HeaderSize)
	if err != nil {
		return 0, err
	}
	if guard != size^guardMagic {
		return 0, errors.Corrupted(ptr, "size header guard mismatch")
	}
	return size, nil
}

// insert adds s to the free list, merging with its neighbours.
func (h *Heap) insert(s span) {
	i := sort.Search(len(h.free), func(i int) bool { return h.free[i].addr > s.addr })
	if i > 0 && h.free[i-1].addr+h.free[i-1].size == s.addr {
		h.free[i-1].size += s.size
		if i < len(h.free) && h.free[i-1].addr+h.free[i-1].size == h.free[i].addr {
			h.free[i-1].size += h.free[i].size
			h.free = append(h.free[:i], h.free[i+1:]...)
		}
		return
	}
	if i < len(h.free) && s.addr+s.size == h.free[i].addr {
		h.free[i].addr = s.addr
		h.free[i].size += s.size
		return
	}
	h.free = append(h.free, span{})
	copy(h.free[i+1:], h.free[i:])
	h.free[i] = s
}

func (h *Heap) writeHeader(addr, size, guard uint32) error {
	if err := h.mem.WriteU32(addr, size); err != nil {
		return errors.Wrap(errors.PhaseAlloc, errors.KindAllocation, err, "write size header")
	}
	if err := h.mem.WriteU32(addr+4, guard); err != nil {
		return errors.Wrap(errors.PhaseAlloc, errors.KindAllocation, err, "write size header")
	}
	return nil
}

func (h *Heap) readHeader(addr uint32) (size, guard uint32, err error) {
	if size, err = h.mem.ReadU32(addr); err != nil {
		return 0, 0, errors.Wrap(errors.PhaseAlloc, errors.KindAllocation, err, "read size header")
	}
	if guard, err = h.mem.ReadU32(addr + 4); err != nil {
		return 0, 0, errors.Wrap(errors.PhaseAlloc, errors.KindAllocation, err, "read size header")
	}
	return size, guard, nil
}

// Stats returns current accounting.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := Stats{
		Live:      h.live,
		InUse:     h.inUse,
		Requested: h.requested,
		Capacity:  h.end - h.start,
	}
	for _, s := range h.free {
		st.Free += s.size
	}
	return st
}

// Check walks every block and validates headers and accounting.
func (h *Heap) Check() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	addr := h.start
	fi := 0
	live := 0
	var inUse uint32
	for addr < h.end {
		if fi < len(h.free) && h.free[fi].addr == addr {
			if fi > 0 && h.free[fi-1].addr+h.free[fi-1].size >= addr {
				return errors.Corrupted(addr, "free list not coalesced")
			}
			addr += h.free[fi].size
			fi++
			continue
		}
		size, guard, err := h.readHeader(addr)
		if err != nil {
			return err
		}
		if guard != size^guardMagic {
			return errors.Corrupted(addr+HeaderSize, "size header guard mismatch")
		}
		need := blockSize(size)
		if addr+need > h.end {
			return errors.Corrupted(addr+HeaderSize, "size header exceeds heap")
		}
		live++
		inUse += need
		addr += need
	}
	if addr != h.end || fi != len(h.free) {
		return errors.Corrupted(addr, "heap walk does not end at heap limit")
	}
	if live != h.live || inUse != h.inUse {
		return errors.Corrupted(0, fmt.Sprintf("accounting drift: walked %d blocks/%d bytes, recorded %d/%d", live, inUse, h.live, h.inUse))
	}
	return nil
}
