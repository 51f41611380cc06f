package server

import (
	"fmt"
	"sync/atomic"

	"github.com/wippyai/ndr-runtime/engine"
)

type slot struct {
	handle Handle
	impl   *Implementation
}

// Registry maps engine workers to the implementation they dispatch to.
// It has one slot per worker. Populate fills the slots before workers
// start and Clear empties them after the engine drained, so Lookup, which
// runs on every dispatch, never takes a lock.
type Registry struct {
	table *HandleTable
	slots []atomic.Pointer[slot]
}

// NewRegistry creates a registry whose references live in table.
func NewRegistry(table *HandleTable) *Registry {
	return &Registry{table: table}
}

// Populate gives each of workers slots a reference to h.
func (r *Registry) Populate(workers int, h Handle) error {
	if r.Populated() {
		return fmt.Errorf("registry already populated")
	}
	v, ok := r.table.Get(h)
	if !ok {
		return ErrInvalidHandle
	}
	impl, ok := v.(*Implementation)
	if !ok {
		return fmt.Errorf("handle %d holds %T", h, v)
	}

	slots := make([]atomic.Pointer[slot], workers)
	for i := range slots {
		if _, err := r.table.Acquire(h); err != nil {
			for j := 0; j < i; j++ {
				_, _ = r.table.Release(h)
			}
			return err
		}
		slots[i].Store(&slot{handle: h, impl: impl})
	}
	r.slots = slots
	return nil
}

// Populated reports whether any slot is filled.
func (r *Registry) Populated() bool {
	for i := range r.slots {
		if r.slots[i].Load() != nil {
			return true
		}
	}
	return false
}

// Lookup returns the implementation associated with worker.
func (r *Registry) Lookup(worker engine.WorkerID) (*Implementation, bool) {
	if int(worker) >= len(r.slots) {
		return nil, false
	}
	s := r.slots[worker].Load()
	if s == nil {
		return nil, false
	}
	return s.impl, true
}

// Clear empties every slot and releases its reference.
func (r *Registry) Clear() error {
	var first error
	for i := range r.slots {
		s := r.slots[i].Swap(nil)
		if s == nil {
			continue
		}
		if _, err := r.table.Release(s.handle); err != nil && first == nil {
			first = err
		}
	}
	return first
}
