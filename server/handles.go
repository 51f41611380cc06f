package server

import (
	"errors"
	"sync"
)

var (
	ErrClosed        = errors.New("handle table closed")
	ErrInvalidHandle = errors.New("invalid handle")
)

// Handle is an opaque reference to an implementation in a HandleTable.
// Handle 0 is reserved and always invalid.
type Handle uint32

// Dropper is implemented by implementations that hold resources. Drop is
// called once the last reference is released.
type Dropper interface {
	Drop()
}

// HandleTable stores implementation values under reference-counted
// handles. A value lives until its reference count reaches zero.
type HandleTable struct {
	entries  []entry
	freeList []Handle
	mu       sync.RWMutex
	closed   bool
}

type entry struct {
	value any
	refs  uint32
	valid bool
}

// NewHandleTable creates an empty table.
func NewHandleTable() *HandleTable {
	return &HandleTable{
		entries:  make([]entry, 0, 8),
		freeList: make([]Handle, 0, 4),
	}
}

// Create stores value with one reference and returns its handle.
func (t *HandleTable) Create(value any) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, ErrClosed
	}

	e := entry{value: value, refs: 1, valid: true}
	if len(t.freeList) > 0 {
		h := t.freeList[len(t.freeList)-1]
		t.freeList = t.freeList[:len(t.freeList)-1]
		t.entries[h-1] = e
		return h, nil
	}
	t.entries = append(t.entries, e)
	return Handle(len(t.entries)), nil
}

// Get retrieves the value of h.
func (t *HandleTable) Get(h Handle) (any, bool) {
	if h == 0 {
		return nil, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	idx := h - 1
	if int(idx) >= len(t.entries) || !t.entries[idx].valid {
		return nil, false
	}
	return t.entries[idx].value, true
}

// Acquire adds a reference to h and returns its value.
func (t *HandleTable) Acquire(h Handle) (any, error) {
	if h == 0 {
		return nil, ErrInvalidHandle
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := h - 1
	if int(idx) >= len(t.entries) || !t.entries[idx].valid {
		return nil, ErrInvalidHandle
	}
	t.entries[idx].refs++
	return t.entries[idx].value, nil
}

// Release drops one reference to h. The value is removed, and dropped if
// it implements Dropper, when the last reference goes. It reports whether
// that happened.
func (t *HandleTable) Release(h Handle) (bool, error) {
	if h == 0 {
		return false, ErrInvalidHandle
	}

	t.mu.Lock()
	idx := h - 1
	if int(idx) >= len(t.entries) || !t.entries[idx].valid {
		t.mu.Unlock()
		return false, ErrInvalidHandle
	}
	e := &t.entries[idx]
	e.refs--
	if e.refs > 0 {
		t.mu.Unlock()
		return false, nil
	}
	value := e.value
	*e = entry{}
	t.freeList = append(t.freeList, h)
	t.mu.Unlock()

	if d, ok := value.(Dropper); ok {
		d.Drop()
	}
	return true, nil
}

// Refs returns the reference count of h, zero if it is not live.
func (t *HandleTable) Refs(h Handle) uint32 {
	if h == 0 {
		return 0
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	idx := h - 1
	if int(idx) >= len(t.entries) {
		return 0
	}
	return t.entries[idx].refs
}

// Len returns the number of live values.
func (t *HandleTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries) - len(t.freeList)
}

// Close drops every live value regardless of references.
func (t *HandleTable) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	var drop []Dropper
	for i := range t.entries {
		if t.entries[i].valid {
			if d, ok := t.entries[i].value.(Dropper); ok {
				drop = append(drop, d)
			}
		}
	}
	t.entries = nil
	t.freeList = nil
	t.mu.Unlock()

	for _, d := range drop {
		d.Drop()
	}
	return nil
}
