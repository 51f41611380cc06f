package server

import (
	"errors"
	"sync"
	"testing"

	"github.com/wippyai/ndr-runtime/engine"
)

type dropCounter struct {
	mu      sync.Mutex
	dropped int
}

func (d *dropCounter) Drop() {
	d.mu.Lock()
	d.dropped++
	d.mu.Unlock()
}

func TestHandleTableLifecycle(t *testing.T) {
	table := NewHandleTable()
	d := &dropCounter{}

	h, err := table.Create(d)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if h == 0 {
		t.Fatal("handle 0 returned")
	}
	if _, err := table.Acquire(h); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if got := table.Refs(h); got != 2 {
		t.Errorf("Refs = %d, want 2", got)
	}

	dropped, err := table.Release(h)
	if err != nil || dropped {
		t.Fatalf("first Release = %v, %v", dropped, err)
	}
	dropped, err = table.Release(h)
	if err != nil || !dropped {
		t.Fatalf("last Release = %v, %v", dropped, err)
	}
	if d.dropped != 1 {
		t.Errorf("Drop called %d times", d.dropped)
	}
	if _, ok := table.Get(h); ok {
		t.Error("released handle still resolves")
	}
	if _, err := table.Release(h); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Release after drop = %v", err)
	}
}

func TestHandleTableReuse(t *testing.T) {
	table := NewHandleTable()
	a, _ := table.Create("a")
	if _, err := table.Release(a); err != nil {
		t.Fatal(err)
	}
	b, _ := table.Create("b")
	if a != b {
		t.Errorf("freed handle %d not reused, got %d", a, b)
	}
	if v, _ := table.Get(b); v != "b" {
		t.Errorf("Get = %v", v)
	}
	if table.Len() != 1 {
		t.Errorf("Len = %d", table.Len())
	}
}

func TestHandleTableInvalid(t *testing.T) {
	table := NewHandleTable()
	if _, ok := table.Get(0); ok {
		t.Error("handle 0 resolved")
	}
	if _, err := table.Acquire(7); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Acquire(7) = %v", err)
	}
	if table.Refs(7) != 0 {
		t.Error("unknown handle has refs")
	}
}

func TestHandleTableClose(t *testing.T) {
	table := NewHandleTable()
	d := &dropCounter{}
	if _, err := table.Create(d); err != nil {
		t.Fatal(err)
	}
	if err := table.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if d.dropped != 1 {
		t.Errorf("Close dropped %d values", d.dropped)
	}
	if _, err := table.Create(1); !errors.Is(err, ErrClosed) {
		t.Errorf("Create after Close = %v", err)
	}
}

func TestRegistry(t *testing.T) {
	table := NewHandleTable()
	impl := &Implementation{}
	h, _ := table.Create(impl)
	r := NewRegistry(table)

	if _, ok := r.Lookup(0); ok {
		t.Fatal("empty registry resolved worker 0")
	}
	if err := r.Populate(3, h); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if err := r.Populate(3, h); err == nil {
		t.Error("second Populate accepted")
	}
	if got := table.Refs(h); got != 4 {
		t.Errorf("Refs = %d, want 4", got)
	}
	for w := 0; w < 3; w++ {
		got, ok := r.Lookup(engine.WorkerID(w))
		if !ok || got != impl {
			t.Errorf("Lookup(%d) = %p, %v", w, got, ok)
		}
	}
	if _, ok := r.Lookup(3); ok {
		t.Error("worker beyond pool resolved")
	}

	if err := r.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if r.Populated() {
		t.Error("Populated after Clear")
	}
	if got := table.Refs(h); got != 1 {
		t.Errorf("Refs after Clear = %d, want 1", got)
	}
}

func TestRegistryWrongHandle(t *testing.T) {
	table := NewHandleTable()
	h, _ := table.Create("not an implementation")
	r := NewRegistry(table)
	if err := r.Populate(2, h); err == nil {
		t.Error("non-implementation handle accepted")
	}
	if err := r.Populate(2, 99); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Populate(99) = %v", err)
	}
}
