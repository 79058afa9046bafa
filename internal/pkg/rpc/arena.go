package rpc

import "github.com/pkg/errors"

// none is the nil link for intrusive list indices.
const none = -1

// Bounds on server-assigned identifier strings. Entries exceeding these
// are treated as malformed and never admitted.
const (
	MaxUUIDLen = 50
	MaxTypeLen = 50
)

// Record is one tracked RPC. Records live in an Arena and are recycled,
// never individually allocated.
type Record struct {
	// UUID is the server-assigned identifier for this RPC.
	UUID string
	// Type is the server-defined RPC type tag.
	Type string
	// Status is the last status confirmed with the server.
	Status Status
	// NextStatus is the status pending push to the server.
	NextStatus Status
	// UserContext is an opaque handle the application may attach on
	// acceptance.
	UserContext interface{}

	checked bool
	index   int
	next    int
}

// Arena is a fixed-capacity pool of Records threaded onto two intrusive
// index-linked lists, free and active. Every record is on exactly one of
// the two lists and the pool never grows after construction.
type Arena struct {
	records   []Record
	free      int
	active    int
	numActive int
}

// NewArena allocates an arena with the given fixed capacity.
func NewArena(capacity int) (*Arena, error) {
	if capacity <= 0 {
		return nil, errors.New("arena capacity must be positive")
	}
	a := &Arena{
		records: make([]Record, capacity),
		free:    0,
		active:  none,
	}
	for i := range a.records {
		a.records[i].index = i
		a.records[i].next = i + 1
		if i == capacity-1 {
			a.records[i].next = none
		}
	}
	return a, nil
}

// Len returns the number of active records.
func (a *Arena) Len() int {
	return a.numActive
}

// Cap returns the fixed total capacity.
func (a *Arena) Cap() int {
	return len(a.records)
}

// Acquire pops a record off the free list and pushes it onto the active
// list. Returns ErrArenaExhausted when every slot is active. O(1).
func (a *Arena) Acquire() (*Record, error) {
	if a.free == none {
		return nil, ErrArenaExhausted
	}
	rec := &a.records[a.free]
	a.free = rec.next
	rec.next = a.active
	a.active = rec.index
	a.numActive++
	return rec, nil
}

// Release unlinks rec from the active list and returns it to the free
// list. Reports whether the record was actually active.
func (a *Arena) Release(rec *Record) bool {
	if rec == nil || a.active == none {
		return false
	}
	if a.active == rec.index {
		a.active = rec.next
	} else {
		found := false
		for i := a.active; i != none; i = a.records[i].next {
			if a.records[i].next == rec.index {
				a.records[i].next = rec.next
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	*rec = Record{index: rec.index, next: a.free}
	a.free = rec.index
	a.numActive--
	return true
}

// FindByUUID returns the active record with the given id, or nil.
func (a *Arena) FindByUUID(uuid string) *Record {
	for i := a.active; i != none; i = a.records[i].next {
		if a.records[i].UUID == uuid {
			return &a.records[i]
		}
	}
	return nil
}

// ForEachActive calls f for each active record until f returns false.
// The current record may be released from within f; the iteration
// position is captured before f runs.
func (a *Arena) ForEachActive(f func(*Record) bool) {
	for i := a.active; i != none; {
		rec := &a.records[i]
		next := rec.next
		if !f(rec) {
			return
		}
		i = next
	}
}
