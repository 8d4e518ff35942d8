// ABOUTME: Bounded slot table holding task records in first-fit order
// ABOUTME: Keeps an id index alongside the slots for direct lookup

package tasks

// table is a fixed-capacity slot array. Slot order is dispatch order.
type table struct {
	slots []*record
	index map[string]int
	used  int
}

func newTable(capacity int) *table {
	if capacity <= 0 {
		capacity = DefaultMaxTasks
	}
	return &table{
		slots: make([]*record, capacity),
		index: make(map[string]int, capacity),
	}
}

// insert places r in the lowest free slot. Returns false when full.
func (t *table) insert(r *record) bool {
	if t.used == len(t.slots) {
		return false
	}
	for i, slot := range t.slots {
		if slot == nil {
			t.slots[i] = r
			t.index[r.ID] = i
			t.used++
			return true
		}
	}
	return false
}

func (t *table) get(id string) (*record, bool) {
	i, ok := t.index[id]
	if !ok {
		return nil, false
	}
	return t.slots[i], true
}

// removeAt frees slot i.
func (t *table) removeAt(i int) {
	r := t.slots[i]
	if r == nil {
		return
	}
	delete(t.index, r.ID)
	t.slots[i] = nil
	t.used--
}

// each calls fn for every occupied slot in slot order until fn returns false.
func (t *table) each(fn func(i int, r *record) bool) {
	for i, r := range t.slots {
		if r == nil {
			continue
		}
		if !fn(i, r) {
			return
		}
	}
}

func (t *table) len() int { return t.used }

func (t *table) capacity() int { return len(t.slots) }
