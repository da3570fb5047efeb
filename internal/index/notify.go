package index

// Kind classifies a structural change to one row of the page tree.
type Kind int

const (
	// RowInserted: a new row appeared, placeholder or content page.
	RowInserted Kind = iota
	// RowChanged: an existing row's data changed in place.
	RowChanged
	// RowStructureChanged: the row's child set toggled between empty and
	// non-empty. Views use this to draw or remove expanders.
	RowStructureChanged
	// RowDeleted: the row is gone.
	RowDeleted
)

func (k Kind) String() string {
	switch k {
	case RowInserted:
		return "inserted"
	case RowChanged:
		return "changed"
	case RowStructureChanged:
		return "structure-changed"
	case RowDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event describes one row-level change. Path is the row's position in the
// pages tree at the moment the change committed; for a deletion it is the
// position the row occupied immediately before removal.
type Event struct {
	Kind Kind
	Row  PageRow
	Path LookupPath
}

// UpdateListener receives row change events. Delivery is serialized:
// events arrive one at a time, in the order the changes were applied, and
// before the mutation that produced them returns. Implementations must not
// call back into index mutations from inside a handler.
type UpdateListener interface {
	RowInserted(e Event)
	RowChanged(e Event)
	RowStructureChanged(e Event)
	RowDeleted(e Event)
}

// Subscribe registers l for row change events.
func (ix *Index) Subscribe(l UpdateListener) {
	ix.lmu.Lock()
	defer ix.lmu.Unlock()
	ix.listeners = append(ix.listeners, l)
}

// Unsubscribe removes l. Listeners are compared by identity.
func (ix *Index) Unsubscribe(l UpdateListener) {
	ix.lmu.Lock()
	defer ix.lmu.Unlock()
	for i, cur := range ix.listeners {
		if cur == l {
			ix.listeners = append(ix.listeners[:i], ix.listeners[i+1:]...)
			return
		}
	}
}

// dispatch delivers events to every listener. It runs with the writer lock
// held, after the producing transaction committed, so deliveries from
// different mutations never interleave.
func (ix *Index) dispatch(events []Event) {
	ix.lmu.Lock()
	ls := make([]UpdateListener, len(ix.listeners))
	copy(ls, ix.listeners)
	ix.lmu.Unlock()

	for _, e := range events {
		for _, l := range ls {
			switch e.Kind {
			case RowInserted:
				l.RowInserted(e)
			case RowChanged:
				l.RowChanged(e)
			case RowStructureChanged:
				l.RowStructureChanged(e)
			case RowDeleted:
				l.RowDeleted(e)
			}
		}
	}
}
