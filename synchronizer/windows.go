package synchronizer

import (
	"github.com/tryfix/errors"
)

var (
	ErrNoOpenWindow = errors.New(`windowsync.synchronizer: no open window to enqueue into`)
	ErrWindowOrder  = errors.New(`windowsync.synchronizer: window ids must be strictly increasing`)
)

type window[QT any] struct {
	id    int64
	items []QT
}

// windows holds the pending windows in the order they were opened. The slice order is the
// commit order, so a position based ring replaces a window id keyed map. Only the
// scheduler goroutine touches it.
type windows[QT any] struct {
	ring    []window[QT]
	head    int
	last    int64
	hasLast bool
}

func (w *windows[QT]) open(id int64) error {
	if w.hasLast && id <= w.last {
		return ErrWindowOrder
	}

	w.ring = append(w.ring, window[QT]{id: id})
	w.last = id
	w.hasLast = true

	return nil
}

// current returns the slot of the last opened window. The last opened window always sits at the
// tail, so an empty ring means it was never opened or has been drained already.
func (w *windows[QT]) current() *window[QT] {
	if w.head == len(w.ring) {
		return nil
	}

	return &w.ring[len(w.ring)-1]
}

func (w *windows[QT]) append(item QT) error {
	slot := w.current()
	if slot == nil {
		return ErrNoOpenWindow
	}

	slot.items = append(slot.items, item)
	return nil
}

// drain retires every pending window with an id lower than or equal to committed, oldest first,
// and hands each non-empty item list to emit.
func (w *windows[QT]) drain(committed int64, emit func(id int64, items []QT)) (retired, emitted int) {
	for w.head < len(w.ring) && w.ring[w.head].id <= committed {
		slot := w.ring[w.head]
		w.ring[w.head] = window[QT]{}
		w.head++
		retired++

		if len(slot.items) > 0 {
			emit(slot.id, slot.items)
			emitted++
		}
	}

	w.compact()

	return retired, emitted
}

func (w *windows[QT]) compact() {
	if w.head == len(w.ring) {
		w.ring = w.ring[:0]
		w.head = 0
		return
	}

	if w.head > 0 && w.head >= len(w.ring)/2 {
		n := copy(w.ring, w.ring[w.head:])
		for i := n; i < len(w.ring); i++ {
			w.ring[i] = window[QT]{}
		}
		w.ring = w.ring[:n]
		w.head = 0
	}
}

func (w *windows[QT]) pending() int {
	return len(w.ring) - w.head
}

// ids returns the pending window ids oldest first.
func (w *windows[QT]) ids() []int64 {
	ids := make([]int64, 0, w.pending())
	for _, slot := range w.ring[w.head:] {
		ids = append(ids, slot.id)
	}
	return ids
}
