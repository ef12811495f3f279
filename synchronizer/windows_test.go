package synchronizer

import (
	"reflect"
	"testing"
)

func TestWindows_Drain(t *testing.T) {
	w := new(windows[int])

	for id := int64(1); id <= 4; id++ {
		if err := w.open(id); err != nil {
			t.Fatal(err)
		}
		// window 3 stays empty
		if id != 3 {
			if err := w.append(int(id * 10)); err != nil {
				t.Fatal(err)
			}
		}
	}

	var got [][]int
	var ids []int64
	retired, emitted := w.drain(3, func(id int64, items []int) {
		ids = append(ids, id)
		got = append(got, items)
	})

	if retired != 3 || emitted != 2 {
		t.Errorf(`expected 3 retired and 2 emitted have %d and %d`, retired, emitted)
	}

	if !reflect.DeepEqual(ids, []int64{1, 2}) || !reflect.DeepEqual(got, [][]int{{10}, {20}}) {
		t.Errorf(`unexpected batches %v %v`, ids, got)
	}

	if !reflect.DeepEqual(w.ids(), []int64{4}) {
		t.Errorf(`expected window 4 pending have %v`, w.ids())
	}
}

func TestWindows_DrainNoop(t *testing.T) {
	w := new(windows[int])
	if err := w.open(10); err != nil {
		t.Fatal(err)
	}

	retired, _ := w.drain(9, func(int64, []int) { t.Error(`nothing should be emitted`) })
	if retired != 0 || w.pending() != 1 {
		t.Errorf(`commit below the oldest window must be a no-op`)
	}

	// a commit for a never opened id retires every older window
	retired, _ = w.drain(15, func(int64, []int) { t.Error(`empty window emitted`) })
	if retired != 1 || w.pending() != 0 {
		t.Errorf(`expected window 10 retired, have %d pending`, w.pending())
	}

	retired, _ = w.drain(15, func(int64, []int) {})
	if retired != 0 {
		t.Error(`repeated commit must be a no-op`)
	}
}

func TestWindows_AppendAfterDrain(t *testing.T) {
	w := new(windows[int])
	if err := w.append(1); err != ErrNoOpenWindow {
		t.Errorf(`expected ErrNoOpenWindow have %v`, err)
	}

	if err := w.open(1); err != nil {
		t.Fatal(err)
	}
	w.drain(1, func(int64, []int) {})

	if err := w.append(1); err != ErrNoOpenWindow {
		t.Errorf(`expected ErrNoOpenWindow have %v`, err)
	}

	if err := w.open(1); err != ErrWindowOrder {
		t.Errorf(`expected ErrWindowOrder have %v`, err)
	}
}

func TestWindows_Compact(t *testing.T) {
	w := new(windows[int])
	for id := int64(1); id <= 100; id++ {
		if err := w.open(id); err != nil {
			t.Fatal(err)
		}
		if err := w.append(int(id)); err != nil {
			t.Fatal(err)
		}
	}

	var next = 1
	for committed := int64(10); committed <= 100; committed += 10 {
		w.drain(committed, func(id int64, items []int) {
			if items[0] != next {
				t.Fatalf(`expected item %d have %d`, next, items[0])
			}
			next++
		})

		if w.pending() != int(100-committed) {
			t.Fatalf(`expected %d pending have %d`, 100-committed, w.pending())
		}
	}

	if len(w.ring) != 0 || w.head != 0 {
		t.Errorf(`ring should be reset once fully drained`)
	}
}
