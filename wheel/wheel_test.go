package wheel

import "testing"

func TestWheelFiresAfterExactDelay(t *testing.T) {
	w := New[string](8)

	w.Add(3, "three")
	for i := 0; i < 3; i++ {
		if got := w.Tick(); got != nil {
			t.Fatalf("tick %d: got %v, want nothing ready yet", i, got)
		}
	}
	got := w.Tick()
	if len(got) != 1 || got[0] != "three" {
		t.Fatalf("tick 3: got %v, want [three]", got)
	}
}

func TestWheelZeroTimeoutFiresNextTick(t *testing.T) {
	w := New[int](4)
	w.Add(0, 42)
	got := w.Tick()
	if len(got) != 1 || got[0] != 42 {
		t.Fatalf("got %v, want [42]", got)
	}
}

func TestWheelWrapsAroundRounds(t *testing.T) {
	w := New[int](4)
	w.Add(10, 99) // more than one full revolution of a 4-slot wheel

	for i := 0; i < 10; i++ {
		if got := w.Tick(); got != nil {
			t.Fatalf("tick %d: got %v, want nothing ready", i, got)
		}
	}
	got := w.Tick()
	if len(got) != 1 || got[0] != 99 {
		t.Fatalf("tick 10: got %v, want [99]", got)
	}
}

func TestWheelMultipleEntriesPerSlot(t *testing.T) {
	w := New[string](4)
	w.Add(2, "a")
	w.Add(2, "b")

	w.Tick() // nothing ready yet (slot 0)
	w.Tick() // nothing ready yet (slot 1)
	got := w.Tick()
	if len(got) != 2 {
		t.Fatalf("tick 2: got %v, want 2 values (a and b landed on the same slot)", got)
	}
}

func TestWheelDefaultSlots(t *testing.T) {
	w := New[int](0)
	if len(w.slots) != DefaultSlots {
		t.Errorf("New(0): got %d slots, want %d", len(w.slots), DefaultSlots)
	}
}
