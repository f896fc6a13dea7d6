package observability

import "testing"

func TestEventRingRecentOrdersOldestFirst(t *testing.T) {
	r := NewEventRing(3)
	r.Push(Event{Type: "a", Message: "first"})
	r.Push(Event{Type: "b", Message: "second"})
	r.Push(Event{Type: "c", Message: "third"})

	got := r.Recent(10)
	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3", len(got))
	}
	if got[0].Type != "a" || got[2].Type != "c" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestEventRingEvictsOldestOnOverflow(t *testing.T) {
	r := NewEventRing(2)
	r.Push(Event{Type: "a"})
	r.Push(Event{Type: "b"})
	r.Push(Event{Type: "c"})

	got := r.Recent(10)
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].Type != "b" || got[1].Type != "c" {
		t.Fatalf("expected [b c] after overflow, got %+v", got)
	}
}

func TestEventRingPushStampsTimestampWhenUnset(t *testing.T) {
	r := NewEventRing(1)
	r.Push(Event{Type: "a"})
	got := r.Recent(1)
	if len(got) != 1 || got[0].Timestamp == "" {
		t.Fatal("expected Push to stamp a timestamp when one wasn't set")
	}
}

func TestEventRingRecentOnEmptyRing(t *testing.T) {
	r := NewEventRing(5)
	got := r.Recent(10)
	if len(got) != 0 {
		t.Fatalf("len(got) = %d, want 0 for an empty ring", len(got))
	}
}
