package store

import (
	"bytes"
	"testing"
)

func TestApplySetAndGet(t *testing.T) {
	s := New()
	if err := s.Apply([]string{"SET", "a", "1"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	v, ok := s.Get("a")
	if !ok || v != "1" {
		t.Fatalf("expected a=1, got %q ok=%v", v, ok)
	}
}

func TestApplyDel(t *testing.T) {
	s := New()
	s.Apply([]string{"SET", "a", "1"})
	s.Apply([]string{"DEL", "a"})
	if _, ok := s.Get("a"); ok {
		t.Fatal("expected a to be deleted")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := New()
	s.Apply([]string{"SET", "a", "1"})
	s.Apply([]string{"SET", "b", "2"})

	var buf bytes.Buffer
	if _, err := s.WriteSnapshot(&buf); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	restored := New()
	if err := restored.LoadSnapshot(&buf); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if restored.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", restored.Len())
	}
	if v, _ := restored.Get("b"); v != "2" {
		t.Fatalf("expected b=2, got %q", v)
	}
}

func TestApplyUnknownCommandErrors(t *testing.T) {
	s := New()
	if err := s.Apply([]string{"INCR", "a"}); err == nil {
		t.Fatal("expected an error for an unsupported command")
	}
}
