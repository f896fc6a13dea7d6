package replication

import (
	"bytes"
	"testing"
)

func TestBacklogInitialisationQuirk(t *testing.T) {
	b := NewBacklog(100, MinBacklogCapacity)
	if b.StreamOffset() != 101 {
		t.Fatalf("expected stream offset 101 (100+1 quirk), got %d", b.StreamOffset())
	}
	if b.OldestOffset() != 101 {
		t.Fatalf("expected oldest offset to match stream before any append, got %d", b.OldestOffset())
	}
}

func TestBacklogAppendServeRoundTrip(t *testing.T) {
	b := NewBacklog(0, MinBacklogCapacity)
	payload := []byte("*1\r\n$4\r\nPING\r\n")
	start := b.StreamOffset()
	b.Append(payload)

	bufs, err := b.Serve(start)
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	var got bytes.Buffer
	for _, chunk := range bufs {
		got.Write(chunk)
	}
	if !bytes.Equal(got.Bytes(), payload) {
		t.Fatalf("expected %q, got %q", payload, got.Bytes())
	}
}

func TestBacklogServeWrapAround(t *testing.T) {
	cap := int64(MinBacklogCapacity)
	b := NewBacklog(0, cap)

	// Fill past capacity so writeIndex wraps and validBytes clamps.
	b.Append(bytes.Repeat([]byte{'a'}, int(cap*5/8)))
	b.Append(bytes.Repeat([]byte{'b'}, int(cap*5/8)))

	if b.ValidBytes() != cap {
		t.Fatalf("expected valid bytes clamped to capacity %d, got %d", cap, b.ValidBytes())
	}

	bufs, err := b.Serve(b.OldestOffset())
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	var got bytes.Buffer
	for _, chunk := range bufs {
		got.Write(chunk)
	}
	if int64(got.Len()) != cap {
		t.Fatalf("expected %d served bytes, got %d", cap, got.Len())
	}
	// 10/8 of capacity was written, so only the most recent cap bytes
	// survive: the oldest cap/4 'a's are overwritten, leaving 3/8 'a'
	// followed by all 5/8 'b'.
	wantTail := append(bytes.Repeat([]byte{'a'}, int(cap*3/8)), bytes.Repeat([]byte{'b'}, int(cap*5/8))...)
	if !bytes.Equal(got.Bytes(), wantTail) {
		t.Fatalf("unexpected backlog contents: %q", got.Bytes())
	}
}

func TestBacklogServeOutOfRange(t *testing.T) {
	b := NewBacklog(5000, MinBacklogCapacity)
	b.Append(bytes.Repeat([]byte{'x'}, 100))

	if _, err := b.Serve(b.OldestOffset() - 1); err == nil {
		t.Fatal("expected error serving below oldest offset")
	}
	if _, err := b.Serve(b.StreamOffset() + 1); err == nil {
		t.Fatal("expected error serving beyond stream offset")
	}
	if _, err := b.Serve(b.StreamOffset()); err != nil {
		t.Fatalf("serving exactly at stream offset should succeed with empty result: %v", err)
	}
}

func TestBacklogResizePreservesStreamOffset(t *testing.T) {
	b := NewBacklog(0, MinBacklogCapacity)
	b.Append(bytes.Repeat([]byte{'z'}, 1000))
	before := b.StreamOffset()

	b.Resize(MinBacklogCapacity / 2)

	if b.StreamOffset() != before {
		t.Fatalf("resize must preserve stream offset: before=%d after=%d", before, b.StreamOffset())
	}
	if b.ValidBytes() != 0 {
		t.Fatalf("resize must discard contents, got %d valid bytes", b.ValidBytes())
	}
	if _, err := b.Serve(before); err != nil {
		t.Fatalf("serving at the (now oldest) stream offset after resize should succeed: %v", err)
	}
}
