package replication

import (
	"net"
	"testing"
)

func newTestPrimarySession(t *testing.T) (*PrimarySession, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { server.Close(); client.Close() })
	s := NewPrimarySession(server)
	s.State = StateOnline
	return s, client
}

func TestPropagatorPrependsSelectOnDBChange(t *testing.T) {
	backlog := NewBacklog(0, MinBacklogCapacity)
	p := NewPropagator(backlog)
	s, _ := newTestPrimarySession(t)
	p.Attach(s)

	p.Propagate(0, []string{"SET", "a", "1"})
	if s.OutputBuffer.Len() == 0 {
		t.Fatal("expected output buffer to receive bytes")
	}

	first := s.OutputBuffer.String()
	if !contains(first, "select") && !contains(first, "SELECT") {
		t.Fatalf("expected a select frame on first propagate, got %q", first)
	}

	s.OutputBuffer.Reset()
	p.Propagate(0, []string{"SET", "b", "2"})
	second := s.OutputBuffer.String()
	if contains(second, "select") || contains(second, "SELECT") {
		t.Fatalf("did not expect a repeated select frame for the same db, got %q", second)
	}
}

func TestPropagatorAppendsToBacklog(t *testing.T) {
	backlog := NewBacklog(0, MinBacklogCapacity)
	p := NewPropagator(backlog)
	start := backlog.StreamOffset()

	p.Propagate(0, []string{"SET", "k", "v"})
	if backlog.StreamOffset() <= start {
		t.Fatal("expected propagate to advance the backlog stream offset")
	}
}

func TestPropagatorDetach(t *testing.T) {
	p := NewPropagator(nil)
	s, _ := newTestPrimarySession(t)
	p.Attach(s)
	if p.SinkCount() != 1 {
		t.Fatalf("expected 1 sink, got %d", p.SinkCount())
	}
	p.Detach(s)
	if p.SinkCount() != 0 {
		t.Fatalf("expected 0 sinks after detach, got %d", p.SinkCount())
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
