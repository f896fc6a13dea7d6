package replication

import "testing"

func TestReplicaSessionLegalTransitions(t *testing.T) {
	s := NewReplicaSession()
	s.Reconfigure("primary.local:7000")
	if s.State != StateConnect {
		t.Fatalf("expected StateConnect after Reconfigure, got %v", s.State)
	}

	steps := []ReplicaLinkState{StateConnecting, StateRecvPong, StateTransfer, StateConnected}
	for _, next := range steps {
		if err := s.Advance(next); err != nil {
			t.Fatalf("unexpected error advancing to %v: %v", next, err)
		}
	}
}

func TestReplicaSessionIllegalTransitionRejected(t *testing.T) {
	s := NewReplicaSession()
	s.Reconfigure("primary.local:7000")

	if err := s.Advance(StateConnected); err == nil {
		t.Fatal("expected an error skipping straight from CONNECT to CONNECTED")
	}
}

func TestReplicaSessionSnapshotRoundTrip(t *testing.T) {
	s := NewReplicaSession()
	s.RunID = "deadbeef"
	s.Offset = 555

	cached := s.Snapshot()
	if cached == nil || cached.RunID != "deadbeef" || cached.Offset != 555 {
		t.Fatalf("unexpected snapshot: %+v", cached)
	}

	fresh := NewReplicaSession()
	fresh.ApplyCachedPrimary(cached)
	if fresh.RunID != "deadbeef" || fresh.Offset != 556 {
		t.Fatalf("expected cached primary identity applied with offset+1, got runid=%q offset=%d", fresh.RunID, fresh.Offset)
	}
}

func TestReplicaSessionStopResetsToNone(t *testing.T) {
	s := NewReplicaSession()
	s.Reconfigure("primary.local:7000")
	s.Stop()

	if s.State != StateNone {
		t.Fatalf("expected StateNone after Stop, got %v", s.State)
	}
	if s.PrimaryAddr != "" {
		t.Fatalf("expected primary address cleared, got %q", s.PrimaryAddr)
	}
}
