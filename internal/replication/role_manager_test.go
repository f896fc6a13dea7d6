package replication

import (
	"net"
	"testing"
)

func TestBecomeReplicaOfDetachesSessionsAndFreesBacklog(t *testing.T) {
	rm := NewRoleManager()
	rm.Propagator.SetBacklog(NewBacklog(0, MinBacklogCapacity))

	server, client := net.Pipe()
	defer client.Close()
	s := NewPrimarySession(server)
	rm.AttachReplica(s)

	rm.BecomeReplicaOf("10.0.0.1:7000")

	if rm.Role != RoleReplica {
		t.Fatalf("expected RoleReplica, got %v", rm.Role)
	}
	if len(rm.Sessions()) != 0 {
		t.Fatalf("expected all sessions detached, got %d", len(rm.Sessions()))
	}
	if rm.Propagator.Backlog() != nil {
		t.Fatal("expected backlog to be freed on becoming a replica")
	}
	if rm.Replica == nil || rm.Replica.PrimaryAddr != "10.0.0.1:7000" {
		t.Fatalf("expected replica session targeting new primary, got %+v", rm.Replica)
	}
}

func TestBecomeStandaloneAfterBeingReplicaWithNoSubReplicas(t *testing.T) {
	rm := NewRoleManager()
	priorRunID := rm.RunID
	rs := rm.BecomeReplicaOf("10.0.0.1:7000")
	rs.Offset = 4242

	rm.BecomeStandalone()

	if rm.Role != RolePrimary {
		t.Fatalf("expected RolePrimary, got %v", rm.Role)
	}
	if rm.StreamOffset != 4242 {
		t.Fatalf("expected inherited stream offset 4242, got %d", rm.StreamOffset)
	}
	if rm.RunID == priorRunID || rm.RunID == "" {
		t.Fatalf("expected a fresh run id, got %q (was %q)", rm.RunID, priorRunID)
	}
}

func TestOnActivePrimaryDisconnectCachesIdentity(t *testing.T) {
	rm := NewRoleManager()
	rs := rm.BecomeReplicaOf("10.0.0.1:7000")
	rs.RunID = "abcd"
	rs.Offset = 99
	rs.State = StateConnected

	rm.OnActivePrimaryDisconnect()

	if rm.CachedPrimary == nil {
		t.Fatal("expected a cached primary identity after disconnect")
	}
	if rm.CachedPrimary.RunID != "abcd" || rm.CachedPrimary.Offset != 99 {
		t.Fatalf("unexpected cached primary: %+v", rm.CachedPrimary)
	}
	if rs.State != StateConnect {
		t.Fatalf("expected replica session to rewind to CONNECT, got %v", rs.State)
	}
}
