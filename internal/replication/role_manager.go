package replication

import "time"

// Role is this node's current place in the replication topology.
type Role int

const (
	RolePrimary Role = iota
	RoleReplica
)

func (r Role) String() string {
	if r == RoleReplica {
		return "replica"
	}
	return "primary"
}

// RoleManager owns the single source of truth for this node's role and
// drives the three legal role transitions. Like every other type in
// this package it is exclusively mutated by the reactor goroutine.
type RoleManager struct {
	Role Role
	RunID string

	// StreamOffset mirrors Backlog.StreamOffset while we are a primary
	// with a backlog, or the replica's last-applied offset otherwise. It
	// is the single place downstream observers check for freshness
	// regardless of role.
	StreamOffset Offset

	Propagator *Propagator
	Replica    *ReplicaSession

	// CachedPrimary is the nil-able "previous primary" slot the spec
	// describes as optional: nil means no resumable primary identity is
	// remembered.
	CachedPrimary *CachedPrimary

	sessions map[*PrimarySession]struct{}
}

// NewRoleManager creates a standalone-primary role manager with a fresh
// run id and no backlog (one is created lazily on first replica
// attach, per spec §4.1).
func NewRoleManager() *RoleManager {
	return &RoleManager{
		Role:     RolePrimary,
		RunID:    NewRunID(),
		Propagator: NewPropagator(nil),
		sessions: make(map[*PrimarySession]struct{}),
	}
}

// AttachReplica registers a primary-side session as soon as it is
// accepted and starts fanning propagated frames to it, well before it
// reaches StateOnline: its OutputBuffer simply accumulates bytes until
// the session is caught up and starts draining it.
func (rm *RoleManager) AttachReplica(s *PrimarySession) {
	rm.sessions[s] = struct{}{}
	rm.Propagator.Attach(s)
}

// DetachReplica removes a primary-side session, e.g. on disconnect or
// ack timeout eviction.
func (rm *RoleManager) DetachReplica(s *PrimarySession) {
	delete(rm.sessions, s)
	rm.Propagator.Detach(s)
}

// Sessions returns the set of attached primary-side sessions for
// iteration by the periodic driver.
func (rm *RoleManager) Sessions() map[*PrimarySession]struct{} { return rm.sessions }

// BecomeReplicaOf transitions this node into a replica of host:port.
// Any existing active or cached primary identity is discarded, every
// currently attached replica is detached (they must resync against
// whatever this node becomes), and the backlog is freed since our own
// chained replicas must not resume against us once our dataset starts
// changing under someone else's control.
func (rm *RoleManager) BecomeReplicaOf(addr string) *ReplicaSession {
	for s := range rm.sessions {
		rm.DetachReplica(s)
		s.Conn.Close()
	}
	rm.Propagator.SetBacklog(nil)
	rm.CachedPrimary = nil

	rm.Role = RoleReplica
	rs := NewReplicaSession()
	rs.Reconfigure(addr)
	rm.Replica = rs
	return rs
}

// BecomeStandalone transitions this node back to an unattached primary.
// If it was a replica with no replicas of its own, the last-known
// primary offset becomes the new stream offset so freshness comparisons
// downstream remain meaningful; otherwise the offset resets to zero. A
// fresh run id is always minted, since reusing the old one while the
// offset basis changes underneath it is exactly the collision the +1
// quirk on backlog creation exists to avoid.
func (rm *RoleManager) BecomeStandalone() {
	wasReplica := rm.Role == RoleReplica
	hadNoSubReplicas := len(rm.sessions) == 0

	if rm.Replica != nil {
		rm.Replica.Stop()
	}

	if wasReplica && hadNoSubReplicas {
		rm.StreamOffset = rm.Replica.Offset
	} else {
		rm.StreamOffset = 0
	}
	rm.RunID = NewRunID()

	rm.Role = RolePrimary
	rm.Replica = nil
	rm.CachedPrimary = nil
}

// OnActivePrimaryDisconnect moves the active primary connection to the
// cached slot rather than discarding it, so the next reconnect attempt
// can try an incremental resync against the same run id and offset.
func (rm *RoleManager) OnActivePrimaryDisconnect() {
	if rm.Replica == nil {
		return
	}
	rm.CachedPrimary = rm.Replica.Snapshot()
	rm.Replica.Disconnect()
}

// GoodReplicaCount returns how many attached sessions currently count
// as ONLINE and acknowledging within maxAckAge, used to evaluate
// min-slaves-style write gating.
func (rm *RoleManager) GoodReplicaCount(now time.Time, maxAckAge time.Duration) int {
	n := 0
	for s := range rm.sessions {
		if s.IsGood(now, maxAckAge) {
			n++
		}
	}
	return n
}
