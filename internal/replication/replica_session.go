package replication

import (
	"bufio"
	"fmt"
	"net"
	"time"
)

// ReplicaLinkState is the lifecycle of a replica's connection to its
// primary, as seen from the replica side.
type ReplicaLinkState int

const (
	// StateNone: not configured as a replica of anyone.
	StateNone ReplicaLinkState = iota
	// StateConnect: configured, about to dial.
	StateConnect
	// StateConnecting: TCP dial in flight / handshake not yet started.
	StateConnecting
	// StateRecvPong: handshake in progress, waiting on PING/AUTH/REPLCONF
	// replies up through PSYNC.
	StateRecvPong
	// StateTransfer: receiving the snapshot payload.
	StateTransfer
	// StateConnected: caught up, applying the live command stream.
	StateConnected
)

func (s ReplicaLinkState) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateConnect:
		return "connect"
	case StateConnecting:
		return "connecting"
	case StateRecvPong:
		return "recv_pong"
	case StateTransfer:
		return "transfer"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// CachedPrimary is what a replica remembers about the primary it was
// last talking to, kept around after a disconnect so a subsequent
// reconnect can attempt PSYNC <runid> <offset> instead of a full
// resync. A nil *CachedPrimary on RoleManager stands in for the "no
// cached primary" case the spec expresses as an optional value.
type CachedPrimary struct {
	RunID  string
	Offset Offset
	Addr   string
}

// ReplicaSession is the replica-side connection state machine. Like
// PrimarySession, it is exclusively owned and mutated by the reactor
// goroutine.
type ReplicaSession struct {
	PrimaryAddr string
	Conn        net.Conn
	Reader      *bufio.Reader

	State ReplicaLinkState

	RunID  string
	Offset Offset

	// AuthPassword, when non-empty, is sent via AUTH before REPLCONF.
	AuthPassword string
	ListenPort   int

	LastPrimaryContact time.Time
	ConnectAttempts    int

	// SnapshotTempPath is where the in-flight snapshot payload is being
	// written while State == StateTransfer.
	SnapshotTempPath   string
	SnapshotExpected   int64
	SnapshotReceived   int64
	SnapshotCompressed byte
}

// NewReplicaSession creates a session in StateNone targeting no
// primary; call Reconfigure to point it at one.
func NewReplicaSession() *ReplicaSession {
	return &ReplicaSession{State: StateNone, Offset: -1}
}

// Reconfigure points the session at a new primary address and resets
// any in-flight handshake/transfer state, but deliberately does not
// touch RunID/Offset — those survive so a cached-primary resume can
// still be attempted if addr happens to match what was cached.
func (s *ReplicaSession) Reconfigure(addr string) {
	s.PrimaryAddr = addr
	s.State = StateConnect
	s.Conn = nil
	s.Reader = nil
	s.ConnectAttempts = 0
}

// ApplyCachedPrimary seeds RunID/Offset from a previously remembered
// primary, which PSYNC will use to attempt an incremental resync
// instead of a full one. c.Offset is the last byte this replica applied,
// so the PSYNC request built from it must ask for the next one.
func (s *ReplicaSession) ApplyCachedPrimary(c *CachedPrimary) {
	if c == nil {
		return
	}
	s.RunID = c.RunID
	s.Offset = c.Offset + 1
}

// Snapshot captures this session's resumption identity for caching
// across a future disconnect.
func (s *ReplicaSession) Snapshot() *CachedPrimary {
	if s.RunID == "" {
		return nil
	}
	return &CachedPrimary{RunID: s.RunID, Offset: s.Offset, Addr: s.PrimaryAddr}
}

// Disconnect tears down the network connection and moves the session
// back to StateConnect so the periodic driver retries, preserving
// RunID/Offset as the new cached-primary identity.
func (s *ReplicaSession) Disconnect() {
	if s.Conn != nil {
		s.Conn.Close()
	}
	s.Conn = nil
	s.Reader = nil
	if s.State != StateNone {
		s.State = StateConnect
	}
}

// Stop fully detaches from any primary; State becomes StateNone and no
// further reconnect attempts happen until Reconfigure is called again.
func (s *ReplicaSession) Stop() {
	s.Disconnect()
	s.State = StateNone
	s.PrimaryAddr = ""
}

// validTransition reports whether moving from s.State to next is legal
// under the handshake's strictly forward progression (with the single
// backward edge of any state returning to StateConnect on failure,
// handled by Disconnect rather than this table).
func (s *ReplicaSession) validTransition(next ReplicaLinkState) bool {
	switch s.State {
	case StateConnect:
		return next == StateConnecting
	case StateConnecting:
		return next == StateRecvPong
	case StateRecvPong:
		return next == StateTransfer
	case StateTransfer:
		return next == StateConnected
	default:
		return false
	}
}

// Advance moves the session forward to next, returning an error if the
// transition is not a legal forward step from the current state.
func (s *ReplicaSession) Advance(next ReplicaLinkState) error {
	if !s.validTransition(next) {
		return fmt.Errorf("replication: illegal replica link transition %s -> %s", s.State, next)
	}
	s.State = next
	s.LastPrimaryContact = time.Now()
	return nil
}
