package replication

import (
	"bytes"
	"net"
	"time"
)

// PrimarySessionState is the lifecycle of one replica connection as
// seen from the primary side.
type PrimarySessionState int

const (
	// StateWaitSnapshotStart: the initial state, set when the connection
	// is accepted and kept through the handshake; a session also stays
	// here after a full resync request while snapshot production has not
	// begun for it (e.g. another, incompatible snapshot is in progress).
	StateWaitSnapshotStart PrimarySessionState = iota
	// StateWaitSnapshotEnd: a snapshot is being produced and this
	// session is queued to receive it once it completes.
	StateWaitSnapshotEnd
	// StateSendSnapshot: actively streaming snapshot bytes to the
	// replica.
	StateSendSnapshot
	// StateOnline: snapshot delivered, replica is caught up and
	// receiving the live command stream.
	StateOnline
)

func (s PrimarySessionState) String() string {
	switch s {
	case StateWaitSnapshotStart:
		return "wait_snapshot_start"
	case StateWaitSnapshotEnd:
		return "wait_snapshot_end"
	case StateSendSnapshot:
		return "send_snapshot"
	case StateOnline:
		return "online"
	default:
		return "unknown"
	}
}

// PrimarySession tracks everything the primary needs to know about one
// connected replica. Only the reactor goroutine ever touches a
// PrimarySession's fields; there is deliberately no locking.
type PrimarySession struct {
	Conn net.Conn

	ReplicaRunID string
	ListenPort   int
	Addr         string

	State PrimarySessionState

	// AckOffset is the highest offset the replica has confirmed via
	// REPLCONF ACK.
	AckOffset Offset
	// AckTime is when AckOffset was last updated, used to evict a
	// replica that has stopped acknowledging.
	AckTime time.Time

	// PSyncOffsetRequested and RequestedFullResync describe a replica's
	// PSYNC request (-1 meaning "?", an explicit full resync). The PSYNC
	// handler does not record them: PSyncOffsetRequested keeps the -1
	// NewPrimarySession sets and RequestedFullResync stays false.
	PSyncOffsetRequested Offset
	RequestedFullResync  bool

	// OutputBuffer accumulates propagated frames. During snapshot
	// transfer this buffers concurrent writes so nothing is lost;
	// once State reaches StateOnline the reactor drains it after every
	// write cycle.
	OutputBuffer bytes.Buffer

	// LastInteraction marks the last time Flush successfully wrote
	// buffered output to Conn. The keepalive cadence does not consult
	// it; PeriodicDriver paces PINGs on its own clock.
	LastInteraction time.Time

	// Capability flags for the replica. The handshake handlers do not
	// set them, so they keep their zero values.
	SupportsPSYNC    bool
	CompressionModes []byte

	// GoodSince is not set anywhere; IsGood derives "good" (online and
	// acked within the configured ack timeout) from State and AckTime
	// each time it is called.
	GoodSince time.Time
}

// NewPrimarySession creates a session for a freshly accepted connection.
// It starts in StateWaitSnapshotStart, before any handshake command has
// been read.
func NewPrimarySession(conn net.Conn) *PrimarySession {
	now := time.Now()
	return &PrimarySession{
		Conn:            conn,
		State:           StateWaitSnapshotStart,
		AckTime:         now,
		LastInteraction: now,
		PSyncOffsetRequested: -1,
	}
}

// IsGood reports whether this session counts as an acknowledging,
// online replica as of now, given the maximum age an ack may have.
func (s *PrimarySession) IsGood(now time.Time, maxAckAge time.Duration) bool {
	if s.State != StateOnline {
		return false
	}
	return now.Sub(s.AckTime) <= maxAckAge
}

// Flush writes any buffered output to the underlying connection and
// resets the buffer. Returns the number of bytes written.
func (s *PrimarySession) Flush() (int, error) {
	if s.OutputBuffer.Len() == 0 {
		return 0, nil
	}
	n, err := s.Conn.Write(s.OutputBuffer.Bytes())
	s.OutputBuffer.Reset()
	if err == nil {
		s.LastInteraction = time.Now()
	}
	return n, err
}

// RecordAck updates the session's acknowledged offset, ignoring
// out-of-order or regressive acks (a replica should never claim to
// have processed bytes twice, but a racing duplicate ACK must not make
// AckOffset go backwards).
func (s *PrimarySession) RecordAck(offset Offset) {
	if offset < s.AckOffset {
		return
	}
	s.AckOffset = offset
	s.AckTime = time.Now()
}
