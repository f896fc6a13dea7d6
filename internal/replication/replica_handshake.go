package replication

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nishisan-dev/kvreplicad/internal/wire"
)

// HandshakeTimeout bounds each individual round trip of the handshake;
// a primary that goes silent mid-handshake must not wedge the replica
// forever.
const HandshakeTimeout = 10 * time.Second

// HandshakeResult carries what the replica learned from a completed
// PSYNC exchange, before any snapshot bytes have been read.
type HandshakeResult struct {
	FullResync bool
	RunID      string
	Offset     Offset
	Compressed byte
}

// Dial opens the TCP connection to the configured primary and installs
// a buffered reader. The caller moves the session into StateConnecting
// before dialing; Dial leaves State unchanged. It does not perform the
// handshake itself.
func (s *ReplicaSession) Dial(dialer net.Dialer) error {
	conn, err := dialer.Dial("tcp", s.PrimaryAddr)
	if err != nil {
		return fmt.Errorf("replication: dial primary %s: %w", s.PrimaryAddr, err)
	}
	s.Conn = conn
	s.Reader = bufio.NewReader(conn)
	return nil
}

// DialTLS is Dial's mTLS-wrapped counterpart, used when the node is
// configured with client certificates for the replication link.
func (s *ReplicaSession) DialTLS(dialer net.Dialer, tlsCfg *tls.Config) error {
	conn, err := tls.DialWithDialer(&dialer, "tcp", s.PrimaryAddr, tlsCfg)
	if err != nil {
		return fmt.Errorf("replication: tls dial primary %s: %w", s.PrimaryAddr, err)
	}
	s.Conn = conn
	s.Reader = bufio.NewReader(conn)
	return nil
}

// Handshake drives the full replica-to-primary bootstrap sequence:
// PING, optional AUTH, REPLCONF listening-port, and finally PSYNC. The
// per-step deadline is cleared once the PSYNC reply line has been read.
// It leaves the session in StateRecvPong on success,
// with the reader positioned right after the FULLRESYNC/CONTINUE reply
// line, ready for the caller to either start snapshot transfer or
// resume streaming from the backlog.
func (s *ReplicaSession) Handshake() (*HandshakeResult, error) {
	if err := s.Advance(StateRecvPong); err != nil {
		return nil, err
	}
	conn := s.Conn
	r := s.Reader

	step := func(fn func() error) error {
		conn.SetDeadline(time.Now().Add(HandshakeTimeout))
		return fn()
	}

	if err := step(func() error { return wire.WritePing(conn) }); err != nil {
		return nil, fmt.Errorf("replication: send PING: %w", err)
	}
	if _, err := wire.ReadReplyLine(r); err != nil {
		return nil, fmt.Errorf("replication: read PING reply: %w", err)
	}

	if s.AuthPassword != "" {
		if err := step(func() error { return wire.WriteAuth(conn, s.AuthPassword) }); err != nil {
			return nil, fmt.Errorf("replication: send AUTH: %w", err)
		}
		line, err := wire.ReadReplyLine(r)
		if err != nil {
			return nil, fmt.Errorf("replication: read AUTH reply: %w", err)
		}
		if strings.HasPrefix(line, "-") {
			return nil, fmt.Errorf("replication: AUTH rejected: %s", line)
		}
	}

	if err := step(func() error { return wire.WriteReplConfListeningPort(conn, s.ListenPort) }); err != nil {
		return nil, fmt.Errorf("replication: send REPLCONF listening-port: %w", err)
	}
	if _, err := wire.ReadReplyLine(r); err != nil {
		return nil, fmt.Errorf("replication: read REPLCONF reply: %w", err)
	}

	if err := step(func() error { return wire.WritePsync(conn, s.RunID, int64(s.Offset)) }); err != nil {
		return nil, fmt.Errorf("replication: send PSYNC: %w", err)
	}
	conn.SetDeadline(time.Now().Add(HandshakeTimeout))
	line, err := wire.ReadReplyLine(r)
	if err != nil {
		return nil, fmt.Errorf("replication: read PSYNC reply: %w", err)
	}
	conn.SetDeadline(time.Time{})

	if strings.HasPrefix(line, "+FULLRESYNC") {
		fr, err := wire.ReadFullResyncReply(strings.TrimPrefix(line, "+"))
		if err != nil {
			return nil, err
		}
		return &HandshakeResult{
			FullResync: true,
			RunID:      fr.RunID,
			Offset:     Offset(fr.Offset),
			Compressed: fr.Compression,
		}, nil
	}
	if strings.HasPrefix(line, "+CONTINUE") {
		return &HandshakeResult{FullResync: false, RunID: s.RunID, Offset: s.Offset}, nil
	}
	return nil, fmt.Errorf("%w: unexpected PSYNC reply %q", wire.ErrUnknownReply, line)
}

// SendAck writes a REPLCONF ACK for the current offset, clearing the
// connection's write deadline first since this runs on the live stream
// rather than inside the bounded handshake.
func (s *ReplicaSession) SendAck() error {
	s.Conn.SetWriteDeadline(time.Time{})
	return wire.WriteReplConfAck(s.Conn, int64(s.Offset))
}

// ParseOffsetField is a small helper for callers that receive an offset
// as a wire string field (e.g. from a GETACK-triggered ack).
func ParseOffsetField(field string) (Offset, error) {
	n, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad offset field %q", wire.ErrProtocolViolation, field)
	}
	return Offset(n), nil
}
