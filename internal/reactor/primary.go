package reactor

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nishisan-dev/kvreplicad/internal/replication"
	"github.com/nishisan-dev/kvreplicad/internal/snapshot"
	"github.com/nishisan-dev/kvreplicad/internal/wire"
)

func (r *Reactor) acceptLoop(ctx context.Context) {
	var backoff time.Duration
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("accept error", "error", err)
			if backoff == 0 {
				backoff = 10 * time.Millisecond
			} else if backoff < time.Second {
				backoff *= 2
			}
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		select {
		case r.events <- eventAccepted{conn: conn}:
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}

func (r *Reactor) onAccepted(conn net.Conn) {
	session := replication.NewPrimarySession(conn)
	session.Addr = conn.RemoteAddr().String()
	// Register as a sink immediately, before the handshake even starts:
	// writes that happen while this session is still snapshotting must
	// accumulate in its OutputBuffer rather than being silently dropped.
	r.rm.AttachReplica(session)
	go r.decodeHandshake(session)
}

// decodeHandshake runs in its own goroutine per connection: it only
// parses wire frames and forwards them to the reactor, never mutating
// session state itself.
func (r *Reactor) decodeHandshake(session *replication.PrimarySession) {
	br := bufio.NewReader(session.Conn)
	for {
		args, err := wire.ReadCommand(br)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.logger.Debug("connection decode error", "addr", session.Addr, "error", err)
			}
			r.events <- eventConnClosed{session: session}
			return
		}
		if len(args) == 0 {
			continue
		}
		if session.State == replication.StateOnline {
			r.events <- eventOnlineCmd{session: session, args: args}
		} else {
			r.events <- eventHandshakeCmd{session: session, args: args}
		}
	}
}

func (r *Reactor) onHandshakeCmd(session *replication.PrimarySession, args []string) {
	cmd := strings.ToUpper(args[0])
	switch cmd {
	case "PING":
		wire.WritePong(session.Conn)
	case "AUTH":
		if len(args) < 2 || args[1] != r.cfg.AuthPassword {
			wire.WriteError(session.Conn, wire.ErrInvalidAuth)
			return
		}
		wire.WriteSimpleString(session.Conn, "OK")
	case "REPLCONF":
		r.onReplConf(session, args)
	case "PSYNC":
		r.onPsync(session, args)
	case "SYNC":
		r.admitSnapshot(session, "", -1, true)
	default:
		r.logger.Debug("unexpected handshake command", "cmd", cmd, "addr", session.Addr)
	}
}

func (r *Reactor) onReplConf(session *replication.PrimarySession, args []string) {
	if len(args) < 2 {
		return
	}
	switch strings.ToLower(args[1]) {
	case "listening-port":
		if len(args) >= 3 {
			if p, err := strconv.Atoi(args[2]); err == nil {
				session.ListenPort = p
			}
		}
		wire.WriteSimpleString(session.Conn, "OK")
	case "ack":
		if len(args) >= 3 {
			if off, err := replication.ParseOffsetField(args[2]); err == nil {
				session.RecordAck(off)
			}
		}
		// No reply: ACK is a one-way notification.
	case "getack":
		// Primary never asks itself for an ack on its own listener side.
	default:
		wire.WriteSimpleString(session.Conn, "OK")
	}
}

func (r *Reactor) onPsync(session *replication.PrimarySession, args []string) {
	if len(args) < 3 {
		return
	}
	claimedRunID := args[1]
	claimedOffset, _ := strconv.ParseInt(args[2], 10, 64)

	backlog := r.rm.Propagator.Backlog()
	if claimedRunID == r.rm.RunID && backlog != nil &&
		replication.Offset(claimedOffset) >= backlog.OldestOffset() &&
		replication.Offset(claimedOffset) <= backlog.StreamOffset() {
		wire.WriteContinue(session.Conn)
		bufs, err := backlog.Serve(replication.Offset(claimedOffset))
		if err == nil {
			bufs.WriteTo(session.Conn)
		}
		session.State = replication.StateOnline
		r.recordEvent("partial_resync", session.Addr, "resumed from backlog")
		return
	}

	r.admitSnapshot(session, r.rm.RunID, r.effectiveOffset(), false)
}

func (r *Reactor) effectiveOffset() replication.Offset {
	if backlog := r.rm.Propagator.Backlog(); backlog != nil {
		return backlog.StreamOffset()
	}
	return r.rm.StreamOffset + 1
}

func (r *Reactor) admitSnapshot(session *replication.PrimarySession, runID string, offset replication.Offset, legacy bool) {
	if !legacy {
		wire.WriteFullResync(session.Conn, runID, int64(offset), r.cfg.Compression)
	}
	r.recordEvent("full_resync", session.Addr, "admitted for snapshot transfer")
	run, starting := r.snaps.Admit(session, runID, offset)
	if run == nil {
		return
	}
	if starting {
		if r.rm.Propagator.Backlog() == nil {
			r.rm.Propagator.SetBacklog(replication.NewBacklog(r.rm.StreamOffset, replication.DefaultBacklogCapacity))
		}
		r.runSnapshotProduction(run)
	}
}

func (r *Reactor) onSnapshotDone(run *replication.SnapshotRun, path string, err error) {
	waiters := r.snaps.Finish(run, path, err)
	for _, session := range waiters {
		if err != nil {
			r.logger.Warn("snapshot production failed", "addr", session.Addr, "error", err)
			session.Conn.Close()
			continue
		}
		r.sendSnapshot(session, run, path)
	}
}

func (r *Reactor) sendSnapshot(session *replication.PrimarySession, run *replication.SnapshotRun, path string) {
	session.State = replication.StateSendSnapshot
	f, err := openFile(path)
	if err != nil {
		r.logger.Warn("opening snapshot file", "error", err)
		session.Conn.Close()
		return
	}
	defer f.Close()

	size, err := fileSize(f)
	if err != nil {
		session.Conn.Close()
		return
	}
	if err := wire.WriteSnapshotPreamble(session.Conn, size); err != nil {
		session.Conn.Close()
		return
	}
	dst := snapshot.NewThrottledWriter(session.Conn, r.cfg.SnapshotRateLimitBytesPerSec)
	if _, err := io.Copy(dst, f); err != nil {
		r.logger.Warn("streaming snapshot", "addr", session.Addr, "error", err)
		session.Conn.Close()
		return
	}

	session.State = replication.StateOnline
	session.Flush()
}

func (r *Reactor) onOnlineCmd(session *replication.PrimarySession, args []string) {
	if len(args) >= 2 && strings.EqualFold(args[0], "REPLCONF") && strings.EqualFold(args[1], "ack") {
		if len(args) >= 3 {
			if off, err := replication.ParseOffsetField(args[2]); err == nil {
				session.RecordAck(off)
			}
		}
	}
}

func (r *Reactor) onConnClosed(session *replication.PrimarySession) {
	r.rm.DetachReplica(session)
	session.Conn.Close()
	r.recordEvent("session_closed", session.Addr, "replica session torn down")
}
