package reactor

import (
	"fmt"
	"net"
	"time"

	"github.com/nishisan-dev/kvreplicad/internal/replication"
	"github.com/nishisan-dev/kvreplicad/internal/snapshot"
	"github.com/nishisan-dev/kvreplicad/internal/wire"
)

func (r *Reactor) onBecomeReplicaOf(host string, port int) {
	addr := fmt.Sprintf("%s:%d", host, port)
	rs := r.rm.BecomeReplicaOf(addr)
	rs.AuthPassword = r.cfg.AuthPassword
	rs.ApplyCachedPrimary(r.rm.CachedPrimary)
}

// connectReplica is installed as the periodic driver's responsibility-4
// hook. It runs the dial and bounded handshake on a dedicated goroutine
// — the spec's one sanctioned blocking exception — and, on success,
// keeps that same goroutine alive as the per-connection decoder for the
// rest of the session, forwarding every decoded frame back to the
// reactor's event channel.
func (r *Reactor) connectReplica(rs *replication.ReplicaSession) {
	rs.Advance(replication.StateConnecting)
	go func() {
		dialer := net.Dialer{Timeout: replication.HandshakeTimeout}
		var dialErr error
		if r.cfg.ClientTLS != nil {
			dialErr = rs.DialTLS(dialer, r.cfg.ClientTLS)
		} else {
			dialErr = rs.Dial(dialer)
		}
		if dialErr != nil {
			r.events <- eventReplicaHandshakeDone{err: dialErr}
			return
		}
		result, err := rs.Handshake()
		if err != nil {
			r.events <- eventReplicaHandshakeDone{err: err}
			return
		}

		if result.FullResync {
			if err := r.receiveSnapshot(rs, result); err != nil {
				r.events <- eventReplicaHandshakeDone{err: err}
				return
			}
		}

		rs.RunID = result.RunID
		rs.Offset = result.Offset
		r.events <- eventReplicaHandshakeDone{result: result}
		r.decodeReplicaStream(rs)
	}()
}

func (r *Reactor) receiveSnapshot(rs *replication.ReplicaSession, result *replication.HandshakeResult) error {
	size, isKeepalive, err := wire.ReadSnapshotPreamble(rs.Reader)
	for err == nil && isKeepalive {
		size, isKeepalive, err = wire.ReadSnapshotPreamble(rs.Reader)
	}
	if err != nil {
		return fmt.Errorf("replica: reading snapshot preamble: %w", err)
	}

	tw, err := snapshot.NewTempWriter(r.cfg.SnapshotDir, "replica.kvsnap", size)
	if err != nil {
		return err
	}
	buf := make([]byte, 64*1024)
	remaining := size
	for !tw.Done() {
		chunk := buf
		if int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		n, err := rs.Reader.Read(chunk)
		remaining -= int64(n)
		if n > 0 {
			if _, werr := tw.Write(chunk[:n]); werr != nil {
				tw.Abort()
				return werr
			}
		}
		if err != nil {
			tw.Abort()
			return fmt.Errorf("replica: reading snapshot payload: %w", err)
		}
	}
	finalPath, err := tw.Commit()
	if err != nil {
		return err
	}
	if err := snapshot.Load(finalPath, r.store, result.Compressed); err != nil {
		return err
	}
	return nil
}

func (r *Reactor) onReplicaHandshakeDone(result *replication.HandshakeResult, err error) {
	rs := r.rm.Replica
	if rs == nil {
		return
	}
	if err != nil {
		r.logger.Warn("replica handshake failed", "primary", rs.PrimaryAddr, "error", err)
		rs.Disconnect()
		return
	}
	rs.Advance(replication.StateTransfer)
	rs.Advance(replication.StateConnected)
	r.rm.StreamOffset = rs.Offset
}

func (r *Reactor) decodeReplicaStream(rs *replication.ReplicaSession) {
	for {
		args, err := wire.ReadCommand(rs.Reader)
		if err != nil {
			r.events <- eventReplicaDisconnected{}
			return
		}
		if len(args) == 0 {
			continue
		}
		r.events <- eventReplicaFrame{args: args}
	}
}

func (r *Reactor) onReplicaFrame(args []string) {
	if err := r.store.Apply(args); err != nil {
		r.logger.Warn("applying replicated command", "error", err)
		return
	}
	rs := r.rm.Replica
	if rs == nil {
		return
	}
	frame := wire.EncodeMultiBulk(args...)
	rs.Offset += replication.Offset(len(frame))
	rs.LastPrimaryContact = time.Now()
	r.rm.StreamOffset = rs.Offset

	// Forward the frame verbatim to this node's own attached sessions,
	// so a sub-replica chained off a replica keeps receiving writes.
	r.rm.Propagator.PropagateRaw(frame)
	r.flushOnlineSessions()
}
