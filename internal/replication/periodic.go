package replication

import (
	"log/slog"
	"time"

	"github.com/nishisan-dev/kvreplicad/internal/wire"
)

// PeriodicConfig bundles the timing knobs the periodic driver consults
// every tick.
type PeriodicConfig struct {
	ReplTimeout      time.Duration
	PingPeriod       time.Duration
	BacklogTimeLimit time.Duration
	MinSlavesMaxLag  time.Duration
	DurableLogging   bool
}

// PeriodicDriver runs the ten numbered housekeeping responsibilities a
// reactor must perform on every clock tick, in the order the spec lists
// them. It holds no goroutine of its own — the reactor calls Tick from
// its own loop at the configured hz, preserving the single-owner
// invariant.
type PeriodicDriver struct {
	cfg    PeriodicConfig
	rm     *RoleManager
	scripts *ScriptCache
	logger *slog.Logger

	lastPing         time.Time
	backlogIdleSince time.Time
	GoodReplicas     int
	connect          ConnectFunc
}

// NewPeriodicDriver creates a driver for the given role manager and
// script cache, using cfg's timing knobs.
func NewPeriodicDriver(cfg PeriodicConfig, rm *RoleManager, scripts *ScriptCache, logger *slog.Logger) *PeriodicDriver {
	return &PeriodicDriver{
		cfg:     cfg,
		rm:      rm,
		scripts: scripts,
		logger:  logger.With("component", "replication.periodic"),
	}
}

// Tick runs all ten responsibilities once. It is safe to call from the
// single reactor goroutine only.
func (d *PeriodicDriver) Tick(now time.Time) {
	d.abortStaleHandshakes(now)     // 1, 2
	d.abortStalePrimaryLink(now)    // 3
	d.attemptConnect()              // 4
	d.sendReplicaAck()              // 5
	d.broadcastKeepalive(now)       // 6
	d.dropUnackedReplicas(now)      // 7
	d.reapIdleBacklog(now)          // 8
	d.maybeFlushScriptCache()       // 9
	d.GoodReplicas = d.rm.GoodReplicaCount(now, d.cfg.MinSlavesMaxLag) // 10
}

// 1 & 2: abort a replica-side handshake or snapshot transfer whose last
// I/O predates repl_timeout.
func (d *PeriodicDriver) abortStaleHandshakes(now time.Time) {
	rs := d.rm.Replica
	if rs == nil {
		return
	}
	if rs.State != StateRecvPong && rs.State != StateTransfer {
		return
	}
	if now.Sub(rs.LastPrimaryContact) <= d.cfg.ReplTimeout {
		return
	}
	d.logger.Warn("replica handshake/transfer timed out", "primary", rs.PrimaryAddr, "state", rs.State.String())
	rs.Disconnect()
}

// 3: move an unresponsive active primary to the cached slot.
func (d *PeriodicDriver) abortStalePrimaryLink(now time.Time) {
	rs := d.rm.Replica
	if rs == nil || rs.State != StateConnected {
		return
	}
	if now.Sub(rs.LastPrimaryContact) <= d.cfg.ReplTimeout {
		return
	}
	d.logger.Warn("primary link timed out, caching for incremental resume", "primary", rs.PrimaryAddr)
	d.rm.OnActivePrimaryDisconnect()
}

// 4: kick off a connect attempt when in CONNECT state. The actual dial
// is delegated to the caller-supplied ConnectFunc since networking
// belongs to the reactor, not the periodic driver.
type ConnectFunc func(rs *ReplicaSession)

var noopConnect ConnectFunc = func(*ReplicaSession) {}

// ConnectHook lets the reactor install the function used for
// responsibility 4 without this package importing reactor internals.
func (d *PeriodicDriver) ConnectHook(fn ConnectFunc) { d.connect = fn }

func (d *PeriodicDriver) attemptConnect() {
	rs := d.rm.Replica
	if rs == nil || rs.State != StateConnect {
		return
	}
	connect := d.connect
	if connect == nil {
		connect = noopConnect
	}
	connect(rs)
}

// 5: if we are an active replica of a PSYNC-capable primary, ack our
// processed offset.
func (d *PeriodicDriver) sendReplicaAck() {
	rs := d.rm.Replica
	if rs == nil || rs.State != StateConnected {
		return
	}
	if err := rs.SendAck(); err != nil {
		d.logger.Warn("failed to send REPLCONF ACK", "error", err)
	}
}

// 6: every ping_period, PING every ONLINE replica and keepalive every
// session still waiting on a snapshot.
func (d *PeriodicDriver) broadcastKeepalive(now time.Time) {
	if d.cfg.PingPeriod <= 0 || now.Sub(d.lastPing) < d.cfg.PingPeriod {
		return
	}
	d.lastPing = now
	d.rm.Propagator.Ping()

	for s := range d.rm.Sessions() {
		if s.State == StateWaitSnapshotStart || s.State == StateWaitSnapshotEnd {
			if err := wire.WriteKeepalive(s.Conn); err != nil {
				d.logger.Debug("keepalive write failed", "addr", s.Addr, "error", err)
			}
		}
	}
}

// 7: drop ONLINE replicas that have stopped acknowledging.
func (d *PeriodicDriver) dropUnackedReplicas(now time.Time) {
	for s := range d.rm.Sessions() {
		if s.State != StateOnline {
			continue
		}
		if now.Sub(s.AckTime) <= d.cfg.ReplTimeout {
			continue
		}
		d.logger.Warn("dropping unresponsive replica", "addr", s.Addr, "last_ack", s.AckTime)
		d.rm.DetachReplica(s)
		s.Conn.Close()
	}
}

// 8: free the backlog once it has had no replicas for backlog_time_limit.
func (d *PeriodicDriver) reapIdleBacklog(now time.Time) {
	if d.rm.Propagator.Backlog() == nil {
		d.backlogIdleSince = time.Time{}
		return
	}
	if d.rm.Propagator.SinkCount() > 0 {
		d.backlogIdleSince = time.Time{}
		return
	}
	if d.backlogIdleSince.IsZero() {
		d.backlogIdleSince = now
		return
	}
	if now.Sub(d.backlogIdleSince) >= d.cfg.BacklogTimeLimit {
		d.logger.Info("freeing idle replication backlog")
		d.rm.Propagator.SetBacklog(nil)
		d.backlogIdleSince = time.Time{}
	}
}

// 9: with no replicas and durable logging disabled, the script cache's
// digests are no longer doing anyone any good; flush them.
func (d *PeriodicDriver) maybeFlushScriptCache() {
	if d.cfg.DurableLogging {
		return
	}
	if d.rm.Propagator.SinkCount() > 0 {
		return
	}
	d.scripts.Flush()
}
