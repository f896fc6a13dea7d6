// Package reactor is the Go-idiomatic stand-in for the specification's
// single-threaded cooopertive event loop: rather than one thread
// multiplexing non-blocking sockets via readiness notifications, every
// connection gets its own goroutine that only decodes bytes off the
// wire and forwards decoded events onto a single channel. Exactly one
// goroutine — Reactor.Run's caller — ever drains that channel, and it
// is the only goroutine that mutates replication state. That single-
// writer invariant is what lets internal/replication's types skip
// locking entirely.
package reactor

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/nishisan-dev/kvreplicad/internal/observability"
	"github.com/nishisan-dev/kvreplicad/internal/replication"
	"github.com/nishisan-dev/kvreplicad/internal/snapshot"
	"github.com/nishisan-dev/kvreplicad/internal/store"
)

// Config bundles the timing and path knobs a Reactor needs.
type Config struct {
	ListenAddr     string
	SnapshotDir    string
	Hz             int
	PingPeriod     time.Duration
	ReplTimeout    time.Duration
	BacklogLimit   time.Duration
	MinSlavesLag   time.Duration
	DurableLogging bool
	AuthPassword   string
	Compression    byte

	// ServerTLS, when non-nil, wraps the listen side of the
	// replication link in mandatory mTLS. ClientTLS does the same for
	// the dial side, used when this node connects out as a replica.
	ServerTLS *tls.Config
	ClientTLS *tls.Config

	// Archiver, when set, is handed every completed full-resync
	// snapshot for best-effort off-box archival.
	Archiver SnapshotArchiver

	// SnapshotRateLimitBytesPerSec caps outbound full-resync transfer
	// bandwidth per replica. Zero disables throttling.
	SnapshotRateLimitBytesPerSec int

	// Events, when set, receives a record of every role change,
	// full/partial resync, and session teardown, for the observability
	// HTTP surface's recent-events endpoint. Nil disables event
	// recording.
	Events *observability.EventRing
}

// SnapshotArchiver is the narrow interface runSnapshotProduction needs
// from internal/snapshot.Archiver, kept local so this package doesn't
// need to import the concrete AWS client type.
type SnapshotArchiver interface {
	Archive(ctx context.Context, path string) (string, error)
}

// Reactor owns the node's entire replication state and is the only
// thing that ever mutates it, per the package doc above.
type Reactor struct {
	cfg    Config
	logger *slog.Logger

	store *store.Store
	rm    *replication.RoleManager
	pd    *replication.PeriodicDriver
	sc    *replication.ScriptCache
	snaps *replication.SnapshotCoordinator

	events chan event
	ln     net.Listener
}

// New builds a Reactor. Call Run to start serving.
func New(cfg Config, logger *slog.Logger) *Reactor {
	logger = logger.With("component", "reactor")
	rm := replication.NewRoleManager()
	sc := replication.NewScriptCache(256)
	pd := replication.NewPeriodicDriver(replication.PeriodicConfig{
		ReplTimeout:      cfg.ReplTimeout,
		PingPeriod:       cfg.PingPeriod,
		BacklogTimeLimit: cfg.BacklogLimit,
		MinSlavesMaxLag:  cfg.MinSlavesLag,
		DurableLogging:   cfg.DurableLogging,
	}, rm, sc, logger)

	r := &Reactor{
		cfg:    cfg,
		logger: logger,
		store:  store.New(),
		rm:     rm,
		pd:     pd,
		sc:     sc,
		snaps:  replication.NewSnapshotCoordinator(),
		events: make(chan event, 256),
	}
	pd.ConnectHook(r.connectReplica)
	return r
}

// Store exposes the node's dataset for read-only status reporting.
func (r *Reactor) Store() *store.Store { return r.store }

// RoleManager exposes role/session state for read-only status reporting.
func (r *Reactor) RoleManager() *replication.RoleManager { return r.rm }

// ScriptCache exposes the digest cache for low-frequency maintenance
// jobs (e.g. a forced sweep) that run outside the reactor's own tick.
func (r *Reactor) ScriptCache() *replication.ScriptCache { return r.sc }

// event is the sealed set of things that can arrive on the reactor's
// single channel. Every variant is produced by some other goroutine and
// consumed exclusively inside Run's loop.
type event interface{ isEvent() }

type baseEvent struct{}

func (baseEvent) isEvent() {}

// Run starts the accept loop and the tick driver, then blocks consuming
// events until ctx is cancelled.
func (r *Reactor) Run(ctx context.Context) error {
	var ln net.Listener
	var err error
	if r.cfg.ServerTLS != nil {
		ln, err = tls.Listen("tcp", r.cfg.ListenAddr, r.cfg.ServerTLS)
	} else {
		ln, err = net.Listen("tcp", r.cfg.ListenAddr)
	}
	if err != nil {
		return err
	}
	r.ln = ln
	r.logger.Info("reactor listening", "addr", r.cfg.ListenAddr)

	go r.acceptLoop(ctx)
	go r.tickLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			r.ln.Close()
			return nil
		case ev := <-r.events:
			r.dispatch(ev)
		}
	}
}

func (r *Reactor) tickLoop(ctx context.Context) {
	hz := r.cfg.Hz
	if hz <= 0 {
		hz = 10
	}
	t := time.NewTicker(time.Second / time.Duration(hz))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			select {
			case r.events <- eventTick{now: now}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (r *Reactor) dispatch(ev event) {
	switch e := ev.(type) {
	case eventTick:
		r.pd.Tick(e.now)
		r.flushOnlineSessions()
	case eventAccepted:
		r.onAccepted(e.conn)
	case eventHandshakeCmd:
		r.onHandshakeCmd(e.session, e.args)
	case eventOnlineCmd:
		r.onOnlineCmd(e.session, e.args)
	case eventConnClosed:
		r.onConnClosed(e.session)
	case eventSnapshotDone:
		r.onSnapshotDone(e.run, e.path, e.err)
	case eventBecomeReplicaOf:
		r.onBecomeReplicaOf(e.addr, e.port)
		r.recordEvent("role_change", e.addr, "became replica")
	case eventBecomeStandalone:
		r.rm.BecomeStandalone()
		r.recordEvent("role_change", "", "became standalone primary")
	case eventReplicaHandshakeDone:
		r.onReplicaHandshakeDone(e.result, e.err)
	case eventReplicaFrame:
		r.onReplicaFrame(e.args)
	case eventReplicaDisconnected:
		r.rm.OnActivePrimaryDisconnect()
	case eventClientWrite:
		r.onClientWrite(e.db, e.args, e.done)
	}
}

// Apply runs a write command as if accepted from a client, applying it
// to the local store and propagating it to every attached replica.
// There is no general client wire protocol in front of this — callers
// (an embedder's own command dispatcher, a test, an admin tool) invoke
// it directly, which is the one caller the replication stream needs to
// actually carry bytes end to end. Safe to call from any goroutine; it
// is serialized onto the reactor's single event loop like everything
// else that touches replication state.
func (r *Reactor) Apply(db int, args []string) error {
	done := make(chan error, 1)
	r.events <- eventClientWrite{db: db, args: args, done: done}
	return <-done
}

func (r *Reactor) onClientWrite(db int, args []string, done chan error) {
	if r.rm.Role != replication.RolePrimary {
		done <- fmt.Errorf("reactor: writes are only accepted while serving as a primary")
		return
	}
	if err := r.store.Apply(args); err != nil {
		done <- err
		return
	}
	r.rm.Propagator.Propagate(db, args)
	r.flushOnlineSessions()
	done <- nil
}

// BecomeReplicaOf requests (asynchronously, via the event channel) that
// this node become a replica of host:port. Safe to call from any
// goroutine.
func (r *Reactor) BecomeReplicaOf(host string, port int) {
	r.events <- eventBecomeReplicaOf{addr: host, port: port}
}

// BecomeStandalone requests this node drop any primary and serve as a
// standalone primary again. Safe to call from any goroutine.
func (r *Reactor) BecomeStandalone() {
	r.events <- eventBecomeStandalone{}
}

func (r *Reactor) flushOnlineSessions() {
	for s := range r.rm.Sessions() {
		if s.State == replication.StateOnline {
			s.Flush()
		}
	}
}

// recordEvent appends a lifecycle event to the configured event ring,
// if one is configured. It is safe to call unconditionally.
func (r *Reactor) recordEvent(typ, peer, message string) {
	if r.cfg.Events == nil {
		return
	}
	r.cfg.Events.Push(observability.Event{
		Level:   "info",
		Type:    typ,
		Peer:    peer,
		Message: message,
	})
}

func (r *Reactor) snapshotPath(runID string) string {
	return r.cfg.SnapshotDir + "/fullsync-" + runID + ".kvsnap"
}

func (r *Reactor) runSnapshotProduction(run *replication.SnapshotRun) {
	path := r.snapshotPath(run.RunID)
	go func() {
		f, err := createFile(path)
		if err != nil {
			r.events <- eventSnapshotDone{run: run, err: err}
			return
		}
		defer f.Close()
		if _, err := snapshot.Produce(f, r.store, r.cfg.Compression); err != nil {
			r.events <- eventSnapshotDone{run: run, err: err}
			return
		}
		r.events <- eventSnapshotDone{run: run, path: path}

		if r.cfg.Archiver != nil {
			if key, err := r.cfg.Archiver.Archive(context.Background(), path); err != nil {
				r.logger.Warn("archiving snapshot", "path", path, "error", err)
			} else {
				r.logger.Info("archived snapshot", "path", path, "key", key)
			}
		}
	}()
}
