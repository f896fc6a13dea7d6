package replication

import (
	"bytes"

	"github.com/nishisan-dev/kvreplicad/internal/wire"
)

// Propagator turns argument vectors coming off the primary's command
// loop into replication-stream bytes, appends them to the backlog, and
// fans them out to every attached replica output buffer. It is owned
// exclusively by the reactor goroutine: callers never lock, because
// nothing else ever touches a Propagator concurrently.
type Propagator struct {
	backlog *Backlog
	sinks   map[*PrimarySession]struct{}

	lastDB int
}

// NewPropagator creates a propagator writing through backlog. backlog
// may be nil, which is valid while no replica or AOF consumer exists
// yet; Propagate still fans frames out to attached sinks in that case,
// it just cannot serve incremental resync later.
func NewPropagator(backlog *Backlog) *Propagator {
	return &Propagator{
		backlog: backlog,
		sinks:   make(map[*PrimarySession]struct{}),
		lastDB:  -1,
	}
}

// Attach registers a primary-side session as a recipient of future
// propagated frames. Sessions still mid-handshake or mid-snapshot are
// attached too: their OutputBuffer simply accumulates bytes until the
// session reaches StateOnline and starts draining it (spec: a replica
// must not miss writes that land during its own snapshot transfer).
func (p *Propagator) Attach(s *PrimarySession) {
	p.sinks[s] = struct{}{}
}

// Detach removes a session from future fan-out, e.g. on disconnect.
func (p *Propagator) Detach(s *PrimarySession) {
	delete(p.sinks, s)
}

// SetBacklog installs or replaces the backlog frames are appended to,
// used when a backlog is created lazily on first replica attach.
func (p *Propagator) SetBacklog(b *Backlog) { p.backlog = b }

// Backlog returns the backlog currently receiving propagated bytes, or
// nil if none exists yet.
func (p *Propagator) Backlog() *Backlog { return p.backlog }

// Propagate encodes a command executed against db as a multi-bulk
// frame and streams it to the backlog and every attached sink. A
// `select` frame is prepended whenever db differs from the previously
// propagated database, mirroring how a single shared stream multiplexes
// writes against several logical keyspaces.
func (p *Propagator) Propagate(db int, args []string) {
	var out bytes.Buffer

	if db != p.lastDB {
		out.Write(wire.EncodeMultiBulk("select", itoa(db)))
		p.lastDB = db
	}
	out.Write(wire.EncodeMultiBulk(args...))

	p.emit(out.Bytes())
}

// PropagateRaw streams pre-encoded bytes (e.g. a frame received from
// this node's own primary, forwarded to its chained sub-replicas)
// without any select-command bookkeeping.
func (p *Propagator) PropagateRaw(frame []byte) {
	p.emit(frame)
}

// Ping broadcasts a keepalive PING frame to every sink and the backlog,
// advancing the stream offset even when no user command has run — this
// is what lets an idle primary's backlog still detect a replica that
// has stopped reading.
func (p *Propagator) Ping() {
	p.emit(wire.EncodeMultiBulk("PING"))
}

func (p *Propagator) emit(frame []byte) {
	if len(frame) == 0 {
		return
	}
	if p.backlog != nil {
		p.backlog.Append(frame)
	}
	for s := range p.sinks {
		s.OutputBuffer.Write(frame)
	}
}

// SinkCount reports how many sessions are currently attached, used by
// the periodic driver to decide whether a backlog is still worth
// keeping around.
func (p *Propagator) SinkCount() int { return len(p.sinks) }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
