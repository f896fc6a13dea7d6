package reactor

import (
	"net"
	"time"

	"github.com/nishisan-dev/kvreplicad/internal/replication"
)

type eventTick struct {
	baseEvent
	now time.Time
}

type eventAccepted struct {
	baseEvent
	conn net.Conn
}

type eventHandshakeCmd struct {
	baseEvent
	session *replication.PrimarySession
	args    []string
}

type eventOnlineCmd struct {
	baseEvent
	session *replication.PrimarySession
	args    []string
}

type eventConnClosed struct {
	baseEvent
	session *replication.PrimarySession
}

type eventSnapshotDone struct {
	baseEvent
	run  *replication.SnapshotRun
	path string
	err  error
}

type eventBecomeReplicaOf struct {
	baseEvent
	addr string
	port int
}

type eventBecomeStandalone struct{ baseEvent }

type eventReplicaHandshakeDone struct {
	baseEvent
	result *replication.HandshakeResult
	err    error
}

type eventReplicaFrame struct {
	baseEvent
	args []string
}

type eventReplicaDisconnected struct{ baseEvent }

type eventClientWrite struct {
	baseEvent
	db   int
	args []string
	done chan error
}
