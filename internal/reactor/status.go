package reactor

import (
	"time"

	"github.com/nishisan-dev/kvreplicad/internal/observability"
	"github.com/nishisan-dev/kvreplicad/internal/replication"
)

// RoleSnapshot implements observability.NodeStatus.
func (r *Reactor) RoleSnapshot() observability.RoleSnapshot {
	s := observability.RoleSnapshot{
		Role:         r.rm.Role.String(),
		RunID:        r.rm.RunID,
		StreamOffset: int64(r.currentOffset()),
	}
	if r.rm.Role == replication.RoleReplica && r.rm.Replica != nil {
		s.ReplicaOf = r.rm.Replica.PrimaryAddr
		s.LinkState = r.rm.Replica.State.String()
	}
	return s
}

// SessionsSnapshot implements observability.NodeStatus.
func (r *Reactor) SessionsSnapshot() []observability.SessionSummary {
	now := time.Now()
	out := make([]observability.SessionSummary, 0, len(r.rm.Sessions()))
	for s := range r.rm.Sessions() {
		out = append(out, observability.SessionSummary{
			Addr:         s.Addr,
			State:        s.State.String(),
			AckOffset:    int64(s.AckOffset),
			LastAckAgeMS: now.Sub(s.AckTime).Milliseconds(),
		})
	}
	return out
}

func (r *Reactor) currentOffset() replication.Offset {
	if backlog := r.rm.Propagator.Backlog(); backlog != nil {
		return backlog.StreamOffset()
	}
	return r.rm.StreamOffset
}
