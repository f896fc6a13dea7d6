package observability

import (
	"encoding/json"
	"net/http"
	"time"
)

var startTime = time.Now()

// NodeStatus is the read-only interface the HTTP router needs from a
// reactor, kept narrow so this package never imports internal/reactor
// and the two packages can't form an import cycle.
type NodeStatus interface {
	RoleSnapshot() RoleSnapshot
	SessionsSnapshot() []SessionSummary
}

// RoleSnapshot describes this node's current place in the topology.
type RoleSnapshot struct {
	Role         string `json:"role"`
	RunID        string `json:"run_id"`
	StreamOffset int64  `json:"stream_offset"`
	ReplicaOf    string `json:"replica_of,omitempty"`
	LinkState    string `json:"link_state,omitempty"`
}

// SessionSummary describes one attached replica from the primary side.
type SessionSummary struct {
	Addr         string `json:"addr"`
	State        string `json:"state"`
	AckOffset    int64  `json:"ack_offset"`
	LastAckAgeMS int64  `json:"last_ack_age_ms"`
}

// NewRouter builds the status HTTP surface, wrapped in the ACL
// middleware.
func NewRouter(node NodeStatus, events *EventRing, hosts *HostMonitor, acl *ACL) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", handleHealth)
	mux.HandleFunc("GET /api/v1/role", makeRoleHandler(node))
	mux.HandleFunc("GET /api/v1/sessions", makeSessionsHandler(node))
	mux.HandleFunc("GET /api/v1/events", makeEventsHandler(events))
	mux.HandleFunc("GET /api/v1/host", makeHostHandler(hosts))

	return acl.Middleware(mux)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status": "ok",
		"uptime_seconds": time.Since(startTime).Seconds(),
	})
}

func makeRoleHandler(node NodeStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, node.RoleSnapshot())
	}
}

func makeSessionsHandler(node NodeStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, node.SessionsSnapshot())
	}
}

func makeEventsHandler(events *EventRing) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, events.Recent(200))
	}
}

func makeHostHandler(hosts *HostMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, hosts.Stats())
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
