package replication

// SnapshotRun tracks one in-flight full-snapshot production and every
// session waiting on it, so that several replicas that request a full
// resync while a snapshot is already being produced can share its
// single output instead of each triggering their own.
type SnapshotRun struct {
	RunID   string
	Offset  Offset
	waiters []*PrimarySession
	done    bool
	path    string
	err     error
}

// SnapshotCoordinator decides, for every session entering
// StateWaitSnapshotStart, whether to join an in-flight run, start a new
// one, or wait for the current incompatible run to finish first.
type SnapshotCoordinator struct {
	current *SnapshotRun
}

// NewSnapshotCoordinator creates a coordinator with no run in progress.
func NewSnapshotCoordinator() *SnapshotCoordinator {
	return &SnapshotCoordinator{}
}

// Admit registers session as wanting a full snapshot as of runID/offset.
// It returns (run, starting) where starting reports whether the caller
// must now actually kick off snapshot production (true), or whether
// session has simply joined an existing run and will be notified via
// Finish (false). A session can also be left without a run at all when
// an incompatible run is already active; in that case Admit returns
// (nil, false) and the session stays in WAIT_SNAPSHOT_START until the
// current run completes and a fresh Admit is attempted.
func (c *SnapshotCoordinator) Admit(session *PrimarySession, runID string, offset Offset) (*SnapshotRun, bool) {
	if c.current != nil && !c.current.done {
		if c.current.RunID == runID {
			c.current.waiters = append(c.current.waiters, session)
			session.State = StateWaitSnapshotEnd
			return c.current, false
		}
		// An incompatible snapshot is already running; this session
		// waits for the completion callback to retry Admit.
		return nil, false
	}

	run := &SnapshotRun{RunID: runID, Offset: offset, waiters: []*PrimarySession{session}}
	c.current = run
	session.State = StateWaitSnapshotEnd
	return run, true
}

// Finish marks run complete, recording the resulting snapshot path (or
// error), and returns every waiting session so the caller can advance
// each into SEND_SNAPSHOT (or tear it down on failure).
func (c *SnapshotCoordinator) Finish(run *SnapshotRun, path string, err error) []*PrimarySession {
	run.done = true
	run.path = path
	run.err = err
	if c.current == run {
		c.current = nil
	}
	return run.waiters
}

// PendingSessions returns every session still waiting in
// WAIT_SNAPSHOT_START because an incompatible run was active when they
// were admitted; callers should re-Admit each of these once the current
// run finishes.
func (c *SnapshotCoordinator) PendingSessions(all map[*PrimarySession]struct{}) []*PrimarySession {
	var pending []*PrimarySession
	for s := range all {
		if s.State == StateWaitSnapshotStart {
			pending = append(pending, s)
		}
	}
	return pending
}
