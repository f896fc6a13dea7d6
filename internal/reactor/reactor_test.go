package reactor

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/nishisan-dev/kvreplicad/internal/replication"
	"github.com/nishisan-dev/kvreplicad/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOnAcceptedRegistersSessionBeforeHandshake(t *testing.T) {
	react := New(Config{SnapshotDir: t.TempDir()}, testLogger())

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	react.onAccepted(server)

	if n := len(react.RoleManager().Sessions()); n != 1 {
		t.Fatalf("expected the session registered immediately on accept, got %d", n)
	}
}

func TestApplyPropagatesToAttachedOnlineSession(t *testing.T) {
	react := New(Config{ListenAddr: "127.0.0.1:0", SnapshotDir: t.TempDir(), Hz: 50, ReplTimeout: time.Minute}, testLogger())

	server, client := net.Pipe()
	defer client.Close()
	session := replication.NewPrimarySession(server)
	session.State = replication.StateOnline
	react.RoleManager().AttachReplica(session)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go react.Run(ctx)

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 256)
		n, _ := client.Read(buf)
		got <- buf[:n]
	}()

	if err := react.Apply(0, []string{"SET", "foo", "bar"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	want := append(wire.EncodeMultiBulk("select", "0"), wire.EncodeMultiBulk("SET", "foo", "bar")...)
	select {
	case frame := <-got:
		if string(frame) != string(want) {
			t.Fatalf("propagated frame = %q, want %q", frame, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the propagated frame")
	}

	if v, ok := react.Store().Get("foo"); !ok || v != "bar" {
		t.Fatalf("store.Get(foo) = %q, %v, want bar, true", v, ok)
	}
}

func TestApplyRejectedWhileReplica(t *testing.T) {
	react := New(Config{SnapshotDir: t.TempDir()}, testLogger())
	react.RoleManager().BecomeReplicaOf("10.0.0.1:7000")

	done := make(chan error, 1)
	react.onClientWrite(0, []string{"SET", "foo", "bar"}, done)
	if err := <-done; err == nil {
		t.Fatal("expected writes to be rejected while serving as a replica")
	}
}

func TestReplicaFrameCascadesToAttachedSubReplica(t *testing.T) {
	react := New(Config{SnapshotDir: t.TempDir()}, testLogger())
	react.rm.BecomeReplicaOf("10.0.0.1:7000")
	react.rm.Replica.RunID = "upstream-run"
	react.rm.Replica.Offset = 0

	server, client := net.Pipe()
	defer client.Close()
	session := replication.NewPrimarySession(server)
	session.State = replication.StateOnline
	react.rm.AttachReplica(session)

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 256)
		n, _ := client.Read(buf)
		got <- buf[:n]
	}()

	react.onReplicaFrame([]string{"SET", "k1", "v1"})

	want := wire.EncodeMultiBulk("SET", "k1", "v1")
	select {
	case frame := <-got:
		if string(frame) != string(want) {
			t.Fatalf("cascaded frame = %q, want %q", frame, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the cascaded frame")
	}

	if v, ok := react.Store().Get("k1"); !ok || v != "v1" {
		t.Fatalf("store.Get(k1) = %q, %v, want v1, true", v, ok)
	}
}
