package snapshot

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/nishisan-dev/kvreplicad/internal/store"
	"github.com/nishisan-dev/kvreplicad/internal/wire"
)

func TestProduceLoadRoundTripUncompressed(t *testing.T) {
	src := store.New()
	src.Apply([]string{"SET", "a", "1"})
	src.Apply([]string{"SET", "b", "2"})

	dir := t.TempDir()
	path := filepath.Join(dir, "snap.kvsnap")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := Produce(f, src, wire.CompressionNone); err != nil {
		t.Fatalf("Produce: %v", err)
	}
	f.Close()

	dst := store.New()
	if err := Load(path, dst, wire.CompressionNone); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if dst.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", dst.Len())
	}
}

func TestProduceLoadRoundTripGzip(t *testing.T) {
	src := store.New()
	src.Apply([]string{"SET", "k", "v"})

	dir := t.TempDir()
	path := filepath.Join(dir, "snap.gz")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := Produce(f, src, wire.CompressionGzip); err != nil {
		t.Fatalf("Produce: %v", err)
	}
	f.Close()

	dst := store.New()
	if err := Load(path, dst, wire.CompressionGzip); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v, ok := dst.Get("k"); !ok || v != "v" {
		t.Fatalf("expected k=v, got %q ok=%v", v, ok)
	}
}

func TestTempWriterCommitRename(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("hello snapshot bytes")

	tw, err := NewTempWriter(dir, "final.kvsnap", int64(len(payload)))
	if err != nil {
		t.Fatalf("NewTempWriter: %v", err)
	}
	if _, err := tw.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !tw.Done() {
		t.Fatal("expected Done() true after writing the full expected length")
	}
	finalPath, err := tw.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	got, err := os.ReadFile(finalPath)
	if err != nil {
		t.Fatalf("reading final file: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("expected %q, got %q", payload, got)
	}
}

func TestTempWriterAbortRemovesFile(t *testing.T) {
	dir := t.TempDir()
	tw, err := NewTempWriter(dir, "final.kvsnap", 10)
	if err != nil {
		t.Fatalf("NewTempWriter: %v", err)
	}
	tmp := tw.tmpPath
	if err := tw.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Fatal("expected temp file to be removed after Abort")
	}
}
