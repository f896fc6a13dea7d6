package snapshot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/nishisan-dev/kvreplicad/internal/wire"
)

// RangeSyncInterval is how often TempWriter issues an fsync of the
// bytes written so far, bounding how much unflushed data a crash mid
// transfer could lose and keeping final-rename latency low.
const RangeSyncInterval = 8 * 1024 * 1024

// TempWriter receives an in-flight snapshot payload, range-syncing
// periodically, and renames to its final path only once the expected
// byte count has arrived — mirroring the teacher's temp-then-rename
// commit pattern, generalised to a byte-streamed payload instead of a
// single archive file.
type TempWriter struct {
	dir       string
	f         *os.File
	tmpPath   string
	finalPath string

	expected int64
	written  int64
	sinceSync int64
}

// NewTempWriter creates a temp file in dir using exclusive creation, so
// two concurrent snapshot transfers never collide on the same name.
func NewTempWriter(dir, finalName string, expected int64) (*TempWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: creating directory %s: %w", dir, err)
	}
	tmpName := fmt.Sprintf("temp-%d-%d.kvsnap", time.Now().Unix(), os.Getpid())
	tmpPath := filepath.Join(dir, tmpName)

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("snapshot: creating temp file %s: %w", tmpPath, err)
	}
	return &TempWriter{
		dir:       dir,
		f:         f,
		tmpPath:   tmpPath,
		finalPath: filepath.Join(dir, finalName),
		expected:  expected,
	}, nil
}

// Write appends to the temp file, range-syncing every RangeSyncInterval
// bytes so a crash mid-transfer never loses more than that much data
// and so the final rename is never stalled behind an enormous unflushed
// buffer.
func (t *TempWriter) Write(p []byte) (int, error) {
	n, err := t.f.Write(p)
	t.written += int64(n)
	t.sinceSync += int64(n)
	if err != nil {
		return n, fmt.Errorf("snapshot: writing temp payload: %w", err)
	}
	if t.sinceSync >= RangeSyncInterval {
		if syncErr := t.f.Sync(); syncErr != nil {
			return n, fmt.Errorf("snapshot: range sync: %w", syncErr)
		}
		t.sinceSync = 0
	}
	return n, nil
}

// Done reports whether the expected byte count has fully arrived.
func (t *TempWriter) Done() bool { return t.written >= t.expected }

// Commit flushes, closes, and atomically renames the temp file into
// place, returning the final path.
func (t *TempWriter) Commit() (string, error) {
	if t.written < t.expected {
		return "", fmt.Errorf("snapshot: commit after %d of %d expected bytes", t.written, t.expected)
	}
	if err := t.f.Sync(); err != nil {
		return "", fmt.Errorf("snapshot: final sync: %w", err)
	}
	if err := t.f.Close(); err != nil {
		return "", fmt.Errorf("snapshot: closing temp file: %w", err)
	}
	if err := os.Rename(t.tmpPath, t.finalPath); err != nil {
		return "", fmt.Errorf("snapshot: renaming temp to final: %w", err)
	}
	return t.finalPath, nil
}

// Abort closes and removes the temp file, used on handshake
// cancellation or transfer error.
func (t *TempWriter) Abort() error {
	t.f.Close()
	return os.Remove(t.tmpPath)
}

// DatasetLoader is the loading counterpart of Dataset (producer.go).
type DatasetLoader interface {
	LoadSnapshot(r io.Reader) error
}

// Load opens path, decompresses per mode, and loads it into dataset.
func Load(path string, dataset DatasetLoader, mode byte) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("snapshot: opening %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	switch mode {
	case wire.CompressionNone:
		// r is already the raw reader.
	case wire.CompressionGzip:
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("snapshot: opening gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	case wire.CompressionZstd:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("snapshot: opening zstd stream: %w", err)
		}
		defer zr.Close()
		r = zr
	default:
		return fmt.Errorf("snapshot: unknown compression mode %d", mode)
	}

	if err := dataset.LoadSnapshot(r); err != nil {
		return fmt.Errorf("snapshot: loading dataset: %w", err)
	}
	return nil
}
