// Package snapshot produces and consumes the full-resync payload a
// primary sends a replica that cannot resume incrementally, and
// optionally archives completed snapshots to S3 for out-of-band
// disaster recovery.
package snapshot

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/nishisan-dev/kvreplicad/internal/wire"
)

// Dataset is anything that can serialise itself as a snapshot payload;
// internal/store.Store satisfies it.
type Dataset interface {
	WriteSnapshot(w io.Writer) (int64, error)
}

// Produce writes dataset's snapshot to w, compressed per mode, and
// returns the number of bytes actually written to w (the compressed
// size, which is what the FULLRESYNC preamble must announce).
func Produce(w io.Writer, dataset Dataset, mode byte) (int64, error) {
	switch mode {
	case wire.CompressionNone:
		return writeCounted(w, dataset)
	case wire.CompressionGzip:
		cw := &countingWriter{w: w}
		gz, err := pgzip.NewWriterLevel(cw, pgzip.BestSpeed)
		if err != nil {
			return 0, fmt.Errorf("snapshot: creating gzip writer: %w", err)
		}
		if _, err := dataset.WriteSnapshot(gz); err != nil {
			return 0, fmt.Errorf("snapshot: writing compressed payload: %w", err)
		}
		if err := gz.Close(); err != nil {
			return 0, fmt.Errorf("snapshot: closing gzip writer: %w", err)
		}
		return cw.n, nil
	case wire.CompressionZstd:
		cw := &countingWriter{w: w}
		zw, err := zstd.NewWriter(cw)
		if err != nil {
			return 0, fmt.Errorf("snapshot: creating zstd writer: %w", err)
		}
		if _, err := dataset.WriteSnapshot(zw); err != nil {
			return 0, fmt.Errorf("snapshot: writing compressed payload: %w", err)
		}
		if err := zw.Close(); err != nil {
			return 0, fmt.Errorf("snapshot: closing zstd writer: %w", err)
		}
		return cw.n, nil
	default:
		return 0, fmt.Errorf("snapshot: unknown compression mode %d", mode)
	}
}

func writeCounted(w io.Writer, dataset Dataset) (int64, error) {
	cw := &countingWriter{w: w}
	n, err := dataset.WriteSnapshot(cw)
	if err != nil {
		return n, err
	}
	return cw.n, nil
}

// countingWriter tracks bytes actually handed to the underlying writer,
// which for a compressed stream differs from the uncompressed payload
// size WriteSnapshot reports.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
