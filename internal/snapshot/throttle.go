package snapshot

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// ThrottledWriter wraps an io.Writer with a token-bucket rate limit, so
// a full-resync snapshot transfer never saturates the link between a
// primary and a replica that share a constrained network path.
type ThrottledWriter struct {
	w       io.Writer
	limiter *rate.Limiter
}

// NewThrottledWriter caps w at bytesPerSec, bursting up to one second's
// worth of traffic. A non-positive bytesPerSec disables throttling.
func NewThrottledWriter(w io.Writer, bytesPerSec int) io.Writer {
	if bytesPerSec <= 0 {
		return w
	}
	return &ThrottledWriter{
		w:       w,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec),
	}
}

func (t *ThrottledWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		chunk := p
		if burst := t.limiter.Burst(); len(chunk) > burst {
			chunk = chunk[:burst]
		}
		if err := t.limiter.WaitN(context.Background(), len(chunk)); err != nil {
			return written, err
		}
		n, err := t.w.Write(chunk)
		written += n
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}
