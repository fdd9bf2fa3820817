// Package throttle provides token-bucket rate limiting for bulk
// transfer streams.
package throttle

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// Reader wraps an io.Reader and limits read throughput to a configured
// number of bytes per second.
type Reader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

// NewReader returns r wrapped with a token-bucket limiter of
// bytesPerSecond. The burst is the given chunk size, capped at
// bytesPerSecond; a single Read never returns more than the burst, so
// when the rate is below the chunk size a chunk takes several calls. A
// non-positive rate disables limiting and returns r unchanged.
func NewReader(ctx context.Context, r io.Reader, bytesPerSecond int64, chunkSize int) io.Reader {
	if bytesPerSecond <= 0 {
		return r
	}

	burst := chunkSize
	if int64(burst) > bytesPerSecond {
		burst = int(bytesPerSecond)
	}

	return &Reader{
		r:       r,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
		ctx:     ctx,
	}
}

// Read reads from the underlying reader, then blocks until the limiter
// releases that many bytes or the context is cancelled.
func (t *Reader) Read(p []byte) (int, error) {
	if err := t.ctx.Err(); err != nil {
		return 0, err
	}

	if max := t.limiter.Burst(); len(p) > max {
		p = p[:max]
	}

	n, err := t.r.Read(p)
	if n <= 0 {
		return n, err
	}

	if waitErr := t.limiter.WaitN(t.ctx, n); waitErr != nil {
		return n, waitErr
	}

	return n, err
}
