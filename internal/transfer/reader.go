package transfer

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// progressReader reports the running byte count after every read and,
// when a limiter is set, waits for bandwidth tokens.
type progressReader struct {
	ctx     context.Context
	reader  io.Reader
	limiter *rate.Limiter
	total   int64
	read    int64
	report  func(loaded, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	if p.limiter != nil && len(b) > p.limiter.Burst() {
		b = b[:p.limiter.Burst()]
	}
	n, err := p.reader.Read(b)
	if n > 0 {
		if p.limiter != nil {
			if werr := p.limiter.WaitN(p.ctx, n); werr != nil {
				return n, werr
			}
		}
		p.read += int64(n)
		if p.report != nil {
			p.report(p.read, p.total)
		}
	}
	return n, err
}

// NewLimiter returns a limiter for bytesPerSecond, or nil when unlimited.
func NewLimiter(bytesPerSecond int64) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := int(bytesPerSecond)
	if burst > 1<<20 {
		burst = 1 << 20
	}
	if burst < 4096 {
		burst = 4096
	}
	return rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}
