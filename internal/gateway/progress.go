package gateway

import "io"

// ProgressHooks receives download progress of the candidate listing.
type ProgressHooks interface {
	// OnBytes reports the bytes received so far. total is -1 when the size is unknown.
	OnBytes(received, total int64)
	// OnDone is called once the download has finished, successfully or not.
	OnDone()
}

// NoopProgress is a no-op implementation of ProgressHooks.
type NoopProgress struct{}

func (NoopProgress) OnBytes(int64, int64) {}
func (NoopProgress) OnDone()              {}

type progressReader struct {
	r        io.Reader
	total    int64
	received int64
	hooks    ProgressHooks
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.received += int64(n)
		p.hooks.OnBytes(p.received, p.total)
	}
	return n, err
}
