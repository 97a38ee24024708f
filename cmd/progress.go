package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// assumedListingSize stands in for the total when the registry does not send a
// Content-Length; the full listing is a few hundred megabytes.
const assumedListingSize int64 = 256 << 20

const progressBarWidth = 30

// downloadProgress renders the listing download as a bar on a single terminal line.
type downloadProgress struct {
	w        io.Writer
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	drawn    bool
}

func newDownloadProgress(w io.Writer) *downloadProgress {
	return &downloadProgress{w: w, interval: 100 * time.Millisecond}
}

// OnBytes redraws the bar at most once per interval.
func (p *downloadProgress) OnBytes(received, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if time.Since(p.last) < p.interval {
		return
	}
	p.last = time.Now()
	p.drawn = true
	fmt.Fprintf(p.w, "\r%s", progressLine(received, total))
}

// OnDone clears the bar.
func (p *downloadProgress) OnDone() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drawn {
		fmt.Fprintf(p.w, "\r%s\r", strings.Repeat(" ", progressBarWidth+40))
	}
}

func progressLine(received, total int64) string {
	bound := total
	if bound <= 0 {
		bound = assumedListingSize
	}
	ratio := min(float64(received)/float64(bound), 1)
	filled := int(ratio * progressBarWidth)

	bar := styleName.Render(strings.Repeat("█", filled)) + styleDim.Render(strings.Repeat("░", progressBarWidth-filled))
	return fmt.Sprintf("%s %3.0f%% %s", bar, ratio*100, styleDim.Render(fmt.Sprintf("%.1f MiB", float64(received)/(1<<20))))
}
