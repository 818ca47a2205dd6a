package progress

import (
	"strings"
	"sync/atomic"

	"github.com/pterodactyl/streamfs/pull"
	"github.com/pterodactyl/streamfs/system"
)

// Progress tracks how many bytes of a transfer went through so far.
type Progress struct {
	written atomic.Uint64
	total   atomic.Uint64
}

// NewProgress returns a new progress tracker for the given total size.
func NewProgress(total uint64) *Progress {
	p := &Progress{}
	p.total.Store(total)
	return p
}

// Written returns the total number of bytes counted.
func (p *Progress) Written() uint64 {
	return p.written.Load()
}

// Total returns the total size in bytes.
func (p *Progress) Total() uint64 {
	return p.total.Load()
}

// SetTotal updates the total size, for when it is only known once the
// transfer is underway.
func (p *Progress) SetTotal(total uint64) {
	p.total.Store(total)
}

// Source counts every chunk source hands out.
func (p *Progress) Source(source pull.Source[[]byte]) pull.Source[[]byte] {
	return func(abort error, cb pull.Callback[[]byte]) {
		source(abort, func(chunk []byte, ok bool, err error) {
			if ok {
				p.written.Add(uint64(len(chunk)))
			}
			cb(chunk, ok, err)
		})
	}
}

// Progress returns a formatted progress string for the current progress.
func (p *Progress) Progress(width int) string {
	current := p.Written()
	total := p.Total()

	// Each tick stands for 100/width percent. An empty transfer counts as done.
	ticks := width
	if total > 0 {
		ticks = int(float64(current) / float64(total) * float64(width))
	}
	if ticks < 0 {
		ticks = 0
	} else if ticks > width {
		ticks = width
	}

	bar := strings.Repeat("=", ticks) + strings.Repeat(" ", width-ticks)
	return "[" + bar + "] " + system.FormatBytes(current) + " / " + system.FormatBytes(total)
}
