// Package progress renders a chunk progress bar for long-running flash
// operations. It is suppressed entirely under --quiet, in which case
// every method becomes a no-op.
package progress

import (
	"io"
	"os"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Bar tracks progress through a known total number of bytes.
type Bar struct {
	bar *mpb.Bar
	p   *mpb.Progress
}

// New starts a bar labelled name tracking total units. If quiet is
// true, the returned Bar renders nothing and every call is a cheap
// no-op.
func New(name string, total int64, quiet bool) *Bar {
	if quiet || total <= 0 {
		return &Bar{}
	}
	p := mpb.New(mpb.WithOutput(os.Stderr), mpb.WithWidth(48))
	bar := p.AddBar(total,
		mpb.PrependDecorators(decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DindentRight})),
		mpb.AppendDecorators(decor.Percentage()),
	)
	return &Bar{bar: bar, p: p}
}

// NewTo is like New but renders to w instead of stderr and has no
// quiet switch; used by tests to render into a buffer.
func NewTo(name string, total int64, w io.Writer) *Bar {
	if total <= 0 {
		return &Bar{}
	}
	p := mpb.New(mpb.WithOutput(w), mpb.WithWidth(48))
	bar := p.AddBar(total,
		mpb.PrependDecorators(decor.Name(name)),
		mpb.AppendDecorators(decor.Percentage()),
	)
	return &Bar{bar: bar, p: p}
}

// IncrBy advances the bar by n units. A no-op on a quiet/disabled Bar.
func (b *Bar) IncrBy(n int) {
	if b.bar == nil {
		return
	}
	b.bar.IncrBy(n)
}

// Done waits for the bar's render goroutine to finish.
func (b *Bar) Done() {
	if b.p == nil {
		return
	}
	b.p.Wait()
}
