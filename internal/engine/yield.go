package engine

import (
	"context"
	"runtime"
)

// YieldPolicy gives control back to the scheduler every Every units of
// work. It is the only place the export loop yields or looks at ctx.
type YieldPolicy struct {
	Every int
	// Yield defaults to runtime.Gosched.
	Yield func()

	n int
}

// Tick records one unit of work. On a yield point it yields, then reports
// whether ctx has ended.
func (y *YieldPolicy) Tick(ctx context.Context) error {
	y.n++
	every := max(1, y.Every)
	if y.n%every != 0 {
		return nil
	}
	if y.Yield != nil {
		y.Yield()
	} else {
		runtime.Gosched()
	}
	if ctx.Err() != nil {
		return canceled(ctx)
	}
	return nil
}
