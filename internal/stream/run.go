package stream

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/gavinyap/bigseek/internal/llm"
	"github.com/gavinyap/bigseek/internal/telegram"
)

// DeltaSource is a pull-based delta sequence such as *llm.Stream.
type DeltaSource interface {
	Next() bool
	Delta() llm.Delta
	Err() error
}

// RunOptions configures Run.
type RunOptions struct {
	// Interval is the sampling period between flushes.
	Interval time.Duration
	// Controls are attached while the stream is running.
	Controls []telegram.Button
	// FinalControls are attached by the last flush.
	FinalControls []telegram.Button
	// OnFirstDelta runs once, before the first delta is processed.
	OnFirstDelta func(ctx context.Context)
	// OnFlush runs before every tick that has something new to show.
	OnFlush func(ctx context.Context)
}

// Run feeds src into a until the source is exhausted, fails, or ctx is
// cancelled, flushing at most once per Interval and only when deltas
// arrived since the previous flush. It returns the full assistant answer.
//
// The source is read on a separate goroutine that Run waits for before
// returning. A source that is also an io.Closer is closed first, which
// releases a reader blocked on a quiet upstream.
func (a *Aggregator) Run(ctx context.Context, src DeltaSource, opts RunOptions) (string, error) {
	a.controls = opts.Controls
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}

	pumpCtx, stop := context.WithCancel(ctx)
	defer stop()

	deltas := make(chan llm.Delta)
	srcErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(deltas)
		for src.Next() {
			select {
			case deltas <- src.Delta():
			case <-pumpCtx.Done():
				return
			}
		}
		srcErr <- src.Err()
	}()

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	first := true
	dirty := false

	for {
		select {
		case <-ctx.Done():
			return "", context.Cause(ctx)

		case d, ok := <-deltas:
			if !ok {
				if ctx.Err() != nil {
					return "", context.Cause(ctx)
				}
				if err := <-srcErr; err != nil {
					return "", err
				}
				return a.Finish(ctx, opts.FinalControls)
			}

			if first && !d.Empty() {
				first = false
				if opts.OnFirstDelta != nil {
					opts.OnFirstDelta(ctx)
				}
			}
			if err := a.Process(ctx, d); err != nil {
				return "", err
			}
			dirty = true

		case <-ticker.C:
			if !dirty {
				continue
			}
			dirty = false
			if opts.OnFlush != nil {
				opts.OnFlush(ctx)
			}
			if err := a.Tick(ctx, opts.Controls); err != nil {
				return "", err
			}
		}
	}
}
