// Package jobs runs recurring background tasks.
package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Periodic runs Task every Interval until the context passed to Start is
// cancelled. A pass that is already running is allowed to finish.
type Periodic struct {
	Name       string
	Interval   time.Duration
	RunOnStart bool
	Task       func(ctx context.Context) error
	Log        *zap.SugaredLogger

	wg sync.WaitGroup
}

// Start launches the ticker loop in its own goroutine
func (p *Periodic) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.loop(ctx)
}

// Wait blocks until the loop has exited and any running pass has finished
func (p *Periodic) Wait() {
	p.wg.Wait()
}

func (p *Periodic) loop(ctx context.Context) {
	defer p.wg.Done()

	p.Log.Infof("Starting job %s every %v", p.Name, p.Interval)

	if p.RunOnStart {
		p.run(ctx)
	}

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.Log.Infof("Stopped job %s", p.Name)
			return
		case <-ticker.C:
			p.run(ctx)
		}
	}
}

func (p *Periodic) run(ctx context.Context) {
	// Check again so a tick that raced with cancellation does not start a pass
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	if err := p.Task(ctx); err != nil {
		p.Log.Errorf("Job %s failed after %v: %v", p.Name, time.Since(start), err)
		return
	}
	p.Log.Debugf("Job %s finished in %v", p.Name, time.Since(start))
}
