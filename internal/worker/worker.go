// Package worker runs goroutines that can be stopped together.
package worker

import (
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
)

// Worker is a long running task.
type Worker interface {
	// Run is a blocking method that usually contains a for/select loop.
	// It must return when stopC is closed.
	Run(stopC chan struct{})
}

// Workers is a group of running workers.
type Workers struct {
	m     sync.Mutex
	stopC chan struct{}
	wg    sync.WaitGroup
}

// StartWithOnFinishHandler runs r in a new goroutine and calls onFinish after it returns.
func (w *Workers) StartWithOnFinishHandler(r Worker, onFinish func()) {
	w.m.Lock()
	if w.stopC == nil {
		w.stopC = make(chan struct{})
	}
	stopC := w.stopC
	w.m.Unlock()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		r.Run(stopC)
		if onFinish != nil {
			onFinish()
		}
	}()
}

// Start runs r in a new goroutine.
func (w *Workers) Start(r Worker) {
	w.StartWithOnFinishHandler(r, nil)
}

// Stop signals all workers to stop and waits for them to return.
func (w *Workers) Stop() {
	w.m.Lock()
	if w.stopC != nil {
		close(w.stopC)
		w.stopC = nil
	}
	w.m.Unlock()
	w.wg.Wait()
}

// Periodic is a Worker that calls Func every Interval.
type Periodic struct {
	Interval time.Duration
	Clock    clock.Clock
	Func     func()
}

// Run implements Worker.
func (p *Periodic) Run(stopC chan struct{}) {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	ticker := clk.Ticker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Func()
		case <-stopC:
			return
		}
	}
}
