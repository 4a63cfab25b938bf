package worker_test

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/cenkalti/piecemeal/internal/worker"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
)

type Parent struct {
	workers worker.Workers
}

func (p *Parent) Run(stopC chan struct{}) {
	c := &Child{}
	p.workers.Start(c)
	<-stopC
}

func (p *Parent) Stop() {
	p.workers.Stop()
}

type Child struct{}

func (c *Child) Run(stopC chan struct{}) {
	close(childRun)
	fmt.Println("hello from child")
	<-stopC
	fmt.Println("child is stopped")
}

var childRun = make(chan struct{})

func Example() {
	p := &Parent{}
	go p.Run(nil)
	<-childRun
	p.Stop()
	// Output:
	// hello from child
	// child is stopped
}

func TestPeriodic(t *testing.T) {
	defer leaktest.Check(t)()

	clk := clock.NewMock()
	var calls int32
	called := make(chan struct{}, 10)
	var w worker.Workers
	w.Start(&worker.Periodic{
		Interval: time.Second,
		Clock:    clk,
		Func: func() {
			atomic.AddInt32(&calls, 1)
			called <- struct{}{}
		},
	})

	// Wait until the ticker is created.
	time.Sleep(10 * time.Millisecond)
	clk.Add(time.Second)
	<-called
	clk.Add(time.Second)
	<-called

	var finished int32
	w.StartWithOnFinishHandler(&worker.Periodic{Interval: time.Hour, Clock: clk, Func: func() {}}, func() {
		atomic.StoreInt32(&finished, 1)
	})
	w.Stop()
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&finished))
}
