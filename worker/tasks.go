package worker

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/smallnest/chanx"
)

// newTaskRunner returns a new taskRunner instance
func newTaskRunner() *taskRunner {
	ctx, cancel := context.WithCancel(context.Background())

	return &taskRunner{
		ch:     chanx.NewUnboundedChan[func()](ctx, 16),
		cancel: cancel,
	}
}

// taskRunner executes detached background work (revalidation, drains,
// client notifications) one task at a time
// Submitted work is never awaited by the submitting request path, but Stop
// waits for everything already submitted so shutdown cannot strand a task
type taskRunner struct {
	ch     *chanx.UnboundedChan[func()]
	cancel context.CancelFunc
	wg     sync.WaitGroup

	m      sync.Mutex
	closed bool
}

func (r *taskRunner) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for fn := range r.ch.Out {
			runGuarded(fn)
		}
	}()
}

// Submit hands a task to the runner without blocking
// Tasks submitted after Stop are dropped
func (r *taskRunner) Submit(fn func()) {
	r.m.Lock()
	defer r.m.Unlock()

	if r.closed {
		log.Debug("dropping task submitted after shutdown")
		return
	}
	r.ch.In <- fn
}

// Stop drains the pending tasks and waits for the runner to finish
func (r *taskRunner) Stop() {
	r.m.Lock()
	if r.closed {
		r.m.Unlock()
		return
	}
	r.closed = true
	close(r.ch.In)
	r.m.Unlock()

	r.wg.Wait()
	r.cancel()
}

func runGuarded(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("background task panicked: %v", rec)
		}
	}()
	fn()
}
