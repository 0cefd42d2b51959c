package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hbomb79/Iris/pkg/logger"
)

var log = logger.Get("Worker")

var ErrPoolClosed = errors.New("worker pool is closed")

type job struct {
	run  func()
	done chan struct{}
}

// Pool is a bounded pool of goroutines used to run blocking work (ffmpeg
// subprocess invocations) without stalling request handling. Work is handed
// to an idle worker via Schedule, which waits for the work to complete.
type Pool struct {
	label string
	jobs  chan job

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPool spawns `size` workers immediately. They idle until work is
// scheduled and exit when the pool is closed.
func NewPool(label string, size int) *Pool {
	if size < 1 {
		size = 1
	}

	pool := &Pool{
		label: label,
		jobs:  make(chan job),
	}

	for i := 0; i < size; i++ {
		workerLabel := fmt.Sprintf("%s-worker-%d", label, i)
		pool.wg.Add(1)
		go pool.work(workerLabel)
	}

	log.Emit(logger.NEW, "Worker pool '%s' started with %d workers\n", label, size)
	return pool
}

func (pool *Pool) work(label string) {
	defer pool.wg.Done()

	for j := range pool.jobs {
		log.Emit(logger.VERBOSE, "Worker '%s' picked up work\n", label)
		j.run()
		close(j.done)
	}

	log.Emit(logger.STOP, "Worker '%s' is exiting\n", label)
}

// Schedule hands fn to an idle worker and blocks until it has finished
// running, or until the context is cancelled while still waiting for a
// worker. Once a worker has accepted the work it always runs to completion;
// fn is responsible for honouring its own context.
func (pool *Pool) Schedule(ctx context.Context, fn func()) error {
	j := job{run: fn, done: make(chan struct{})}

	select {
	case pool.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}

	<-j.done
	return nil
}

// Close stops all workers once in-flight work has drained. Schedule must not
// be called after Close.
func (pool *Pool) Close() {
	pool.closeOnce.Do(func() {
		close(pool.jobs)
	})
	pool.wg.Wait()
}
