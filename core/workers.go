package core

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// workerPool runs fire-and-forget tasks (persistence, notifications) on a
// fixed number of goroutines so the orchestrator loop never blocks on slow
// collaborators. Submission is non-blocking: when the queue is full the task
// is dropped and logged, never propagated into decision logic.
type workerPool struct {
	mu     sync.Mutex
	closed bool
	tasks  chan func()
	wg     sync.WaitGroup
}

func newWorkerPool(workers, queueSize int) *workerPool {
	if workers < 1 {
		workers = 1
	}
	p := &workerPool{tasks: make(chan func(), queueSize)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// Submit queues a task, reporting false when the pool is saturated or
// already stopped.
func (p *workerPool) Submit(task func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		log.Warn().Msg("Worker pool saturated, task dropped")
		return false
	}
}

// Stop drains queued tasks and waits for the workers to finish.
func (p *workerPool) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
