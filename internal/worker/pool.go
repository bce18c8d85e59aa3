package worker

import (
	"context"
	"log/slog"
	"sync"
)

// Job is one unit of background work. Name identifies it in logs.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pool runs jobs on a fixed number of goroutines behind a bounded queue.
type Pool struct {
	jobs   chan Job
	ctx    context.Context
	logger *slog.Logger
	wg     sync.WaitGroup
	once   sync.Once
}

// NewPool creates a pool whose jobs run under ctx.
func NewPool(ctx context.Context, bufferSize int, logger *slog.Logger) *Pool {
	return &Pool{
		jobs:   make(chan Job, bufferSize),
		ctx:    ctx,
		logger: logger,
	}
}

func (p *Pool) Start(workerCount int) {
	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for job := range p.jobs {
		if err := job.Run(p.ctx); err != nil {
			p.logger.Error("background job failed",
				"job", job.Name,
				"error", err,
			)
		}
	}
}

// SubmitWait queues a job, blocking until there is room or ctx is done.
func (p *Pool) SubmitWait(ctx context.Context, job Job) error {
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting jobs and waits for queued ones to finish.
func (p *Pool) Shutdown() {
	p.once.Do(func() { close(p.jobs) })
	p.wg.Wait()
}
