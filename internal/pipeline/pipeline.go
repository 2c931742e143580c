// Package pipeline dispatches conversion jobs across a bounded worker pool
// and persists their outcomes. One failed acquisition never affects the
// others: every job runs, logs, and records in isolation.
package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"log/slog"

	"voltex/internal/convert"
	"voltex/internal/logging"
	"voltex/internal/storage"
)

// JobType enumerates supported job categories.
type JobType string

const (
	JobConvert JobType = "convert"
)

// Job represents a single conversion request.
type Job struct {
	ID        string
	Type      JobType
	InputPath string
}

// Result captures the outcome of a Job.
type Result struct {
	Job   Job
	Error error
	// Class is the error class of a failed job, empty on success.
	Class string
	Stats *convert.Stats
}

// Processor executes a job and returns a Result.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// Pipeline orchestrates job dispatch across workers.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	store     *storage.Store
	mu        sync.Mutex
	subs      map[int]chan Result
	nextSubID int
}

// New creates a new Pipeline with the given concurrency, converting through
// conv.
func New(ctx context.Context, concurrency int, logger *slog.Logger, store *storage.Store, conv Converter) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		log:    logger,
		jobs:   make(chan Job, concurrency*2),
		cancel: cancel,
		store:  store,
		subs:   make(map[int]chan Result),
	}

	p.startOnce.Do(func() {
		p.processor = newRouter(logger, conv)
		for i := 0; i < concurrency; i++ {
			p.wg.Add(1)
			go p.worker(ctx, i)
		}
	})

	return p
}

// Submit adds a job to the processing queue.
func (p *Pipeline) Submit(job Job) error {
	if p.store != nil {
		_ = p.store.RecordRunQueued(storage.RunRecord{
			ID:          job.ID,
			Acquisition: filepath.Base(job.InputPath),
			Status:      "queued",
			InputPath:   job.InputPath,
		})
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return errors.New("job queue is full")
	}
}

// Stop signals workers to exit and waits for completion.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		close(p.jobs)
		p.wg.Wait()
		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			start := time.Now()
			acquisition := filepath.Base(job.InputPath)

			logging.LogConversionStart(p.log, job.ID, acquisition, "")

			if p.store != nil {
				_ = p.store.RecordRunStart(job.ID)
			}
			res := p.processor.Process(ctx, job)
			duration := time.Since(start)

			if res.Error != nil {
				logging.LogConversionError(p.log, job.ID, acquisition, res.Class, duration, res.Error)
				if p.store != nil {
					_ = p.store.RecordRunResult(job.ID, "failed", "", res.Class, res.Error.Error(), 0, 0, 0)
				}
			} else {
				logging.LogConversionComplete(p.log, job.ID, acquisition, duration, res.Stats.Timepoints, res.Stats.ROIs)
				if p.store != nil {
					_ = p.store.RecordRunResult(job.ID, "completed", res.Stats.OutputPath, "", "",
						res.Stats.Timepoints, res.Stats.ROIs, res.Stats.Channels)
				}
			}

			p.broadcast(res)
		}
	}
}

// Subscribe returns a channel for receiving job results and an unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Result, 8)
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func (p *Pipeline) broadcast(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- res:
		default:
			p.log.Warn("result channel full", "subscriber", id, "job", res.Job.ID)
		}
	}
}
