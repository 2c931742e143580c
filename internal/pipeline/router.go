package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"voltex/internal/convert"
)

// Converter converts one acquisition directory.
type Converter interface {
	Convert(ctx context.Context, dir string) (*convert.Stats, error)
}

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log  *slog.Logger
	conv Converter
}

func newRouter(logger *slog.Logger, conv Converter) Processor {
	return &router{log: logger, conv: conv}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobConvert:
		return r.handleConvert(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type), Class: convert.ClassIOFailure}
	}
}

func (r *router) handleConvert(ctx context.Context, job Job) Result {
	stats, err := r.conv.Convert(ctx, job.InputPath)
	if err != nil {
		return Result{Job: job, Error: err, Class: convert.Classify(err)}
	}
	return Result{Job: job, Stats: stats}
}
