// Package cli wires the voltex commands to the conversion pipeline.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"path/filepath"
	"sort"
	"time"

	"voltex/internal/config"
	"voltex/internal/fsutil"
	"voltex/internal/pipeline"
	"voltex/internal/server"
	"voltex/internal/storage"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

type serverFunc func(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, log *slog.Logger) error

func defaultServe(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, log *slog.Logger) error {
	if real, ok := pipe.(*pipeline.Pipeline); ok {
		return server.NewServer(addr, store, real, log).Start(ctx)
	}
	return fmt.Errorf("pipeline does not support server operation")
}

// Root wires CLI commands to the pipeline.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	dataset  *config.Dataset
	log      *slog.Logger
	store    *storage.Store
	serveFn  serverFunc
}

// NewRoot constructs the CLI root command state.
func NewRoot(pl *pipeline.Pipeline, cfg *config.Config, ds *config.Dataset, logger *slog.Logger, store *storage.Store) *Root {
	return &Root{
		pipeline: pl,
		cfg:      cfg,
		dataset:  ds,
		log:      logger,
		store:    store,
		serveFn:  defaultServe,
	}
}

// layout names the files an acquisition directory must carry before it is
// eligible for conversion.
func (r *Root) layout() fsutil.Layout {
	return fsutil.Layout{
		FunctionalImage: r.dataset.Layout.FunctionalImage,
		Quantification:  r.dataset.Layout.Quantification,
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Info("job queued", "type", job.Type, "id", job.ID, "input", job.InputPath)
	return nil
}

func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) error {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				return res.Error
			}
		}
	}
}

// runBatch converts dirs through the pipeline and reports per-acquisition
// outcomes. One failure never stops the rest; the returned error only
// summarizes how many acquisitions failed.
func (r *Root) runBatch(ctx context.Context, out io.Writer, dirs []string) error {
	results, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()

	pending := make(map[string]string, len(dirs))
	for _, dir := range dirs {
		job := pipeline.Job{ID: newID("cv"), Type: pipeline.JobConvert, InputPath: dir}
		if err := r.enqueue(ctx, job); err != nil {
			return err
		}
		pending[job.ID] = filepath.Base(dir)
	}

	failures := make(map[string]int)
	failed := 0
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-results:
			if !ok {
				return fmt.Errorf("pipeline stopped with %d conversions outstanding", len(pending))
			}
			name, ours := pending[res.Job.ID]
			if !ours {
				continue
			}
			delete(pending, res.Job.ID)
			if res.Error != nil {
				failed++
				failures[res.Class]++
				fmt.Fprintf(out, "FAIL  %s  %s: %v\n", name, res.Class, res.Error)
			} else {
				fmt.Fprintf(out, "ok    %s  %d timepoints, %d rois -> %s\n",
					name, res.Stats.Timepoints, res.Stats.ROIs, res.Stats.OutputPath)
			}
		}
	}

	if failed > 0 {
		classes := make([]string, 0, len(failures))
		for class := range failures {
			classes = append(classes, class)
		}
		sort.Strings(classes)
		for _, class := range classes {
			fmt.Fprintf(out, "  %s: %d\n", class, failures[class])
		}
		return fmt.Errorf("%d of %d acquisitions failed", failed, len(dirs))
	}
	fmt.Fprintf(out, "converted %d acquisitions\n", len(dirs))
	return nil
}

func newID(prefix string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s-%s-%04d", prefix, ts, rand.Intn(10000))
}
