// Package batch expands a batch request into conversion jobs, runs them one
// after another through the segmenter and reports progress. Pool offloads
// whole batches onto a bounded set of goroutines.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"m3u8conv/core/media"
	"m3u8conv/core/segmenter"
	"m3u8conv/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Invoker converts a single job. *segmenter.FFmpegSegmenter is the production one.
type Invoker interface {
	Invoke(ctx context.Context, job media.ConversionJob) error
}

// Confirmer asks the operator whether an existing playlist may be overwritten.
type Confirmer interface {
	ConfirmOverwrite(playlist string) (bool, error)
}

// Prober looks up the duration of an input file.
type Prober interface {
	Probe(ctx context.Context, path string) (float64, error)
}

// Publisher ships a converted job's output somewhere else.
type Publisher interface {
	Publish(ctx context.Context, job media.ConversionJob) error
}

// Options configures an Orchestrator. Zero values are usable.
type Options struct {
	// Policy is used when a Batch does not set its own. Defaults to PolicyAsk.
	Policy OverwritePolicy
	// Confirmer answers PolicyAsk. Without one, PolicyAsk behaves like PolicySkip.
	Confirmer Confirmer
	Prober    Prober
	Publisher Publisher
	// Observer receives every batch's events in addition to the per-run observer.
	Observer Observer
}

// Orchestrator runs batches sequentially, job by job.
type Orchestrator struct {
	invoker Invoker
	opts    Options
}

// New creates an Orchestrator around invoker.
func New(invoker Invoker, opts Options) *Orchestrator {
	if opts.Policy == "" {
		opts.Policy = PolicyAsk
	}
	return &Orchestrator{invoker: invoker, opts: opts}
}

// Run executes b and blocks until every job has been handled or the batch
// aborts. Expansion errors (media.ErrInputNotFound, media.ErrUnsupportedType)
// are returned before the observer sees OnBatchStart. Unless b.ContinueOnError
// is set, the first failed job aborts the rest of the batch.
func (o *Orchestrator) Run(ctx context.Context, b Batch, obs Observer) (BatchResult, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	observers := Observers{o.opts.Observer, obs}
	res := BatchResult{ID: b.ID, Request: b.Request, StartedAt: time.Now()}

	jobs, err := media.Expand(b.Request)
	if err != nil {
		res.FinishedAt = time.Now()
		observers.OnBatchDone(b.ID, res, err)
		return res, err
	}

	if err := os.MkdirAll(b.Request.OutputDir, 0755); err != nil {
		err = fmt.Errorf("create output directory %s: %w", b.Request.OutputDir, err)
		res.FinishedAt = time.Now()
		observers.OnBatchDone(b.ID, res, err)
		return res, err
	}

	policy := b.Policy
	if policy == "" {
		policy = o.opts.Policy
	}

	res.Progress = ProgressState{Total: len(jobs)}
	res.Jobs = make([]JobResult, 0, len(jobs))
	observers.OnBatchStart(b.ID, len(jobs))
	logger.Info("Batch started",
		logger.String("batchId", b.ID),
		logger.String("input", b.Request.InputPath),
		logger.String("output", b.Request.OutputDir),
		logger.Int("jobs", len(jobs)),
		logger.String("policy", string(policy)))

	var errs []error
	for i, job := range jobs {
		if ctxErr := ctx.Err(); ctxErr != nil {
			errs = append(errs, ctxErr)
			break
		}

		jr := o.runJob(ctx, job, policy)
		res.Jobs = append(res.Jobs, jr)
		res.Progress.Completed = i + 1
		observers.OnJobDone(b.ID, jr, res.Progress)

		logJob(b.ID, jr, res.Progress)

		if jr.Outcome == OutcomeFailed {
			errs = append(errs, fmt.Errorf("convert %s: %w", job.InputPath, jr.Err))
			if !b.ContinueOnError {
				break
			}
		}
	}

	res.FinishedAt = time.Now()
	err = errors.Join(errs...)
	observers.OnBatchDone(b.ID, res, err)
	logger.Info("Batch finished",
		logger.String("batchId", b.ID),
		logger.Int("converted", res.Count(OutcomeConverted)),
		logger.Int("skipped", res.Count(OutcomeSkipped)),
		logger.Int("failed", res.Count(OutcomeFailed)),
		logger.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)))
	return res, err
}

func (o *Orchestrator) runJob(ctx context.Context, job media.ConversionJob, policy OverwritePolicy) JobResult {
	start := time.Now()
	jr := JobResult{Job: job}

	proceed, err := o.resolveConflict(job, policy)
	if err != nil {
		jr.Outcome, jr.Err = OutcomeFailed, err
		jr.Elapsed = time.Since(start)
		return jr
	}
	if !proceed {
		jr.Outcome = OutcomeSkipped
		jr.Elapsed = time.Since(start)
		return jr
	}

	if err := o.invoker.Invoke(ctx, job); err != nil {
		jr.Outcome, jr.Err = OutcomeFailed, err
		jr.Elapsed = time.Since(start)
		return jr
	}
	jr.Outcome = OutcomeConverted

	if segs, err := segmenter.Segments(job); err == nil {
		jr.Segments = len(segs)
	}
	if o.opts.Prober != nil {
		if d, err := o.opts.Prober.Probe(ctx, job.InputPath); err != nil {
			logger.Warn("Could not probe duration", logger.String("input", job.InputPath), logger.ErrorField(err))
		} else {
			jr.DurationSeconds = d
		}
	}
	if o.opts.Publisher != nil {
		if err := o.opts.Publisher.Publish(ctx, job); err != nil {
			logger.Error("Publish failed", logger.String("playlist", job.PlaylistPath()), logger.ErrorField(err))
		}
	}
	jr.Elapsed = time.Since(start)
	return jr
}

// resolveConflict reports whether job should run given policy.
func (o *Orchestrator) resolveConflict(job media.ConversionJob, policy OverwritePolicy) (bool, error) {
	playlist := job.PlaylistPath()
	if _, err := os.Stat(playlist); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}
		return false, fmt.Errorf("stat %s: %w", playlist, err)
	}

	switch policy {
	case PolicyOverwrite:
		return true, nil
	case PolicyFail:
		return false, fmt.Errorf("%w: %s", ErrOutputExists, playlist)
	case PolicyAsk:
		if o.opts.Confirmer == nil {
			return false, nil
		}
		ok, err := o.opts.Confirmer.ConfirmOverwrite(playlist)
		if err != nil {
			return false, fmt.Errorf("confirm overwrite of %s: %w", playlist, err)
		}
		return ok, nil
	default:
		return false, nil
	}
}

func logJob(batchID string, jr JobResult, p ProgressState) {
	fields := []zap.Field{
		logger.String("batchId", batchID),
		logger.String("input", jr.Job.InputPath),
		logger.String("outcome", string(jr.Outcome)),
		logger.Int("completed", p.Completed),
		logger.Int("total", p.Total),
		logger.Float64("percent", p.Percent()),
		logger.Duration("elapsed", jr.Elapsed),
	}
	switch jr.Outcome {
	case OutcomeFailed:
		logger.Error("Job failed", append(fields, logger.ErrorField(jr.Err))...)
	case OutcomeSkipped:
		logger.Warn("Job skipped, playlist exists", append(fields, logger.String("playlist", jr.Job.PlaylistPath()))...)
	default:
		logger.Info("Job converted", append(fields, logger.Int("segments", jr.Segments))...)
	}
}
