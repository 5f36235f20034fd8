package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arkiv/chain-observer/internal/metrics"
	"github.com/arkiv/chain-observer/internal/snapshot"
)

// Reporter receives every job failure, recovered panics included. Hosts wire
// it to a crash reporting service.
type Reporter func(ctx context.Context, job string, err error)

// Outcome is the result of one job within a Runner pass.
type Outcome struct {
	Job      string
	Result   snapshot.Result
	Err      error
	Duration time.Duration
}

// Runner runs jobs back to back. A failing job is logged and reported and
// does not stop the jobs after it.
type Runner struct {
	jobs     []Job
	reporter Reporter
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func NewRunner(log *slog.Logger, m *metrics.Metrics, reporter Reporter, jobs ...Job) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{jobs: jobs, reporter: reporter, log: log, metrics: m}
}

func (r *Runner) Run(ctx context.Context) []Outcome {
	outcomes := make([]Outcome, 0, len(r.jobs))
	for _, j := range r.jobs {
		o := r.runJob(ctx, j)
		r.metrics.ObserveJob(o.Job, o.Duration, o.Err)
		if o.Err != nil {
			r.log.Error("harvest job failed", "job", o.Job, "err", o.Err)
			if r.reporter != nil {
				r.reporter(ctx, o.Job, o.Err)
			}
		} else {
			r.log.Info("harvest job done", "job", o.Job, "written", o.Result.Written,
				"failed_rows", len(o.Result.Failed), "duration", o.Duration)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func (r *Runner) runJob(ctx context.Context, j Job) (o Outcome) {
	o.Job = j.Name()
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			o.Err = fmt.Errorf("panic in %s job: %v", o.Job, p)
		}
		o.Duration = time.Since(start)
	}()
	o.Result, o.Err = j.Run(ctx)
	return o
}

// Err joins the errors of every failed outcome.
func Err(outcomes []Outcome) error {
	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Job, o.Err))
		}
	}
	return errors.Join(errs...)
}
