// Package harvest composes the taostats client and the snapshot writer into
// the owners and validators jobs.
//
// Every job moves through Idle → Fetching → Transforming → Writing → Done,
// or stops in Failed. Jobs never retry themselves; rate limiting is
// absorbed by the client underneath.
package harvest

import (
	"context"
	"log/slog"

	"github.com/arkiv/chain-observer/internal/snapshot"
	"github.com/arkiv/chain-observer/internal/taostats"
)

type State int

const (
	Idle State = iota
	Fetching
	Transforming
	Writing
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Transforming:
		return "transforming"
	case Writing:
		return "writing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Job is one fetch → transform → write pipeline.
type Job interface {
	Name() string
	State() State
	Run(ctx context.Context) (snapshot.Result, error)
}

// OwnerSource is the part of the API the owners job reads.
type OwnerSource interface {
	SubnetOwners(ctx context.Context) ([]taostats.SubnetOwner, error)
}

// ValidatorSource is the part of the API the validators job reads.
type ValidatorSource interface {
	Validators(ctx context.Context, order string) ([]taostats.Validator, error)
	DelegateName(ctx context.Context, hotkey string) (string, bool, error)
}

// TableWriter persists one snapshot table.
type TableWriter interface {
	ReplaceTable(ctx context.Context, t snapshot.Table, rows []snapshot.Row) (snapshot.Result, error)
}

// tracker records and logs state transitions for one job.
type tracker struct {
	job   string
	state State
	log   *slog.Logger
}

func newTracker(job string, log *slog.Logger) *tracker {
	if log == nil {
		log = slog.Default()
	}
	return &tracker{job: job, state: Idle, log: log}
}

func (t *tracker) enter(s State) {
	t.log.Info("job state", "job", t.job, "from", t.state.String(), "to", s.String())
	t.state = s
}

func (t *tracker) fail(err error) (snapshot.Result, error) {
	t.log.Error("job failed", "job", t.job, "state", t.state.String(), "err", err)
	t.state = Failed
	return snapshot.Result{}, err
}
