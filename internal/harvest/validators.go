package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/arkiv/chain-observer/internal/snapshot"
	"github.com/arkiv/chain-observer/internal/taostats"
)

// DefaultMinStake is the exclusive lower bound on retained validator stake.
const DefaultMinStake = 1000

var ValidatorsTable = snapshot.Table{
	Name: "validators",
	Columns: []snapshot.Column{
		{Name: "cold_key"},
		{Name: "hot_key"},
		{Name: "amount"},
		{Name: "name"},
	},
}

type ValidatorRecord struct {
	Coldkey string
	Hotkey  string
	// Amount is the upstream text, never converted to a float.
	Amount string
	// Name is nil when the hotkey has no unique delegate registration.
	Name *string
}

func (r ValidatorRecord) row() snapshot.Row {
	var name any
	if r.Name != nil {
		name = *r.Name
	}
	return snapshot.Row{r.Coldkey, r.Hotkey, r.Amount, name}
}

type ValidatorsJob struct {
	source   ValidatorSource
	writer   TableWriter
	minStake *big.Int
	t        *tracker
}

// NewValidatorsJob keeps validators whose stake is strictly greater than minStake.
func NewValidatorsJob(src ValidatorSource, w TableWriter, minStake int64, log *slog.Logger) *ValidatorsJob {
	return &ValidatorsJob{
		source:   src,
		writer:   w,
		minStake: big.NewInt(minStake),
		t:        newTracker("validators", log),
	}
}

func (j *ValidatorsJob) Name() string { return j.t.job }

func (j *ValidatorsJob) State() State { return j.t.state }

func (j *ValidatorsJob) Run(ctx context.Context) (snapshot.Result, error) {
	j.t.enter(Fetching)
	all, err := j.source.Validators(ctx, taostats.OrderAmountDesc)
	if err != nil {
		return j.t.fail(fmt.Errorf("fetch validators: %w", err))
	}

	j.t.enter(Transforming)
	kept, err := FilterByStake(all, j.minStake)
	if err != nil {
		return j.t.fail(err)
	}
	j.t.log.Info("validators filtered", "fetched", len(all), "kept", len(kept), "min_stake", j.minStake.String())

	records := make([]ValidatorRecord, 0, len(kept))
	for _, v := range kept {
		rec := ValidatorRecord{
			Coldkey: v.ColdKey.SS58,
			Hotkey:  v.HotKey.SS58,
			Amount:  v.Amount.String(),
		}
		name, ok, err := j.source.DelegateName(ctx, v.HotKey.SS58)
		if err != nil {
			return j.t.fail(fmt.Errorf("delegate name for %s: %w", v.HotKey.SS58, err))
		}
		if ok {
			rec.Name = &name
		}
		records = append(records, rec)
	}

	j.t.enter(Writing)
	rows := make([]snapshot.Row, len(records))
	for i, r := range records {
		rows[i] = r.row()
	}
	res, err := j.writer.ReplaceTable(ctx, ValidatorsTable, rows)
	if err != nil {
		return j.t.fail(fmt.Errorf("write validators: %w", err))
	}

	j.t.enter(Done)
	return res, nil
}

// FilterByStake returns validators with amount > minStake, preserving order.
// An amount that is not an integer is an error.
func FilterByStake(vs []taostats.Validator, minStake *big.Int) ([]taostats.Validator, error) {
	var kept []taostats.Validator
	for _, v := range vs {
		amount, err := v.Amount.Int()
		if err != nil {
			return nil, fmt.Errorf("validator %s: %w", v.HotKey.SS58, err)
		}
		if amount.Cmp(minStake) > 0 {
			kept = append(kept, v)
		}
	}
	return kept, nil
}
