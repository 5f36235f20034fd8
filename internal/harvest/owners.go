package harvest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arkiv/chain-observer/internal/snapshot"
	"github.com/arkiv/chain-observer/internal/ss58"
	"github.com/arkiv/chain-observer/internal/taostats"
)

var OwnersTable = snapshot.Table{
	Name: "owners",
	Columns: []snapshot.Column{
		{Name: "net_uid"},
		{Name: "owner_coldkey"},
	},
}

// OwnerRecord maps a subnet to its owner's coldkey.
type OwnerRecord struct {
	NetUID       string
	OwnerColdkey string
}

func (r OwnerRecord) row() snapshot.Row { return snapshot.Row{r.NetUID, r.OwnerColdkey} }

type OwnersJob struct {
	source OwnerSource
	writer TableWriter
	t      *tracker
}

func NewOwnersJob(src OwnerSource, w TableWriter, log *slog.Logger) *OwnersJob {
	return &OwnersJob{source: src, writer: w, t: newTracker("owners", log)}
}

func (j *OwnersJob) Name() string { return j.t.job }

func (j *OwnersJob) State() State { return j.t.state }

func (j *OwnersJob) Run(ctx context.Context) (snapshot.Result, error) {
	j.t.enter(Fetching)
	owners, err := j.source.SubnetOwners(ctx)
	if err != nil {
		return j.t.fail(fmt.Errorf("fetch subnet owners: %w", err))
	}

	j.t.enter(Transforming)
	records, err := OwnerRecords(owners)
	if err != nil {
		return j.t.fail(err)
	}

	j.t.enter(Writing)
	rows := make([]snapshot.Row, len(records))
	for i, r := range records {
		rows[i] = r.row()
	}
	res, err := j.writer.ReplaceTable(ctx, OwnersTable, rows)
	if err != nil {
		return j.t.fail(fmt.Errorf("write owners: %w", err))
	}

	j.t.enter(Done)
	return res, nil
}

// OwnerRecords converts every owner public key to SS58. One bad key fails
// the whole batch.
func OwnerRecords(owners []taostats.SubnetOwner) ([]OwnerRecord, error) {
	records := make([]OwnerRecord, 0, len(owners))
	for _, o := range owners {
		addr, err := ss58.FromHex(o.Owner)
		if err != nil {
			return nil, fmt.Errorf("subnet %s: %w", o.SubnetID, err)
		}
		records = append(records, OwnerRecord{NetUID: o.SubnetID.String(), OwnerColdkey: addr})
	}
	return records, nil
}
