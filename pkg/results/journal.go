// Package results persists the execution reports of a run in a
// key-value store for post-run analysis.
package results

import (
	"encoding/json"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/log"

	"github.com/quantfold/backtest/pkg/schema"
)

const keyPrefix = "report:"

// Journal appends execution reports under monotonically increasing
// keys so iteration replays them in delivery order. The database is
// owned by the caller.
type Journal struct {
	db     database.Database
	logger log.Logger
	seq    int64
}

// New creates a journal over db.
func New(db database.Database, logger log.Logger) *Journal {
	return &Journal{db: db, logger: logger}
}

// Append stores one report.
func (j *Journal) Append(rep schema.ExecutionReport) error {
	key := fmt.Sprintf("%s%016d", keyPrefix, j.seq)
	value, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	if err := j.db.Put([]byte(key), value); err != nil {
		return fmt.Errorf("storing report: %w", err)
	}
	j.seq++
	return nil
}

// Len returns the number of reports appended through this journal.
func (j *Journal) Len() int64 { return j.seq }

// Reports replays every stored report in append order.
func (j *Journal) Reports() ([]schema.ExecutionReport, error) {
	iter := j.db.NewIteratorWithPrefix([]byte(keyPrefix))
	defer iter.Release()

	var out []schema.ExecutionReport
	for iter.Next() {
		var rep schema.ExecutionReport
		if err := json.Unmarshal(iter.Value(), &rep); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", iter.Key(), err)
		}
		out = append(out, rep)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}
