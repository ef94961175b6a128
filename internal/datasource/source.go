package datasource

import (
	"context"
	"time"

	"github.com/rickgao/backsim/internal/model"
)

// Batch is all rows of a table sharing one distinct epoch.
type Batch struct {
	Timestamp time.Time
	Ticks     []model.Tick
}

// Iterator yields batches in strictly non-decreasing timestamp order.
// Next returns io.EOF after the final batch. Close releases the
// underlying resources and is safe to call more than once.
type Iterator interface {
	Next(ctx context.Context) (Batch, error)
	Close()
}

// Source is a replayable backing store. Implementations must be safe for
// use from multiple connections; the backing pool is shared.
type Source interface {
	// Tables enumerates the replayable tables with their inclusive
	// time ranges.
	Tables(ctx context.Context) ([]model.TableInfo, error)

	// Open starts a time-ordered scan of one table. An empty symbols
	// slice means no symbol filter.
	Open(ctx context.Context, table string, from, to time.Time, symbols []string) (Iterator, error)
}
