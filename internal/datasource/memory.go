package datasource

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rickgao/backsim/internal/model"
)

// MemoryTable is one in-memory replay table: metadata plus pre-grouped
// batches in ascending timestamp order.
type MemoryTable struct {
	Info    model.TableInfo
	Batches []Batch
}

// Memory is an in-process Source used by tests and demo fixtures. It
// honors the same range- and symbol-filter contract as Postgres.
type Memory struct {
	tables []MemoryTable
}

// NewMemory builds a source over the given tables.
func NewMemory(tables ...MemoryTable) *Memory {
	return &Memory{tables: tables}
}

// Tables returns the declared table metadata.
func (m *Memory) Tables(ctx context.Context) ([]model.TableInfo, error) {
	infos := make([]model.TableInfo, 0, len(m.tables))
	for _, t := range m.tables {
		infos = append(infos, t.Info)
	}
	return infos, nil
}

// Open returns an iterator over the table's batches restricted to
// [from, to] and the symbol filter.
func (m *Memory) Open(ctx context.Context, table string, from, to time.Time, symbols []string) (Iterator, error) {
	var found *MemoryTable
	for i := range m.tables {
		if m.tables[i].Info.Name == table {
			found = &m.tables[i]
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("table %q is not configured for replay", table)
	}

	var filter map[string]struct{}
	if len(symbols) > 0 {
		filter = make(map[string]struct{}, len(symbols))
		for _, s := range symbols {
			filter[s] = struct{}{}
		}
	}

	var batches []Batch
	for _, b := range found.Batches {
		if b.Timestamp.Before(from) || b.Timestamp.After(to) {
			continue
		}
		ticks := b.Ticks
		if filter != nil {
			ticks = nil
			for _, t := range b.Ticks {
				if _, ok := filter[t.Symbol]; ok {
					ticks = append(ticks, t)
				}
			}
		}
		if len(ticks) > 0 {
			batches = append(batches, Batch{Timestamp: b.Timestamp, Ticks: ticks})
		}
	}

	return &memoryIterator{batches: batches}, nil
}

type memoryIterator struct {
	batches []Batch
	pos     int
	closed  bool
}

func (it *memoryIterator) Next(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	if it.closed || it.pos >= len(it.batches) {
		return Batch{}, io.EOF
	}
	b := it.batches[it.pos]
	it.pos++
	return b, nil
}

func (it *memoryIterator) Close() { it.closed = true }
