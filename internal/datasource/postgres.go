package datasource

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/backsim/internal/config"
	"github.com/rickgao/backsim/internal/epoch"
	"github.com/rickgao/backsim/internal/model"
)

// Postgres serves replays from tables in a PostgreSQL / TimescaleDB
// database. Only tables declared in configuration are reachable; table
// names are quoted as identifiers, never interpolated raw.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	tables map[string]config.TableConfig
	order  []string // declaration order for stable Tables() output
}

// NewPostgres creates a source over a shared connection pool.
func NewPostgres(pool *pgxpool.Pool, tables []config.TableConfig, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Postgres{
		pool:   pool,
		logger: logger,
		tables: make(map[string]config.TableConfig, len(tables)),
	}
	for _, t := range tables {
		p.tables[t.Name] = t
		p.order = append(p.order, t.Name)
	}
	return p
}

// Tables queries the min/max epoch of every configured table.
func (p *Postgres) Tables(ctx context.Context) ([]model.TableInfo, error) {
	infos := make([]model.TableInfo, 0, len(p.order))

	for _, name := range p.order {
		tc := p.tables[name]
		conv, err := converterFor(tc)
		if err != nil {
			return nil, err
		}

		q := fmt.Sprintf("SELECT min(%s), max(%s) FROM %s",
			pgx.Identifier{tc.TsColumn}.Sanitize(),
			pgx.Identifier{tc.TsColumn}.Sanitize(),
			pgx.Identifier{tc.Name}.Sanitize(),
		)

		var minTs, maxTs *int64
		if err := p.pool.QueryRow(ctx, q).Scan(&minTs, &maxTs); err != nil {
			return nil, fmt.Errorf("scan range of %s: %w", tc.Name, err)
		}
		if minTs == nil || maxTs == nil {
			p.logger.Warn("replay table is empty, skipping", "table", tc.Name)
			continue
		}

		infos = append(infos, model.TableInfo{
			Name:      tc.Name,
			StartTime: conv.ToTime(*minTs),
			EndTime:   conv.ToTime(*maxTs),
			EpochUnit: tc.EpochUnit,
			Timezone:  tc.Timezone,
		})
	}

	return infos, nil
}

// Open starts a streaming scan of one configured table.
func (p *Postgres) Open(ctx context.Context, table string, from, to time.Time, symbols []string) (Iterator, error) {
	tc, ok := p.tables[table]
	if !ok {
		return nil, fmt.Errorf("table %q is not configured for replay", table)
	}
	conv, err := converterFor(tc)
	if err != nil {
		return nil, err
	}

	bars := tc.Kind == config.TableKindBars

	cols := []string{tc.TsColumn, "symbol", "price", "bid", "ask", "volume"}
	if bars {
		cols = append(cols, "open", "high", "low", "close")
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}

	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s >= $1 AND %s <= $2",
		strings.Join(quoted, ", "),
		pgx.Identifier{tc.Name}.Sanitize(),
		quoted[0], quoted[0],
	)
	args := []any{conv.FromTime(from), conv.FromTime(to)}
	if len(symbols) > 0 {
		q += " AND symbol = ANY($3)"
		args = append(args, symbols)
	}
	q += fmt.Sprintf(" ORDER BY %s, symbol", quoted[0])

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", tc.Name, err)
	}

	return &pgxIterator{rows: rows, conv: conv, bars: bars}, nil
}

func converterFor(tc config.TableConfig) (epoch.Converter, error) {
	unit, err := epoch.ParseUnit(tc.EpochUnit)
	if err != nil {
		return epoch.Converter{}, fmt.Errorf("table %s: %w", tc.Name, err)
	}
	conv, err := epoch.New(unit, tc.Timezone)
	if err != nil {
		return epoch.Converter{}, fmt.Errorf("table %s: %w", tc.Name, err)
	}
	return conv, nil
}

// pgxIterator groups the streamed rows into per-epoch batches with a
// one-row lookahead.
type pgxIterator struct {
	rows pgx.Rows
	conv epoch.Converter
	bars bool

	pending      *model.Tick
	pendingEpoch int64
	done         bool
}

func (it *pgxIterator) Next(ctx context.Context) (Batch, error) {
	if it.done {
		return Batch{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		it.Close()
		return Batch{}, err
	}

	var (
		cur     []model.Tick
		curSet  bool
		curTime int64
	)

	flush := func() Batch {
		return Batch{Timestamp: it.conv.ToTime(curTime), Ticks: cur}
	}

	for {
		if it.pending == nil {
			if !it.rows.Next() {
				err := it.rows.Err()
				it.Close()
				if err != nil {
					return Batch{}, fmt.Errorf("read row: %w", err)
				}
				if curSet {
					return flush(), nil
				}
				return Batch{}, io.EOF
			}
			ep, tick, err := it.scanRow()
			if err != nil {
				it.Close()
				return Batch{}, err
			}
			it.pending = &tick
			it.pendingEpoch = ep
		}

		if !curSet {
			curSet = true
			curTime = it.pendingEpoch
		} else if it.pendingEpoch != curTime {
			// Lookahead belongs to the next batch; keep it pending.
			return flush(), nil
		}

		cur = append(cur, *it.pending)
		it.pending = nil
	}
}

func (it *pgxIterator) scanRow() (int64, model.Tick, error) {
	var (
		ep         int64
		tick       model.Tick
		price      *float64
		volume     *float64
		o, h, l, c *float64
	)

	dest := []any{&ep, &tick.Symbol, &price, &tick.Bid, &tick.Ask, &volume}
	if it.bars {
		dest = append(dest, &o, &h, &l, &c)
	}
	if err := it.rows.Scan(dest...); err != nil {
		return 0, model.Tick{}, fmt.Errorf("scan row: %w", err)
	}

	if price != nil {
		tick.Price = *price
	}
	if volume != nil {
		tick.Volume = *volume
	}
	if it.bars && o != nil && h != nil && l != nil && c != nil {
		tick.Bar = &model.Bar{Open: *o, High: *h, Low: *l, Close: *c}
		if price == nil {
			tick.Price = *c
		}
	}
	return ep, tick, nil
}

func (it *pgxIterator) Close() {
	if !it.done {
		it.done = true
		it.rows.Close()
	}
}
