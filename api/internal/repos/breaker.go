package repos

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sony/gobreaker"

	"creator-sync/shared/logx"
)

// WithBreaker routes every statement through a circuit breaker. ErrNoRows
// does not count as a failure.
func WithBreaker(db DBTX, logger logx.Logger) DBTX {
	settings := gobreaker.Settings{
		Name:        "entity-store",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && ratio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, pgx.ErrNoRows)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn(context.Background(), "breaker_state_changed", "store circuit breaker changed state",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}
	return &breakerDB{db: db, cb: gobreaker.NewCircuitBreaker(settings)}
}

type breakerDB struct {
	db DBTX
	cb *gobreaker.CircuitBreaker
}

func (b *breakerDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.db.Exec(ctx, sql, args...)
	})
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return res.(pgconn.CommandTag), nil
}

func (b *breakerDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.db.Query(ctx, sql, args...)
	})
	if err != nil {
		return nil, err
	}
	return res.(pgx.Rows), nil
}

func (b *breakerDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return breakerRow{b: b, ctx: ctx, sql: sql, args: args}
}

// breakerRow runs the statement on Scan, where pgx surfaces QueryRow errors,
// so an open breaker keeps the query off the wire.
type breakerRow struct {
	b    *breakerDB
	ctx  context.Context
	sql  string
	args []any
}

func (r breakerRow) Scan(dest ...any) error {
	_, err := r.b.cb.Execute(func() (any, error) {
		return nil, r.b.db.QueryRow(r.ctx, r.sql, r.args...).Scan(dest...)
	})
	return err
}
