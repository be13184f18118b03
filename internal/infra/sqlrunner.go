package infra

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// SQLExecutor is the query surface shared by SQLRunner, pgxpool.Pool and test stubs.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

var markerRegexp = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// ErrMissingMarker is returned for statements without a `--sql <uuid>` first line.
var ErrMissingMarker = errors.New("sql marker missing or invalid")

// DefaultSlowQuery is the latency above which statements are logged at warn.
const DefaultSlowQuery = 250 * time.Millisecond

// SQLRunner executes marked statements against the pool. Every statement is
// logged under its marker, through the request logger when ctx carries one.
type SQLRunner struct {
	Pool      *pgxpool.Pool
	Logger    zerolog.Logger
	SlowQuery time.Duration
}

func NewSQLRunner(pool *pgxpool.Pool, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{Pool: pool, Logger: logger, SlowQuery: DefaultSlowQuery}
}

type statement struct {
	marker string
	body   string
}

func parseStatement(query string) (statement, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return statement{}, errors.New("empty query")
	}
	first, rest, _ := strings.Cut(trimmed, "\n")
	first = strings.TrimSpace(first)
	if !markerRegexp.MatchString(first) {
		return statement{}, ErrMissingMarker
	}
	return statement{marker: strings.TrimPrefix(first, "--sql "), body: rest}, nil
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	st, err := parseStatement(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	start := time.Now()
	tag, err := r.Pool.Exec(ctx, st.body, args...)
	r.observe(ctx, st, "exec", start, tag.RowsAffected(), err)
	return tag, err
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	st, err := parseStatement(query)
	if err != nil {
		return errorRow{err: err}
	}
	// pgx defers the round trip to Scan, so timing starts here and ends there.
	return &observedRow{row: r.Pool.QueryRow(ctx, st.body, args...), runner: r, ctx: ctx, st: st, start: time.Now()}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	st, err := parseStatement(query)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := r.Pool.Query(ctx, st.body, args...)
	r.observe(ctx, st, "query", start, -1, err)
	return rows, err
}

func (r *SQLRunner) observe(ctx context.Context, st statement, op string, start time.Time, rows int64, err error) {
	log := &r.Logger
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		log = l
	}
	took := time.Since(start)

	var ev *zerolog.Event
	switch {
	case err != nil && !IsNoRows(err):
		ev = log.Error().Err(err)
	case r.SlowQuery > 0 && took > r.SlowQuery:
		ev = log.Warn().Bool("slow", true)
	default:
		ev = log.Debug()
	}
	ev = ev.Str("sql", st.marker).Str("op", op).Dur("took", took)
	if rows >= 0 {
		ev = ev.Int64("rows", rows)
	}
	ev.Msg("sql")
}

type observedRow struct {
	row    pgx.Row
	runner *SQLRunner
	ctx    context.Context
	st     statement
	start  time.Time
}

func (o *observedRow) Scan(dest ...any) error {
	err := o.row.Scan(dest...)
	o.runner.observe(o.ctx, o.st, "query_row", o.start, -1, err)
	return err
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(...any) error {
	return e.err
}

var _ SQLExecutor = (*SQLRunner)(nil)
