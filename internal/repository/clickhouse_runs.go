package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"SabrLSM/internal/domain/models"
	domrepo "SabrLSM/internal/domain/repository"
	pkgch "SabrLSM/pkg/clickhouse"
	applogger "SabrLSM/pkg/logger"
)

// RunsTable holds one row per priced point: a single price, a convergence
// row or a sweep point.
const RunsTable = "pricing_runs"

// RunsSchema is the DDL applied by Init.
var RunsSchema = []string{
	`CREATE TABLE IF NOT EXISTS ` + RunsTable + ` (
        run_id         String,
        kind           LowCardinality(String),
        option_type    LowCardinality(String),
        strike         Float64,
        n_paths        UInt32,
        price          Float64,
        standard_error Float64,
        parameter      LowCardinality(String),
        value          Float64,
        label          LowCardinality(String),
        created_at     DateTime64(3, 'UTC')
    ) ENGINE = MergeTree
    ORDER BY (kind, created_at, run_id)`,
}

const runColumns = "run_id, kind, option_type, strike, n_paths, price, standard_error, parameter, value, label, created_at"

// insertChunk bounds the number of rows per INSERT statement.
const insertChunk = 2000

// CHRunStore implements repository.Storage on ClickHouse.
type CHRunStore struct {
	client *pkgch.Client
	db     *sql.DB
	l      *applogger.Logger
}

var _ domrepo.Storage = (*CHRunStore)(nil)

func NewCHRunStore(client *pkgch.Client, l *applogger.Logger) *CHRunStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &CHRunStore{client: client, db: client.DB(), l: l}
}

func (s *CHRunStore) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, RunsSchema)
}

// StoreRuns inserts runs using multi-row VALUES statements.
func (s *CHRunStore) StoreRuns(ctx context.Context, runs []models.RunRecord) error {
	for start := 0; start < len(runs); start += insertChunk {
		end := min(start+insertChunk, len(runs))
		q, args := buildInsert(runs[start:end])
		if q == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse insert runs failed", applogger.Int("rows", end-start), applogger.Error(err))
			return fmt.Errorf("insert runs: %w", err)
		}
	}
	return nil
}

func buildInsert(runs []models.RunRecord) (string, []any) {
	values := make([]string, 0, len(runs))
	args := make([]any, 0, len(runs)*11)
	for _, r := range runs {
		if r.RunID == "" {
			continue
		}
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			r.RunID,
			r.Kind,
			r.OptionType,
			r.Strike,
			uint32(r.NPaths),
			r.Price,
			r.StandardError,
			r.Parameter,
			r.Value,
			r.Label,
			r.CreatedAt.UTC(),
		)
	}
	if len(values) == 0 {
		return "", nil
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", RunsTable, runColumns, strings.Join(values, ",")), args
}

func buildQuery(q models.RunsQuery) (string, []any) {
	var (
		where []string
		args  []any
	)
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, q.Kind)
	}
	if !q.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, q.To.UTC())
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", runColumns, RunsTable)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC LIMIT ?")
	return b.String(), append(args, limit)
}

// QueryRuns returns the newest runs matching q.
func (s *CHRunStore) QueryRuns(ctx context.Context, q models.RunsQuery) ([]models.RunRecord, error) {
	query, args := buildQuery(q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.l.Error("clickhouse query runs failed", applogger.String("kind", q.Kind), applogger.Error(err))
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	out := make([]models.RunRecord, 0, max(q.Limit, 0))
	for rows.Next() {
		var (
			r      models.RunRecord
			nPaths uint32
			ts     time.Time
		)
		if err := rows.Scan(&r.RunID, &r.Kind, &r.OptionType, &r.Strike, &nPaths,
			&r.Price, &r.StandardError, &r.Parameter, &r.Value, &r.Label, &ts); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.NPaths = int(nPaths)
		r.CreatedAt = ts.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *CHRunStore) Health(ctx context.Context) error { return s.client.Health(ctx) }

// Close is a no-op; the client is owned by the app.
func (s *CHRunStore) Close() error { return nil }
