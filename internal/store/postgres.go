package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fundamentals-cli/internal/db"
	"github.com/sells-group/fundamentals-cli/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID serializes concurrent Migrate calls across processes.
const migrationLockID = 20231031

const (
	factsTable = "fs.facts"
	fxTable    = "fs.fx_rates"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 1
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pgxCfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pgxCfg.MinConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool; Close leaves it open.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the pool when the store created it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Migrate applies the embedded migrations not yet recorded in
// fs.schema_migrations, in file-name order, under an advisory lock.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "postgres: acquire migration lock")
	}
	defer func() {
		if _, err := s.pool.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("postgres: release migration lock", zap.Error(err))
		}
	}()

	if _, err := s.pool.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS fs;
		CREATE TABLE IF NOT EXISTS fs.schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`); err != nil {
		return eris.Wrap(err, "postgres: ensure migration table")
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	names, err := migrationNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		if applied[name] {
			continue
		}
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "postgres: read migration %s", name)
		}
		if _, err := s.pool.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "postgres: apply migration %s", name)
		}
		if _, err := s.pool.Exec(ctx,
			"INSERT INTO fs.schema_migrations (filename) VALUES ($1)", name,
		); err != nil {
			return eris.Wrapf(err, "postgres: record migration %s", name)
		}
		log.Info("migration applied", zap.String("file", name))
	}
	return nil
}

func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: read migration dir")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *PostgresStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, "SELECT filename FROM fs.schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan migration row")
		}
		applied[name] = true
	}
	return applied, eris.Wrap(rows.Err(), "postgres: iterate migrations")
}

// SaveFacts upserts facts into fs.facts.
func (s *PostgresStore) SaveFacts(ctx context.Context, facts []model.Fact) (int64, error) {
	facts = dedupeFacts(facts)
	rows := make([][]any, len(facts))
	for i, f := range facts {
		rows[i] = []any{
			f.Symbol, f.StatementType.String(), f.Item, f.PeriodHeader,
			int32(f.FiscalYear), string(f.FiscalPeriod), date(f.PeriodDate),
			numeric(f.Value), f.Currency, numeric(f.FXRate), numeric(f.USDValue),
			string(f.Source), f.Form, date(f.Filed),
			int32(f.ItemSortOrder), int32(f.MetricSortOrder), int32(f.StatementSortOrder),
			int32(f.SortKey), int32(f.ExtractedOrder),
		}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        factsTable,
		Columns:      factColumns,
		ConflictKeys: factKeys,
	}, rows)
	return n, eris.Wrap(err, "postgres: save facts")
}

// SaveFXRates upserts monthly rates into fs.fx_rates.
func (s *PostgresStore) SaveFXRates(ctx context.Context, rates []model.FXRate) (int64, error) {
	rates = dedupeRates(rates)
	rows := make([][]any, len(rates))
	for i, r := range rates {
		rows[i] = []any{r.YearMonth, r.Currency, numeric(r.Rate)}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        fxTable,
		Columns:      fxColumns,
		ConflictKeys: fxKeys,
	}, rows)
	return n, eris.Wrap(err, "postgres: save fx rates")
}

// LoadFXRates returns every stored rate ordered by month and currency.
func (s *PostgresStore) LoadFXRates(ctx context.Context) ([]model.FXRate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT year_month, currency_code, rate_to_base FROM fs.fx_rates ORDER BY year_month, currency_code`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load fx rates")
	}
	defer rows.Close()

	var out []model.FXRate
	for rows.Next() {
		var r model.FXRate
		var n pgtype.Numeric
		if err := rows.Scan(&r.YearMonth, &r.Currency, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan fx rate")
		}
		if r.Rate, err = fromNumeric(n); err != nil {
			zap.L().Warn("postgres: skipping fx rate",
				zap.String("year_month", r.YearMonth),
				zap.String("currency", r.Currency),
				zap.Error(err),
			)
			continue
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate fx rates")
}

// StartRun records a running run for symbol.
func (s *PostgresStore) StartRun(ctx context.Context, symbol string) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Symbol:    symbol,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO fs.runs (id, symbol, status, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, run.Symbol, string(run.Status), run.StartedAt,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

// CompleteRun marks a run complete with its fact count.
func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, factCount int) error {
	return s.finishRun(ctx, runID, model.RunStatusComplete, factCount, "")
}

// FailRun marks a run failed with reason.
func (s *PostgresStore) FailRun(ctx context.Context, runID string, reason string) error {
	return s.finishRun(ctx, runID, model.RunStatusFailed, 0, reason)
}

func (s *PostgresStore) finishRun(ctx context.Context, runID string, status model.RunStatus, factCount int, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE fs.runs SET status = $1, fact_count = $2, error = $3, completed_at = $4 WHERE id = $5`,
		string(status), factCount, reason, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	return nil
}

const runColumns = `id, symbol, status, fact_count, error, started_at, completed_at`

// GetRun returns a run by ID or ErrNotFound.
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM fs.runs WHERE id = $1`, runID)
	r, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

// ListRuns returns runs newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM fs.runs WHERE true`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if filter.Symbol != "" {
		query += ` AND symbol = ` + arg(filter.Symbol)
	}
	query += ` ORDER BY started_at DESC LIMIT ` + arg(filter.limit())
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var status string
	var completed *time.Time
	if err := row.Scan(&r.ID, &r.Symbol, &status, &r.FactCount, &r.Error, &r.StartedAt, &completed); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	r.CompletedAt = completed
	return &r, nil
}
