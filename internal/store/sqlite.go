package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/fundamentals-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Decimals are kept
// as text so values round-trip exactly.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS facts (
	symbol               TEXT    NOT NULL,
	statement_type       TEXT    NOT NULL,
	item                 TEXT    NOT NULL,
	period_header        TEXT    NOT NULL,
	fiscal_year          INTEGER NOT NULL,
	fiscal_period        TEXT    NOT NULL,
	period_date          TEXT,
	original_value       TEXT    NOT NULL,
	original_currency    TEXT    NOT NULL DEFAULT '',
	fx_rate              TEXT    NOT NULL DEFAULT '1',
	value                TEXT    NOT NULL,
	source_kind          TEXT    NOT NULL,
	filing_type          TEXT    NOT NULL DEFAULT '',
	filed_date           TEXT,
	sort_order_item      INTEGER NOT NULL DEFAULT 9999,
	sort_order_metric    INTEGER NOT NULL DEFAULT 0,
	statement_sort_order INTEGER NOT NULL DEFAULT 99,
	sort_key             INTEGER NOT NULL DEFAULT 0,
	extracted_order      INTEGER NOT NULL DEFAULT 0,
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (symbol, statement_type, item, period_header)
);

CREATE INDEX IF NOT EXISTS idx_facts_symbol_sort ON facts(symbol, sort_key);

CREATE TABLE IF NOT EXISTS fx_rates (
	year_month    TEXT NOT NULL,
	currency_code TEXT NOT NULL,
	rate_to_base  TEXT NOT NULL,
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (year_month, currency_code)
);

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	symbol       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	fact_count   INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	started_at   DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_symbol ON runs(symbol, started_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

// Migrate creates the tables if they do not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// upsertSQL builds an INSERT ... ON CONFLICT DO UPDATE for table.
func upsertSQL(table string, cols, keys []string) string {
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	var sets []string
	for _, c := range cols {
		if !isKey[c] {
			sets = append(sets, c+" = excluded."+c)
		}
	}
	sets = append(sets, "updated_at = datetime('now')")
	return "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES (" +
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ") ON CONFLICT (" +
		strings.Join(keys, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", ")
}

// execBatch runs stmt once per row inside one transaction.
func (s *SQLiteStore) execBatch(ctx context.Context, query string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close()

	var n int64
	for _, row := range rows {
		res, err := stmt.ExecContext(ctx, row...)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: exec upsert")
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit")
	}
	return n, nil
}

func dateText(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.DateOnly)
}

// SaveFacts upserts facts.
func (s *SQLiteStore) SaveFacts(ctx context.Context, facts []model.Fact) (int64, error) {
	facts = dedupeFacts(facts)
	rows := make([][]any, len(facts))
	for i, f := range facts {
		rows[i] = []any{
			f.Symbol, f.StatementType.String(), f.Item, f.PeriodHeader,
			f.FiscalYear, string(f.FiscalPeriod), dateText(f.PeriodDate),
			f.Value.String(), f.Currency, f.FXRate.String(), f.USDValue.String(),
			string(f.Source), f.Form, dateText(f.Filed),
			f.ItemSortOrder, f.MetricSortOrder, f.StatementSortOrder,
			f.SortKey, f.ExtractedOrder,
		}
	}
	n, err := s.execBatch(ctx, upsertSQL("facts", factColumns, factKeys), rows)
	return n, eris.Wrap(err, "sqlite: save facts")
}

// SaveFXRates upserts monthly rates.
func (s *SQLiteStore) SaveFXRates(ctx context.Context, rates []model.FXRate) (int64, error) {
	rates = dedupeRates(rates)
	rows := make([][]any, len(rates))
	for i, r := range rates {
		rows[i] = []any{r.YearMonth, r.Currency, r.Rate.String()}
	}
	n, err := s.execBatch(ctx, upsertSQL("fx_rates", fxColumns, fxKeys), rows)
	return n, eris.Wrap(err, "sqlite: save fx rates")
}

// LoadFXRates returns every stored rate ordered by month and currency.
func (s *SQLiteStore) LoadFXRates(ctx context.Context) ([]model.FXRate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT year_month, currency_code, rate_to_base FROM fx_rates ORDER BY year_month, currency_code`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load fx rates")
	}
	defer rows.Close()

	var out []model.FXRate
	for rows.Next() {
		var r model.FXRate
		var rate string
		if err := rows.Scan(&r.YearMonth, &r.Currency, &rate); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fx rate")
		}
		if r.Rate, err = decimal.NewFromString(rate); err != nil {
			zap.L().Warn("sqlite: skipping fx rate",
				zap.String("year_month", r.YearMonth),
				zap.String("currency", r.Currency),
				zap.Error(err),
			)
			continue
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate fx rates")
}

// StartRun records a running run for symbol.
func (s *SQLiteStore) StartRun(ctx context.Context, symbol string) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Symbol:    symbol,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, symbol, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Symbol, string(run.Status), run.StartedAt,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

// CompleteRun marks a run complete with its fact count.
func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, factCount int) error {
	return s.finishRun(ctx, runID, model.RunStatusComplete, factCount, "")
}

// FailRun marks a run failed with reason.
func (s *SQLiteStore) FailRun(ctx context.Context, runID string, reason string) error {
	return s.finishRun(ctx, runID, model.RunStatusFailed, 0, reason)
}

func (s *SQLiteStore) finishRun(ctx context.Context, runID string, status model.RunStatus, factCount int, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, fact_count = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(status), factCount, reason, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
	}
	return nil
}

// GetRun returns a run by ID or ErrNotFound.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

// ListRuns returns runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, filter.Symbol)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, filter.limit())
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}
