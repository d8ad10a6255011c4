package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fundamentals-cli/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteMigrateIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestSQLiteSaveFactsUpsert(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	facts := sampleFacts()
	n, err := s.SaveFacts(ctx, facts)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	facts[0].USDValue = decimal.RequireFromString("1200")
	_, err = s.SaveFacts(ctx, facts)
	require.NoError(t, err)

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM facts`).Scan(&count))
	assert.Equal(t, 2, count)

	var value, periodDate string
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT value, period_date FROM facts WHERE symbol = ? AND item = ?`, "ACME", "Revenue",
	).Scan(&value, &periodDate))
	assert.Equal(t, "1200", value)
	assert.Equal(t, "2023-12-31", periodDate)
}

func TestSQLiteSaveFactsEmpty(t *testing.T) {
	s := newTestSQLite(t)
	n, err := s.SaveFacts(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteFXRatesRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.SaveFXRates(ctx, []model.FXRate{
		{YearMonth: "2023-02", Currency: "EUR", Rate: decimal.RequireFromString("1.0724")},
		{YearMonth: "2023-01", Currency: "GBP", Rate: decimal.RequireFromString("1.2312")},
		{YearMonth: "2023-01", Currency: "EUR", Rate: decimal.RequireFromString("1.0861")},
	})
	require.NoError(t, err)

	_, err = s.SaveFXRates(ctx, []model.FXRate{
		{YearMonth: "2023-01", Currency: "EUR", Rate: decimal.RequireFromString("1.0870")},
	})
	require.NoError(t, err)

	rates, err := s.LoadFXRates(ctx)
	require.NoError(t, err)
	require.Len(t, rates, 3)
	assert.Equal(t, "2023-01", rates[0].YearMonth)
	assert.Equal(t, "EUR", rates[0].Currency)
	assert.Equal(t, "1.087", rates[0].Rate.String())
	assert.Equal(t, "GBP", rates[1].Currency)
	assert.Equal(t, "2023-02", rates[2].YearMonth)
}

func TestSQLiteRunLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.StartRun(ctx, "ACME")
	require.NoError(t, err)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "ACME", got.Symbol)
	assert.Equal(t, model.RunStatusRunning, got.Status)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, s.CompleteRun(ctx, run.ID, 42))

	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	assert.Equal(t, 42, got.FactCount)
	assert.NotNil(t, got.CompletedAt)
}

func TestSQLiteFailRun(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.StartRun(ctx, "ACME")
	require.NoError(t, err)
	require.NoError(t, s.FailRun(ctx, run.ID, "no usable facts"))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, "no usable facts", got.Error)
}

func TestSQLiteRunNotFound(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.GetRun(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	err = s.CompleteRun(ctx, "missing", 1)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLiteListRuns(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a, err := s.StartRun(ctx, "ACME")
	require.NoError(t, err)
	_, err = s.StartRun(ctx, "BETA")
	require.NoError(t, err)
	c, err := s.StartRun(ctx, "ACME")
	require.NoError(t, err)
	require.NoError(t, s.FailRun(ctx, c.ID, "boom"))

	tests := []struct {
		name   string
		filter RunFilter
		want   int
	}{
		{"all", RunFilter{}, 3},
		{"by symbol", RunFilter{Symbol: "ACME"}, 2},
		{"by status", RunFilter{Status: model.RunStatusFailed}, 1},
		{"symbol and status", RunFilter{Symbol: "ACME", Status: model.RunStatusRunning}, 1},
		{"limit", RunFilter{Limit: 2}, 2},
		{"offset", RunFilter{Limit: 10, Offset: 2}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := s.ListRuns(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, runs, tt.want)
		})
	}

	runs, err := s.ListRuns(ctx, RunFilter{Symbol: "ACME", Status: model.RunStatusRunning})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, a.ID, runs[0].ID)
}

func TestUpsertSQL(t *testing.T) {
	got := upsertSQL("fx_rates", fxColumns, fxKeys)
	assert.Equal(t,
		"INSERT INTO fx_rates (year_month, currency_code, rate_to_base) VALUES (?, ?, ?) "+
			"ON CONFLICT (year_month, currency_code) DO UPDATE SET rate_to_base = excluded.rate_to_base, updated_at = datetime('now')",
		got)
}

func TestStoresSatisfyInterface(t *testing.T) {
	var _ Store = (*SQLiteStore)(nil)
	var _ Store = (*PostgresStore)(nil)
}
