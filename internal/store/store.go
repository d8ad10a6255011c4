// Package store persists normalized facts, FX rates and the run log.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/fundamentals-cli/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// DefaultListLimit caps ListRuns when the filter sets no limit.
const DefaultListLimit = 100

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Symbol string          `json:"symbol,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// Store is the storage collaborator of the pipeline. Facts are keyed by
// (symbol, statement_type, item, period_header) and FX rates by
// (year_month, currency); saving either is an upsert.
type Store interface {
	// Facts and rates
	SaveFacts(ctx context.Context, facts []model.Fact) (int64, error)
	SaveFXRates(ctx context.Context, rates []model.FXRate) (int64, error)
	LoadFXRates(ctx context.Context) ([]model.FXRate, error)

	// Run log
	StartRun(ctx context.Context, symbol string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, factCount int) error
	FailRun(ctx context.Context, runID string, reason string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// factColumns is the column order used by both backends.
var factColumns = []string{
	"symbol", "statement_type", "item", "period_header",
	"fiscal_year", "fiscal_period", "period_date",
	"original_value", "original_currency", "fx_rate", "value",
	"source_kind", "filing_type", "filed_date",
	"sort_order_item", "sort_order_metric", "statement_sort_order",
	"sort_key", "extracted_order",
}

var factKeys = []string{"symbol", "statement_type", "item", "period_header"}

var fxColumns = []string{"year_month", "currency_code", "rate_to_base"}

var fxKeys = []string{"year_month", "currency_code"}

// dedupeFacts keeps the last fact per storage key so a single upsert never
// touches the same row twice.
func dedupeFacts(facts []model.Fact) []model.Fact {
	idx := make(map[model.FactKey]int, len(facts))
	out := make([]model.Fact, 0, len(facts))
	for _, f := range facts {
		k := f.Key()
		if i, ok := idx[k]; ok {
			out[i] = f
			continue
		}
		idx[k] = len(out)
		out = append(out, f)
	}
	return out
}

func dedupeRates(rates []model.FXRate) []model.FXRate {
	type key struct{ ym, cur string }
	idx := make(map[key]int, len(rates))
	out := make([]model.FXRate, 0, len(rates))
	for _, r := range rates {
		k := key{r.YearMonth, r.Currency}
		if i, ok := idx[k]; ok {
			out[i] = r
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
	}
	return out
}

func numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) (decimal.Decimal, error) {
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite {
		return decimal.Zero, eris.New("store: non-finite numeric")
	}
	return decimal.NewFromBigInt(n.Int, n.Exp), nil
}

func date(t time.Time) pgtype.Date {
	return pgtype.Date{Time: t, Valid: !t.IsZero()}
}
