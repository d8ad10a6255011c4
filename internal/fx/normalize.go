// Package fx converts monetary facts to the base reporting currency using a
// monthly rate table.
package fx

import (
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/fundamentals-cli/internal/model"
)

// YearMonthLayout is the key format of monthly rates.
const YearMonthLayout = "2006-01"

// DefaultMonetaryPlaces rounds converted amounts to the nearest ten.
const DefaultMonetaryPlaces int32 = -1

// PerSharePlaces is the precision kept for converted per-share amounts.
const PerSharePlaces int32 = 4

var one = decimal.NewFromInt(1)

type rateKey struct {
	yearMonth string
	currency  string
}

// Table is an immutable set of monthly rates to the base currency.
type Table struct {
	rates map[rateKey]decimal.Decimal
}

// NewTable indexes rates by (year-month, currency). Later entries replace
// earlier ones with the same key.
func NewTable(rates []model.FXRate) *Table {
	t := &Table{rates: make(map[rateKey]decimal.Decimal, len(rates))}
	for _, r := range rates {
		t.rates[rateKey{yearMonth: r.YearMonth, currency: strings.ToUpper(r.Currency)}] = r.Rate
	}
	return t
}

// Rate returns the rate for a currency in a month.
func (t *Table) Rate(yearMonth, currency string) (decimal.Decimal, bool) {
	if t == nil {
		return decimal.Decimal{}, false
	}
	r, ok := t.rates[rateKey{yearMonth: yearMonth, currency: strings.ToUpper(currency)}]
	return r, ok
}

// Len returns the number of rates.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rates)
}

// ItemClassifier identifies canonical items that bypass or alter conversion.
type ItemClassifier interface {
	IsShareCount(item string) bool
	IsPercentage(item string) bool
	IsPerShare(item string) bool
}

// Normalizer applies a rate table to facts. It is safe for concurrent use.
type Normalizer struct {
	base   string
	rates  *Table
	items  ItemClassifier
	places int32
}

// NewNormalizer creates a Normalizer converting into base.
func NewNormalizer(base string, rates *Table, items ItemClassifier) *Normalizer {
	if base == "" {
		base = model.DefaultBaseCurrency
	}
	return &Normalizer{
		base:   strings.ToUpper(base),
		rates:  rates,
		items:  items,
		places: DefaultMonetaryPlaces,
	}
}

// WithMonetaryPlaces returns a copy rounding monetary amounts to places
// decimal places (negative rounds to tens, hundreds, ...).
func (n *Normalizer) WithMonetaryPlaces(places int32) *Normalizer {
	c := *n
	c.places = places
	return &c
}

// Normalize fills Currency, FXRate and USDValue of f. Share counts are tagged
// SHARES and, like percentage metrics, keep their value. Facts in the base
// currency or without a rate for their month use rate 1. Every other amount
// is rounded to the monetary precision, or PerSharePlaces for per-share items.
func (n *Normalizer) Normalize(f model.Fact) model.Fact {
	if n.items.IsShareCount(f.Item) {
		f.Currency = model.CurrencyShares
	}
	if f.Currency == "" {
		f.Currency = n.base
	}

	if f.Currency == model.CurrencyShares || n.items.IsPercentage(f.Item) {
		f.FXRate = one
		f.USDValue = f.Value
		return f
	}

	rate := one
	if !strings.EqualFold(f.Currency, n.base) {
		if r, ok := n.rates.Rate(f.PeriodDate.Format(YearMonthLayout), f.Currency); ok {
			rate = r
		}
	}

	places := n.places
	if n.items.IsPerShare(f.Item) {
		places = PerSharePlaces
	}
	f.FXRate = rate
	f.USDValue = f.Value.Mul(rate).Round(places)
	return f
}

// Apply normalizes every fact.
func (n *Normalizer) Apply(facts []model.Fact) []model.Fact {
	out := make([]model.Fact, len(facts))
	missing := 0
	for i, f := range facts {
		out[i] = n.Normalize(f)
		if out[i].Currency != model.CurrencyShares && !strings.EqualFold(out[i].Currency, n.base) &&
			!n.items.IsPercentage(f.Item) && out[i].FXRate.Equal(one) {
			missing++
		}
	}
	if missing > 0 {
		zap.L().Debug("fx: facts passed through without a rate",
			zap.String("symbol", symbolOf(facts)),
			zap.Int("count", missing),
		)
	}
	return out
}

func symbolOf(facts []model.Fact) string {
	if len(facts) == 0 {
		return ""
	}
	return facts[0].Symbol
}
