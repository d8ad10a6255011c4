// Package sortkey assigns the final deterministic ordering of a fact set.
package sortkey

import (
	"cmp"
	"slices"

	"github.com/sells-group/fundamentals-cli/internal/model"
	"github.com/sells-group/fundamentals-cli/internal/period"
)

type itemKey struct {
	symbol string
	item   string
}

// Compare orders two facts by statement order, item order, metric order and
// chronological period, then by item, source and symbol so that the order is
// total.
func Compare(a, b model.Fact) int {
	if c := cmp.Compare(a.StatementSortOrder, b.StatementSortOrder); c != 0 {
		return c
	}
	if c := cmp.Compare(a.ItemSortOrder, b.ItemSortOrder); c != 0 {
		return c
	}
	if c := cmp.Compare(a.MetricSortOrder, b.MetricSortOrder); c != 0 {
		return c
	}

	ay, ao := period.ChronoKey(a.PeriodHeader)
	by, bo := period.ChronoKey(b.PeriodHeader)
	if c := cmp.Compare(ay, by); c != 0 {
		return c
	}
	if c := cmp.Compare(ao, bo); c != 0 {
		return c
	}

	if c := cmp.Compare(a.Item, b.Item); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Source, b.Source); c != 0 {
		return c
	}
	return cmp.Compare(a.Symbol, b.Symbol)
}

// Assign sorts a copy of facts, sets SortKey to each fact's 0-based rank and
// ExtractedOrder to its 1-based occurrence within (symbol, item).
func Assign(facts []model.Fact) []model.Fact {
	out := slices.Clone(facts)
	slices.SortStableFunc(out, Compare)

	seen := make(map[itemKey]int, len(out))
	for i := range out {
		out[i].SortKey = i
		k := itemKey{symbol: out[i].Symbol, item: out[i].Item}
		seen[k]++
		out[i].ExtractedOrder = seen[k]
	}
	return out
}
