// Package derive computes sub-totals and analytical ratios from a company's
// reconciled facts.
package derive

import (
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/fundamentals-cli/internal/concept"
	"github.com/sells-group/fundamentals-cli/internal/model"
	"github.com/sells-group/fundamentals-cli/internal/period"
)

// Filing types stamped on derived metrics.
const (
	FormDerivedCalc  = "Derived-Calc"
	FormDerivedRatio = "Derived-Ratio"
)

// RatioPlaces is the number of decimal places kept for derived metrics.
const RatioPlaces = 4

const grossProfitItem = "Gross Profit"

// Engine appends derived metrics to a reconciled fact set. It holds only
// read-only tables and is safe for concurrent use.
type Engine struct {
	resolver *concept.Resolver
	synonyms *concept.SynonymIndex
}

// NewEngine creates an Engine over the given resolver and synonym index.
func NewEngine(resolver *concept.Resolver, synonyms *concept.SynonymIndex) *Engine {
	return &Engine{resolver: resolver, synonyms: synonyms}
}

// Apply runs Subtotals then Ratios. Applying it to its own output yields the
// same fact set.
func (e *Engine) Apply(facts []model.Fact) []model.Fact {
	return e.Ratios(e.Subtotals(facts))
}

// periodGroup is the facts of one period header, in input order.
type periodGroup struct {
	header string
	facts  []model.Fact
}

func groupByHeader(facts []model.Fact) []periodGroup {
	idx := make(map[string]int)
	var groups []periodGroup
	for _, f := range facts {
		i, ok := idx[f.PeriodHeader]
		if !ok {
			i = len(groups)
			idx[f.PeriodHeader] = i
			groups = append(groups, periodGroup{header: f.PeriodHeader})
		}
		groups[i].facts = append(groups[i].facts, f)
	}
	return groups
}

// template returns the first monetary fact of a period. Derived metrics copy
// its symbol, period and currency.
func template(facts []model.Fact) (model.Fact, bool) {
	for _, f := range facts {
		if f.IsMonetary() {
			return f, true
		}
	}
	return model.Fact{}, false
}

// valueMap holds one statement's values for a period keyed by normalized item.
type valueMap map[string]decimal.Decimal

func statementValues(facts []model.Fact, st model.StatementType) valueMap {
	m := make(valueMap)
	for _, f := range facts {
		if f.StatementType != st {
			continue
		}
		key := concept.NormalizeItemName(f.Item)
		if _, ok := m[key]; !ok {
			m[key] = f.Value
		}
	}
	return m
}

// lookup returns the value of the highest-priority member of an operand's
// synonym set present in m.
func (e *Engine) lookup(m valueMap, op concept.Operand) (decimal.Decimal, bool) {
	set := e.synonyms.Set(op)
	bestRank := -1
	var bestKey string
	for key := range m {
		r, ok := set.Rank(key)
		if !ok {
			continue
		}
		if bestRank < 0 || r < bestRank || (r == bestRank && key < bestKey) {
			bestRank, bestKey = r, key
		}
	}
	if bestRank < 0 {
		return decimal.Decimal{}, false
	}
	return m[bestKey], true
}

// debt returns total borrowings when reported, otherwise the sum of the
// long-term and short-term debt present.
func (e *Engine) debt(m valueMap) (decimal.Decimal, bool) {
	set := e.synonyms.Set(concept.TotalDebt)

	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	components := map[int]decimal.Decimal{}
	for _, key := range keys {
		r, ok := set.Rank(key)
		if !ok {
			continue
		}
		if _, seen := components[r]; !seen {
			components[r] = m[key]
		}
	}

	if total, ok := components[0]; ok {
		return total, true
	}
	sum, found := decimal.Zero, false
	for r := 1; r <= 2; r++ {
		if v, ok := components[r]; ok {
			sum = sum.Add(v)
			found = true
		}
	}
	return sum, found
}

// metricFact builds a derived metric fact from the period template.
func (e *Engine) metricFact(tmpl model.Fact, key string, v decimal.Decimal, form string) (model.Fact, bool) {
	res, ok := e.resolver.Metric(key)
	if !ok {
		zap.L().Warn("derive: metric missing from concept table", zap.String("metric", key))
		return model.Fact{}, false
	}
	f := tmpl
	f.Item = res.Item
	f.StatementType = res.StatementType
	f.ItemSortOrder = res.ItemSortOrder
	f.MetricSortOrder = res.MetricSortOrder
	f.StatementSortOrder = res.StatementSortOrder
	f.Value = v.Round(RatioPlaces)
	f.Source = model.SourceDerived
	f.Form = form
	f.FXRate = decimal.Decimal{}
	f.USDValue = decimal.Decimal{}
	return f, true
}

// removeItems drops facts whose normalized item is in names, plus facts for
// which extra returns true.
func removeItems(facts []model.Fact, names map[string]bool, extra func(model.Fact) bool) []model.Fact {
	out := make([]model.Fact, 0, len(facts))
	for _, f := range facts {
		if names[concept.NormalizeItemName(f.Item)] || (extra != nil && extra(f)) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (e *Engine) metricNames(keys []string) map[string]bool {
	names := make(map[string]bool, len(keys))
	for _, key := range keys {
		if m, ok := e.resolver.Table().Metric(key); ok {
			names[concept.NormalizeItemName(m.Name)] = true
		}
	}
	return names
}

func divide(num, den decimal.Decimal) (decimal.Decimal, bool) {
	if den.IsZero() {
		return decimal.Decimal{}, false
	}
	return num.Div(den), true
}

func symbolOf(facts []model.Fact) string {
	if len(facts) == 0 {
		return ""
	}
	return facts[0].Symbol
}

// priorHeader returns the same period one fiscal year earlier.
func priorHeader(h string) (string, bool) {
	p, year, ok := period.ParseHeader(h)
	if !ok {
		return "", false
	}
	return period.Header(p, year-1), true
}
