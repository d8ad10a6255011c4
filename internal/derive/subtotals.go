package derive

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/fundamentals-cli/internal/concept"
	"github.com/sells-group/fundamentals-cli/internal/model"
)

var subtotalMetrics = []string{"ebit", "ebitda", "operating margin", "gross margin"}

// Subtotals appends, per period: Gross Profit = Revenue - Cost of revenue
// when no gross profit is reported, EBIT = operating income, EBITDA =
// operating income + D&A, Operating Margin and Gross Margin. Previously
// derived subtotals are removed first.
func (e *Engine) Subtotals(facts []model.Fact) []model.Fact {
	names := e.metricNames(subtotalMetrics)
	facts = removeItems(facts, names, func(f model.Fact) bool {
		return f.Form == FormDerivedCalc && concept.NormalizeItemName(f.Item) == concept.NormalizeItemName(grossProfitItem)
	})

	var added []model.Fact
	for _, g := range groupByHeader(facts) {
		tmpl, ok := template(g.facts)
		if !ok {
			continue
		}
		added = append(added, e.periodSubtotals(tmpl, g.facts)...)
	}

	if len(added) > 0 {
		zap.L().Debug("derive: added subtotals",
			zap.String("symbol", symbolOf(facts)),
			zap.Int("count", len(added)),
		)
	}
	return append(facts, added...)
}

func (e *Engine) periodSubtotals(tmpl model.Fact, facts []model.Fact) []model.Fact {
	inc := statementValues(facts, model.IncomeStatement)
	cf := statementValues(facts, model.CashFlow)

	var out []model.Fact
	add := func(key string, v decimal.Decimal) {
		if f, ok := e.metricFact(tmpl, key, v, FormDerivedCalc); ok {
			out = append(out, f)
		}
	}

	revenue, hasRevenue := e.lookup(inc, concept.Revenue)

	grossProfit, hasGP := e.lookup(inc, concept.GrossProfit)
	if !hasGP && hasRevenue {
		if cor, ok := e.lookup(inc, concept.CostOfRevenue); ok {
			grossProfit, hasGP = revenue.Sub(cor), true
			out = append(out, e.grossProfitFact(tmpl, grossProfit))
		}
	}

	if oi, ok := e.lookup(inc, concept.OperatingIncome); ok {
		add("ebit", oi)
		if hasRevenue {
			if margin, ok := divide(oi, revenue); ok {
				add("operating margin", margin)
			}
		}

		da, ok := e.lookup(cf, concept.DepreciationAmortization)
		if !ok {
			da, ok = e.lookup(inc, concept.DepreciationAmortization)
		}
		if !ok {
			da = decimal.Zero
		}
		add("ebitda", oi.Add(da))
	}

	if hasGP && hasRevenue {
		if margin, ok := divide(grossProfit, revenue); ok {
			add("gross margin", margin)
		}
	}
	return out
}

func (e *Engine) grossProfitFact(tmpl model.Fact, v decimal.Decimal) model.Fact {
	res := e.resolver.Resolve(grossProfitItem)
	f := tmpl
	f.Item = res.Item
	f.StatementType = res.StatementType
	f.ItemSortOrder = res.ItemSortOrder
	f.MetricSortOrder = 0
	f.StatementSortOrder = res.StatementSortOrder
	f.Value = v
	f.Source = model.SourceDerived
	f.Form = FormDerivedCalc
	f.FXRate = decimal.Decimal{}
	f.USDValue = decimal.Decimal{}
	return f
}
