package derive

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/fundamentals-cli/internal/concept"
	"github.com/sells-group/fundamentals-cli/internal/model"
)

var ratioMetrics = []string{
	"return on assets",
	"return on equity",
	"asset turnover",
	"a/r turnover",
	"interest coverage ratio",
	"current ratio",
	"quick ratio",
	"cash ratio",
	"debt to equity",
	"debt to assets",
}

// operand is an optional decimal value.
type operand struct {
	v  decimal.Decimal
	ok bool
}

// average returns the mean of the current and prior values, or the current
// value alone when there is no prior one.
func average(cur, prev operand) operand {
	if !cur.ok || !prev.ok {
		return cur
	}
	return operand{v: cur.v.Add(prev.v).Div(decimal.NewFromInt(2)), ok: true}
}

// Ratios appends return, turnover, coverage, liquidity and leverage ratios
// per period. Average-basis ratios use the mean of this period's and the
// prior fiscal year's balance sheet. A ratio is skipped when an operand is
// missing or its denominator is zero. Previously derived ratios are removed
// first.
func (e *Engine) Ratios(facts []model.Fact) []model.Fact {
	facts = removeItems(facts, e.metricNames(ratioMetrics), nil)

	groups := groupByHeader(facts)
	balances := make(map[string]valueMap, len(groups))
	for _, g := range groups {
		balances[g.header] = statementValues(g.facts, model.BalanceSheet)
	}

	var added []model.Fact
	for _, g := range groups {
		tmpl, ok := template(g.facts)
		if !ok {
			continue
		}
		var prev valueMap
		if h, ok := priorHeader(g.header); ok {
			prev = balances[h]
		}
		added = append(added, e.periodRatios(tmpl, g.facts, balances[g.header], prev)...)
	}

	if len(added) > 0 {
		zap.L().Debug("derive: added ratios",
			zap.String("symbol", symbolOf(facts)),
			zap.Int("count", len(added)),
		)
	}
	return append(facts, added...)
}

func (e *Engine) periodRatios(tmpl model.Fact, facts []model.Fact, bs, prevBS valueMap) []model.Fact {
	inc := statementValues(facts, model.IncomeStatement)

	get := func(m valueMap, op concept.Operand) operand {
		v, ok := e.lookup(m, op)
		return operand{v: v, ok: ok}
	}

	netIncome := get(inc, concept.NetIncome)
	revenue := get(inc, concept.Revenue)
	operatingIncome := get(inc, concept.OperatingIncome)
	interest := get(inc, concept.InterestExpense)

	totalAssets := get(bs, concept.TotalAssets)
	totalEquity := get(bs, concept.TotalEquity)
	receivables := get(bs, concept.AccountsReceivable)
	currentAssets := get(bs, concept.CurrentAssets)
	currentLiabilities := get(bs, concept.CurrentLiabilities)
	inventory := get(bs, concept.Inventory)
	cash := get(bs, concept.Cash)
	var totalDebt operand
	totalDebt.v, totalDebt.ok = e.debt(bs)

	avgAssets := average(totalAssets, get(prevBS, concept.TotalAssets))
	avgEquity := average(totalEquity, get(prevBS, concept.TotalEquity))
	avgReceivables := average(receivables, get(prevBS, concept.AccountsReceivable))

	var out []model.Fact
	ratio := func(key string, num, den operand) {
		if !num.ok || !den.ok {
			return
		}
		v, ok := divide(num.v, den.v)
		if !ok {
			return
		}
		if f, ok := e.metricFact(tmpl, key, v, FormDerivedRatio); ok {
			out = append(out, f)
		}
	}

	ratio("return on assets", netIncome, avgAssets)
	ratio("return on equity", netIncome, avgEquity)
	ratio("asset turnover", revenue, avgAssets)
	ratio("a/r turnover", revenue, avgReceivables)
	ratio("interest coverage ratio", operatingIncome, interest)

	ratio("current ratio", currentAssets, currentLiabilities)
	if currentAssets.ok && inventory.ok {
		ratio("quick ratio", operand{v: currentAssets.v.Sub(inventory.v), ok: true}, currentLiabilities)
	}
	ratio("cash ratio", cash, currentLiabilities)

	ratio("debt to equity", totalDebt, totalEquity)
	ratio("debt to assets", totalDebt, totalAssets)
	return out
}
