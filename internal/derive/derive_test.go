package derive

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/fundamentals-cli/internal/concept"
	"github.com/sells-group/fundamentals-cli/internal/model"
	"github.com/sells-group/fundamentals-cli/internal/period"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newEngine() *Engine {
	tbl := concept.Default()
	return NewEngine(concept.NewResolver(tbl), concept.NewSynonymIndex(tbl))
}

func fact(st model.StatementType, item string, p model.FiscalPeriod, year int, v string) model.Fact {
	return model.Fact{
		Symbol:        "ACME",
		Item:          item,
		StatementType: st,
		FiscalYear:    year,
		FiscalPeriod:  p,
		PeriodHeader:  period.Header(p, year),
		PeriodDate:    period.DefaultPeriodDate(p, year),
		Value:         decimal.RequireFromString(v),
		Currency:      "USD",
		Source:        model.SourceRegulatory,
		Form:          "10-K",
	}
}

func find(facts []model.Fact, item, header string) (model.Fact, bool) {
	for _, f := range facts {
		if f.Item == item && f.PeriodHeader == header {
			return f, true
		}
	}
	return model.Fact{}, false
}

func requireValue(t *testing.T, facts []model.Fact, item, header, want string) model.Fact {
	t.Helper()
	f, ok := find(facts, item, header)
	require.True(t, ok, "%s %s missing", item, header)
	assert.True(t, f.Value.Equal(decimal.RequireFromString(want)), "%s %s: got %s want %s", item, header, f.Value, want)
	return f
}

func summary(facts []model.Fact) []string {
	out := make([]string, len(facts))
	for i, f := range facts {
		out[i] = fmt.Sprintf("%s|%s|%s|%s|%s|%d|%d", f.Item, f.PeriodHeader, f.Value.String(), f.Source, f.Form, f.ItemSortOrder, f.MetricSortOrder)
	}
	return out
}

func TestSubtotals_GrossProfitScenario(t *testing.T) {
	facts := []model.Fact{
		fact(model.IncomeStatement, "Revenue", model.Q1, 2023, "100"),
		fact(model.IncomeStatement, "Revenue", model.Q2, 2023, "130"),
		fact(model.IncomeStatement, "Cost of revenue", model.Q1, 2023, "60"),
		fact(model.IncomeStatement, "Cost of revenue", model.Q2, 2023, "80"),
	}

	out := newEngine().Subtotals(facts)

	gp := requireValue(t, out, "Gross Profit", "Q1_2023", "40")
	assert.Equal(t, model.SourceDerived, gp.Source)
	assert.Equal(t, FormDerivedCalc, gp.Form)
	assert.Equal(t, model.IncomeStatement, gp.StatementType)
	assert.Equal(t, 0, gp.MetricSortOrder)
	requireValue(t, out, "Gross Profit", "Q2_2023", "50")

	requireValue(t, out, "Gross Margin", "Q1_2023", "0.4")
	requireValue(t, out, "Gross Margin", "Q2_2023", "0.3846")
}

func TestSubtotals_ReportedGrossProfitKept(t *testing.T) {
	facts := []model.Fact{
		fact(model.IncomeStatement, "Revenue", model.FY, 2023, "100"),
		fact(model.IncomeStatement, "Cost of revenue", model.FY, 2023, "70"),
		fact(model.IncomeStatement, "Gross Profit", model.FY, 2023, "35"),
	}

	out := newEngine().Subtotals(facts)

	count := 0
	for _, f := range out {
		if f.Item == "Gross Profit" {
			count++
			assert.True(t, f.Value.Equal(decimal.NewFromInt(35)))
		}
	}
	assert.Equal(t, 1, count)
	requireValue(t, out, "Gross Margin", "FY_2023", "0.35")
}

func TestSubtotals_OperatingMetrics(t *testing.T) {
	facts := []model.Fact{
		fact(model.IncomeStatement, "Revenue", model.FY, 2023, "1000"),
		fact(model.IncomeStatement, "Income (loss) from operations", model.FY, 2023, "200"),
		fact(model.IncomeStatement, "Depreciation and amortization", model.FY, 2023, "5"),
		fact(model.CashFlow, "Depreciation and amortization", model.FY, 2023, "30"),
	}

	out := newEngine().Subtotals(facts)

	ebit := requireValue(t, out, "EBIT", "FY_2023", "200")
	assert.Equal(t, model.IncomeStatement, ebit.StatementType)
	assert.Equal(t, 2, ebit.MetricSortOrder)
	requireValue(t, out, "EBITDA", "FY_2023", "230")
	requireValue(t, out, "Operating Margin", "FY_2023", "0.2")
}

func TestSubtotals_EBITDAWithoutDA(t *testing.T) {
	facts := []model.Fact{
		fact(model.IncomeStatement, "Income (loss) from operations", model.FY, 2023, "50"),
	}

	out := newEngine().Subtotals(facts)
	requireValue(t, out, "EBITDA", "FY_2023", "50")
	_, ok := find(out, "Operating Margin", "FY_2023")
	assert.False(t, ok, "no revenue, no margin")
}

func TestSubtotals_ZeroRevenueSkipsMargins(t *testing.T) {
	facts := []model.Fact{
		fact(model.IncomeStatement, "Revenue", model.FY, 2023, "0"),
		fact(model.IncomeStatement, "Gross Profit", model.FY, 2023, "10"),
		fact(model.IncomeStatement, "Income (loss) from operations", model.FY, 2023, "5"),
	}

	out := newEngine().Subtotals(facts)
	_, ok := find(out, "Gross Margin", "FY_2023")
	assert.False(t, ok)
	_, ok = find(out, "Operating Margin", "FY_2023")
	assert.False(t, ok)
	requireValue(t, out, "EBIT", "FY_2023", "5")
}

func TestSubtotals_SharesOnlyPeriodSkipped(t *testing.T) {
	shares := fact(model.IncomeStatement, "Weighted-average shares: Basic", model.FY, 2023, "1000")
	shares.Currency = model.CurrencyShares
	oi := fact(model.IncomeStatement, "Income (loss) from operations", model.FY, 2023, "5")
	oi.Currency = model.CurrencyShares

	out := newEngine().Subtotals([]model.Fact{shares, oi})
	assert.Len(t, out, 2)
}

func TestSubtotals_TemplateIsFirstMonetaryFact(t *testing.T) {
	shares := fact(model.IncomeStatement, "Weighted-average shares: Basic", model.FY, 2023, "1000")
	shares.Currency = model.CurrencyShares
	oi := fact(model.IncomeStatement, "Income (loss) from operations", model.FY, 2023, "5")
	oi.Currency = "EUR"

	out := newEngine().Subtotals([]model.Fact{shares, oi})
	ebit := requireValue(t, out, "EBIT", "FY_2023", "5")
	assert.Equal(t, "EUR", ebit.Currency)
	assert.Equal(t, "ACME", ebit.Symbol)
	assert.Equal(t, model.FY, ebit.FiscalPeriod)
}

func TestRatios_AverageBasis(t *testing.T) {
	facts := []model.Fact{
		fact(model.IncomeStatement, "Net income (loss)", model.FY, 2023, "10"),
		fact(model.IncomeStatement, "Revenue", model.FY, 2023, "200"),
		fact(model.BalanceSheet, "Total stockholders' equity", model.FY, 2023, "100"),
		fact(model.BalanceSheet, "Total stockholders' equity", model.FY, 2022, "60"),
		fact(model.BalanceSheet, "Total assets", model.FY, 2023, "400"),
	}

	out := newEngine().Ratios(facts)

	roe := requireValue(t, out, "Return on Equity (ROE)", "FY_2023", "0.125")
	assert.Equal(t, model.BalanceSheet, roe.StatementType)
	assert.Equal(t, 1, roe.MetricSortOrder)
	assert.Equal(t, model.SourceDerived, roe.Source)
	assert.Equal(t, FormDerivedRatio, roe.Form)

	requireValue(t, out, "Return on Assets (ROA)", "FY_2023", "0.025")
	requireValue(t, out, "Asset Turnover", "FY_2023", "0.5")
	_, ok := find(out, "Return on Equity (ROE)", "FY_2022")
	assert.False(t, ok, "no net income in 2022")
}

func TestRatios_ROESkippedWhenEquityZeroOrMissing(t *testing.T) {
	tests := []struct {
		name  string
		facts []model.Fact
	}{
		{"missing", []model.Fact{
			fact(model.IncomeStatement, "Net income (loss)", model.FY, 2023, "10"),
		}},
		{"zero current and prior", []model.Fact{
			fact(model.IncomeStatement, "Net income (loss)", model.FY, 2023, "10"),
			fact(model.BalanceSheet, "Total stockholders' equity", model.FY, 2023, "0"),
			fact(model.BalanceSheet, "Total stockholders' equity", model.FY, 2022, "0"),
		}},
		{"zero current, missing prior", []model.Fact{
			fact(model.IncomeStatement, "Net income (loss)", model.FY, 2023, "10"),
			fact(model.BalanceSheet, "Total stockholders' equity", model.FY, 2023, "0"),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := newEngine().Apply(tt.facts)
			for _, f := range out {
				assert.NotEqual(t, "Return on Equity (ROE)", f.Item)
				assert.NotEqual(t, "Debt to Equity Ratio", f.Item)
			}
		})
	}
}

func TestRatios_Liquidity(t *testing.T) {
	base := []model.Fact{
		fact(model.BalanceSheet, "Total current assets", model.Q2, 2023, "300"),
		fact(model.BalanceSheet, "Total current liabilities", model.Q2, 2023, "150"),
		fact(model.BalanceSheet, "Cash and cash equivalents", model.Q2, 2023, "75"),
	}

	out := newEngine().Ratios(base)
	requireValue(t, out, "Current Ratio", "Q2_2023", "2")
	requireValue(t, out, "Cash Ratio", "Q2_2023", "0.5")
	_, ok := find(out, "Quick Ratio", "Q2_2023")
	assert.False(t, ok, "quick ratio needs inventory")

	withInv := append(append([]model.Fact(nil), base...),
		fact(model.BalanceSheet, "Inventories, net", model.Q2, 2023, "90"))
	out = newEngine().Ratios(withInv)
	requireValue(t, out, "Quick Ratio", "Q2_2023", "1.4")

	zeroCL := []model.Fact{
		fact(model.BalanceSheet, "Total current assets", model.Q2, 2023, "300"),
		fact(model.BalanceSheet, "Total current liabilities", model.Q2, 2023, "0"),
	}
	out = newEngine().Ratios(zeroCL)
	assert.Len(t, out, 2)
}

func TestRatios_Leverage(t *testing.T) {
	facts := []model.Fact{
		fact(model.BalanceSheet, "Long-term debt, non-current", model.FY, 2023, "80"),
		fact(model.BalanceSheet, "Short-term borrowings", model.FY, 2023, "20"),
		fact(model.BalanceSheet, "Total stockholders' equity", model.FY, 2023, "200"),
		fact(model.BalanceSheet, "Total assets", model.FY, 2023, "500"),
	}

	out := newEngine().Ratios(facts)
	requireValue(t, out, "Debt to Equity Ratio", "FY_2023", "0.5")
	requireValue(t, out, "Debt to Assets Ratio", "FY_2023", "0.2")

	withTotal := append(append([]model.Fact(nil), facts...),
		fact(model.BalanceSheet, "Total borrowings", model.FY, 2023, "150"))
	out = newEngine().Ratios(withTotal)
	requireValue(t, out, "Debt to Equity Ratio", "FY_2023", "0.75")
}

func TestRatios_InterestCoverage(t *testing.T) {
	facts := []model.Fact{
		fact(model.IncomeStatement, "Income (loss) from operations", model.FY, 2023, "90"),
		fact(model.IncomeStatement, "Interest expense", model.FY, 2023, "30"),
		fact(model.IncomeStatement, "Revenue", model.FY, 2023, "900"),
		fact(model.BalanceSheet, "Accounts receivable, net", model.FY, 2023, "100"),
		fact(model.BalanceSheet, "Accounts receivable, net", model.FY, 2022, "200"),
	}

	out := newEngine().Ratios(facts)
	cov := requireValue(t, out, "Interest Coverage Ratio", "FY_2023", "3")
	assert.Equal(t, model.IncomeStatement, cov.StatementType)
	requireValue(t, out, "Accounts Receivable Turnover", "FY_2023", "6")
}

func TestRatios_RoundedToFourPlaces(t *testing.T) {
	facts := []model.Fact{
		fact(model.BalanceSheet, "Total current assets", model.FY, 2023, "1"),
		fact(model.BalanceSheet, "Total current liabilities", model.FY, 2023, "3"),
	}

	out := newEngine().Ratios(facts)
	f := requireValue(t, out, "Current Ratio", "FY_2023", "0.3333")
	assert.Equal(t, "0.3333", f.Value.String())
}

func TestApply_Idempotent(t *testing.T) {
	facts := []model.Fact{
		fact(model.IncomeStatement, "Revenue", model.FY, 2023, "1000"),
		fact(model.IncomeStatement, "Cost of revenue", model.FY, 2023, "600"),
		fact(model.IncomeStatement, "Income (loss) from operations", model.FY, 2023, "150"),
		fact(model.IncomeStatement, "Net income (loss)", model.FY, 2023, "90"),
		fact(model.IncomeStatement, "Interest expense", model.FY, 2023, "10"),
		fact(model.CashFlow, "Depreciation and amortization", model.FY, 2023, "40"),
		fact(model.BalanceSheet, "Total assets", model.FY, 2023, "2000"),
		fact(model.BalanceSheet, "Total assets", model.FY, 2022, "1800"),
		fact(model.BalanceSheet, "Total stockholders' equity", model.FY, 2023, "700"),
		fact(model.BalanceSheet, "Total current assets", model.FY, 2023, "500"),
		fact(model.BalanceSheet, "Total current liabilities", model.FY, 2023, "250"),
		fact(model.BalanceSheet, "Inventories, net", model.FY, 2023, "100"),
		fact(model.BalanceSheet, "Cash and cash equivalents", model.FY, 2023, "120"),
		fact(model.BalanceSheet, "Total borrowings", model.FY, 2023, "300"),
	}

	e := newEngine()
	once := e.Apply(facts)
	twice := e.Apply(once)

	assert.Greater(t, len(once), len(facts))
	assert.Equal(t, summary(once), summary(twice))
}

func TestApply_StaleMetricsReplaced(t *testing.T) {
	stale := fact(model.IncomeStatement, "EBIT", model.FY, 2023, "999")
	facts := []model.Fact{
		fact(model.IncomeStatement, "Income (loss) from operations", model.FY, 2023, "150"),
		stale,
	}

	out := newEngine().Apply(facts)
	count := 0
	for _, f := range out {
		if f.Item == "EBIT" {
			count++
			assert.True(t, f.Value.Equal(decimal.NewFromInt(150)))
		}
	}
	assert.Equal(t, 1, count)
}

func TestApply_Empty(t *testing.T) {
	assert.Empty(t, newEngine().Apply(nil))
}
