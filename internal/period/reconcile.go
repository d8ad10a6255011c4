package period

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/fundamentals-cli/internal/model"
)

// Filing types stamped on facts the reconciler creates.
const (
	FormDerivedQ4   = "Derived-Q4"
	FormDerivedFY   = "Derived-FY"
	FormDerivedQ4BS = "Derived-Q4-BS"
	FormDerivedFYBS = "Derived-FY-BS"
)

// Reconcile runs every stage in order: Dedupe, Discretize, then either
// RelabelSemiAnnual (semi-annual filers) or AlignBalanceSheet, then DeriveQ4
// and DeriveFY. It never fails; stages whose preconditions are unmet return
// their input unchanged.
func Reconcile(facts []model.Fact) []model.Fact {
	facts = Dedupe(facts)
	facts = Discretize(facts)
	if IsSemiAnnual(facts) {
		facts = RelabelSemiAnnual(facts)
	} else {
		facts = AlignBalanceSheet(facts)
	}
	facts = DeriveQ4(facts)
	return DeriveFY(facts)
}

// sourceRank orders sources by trust; lower wins.
func sourceRank(s model.SourceKind) int {
	switch s {
	case model.SourceRegulatory:
		return 1
	case model.SourceScraped:
		return 2
	default:
		return 3
	}
}

// Prefer reports whether a should replace b for the same storage key:
// regulatory over scraped, amendment over original, later filing over
// earlier. Ties keep b.
func Prefer(a, b model.Fact) bool {
	if ra, rb := sourceRank(a.Source), sourceRank(b.Source); ra != rb {
		return ra < rb
	}
	if aa, ba := a.IsAmendment(), b.IsAmendment(); aa != ba {
		return aa
	}
	return a.Filed.After(b.Filed)
}

// Dedupe keeps one fact per (symbol, statement, item, header). The survivor
// takes the position of the first occurrence.
func Dedupe(facts []model.Fact) []model.Fact {
	pos := make(map[model.FactKey]int, len(facts))
	out := make([]model.Fact, 0, len(facts))
	for _, f := range facts {
		k := f.Key()
		if i, ok := pos[k]; ok {
			if Prefer(f, out[i]) {
				out[i] = f
			}
			continue
		}
		pos[k] = len(out)
		out = append(out, f)
	}
	if dropped := len(facts) - len(out); dropped > 0 {
		zap.L().Debug("period: dropped duplicate facts",
			zap.String("symbol", symbolOf(facts)),
			zap.Int("dropped", dropped),
		)
	}
	return out
}

// yearKey groups the facts of one line item within one fiscal year.
type yearKey struct {
	symbol    string
	statement model.StatementType
	item      string
	year      int
}

func yearKeyOf(f model.Fact) yearKey {
	return yearKey{symbol: f.Symbol, statement: f.StatementType, item: f.Item, year: f.FiscalYear}
}

// yearGroups indexes flow facts by line item and fiscal year, mapping each
// period to its position in facts.
func yearGroups(facts []model.Fact) (map[yearKey]map[model.FiscalPeriod]int, []yearKey) {
	groups := make(map[yearKey]map[model.FiscalPeriod]int)
	var order []yearKey
	for i, f := range facts {
		if !f.StatementType.IsFlow() {
			continue
		}
		k := yearKeyOf(f)
		g, ok := groups[k]
		if !ok {
			g = make(map[model.FiscalPeriod]int, 5)
			groups[k] = g
			order = append(order, k)
		}
		if _, seen := g[f.FiscalPeriod]; !seen {
			g[f.FiscalPeriod] = i
		}
	}
	return groups, order
}

// Discretize converts year-to-date interim values of flow statements into
// discrete quarters: Q2 = YTD Q2 - Q1 and Q3 = YTD Q3 - YTD Q2, always using
// the values as reported. Only regulatory Q2 and Q3 facts follow the
// year-to-date convention; a conversion whose operands are missing is skipped.
func Discretize(facts []model.Fact) []model.Fact {
	out := append([]model.Fact(nil), facts...)
	groups, order := yearGroups(out)

	converted := 0
	for _, k := range order {
		g := groups[k]
		q1, hasQ1 := g[model.Q1]
		q2, hasQ2 := g[model.Q2]
		q3, hasQ3 := g[model.Q3]

		// Operands are read from facts, which is never modified.
		if hasQ2 && hasQ1 && isCumulative(facts[q2]) {
			out[q2].Value = facts[q2].Value.Sub(facts[q1].Value)
			converted++
		}
		if hasQ3 && hasQ2 && isCumulative(facts[q3]) && isCumulative(facts[q2]) {
			out[q3].Value = facts[q3].Value.Sub(facts[q2].Value)
			converted++
		}
	}

	if converted > 0 {
		zap.L().Debug("period: converted cumulative values to discrete quarters",
			zap.String("symbol", symbolOf(facts)),
			zap.Int("converted", converted),
		)
	}
	return out
}

func isCumulative(f model.Fact) bool {
	return f.Source == model.SourceRegulatory
}

// IsSemiAnnual reports whether a company's flow facts carry Q2 and Q4 but
// neither Q1 nor Q3. This is a heuristic: a quarterly filer with no Q1 or Q3
// history at all is misclassified as semi-annual.
func IsSemiAnnual(facts []model.Fact) bool {
	present := make(map[model.FiscalPeriod]bool, 7)
	for _, f := range facts {
		if f.StatementType.IsFlow() {
			present[f.FiscalPeriod] = true
		}
	}
	return present[model.Q2] && present[model.Q4] && !present[model.Q1] && !present[model.Q3]
}

// RelabelSemiAnnual renames Q2 periods to H1 and Q4 periods to FY across all
// statements, treating the second-half report as the fiscal-year total.
// Collisions with an existing FY fact are resolved by Dedupe.
func RelabelSemiAnnual(facts []model.Fact) []model.Fact {
	out := make([]model.Fact, len(facts))
	for i, f := range facts {
		switch f.FiscalPeriod {
		case model.Q2:
			f.FiscalPeriod = model.H1
			f.PeriodHeader = Header(model.H1, f.FiscalYear)
		case model.Q4:
			f.FiscalPeriod = model.FY
			f.PeriodHeader = Header(model.FY, f.FiscalYear)
		}
		out[i] = f
	}
	zap.L().Debug("period: relabeled semi-annual filer", zap.String("symbol", symbolOf(facts)))
	return Dedupe(out)
}

// AlignBalanceSheet ensures every balance-sheet item reported at Q4 or FY
// has both: a Q4 balance is copied to FY and an FY balance to Q4.
func AlignBalanceSheet(facts []model.Fact) []model.Fact {
	have := make(map[model.FactKey]bool, len(facts))
	for _, f := range facts {
		have[f.Key()] = true
	}

	out := append([]model.Fact(nil), facts...)
	add := func(src model.Fact, p model.FiscalPeriod, form string) {
		c := src
		c.FiscalPeriod = p
		c.PeriodHeader = Header(p, src.FiscalYear)
		c.Source = model.SourceDerived
		c.Form = form
		if have[c.Key()] {
			return
		}
		have[c.Key()] = true
		out = append(out, c)
	}

	for _, f := range facts {
		if f.StatementType != model.BalanceSheet {
			continue
		}
		switch f.FiscalPeriod {
		case model.Q4:
			add(f, model.FY, FormDerivedFYBS)
		case model.FY:
			add(f, model.Q4, FormDerivedQ4BS)
		}
	}
	return out
}

// DeriveQ4 adds Q4 = FY - Q1 - Q2 - Q3 for flow items that have all of Q1,
// Q2, Q3 and FY but no Q4. The FY fact is the template and the period date is
// the fiscal year end.
func DeriveQ4(facts []model.Fact) []model.Fact {
	groups, order := yearGroups(facts)

	out := append([]model.Fact(nil), facts...)
	derived := 0
	for _, k := range order {
		g := groups[k]
		fy, ok := g[model.FY]
		if !ok || has(g, model.Q4) || !has(g, model.Q1, model.Q2, model.Q3) {
			continue
		}

		q4 := facts[fy]
		q4.Value = facts[fy].Value.
			Sub(facts[g[model.Q1]].Value).
			Sub(facts[g[model.Q2]].Value).
			Sub(facts[g[model.Q3]].Value)
		q4.FiscalPeriod = model.Q4
		q4.PeriodHeader = Header(model.Q4, k.year)
		if q4.PeriodDate.IsZero() {
			q4.PeriodDate = DefaultPeriodDate(model.Q4, k.year)
		}
		q4.Source = model.SourceDerived
		q4.Form = FormDerivedQ4
		out = append(out, q4)
		derived++
	}

	if derived > 0 {
		zap.L().Debug("period: derived Q4 from FY",
			zap.String("symbol", symbolOf(facts)),
			zap.Int("derived", derived),
		)
	}
	return out
}

// DeriveFY adds FY = Q1 + Q2 + Q3 + Q4 for flow items with all four
// quarters but no FY. The Q4 fact is the template.
func DeriveFY(facts []model.Fact) []model.Fact {
	groups, order := yearGroups(facts)

	out := append([]model.Fact(nil), facts...)
	derived := 0
	for _, k := range order {
		g := groups[k]
		if has(g, model.FY) || !has(g, model.Q1, model.Q2, model.Q3, model.Q4) {
			continue
		}

		sum := decimal.Zero
		for _, p := range []model.FiscalPeriod{model.Q1, model.Q2, model.Q3, model.Q4} {
			sum = sum.Add(facts[g[p]].Value)
		}

		fy := facts[g[model.Q4]]
		fy.Value = sum
		fy.FiscalPeriod = model.FY
		fy.PeriodHeader = Header(model.FY, k.year)
		fy.Source = model.SourceDerived
		fy.Form = FormDerivedFY
		out = append(out, fy)
		derived++
	}

	if derived > 0 {
		zap.L().Debug("period: derived FY from quarters",
			zap.String("symbol", symbolOf(facts)),
			zap.Int("derived", derived),
		)
	}
	return out
}

// HasSufficientQuarterlyData reports whether the flow facts hold at least
// threshold Q1, Q2 and Q3 facts each. Callers use it to decide whether
// filing data must be supplemented with vendor data.
func HasSufficientQuarterlyData(facts []model.Fact, threshold int) bool {
	counts := make(map[model.FiscalPeriod]int, 3)
	flow := 0
	for _, f := range facts {
		if !f.StatementType.IsFlow() {
			continue
		}
		flow++
		counts[f.FiscalPeriod]++
	}
	if flow == 0 {
		return false
	}
	return counts[model.Q1] >= threshold && counts[model.Q2] >= threshold && counts[model.Q3] >= threshold
}

func has(g map[model.FiscalPeriod]int, periods ...model.FiscalPeriod) bool {
	for _, p := range periods {
		if _, ok := g[p]; !ok {
			return false
		}
	}
	return true
}

func symbolOf(facts []model.Fact) string {
	if len(facts) == 0 {
		return ""
	}
	return facts[0].Symbol
}
