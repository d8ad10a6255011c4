// Package xbrl converts EDGAR company-facts JSON into raw facts.
package xbrl

import (
	"encoding/json"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/fundamentals-cli/internal/concept"
	"github.com/sells-group/fundamentals-cli/internal/model"
)

// Taxonomy namespaces in a company-facts document.
const (
	TaxonomyUSGAAP = "us-gaap"
	TaxonomyIFRS   = "ifrs-full"
	TaxonomyDEI    = "dei"
)

// AcceptedForms lists the filing types taken from company facts.
var AcceptedForms = map[string]bool{
	"10-K": true, "10-K/A": true,
	"10-Q": true, "10-Q/A": true,
	"20-F": true, "20-F/A": true,
	"40-F": true, "40-F/A": true,
}

// CompanyFacts represents the EDGAR company facts JSON structure.
type CompanyFacts struct {
	CIK        int               `json:"cik"`
	EntityName string            `json:"entityName"`
	Facts      map[string]FactNS `json:"facts"`
}

// FactNS groups facts by concept name within one taxonomy.
type FactNS map[string]Fact

// Fact is a single XBRL concept with its values per unit.
type Fact struct {
	Label       string                 `json:"label"`
	Description string                 `json:"description"`
	Units       map[string][]FactValue `json:"units"`
}

// FactValue is a single data point. FY and FP describe the filing, not
// necessarily the period of the value: a 10-K also carries the prior year's
// comparatives under the same FY.
type FactValue struct {
	Start string      `json:"start,omitempty"`
	End   string      `json:"end"`
	Val   json.Number `json:"val"`
	Accn  string      `json:"accn"`
	FY    int         `json:"fy"`
	FP    string      `json:"fp"`
	Form  string      `json:"form"`
	Filed string      `json:"filed"`
	Frame string      `json:"frame,omitempty"`
}

// ParseCompanyFacts parses EDGAR company facts JSON from a reader.
func ParseCompanyFacts(r io.Reader) (*CompanyFacts, error) {
	var facts CompanyFacts
	if err := json.NewDecoder(r).Decode(&facts); err != nil {
		return nil, eris.Wrap(err, "xbrl: parse company facts")
	}
	return &facts, nil
}

// PrimaryTaxonomy returns "us-gaap" when the document carries any mapped
// US-GAAP concept and "ifrs-full" otherwise.
func PrimaryTaxonomy(cf *CompanyFacts, table *concept.Table) string {
	if cf != nil {
		for name := range cf.Facts[TaxonomyUSGAAP] {
			if _, ok := table.Concept(TaxonomyUSGAAP, name); ok {
				return TaxonomyUSGAAP
			}
		}
	}
	return TaxonomyIFRS
}

// candidate is a value chosen for one (concept, unit, filing, period) slot.
type candidate struct {
	value FactValue
	start time.Time
	end   time.Time
}

func (c candidate) duration() time.Duration {
	if c.start.IsZero() {
		return 0
	}
	return c.end.Sub(c.start)
}

// better picks the current period over comparatives (latest end date) and,
// for the same end date, the longest duration: year-to-date over the
// discrete quarter.
func (c candidate) better(o candidate) bool {
	if !c.end.Equal(o.end) {
		return c.end.After(o.end)
	}
	return c.duration() > o.duration()
}

type slotKey struct {
	unit string
	accn string
	fp   string
}

// ToRawFacts flattens the mapped concepts of cf into raw facts for symbol.
// Only accepted forms are kept and, per filing, only the values for the
// filing's own period. Items are the canonical names from table; concepts
// absent from table are skipped.
func ToRawFacts(cf *CompanyFacts, symbol string, table *concept.Table) []model.RawFact {
	if cf == nil || len(cf.Facts) == 0 {
		return nil
	}

	var out []model.RawFact
	skipped := 0
	for _, ns := range sortedKeys(cf.Facts) {
		for _, name := range sortedKeys(cf.Facts[ns]) {
			c, ok := table.Concept(ns, name)
			if !ok {
				continue
			}
			fact := cf.Facts[ns][name]

			slots := make(map[slotKey]candidate)
			var order []slotKey
			for _, unit := range sortedKeys(fact.Units) {
				for _, v := range fact.Units[unit] {
					cand, ok := toCandidate(v)
					if !ok {
						skipped++
						continue
					}
					k := slotKey{unit: unit, accn: v.Accn, fp: strings.ToUpper(v.FP)}
					cur, seen := slots[k]
					if !seen {
						order = append(order, k)
					}
					if !seen || cand.better(cur) {
						slots[k] = cand
					}
				}
			}

			for _, k := range order {
				raw, ok := toRawFact(symbol, c, k.unit, slots[k])
				if !ok {
					skipped++
					continue
				}
				out = append(out, raw)
			}
		}
	}

	if skipped > 0 {
		zap.L().Debug("xbrl: skipped unusable values",
			zap.String("symbol", symbol),
			zap.Int("skipped", skipped),
		)
	}
	return out
}

func toCandidate(v FactValue) (candidate, bool) {
	if !AcceptedForms[strings.ToUpper(strings.TrimSpace(v.Form))] || v.End == "" {
		return candidate{}, false
	}
	end, err := time.Parse(time.DateOnly, v.End)
	if err != nil {
		return candidate{}, false
	}
	var start time.Time
	if v.Start != "" {
		if start, err = time.Parse(time.DateOnly, v.Start); err != nil {
			return candidate{}, false
		}
	}
	return candidate{value: v, start: start, end: end}, true
}

func toRawFact(symbol string, c concept.Concept, unit string, cand candidate) (model.RawFact, bool) {
	v := cand.value
	val, err := decimal.NewFromString(v.Val.String())
	if err != nil {
		return model.RawFact{}, false
	}

	raw := model.RawFact{
		Symbol:        symbol,
		Item:          c.Item,
		StatementHint: c.Statement,
		FiscalYear:    v.FY,
		PeriodStart:   cand.start,
		PeriodEnd:     cand.end,
		Value:         val,
		Currency:      UnitCurrency(unit),
		Source:        model.SourceRegulatory,
		Form:          strings.ToUpper(v.Form),
	}
	if p, ok := model.ParseFiscalPeriod(v.FP); ok {
		raw.FiscalPeriod = p
	}
	if filed, err := time.Parse(time.DateOnly, v.Filed); err == nil {
		raw.Filed = filed
	}
	return raw, true
}

// UnitCurrency maps an XBRL unit to a fact currency: "shares" to SHARES,
// "EUR/shares" to EUR, "pure" and other dimensionless units to "" (the
// company's reporting currency applies).
func UnitCurrency(unit string) string {
	u := strings.TrimSpace(unit)
	if strings.EqualFold(u, "shares") {
		return model.CurrencyShares
	}
	if num, _, ok := strings.Cut(u, "/"); ok {
		u = num
	}
	if len(u) == 3 && strings.ToUpper(u) == u {
		return u
	}
	if strings.HasPrefix(strings.ToLower(u), "iso4217") {
		return strings.ToUpper(strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(u), "iso4217"), ":"))
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
