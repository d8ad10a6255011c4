// Package period classifies fiscal periods and reconciles a company's
// period-tagged facts into discrete, gap-filled periods.
package period

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/fundamentals-cli/internal/model"
)

// UnknownPeriodOrder sorts unrecognized period codes after FY within a year.
const UnknownPeriodOrder = 99

// FYMinDays is the shortest duration classified as a full fiscal year.
const FYMinDays = 300

// chronoOrder is the position of each period within its fiscal year.
var chronoOrder = map[model.FiscalPeriod]int{
	model.Q1: 1,
	model.H1: 2,
	model.Q2: 3,
	model.Q3: 4,
	model.H2: 5,
	model.Q4: 6,
	model.FY: 7,
}

type monthDay struct {
	month time.Month
	day   int
}

var defaultPeriodEnd = map[model.FiscalPeriod]monthDay{
	model.Q1: {time.March, 31},
	model.Q2: {time.June, 30},
	model.H1: {time.June, 30},
	model.Q3: {time.September, 30},
	model.Q4: {time.December, 31},
	model.H2: {time.December, 31},
	model.FY: {time.December, 31},
}

// Header formats the period key, e.g. "Q1_2023".
func Header(p model.FiscalPeriod, year int) string {
	return fmt.Sprintf("%s_%d", p, year)
}

// ParseHeader splits a period key into its period and year.
func ParseHeader(h string) (model.FiscalPeriod, int, bool) {
	code, yearStr, ok := strings.Cut(h, "_")
	if !ok {
		return "", 0, false
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return "", 0, false
	}
	p, ok := model.ParseFiscalPeriod(code)
	if !ok {
		return "", 0, false
	}
	return p, year, true
}

// ChronoKey returns the chronological sort key of a period header: fiscal
// year, then position within the year (Q1 < H1 < Q2 < Q3 < H2 < Q4 < FY).
// Malformed headers return (0, 0) and unknown period codes sort after FY.
func ChronoKey(h string) (year, order int) {
	code, yearStr, ok := strings.Cut(h, "_")
	if !ok || strings.Contains(yearStr, "_") {
		return 0, 0
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return 0, 0
	}
	if o, ok := chronoOrder[model.FiscalPeriod(code)]; ok {
		return year, o
	}
	return year, UnknownPeriodOrder
}

// DefaultPeriodDate returns the calendar end date assumed for a period when
// the source gives none.
func DefaultPeriodDate(p model.FiscalPeriod, year int) time.Time {
	md, ok := defaultPeriodEnd[p]
	if !ok {
		md = defaultPeriodEnd[model.FY]
	}
	return time.Date(year, md.month, md.day, 0, 0, 0, 0, time.UTC)
}

// ClassifyDate derives the period of a fact that carries only dates. A
// duration of FYMinDays or more is a fiscal year; anything else is the
// quarter containing the end month. The fiscal year is the end date's year.
func ClassifyDate(start, end time.Time) (model.FiscalPeriod, int, bool) {
	if end.IsZero() {
		return "", 0, false
	}
	if !start.IsZero() && end.Sub(start) >= FYMinDays*24*time.Hour {
		return model.FY, end.Year(), true
	}
	switch q := (int(end.Month()) - 1) / 3; q {
	case 0:
		return model.Q1, end.Year(), true
	case 1:
		return model.Q2, end.Year(), true
	case 2:
		return model.Q3, end.Year(), true
	default:
		return model.Q4, end.Year(), true
	}
}

// ParseLabel parses a free-form period label such as "Q3 2023", "FY2022",
// "H1 2021", "Q4_2020" or a bare year (treated as FY).
func ParseLabel(label string) (model.FiscalPeriod, int, bool) {
	s := strings.ToUpper(strings.TrimSpace(label))
	s = strings.NewReplacer("_", " ", "-", " ", "'", "").Replace(s)
	fields := strings.Fields(s)

	switch len(fields) {
	case 1:
		if year, err := strconv.Atoi(fields[0]); err == nil && year > 0 {
			return model.FY, year, true
		}
		if len(fields[0]) > 2 {
			return parsePair(fields[0][:2], fields[0][2:])
		}
	case 2:
		if p, year, ok := parsePair(fields[0], fields[1]); ok {
			return p, year, true
		}
		return parsePair(fields[1], fields[0])
	}
	return "", 0, false
}

func parsePair(code, yearStr string) (model.FiscalPeriod, int, bool) {
	p, ok := model.ParseFiscalPeriod(code)
	if !ok {
		return "", 0, false
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil || year <= 0 {
		return "", 0, false
	}
	return p, year, true
}

// Classify fills the period fields of a raw fact: the given fiscal period
// and year when present, otherwise the ones implied by its dates. The period
// date is the reported end date or the default end of the period.
func Classify(raw model.RawFact) (p model.FiscalPeriod, year int, date time.Time, ok bool) {
	p, year = raw.FiscalPeriod, raw.FiscalYear
	if p == "" || year == 0 {
		dp, dy, dok := ClassifyDate(raw.PeriodStart, raw.PeriodEnd)
		if !dok {
			return "", 0, time.Time{}, false
		}
		if p == "" {
			p = dp
		}
		if year == 0 {
			year = dy
		}
	}

	date = raw.PeriodEnd
	if date.IsZero() {
		date = DefaultPeriodDate(p, year)
	}
	return p, year, date, true
}
