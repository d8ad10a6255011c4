package fx

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/fundamentals-cli/internal/model"
)

// RatePlaces is the precision of monthly rates.
const RatePlaces int32 = 4

// Series identifies the FRED series quoting a currency against USD. Invert
// is set when the series is quoted as foreign units per USD.
type Series struct {
	ID     string
	Invert bool
}

// FREDSeries maps ISO currency codes to their FRED exchange-rate series.
var FREDSeries = map[string]Series{
	"EUR": {ID: "DEXUSEU", Invert: false},
	"JPY": {ID: "DEXJPUS", Invert: true},
	"GBP": {ID: "DEXUSUK", Invert: false},
	"CAD": {ID: "DEXCAUS", Invert: true},
	"CHF": {ID: "DEXSZUS", Invert: true},
	"AUD": {ID: "DEXUSAL", Invert: false},
	"CNY": {ID: "DEXCHUS", Invert: true},
	"HKD": {ID: "DEXHKUS", Invert: true},
	"INR": {ID: "DEXINUS", Invert: true},
	"KRW": {ID: "DEXKOUS", Invert: true},
	"SGD": {ID: "DEXSIUS", Invert: true},
	"BRL": {ID: "DEXBZUS", Invert: true},
	"MXN": {ID: "DEXMXUS", Invert: true},
	"ZAR": {ID: "DEXSLUS", Invert: true},
	"RUB": {ID: "CCUSMA02RUM618N", Invert: true},
	"TWD": {ID: "DEXTAUS", Invert: true},
	"IDR": {ID: "CCUSMA02IDM618N", Invert: true},
	"PHP": {ID: "RBPHBIS", Invert: true},
	"ARS": {ID: "ARGCCUSMA02STM", Invert: true},
	"SEK": {ID: "EXSDUS", Invert: true},
	"NOK": {ID: "DEXNOUS", Invert: true},
	"DKK": {ID: "DEXDNUS", Invert: true},
	"PLN": {ID: "CCUSMA02PLM618N", Invert: true},
	"THB": {ID: "DEXTHUS", Invert: true},
	"HUF": {ID: "CCUSMA02HUM618N", Invert: true},
	"CZK": {ID: "CCUSMA02CZM618N", Invert: true},
	"COP": {ID: "COLCCUSMA02STM", Invert: true},
	"ILS": {ID: "CCUSMA02ILM618N", Invert: true},
	"CLP": {ID: "CCUSMA02CLM618N", Invert: true},
	"TRY": {ID: "CCUSMA02TRQ618N", Invert: true},
}

// Frequency is the observation frequency of a FRED download.
type Frequency string

const (
	Daily     Frequency = "d"
	Monthly   Frequency = "m"
	Quarterly Frequency = "q"
)

// ParseFrequency accepts "d", "m", "q" or their long names.
func ParseFrequency(s string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "d", "daily", "":
		return Daily, nil
	case "m", "monthly":
		return Monthly, nil
	case "q", "quarterly":
		return Quarterly, nil
	}
	return "", eris.Errorf("fx: unknown frequency %q", s)
}

// Observation is one FRED data point. Value is "." when missing.
type Observation struct {
	Date  string `json:"date"`
	Value string `json:"value"`
}

type fredResponse struct {
	Observations []Observation `json:"observations"`
}

// ParseObservations decodes a FRED series/observations JSON document.
func ParseObservations(data []byte) ([]Observation, error) {
	var resp fredResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, eris.Wrap(err, "fx: parse fred observations")
	}
	return resp.Observations, nil
}

// MonthlyRates aggregates observations of one series into monthly rates to
// USD. Daily and monthly observations are averaged per calendar month;
// quarterly observations (dated on the first month of the quarter) apply to
// all three months. Missing and zero values are skipped, inverted series are
// inverted after averaging, and rates are rounded to RatePlaces.
func MonthlyRates(currency string, s Series, freq Frequency, obs []Observation) []model.FXRate {
	type acc struct {
		sum decimal.Decimal
		n   int64
	}
	months := make(map[string]*acc)

	for _, o := range obs {
		v := strings.TrimSpace(o.Value)
		if v == "" || v == "." {
			continue
		}
		val, err := decimal.NewFromString(v)
		if err != nil || val.IsZero() {
			continue
		}
		date, err := time.Parse(time.DateOnly, o.Date)
		if err != nil {
			continue
		}

		targets := []string{date.Format(YearMonthLayout)}
		if freq == Quarterly {
			targets = quarterMonths(date)
		}
		for _, ym := range targets {
			a, ok := months[ym]
			if !ok {
				a = &acc{}
				months[ym] = a
			}
			a.sum = a.sum.Add(val)
			a.n++
		}
	}

	keys := make([]string, 0, len(months))
	for ym := range months {
		keys = append(keys, ym)
	}
	sort.Strings(keys)

	code := strings.ToUpper(currency)
	out := make([]model.FXRate, 0, len(keys))
	for _, ym := range keys {
		a := months[ym]
		avg := a.sum.Div(decimal.NewFromInt(a.n))
		if avg.IsZero() {
			continue
		}
		rate := avg
		if s.Invert {
			rate = one.Div(avg)
		}
		out = append(out, model.FXRate{YearMonth: ym, Currency: code, Rate: rate.Round(RatePlaces)})
	}
	return out
}

func quarterMonths(d time.Time) []string {
	switch d.Month() {
	case time.January, time.April, time.July, time.October:
	default:
		return nil
	}
	out := make([]string, 3)
	for i := range out {
		out[i] = time.Date(d.Year(), d.Month()+time.Month(i), 1, 0, 0, 0, 0, time.UTC).Format(YearMonthLayout)
	}
	return out
}
