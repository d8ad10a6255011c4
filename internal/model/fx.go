package model

import "github.com/shopspring/decimal"

// FXRate is the monthly conversion rate from a currency to the base currency.
// YearMonth is formatted "2006-01".
type FXRate struct {
	YearMonth string          `json:"year_month"`
	Currency  string          `json:"currency_code"`
	Rate      decimal.Decimal `json:"rate_to_base"`
}
