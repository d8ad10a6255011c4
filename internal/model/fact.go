package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// StatementType classifies the financial statement a fact belongs to.
type StatementType int

const (
	StatementUnknown StatementType = iota
	BalanceSheet
	IncomeStatement
	ComprehensiveIncome
	CashFlow
	EquityChanges
	SupplementalDisclosures
	SupplementalCashFlow
	FinancialRatios
)

var statementNames = map[StatementType]string{
	StatementUnknown:        "Unknown",
	BalanceSheet:            "Balance Sheet",
	IncomeStatement:         "Income Statement",
	ComprehensiveIncome:     "Comprehensive Income",
	CashFlow:                "Cash Flow Statement",
	EquityChanges:           "Equity Changes",
	SupplementalDisclosures: "Supplemental Disclosures",
	SupplementalCashFlow:    "Supplemental Cash Flow",
	FinancialRatios:         "Financial Ratios",
}

// statementAliases maps squashed lower-case spellings to statement types.
var statementAliases = map[string]StatementType{
	"balancesheet":            BalanceSheet,
	"incomestatement":         IncomeStatement,
	"income":                  IncomeStatement,
	"comprehensiveincome":     ComprehensiveIncome,
	"cashflow":                CashFlow,
	"cashflowstatement":       CashFlow,
	"equitychanges":           EquityChanges,
	"supplementaldisclosures": SupplementalDisclosures,
	"supplementalcashflow":    SupplementalCashFlow,
	"financialratios":         FinancialRatios,
	"ratios":                  FinancialRatios,
}

// String returns the display name used in storage and reports.
func (s StatementType) String() string {
	if name, ok := statementNames[s]; ok {
		return name
	}
	return statementNames[StatementUnknown]
}

// IsFlow reports whether the statement reports period flows (as opposed to
// point-in-time balances).
func (s StatementType) IsFlow() bool {
	return s == IncomeStatement || s == CashFlow || s == ComprehensiveIncome
}

// ParseStatementType converts a display or code name into a StatementType.
// Unrecognized names yield StatementUnknown.
func ParseStatementType(s string) StatementType {
	key := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(s)))
	if st, ok := statementAliases[key]; ok {
		return st
	}
	return StatementUnknown
}

// FiscalPeriod is the reporting period within a fiscal year.
type FiscalPeriod string

const (
	Q1 FiscalPeriod = "Q1"
	Q2 FiscalPeriod = "Q2"
	Q3 FiscalPeriod = "Q3"
	Q4 FiscalPeriod = "Q4"
	H1 FiscalPeriod = "H1"
	H2 FiscalPeriod = "H2"
	FY FiscalPeriod = "FY"
)

// ParseFiscalPeriod parses a period code case-insensitively.
func ParseFiscalPeriod(s string) (FiscalPeriod, bool) {
	p := FiscalPeriod(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case Q1, Q2, Q3, Q4, H1, H2, FY:
		return p, true
	}
	return "", false
}

// SourceKind describes where a fact came from.
type SourceKind string

const (
	SourceRegulatory SourceKind = "regulatory"
	SourceScraped    SourceKind = "scraped"
	SourceDerived    SourceKind = "derived"
)

const (
	// CurrencyShares tags share and entity counts, which are never converted.
	CurrencyShares = "SHARES"
	// DefaultBaseCurrency is the reporting currency of normalized values.
	DefaultBaseCurrency = "USD"
)

// RawFact is a single value as delivered by an ingestion adapter, before
// resolution and reconciliation. Optional fields use their zero value when
// absent.
type RawFact struct {
	Symbol        string
	Item          string
	StatementHint StatementType
	FiscalYear    int
	FiscalPeriod  FiscalPeriod
	PeriodStart   time.Time
	PeriodEnd     time.Time
	Value         decimal.Decimal
	Currency      string
	Source        SourceKind
	Form          string
	Filed         time.Time
}

// Fact is one reported or derived value flowing through the pipeline.
type Fact struct {
	Symbol             string          `json:"symbol"`
	Item               string          `json:"item"`
	StatementType      StatementType   `json:"-"`
	FiscalYear         int             `json:"fiscal_year"`
	FiscalPeriod       FiscalPeriod    `json:"fiscal_period"`
	PeriodHeader       string          `json:"period_header"`
	PeriodDate         time.Time       `json:"period_date"`
	Value              decimal.Decimal `json:"original_value"`
	Currency           string          `json:"original_currency"`
	FXRate             decimal.Decimal `json:"fx_rate"`
	USDValue           decimal.Decimal `json:"value"`
	Source             SourceKind      `json:"source_kind"`
	Form               string          `json:"filing_type"`
	Filed              time.Time       `json:"filed_date,omitzero"`
	ItemSortOrder      int             `json:"sort_order_item"`
	MetricSortOrder    int             `json:"sort_order_metric"`
	StatementSortOrder int             `json:"statement_sort_order"`
	SortKey            int             `json:"sort_key"`
	ExtractedOrder     int             `json:"extracted_order"`
}

// FactKey is the storage identity of a fact.
type FactKey struct {
	Symbol        string
	StatementType StatementType
	Item          string
	PeriodHeader  string
}

// Key returns the storage identity of f.
func (f Fact) Key() FactKey {
	return FactKey{
		Symbol:        f.Symbol,
		StatementType: f.StatementType,
		Item:          f.Item,
		PeriodHeader:  f.PeriodHeader,
	}
}

// IsMonetary reports whether f carries a currency amount.
func (f Fact) IsMonetary() bool {
	return f.Currency != CurrencyShares
}

// IsAmendment reports whether f was taken from an amended filing (10-K/A etc).
func (f Fact) IsAmendment() bool {
	return strings.HasSuffix(strings.ToUpper(strings.TrimSpace(f.Form)), "/A")
}
