package model

import (
	"time"
)

// RunStatus represents the current state of a normalization run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Company identifies an issuer whose statements are normalized.
type Company struct {
	Symbol            string `json:"symbol"`
	Name              string `json:"name"`
	CIK               string `json:"cik,omitempty"`
	Sector            string `json:"sector,omitempty"`
	Industry          string `json:"industry,omitempty"`
	Country           string `json:"country,omitempty"`
	MarketCapGroup    string `json:"market_cap_group,omitempty"`
	ReportingCurrency string `json:"reporting_currency,omitempty"` // used when a raw fact carries no currency
}

// Run records a single per-company normalization pass.
type Run struct {
	ID          string     `json:"id"`
	Symbol      string     `json:"symbol"`
	Status      RunStatus  `json:"status"`
	FactCount   int        `json:"fact_count"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
