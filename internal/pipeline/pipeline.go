package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fundamentals-cli/internal/concept"
	"github.com/sells-group/fundamentals-cli/internal/derive"
	"github.com/sells-group/fundamentals-cli/internal/fx"
	"github.com/sells-group/fundamentals-cli/internal/model"
	"github.com/sells-group/fundamentals-cli/internal/period"
	"github.com/sells-group/fundamentals-cli/internal/resilience"
	"github.com/sells-group/fundamentals-cli/internal/sortkey"
	"github.com/sells-group/fundamentals-cli/internal/store"
	"github.com/sells-group/fundamentals-cli/internal/xbrl"
)

// DefaultQuarterlyThreshold is the number of Q1, Q2 and Q3 flow facts a
// filing must carry before vendor data is ignored.
const DefaultQuarterlyThreshold = 10

// ErrNoUsableFacts is returned when none of a company's raw facts survive
// resolution and period classification.
var ErrNoUsableFacts = eris.New("pipeline: no usable facts")

// CompanyError is a per-company failure. It never aborts a batch.
type CompanyError struct {
	Symbol string
	Err    error
}

func (e *CompanyError) Error() string {
	return e.Symbol + ": " + e.Err.Error()
}

func (e *CompanyError) Unwrap() error {
	return e.Err
}

// Input is everything known about one company for a run. Taxonomy is the
// filing's primary XBRL taxonomy; vendor facts are skipped only for us-gaap
// filings with enough quarterly coverage.
type Input struct {
	Company  model.Company
	Taxonomy string
	Filing   []model.RawFact
	Vendor   []model.RawFact
}

// Symbol returns the company symbol, falling back to the first raw fact.
func (in Input) Symbol() string {
	if in.Company.Symbol != "" {
		return in.Company.Symbol
	}
	for _, raws := range [][]model.RawFact{in.Filing, in.Vendor} {
		if len(raws) > 0 {
			return raws[0].Symbol
		}
	}
	return ""
}

// Pipeline runs the normalization stages for one company at a time. All
// tables are read-only after New, so one Pipeline serves concurrent runs.
type Pipeline struct {
	table      *concept.Table
	resolver   *concept.Resolver
	engine     *derive.Engine
	normalizer *fx.Normalizer
	base       string
	places     int32
	threshold  int
	store      store.Store
	retry      resilience.RetryConfig
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBaseCurrency sets the currency normalized values are expressed in.
func WithBaseCurrency(base string) Option {
	return func(p *Pipeline) { p.base = base }
}

// WithQuarterlyThreshold overrides DefaultQuarterlyThreshold. A value of zero
// or less always merges vendor data.
func WithQuarterlyThreshold(n int) Option {
	return func(p *Pipeline) { p.threshold = n }
}

// WithMonetaryPlaces sets the rounding precision of converted amounts.
func WithMonetaryPlaces(places int32) Option {
	return func(p *Pipeline) { p.places = places }
}

// WithStore makes Process persist facts and record runs in st.
func WithStore(st store.Store, retry resilience.RetryConfig) Option {
	return func(p *Pipeline) {
		p.store = st
		p.retry = retry
	}
}

// New creates a Pipeline over the concept table and FX rates.
func New(table *concept.Table, rates *fx.Table, opts ...Option) *Pipeline {
	resolver := concept.NewResolver(table)
	p := &Pipeline{
		table:     table,
		resolver:  resolver,
		engine:    derive.NewEngine(resolver, concept.NewSynonymIndex(table)),
		base:      model.DefaultBaseCurrency,
		places:    fx.DefaultMonetaryPlaces,
		threshold: DefaultQuarterlyThreshold,
		retry:     resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.normalizer = fx.NewNormalizer(p.base, rates, table).WithMonetaryPlaces(p.places)
	return p
}

// Run normalizes one company's raw facts: resolution, period reconciliation,
// derivation, currency normalization and sort-key assignment, in that order.
// It performs no I/O.
func (p *Pipeline) Run(ctx context.Context, in Input) ([]model.Fact, error) {
	symbol := in.Symbol()
	if err := ctx.Err(); err != nil {
		return nil, &CompanyError{Symbol: symbol, Err: err}
	}
	log := zap.L().With(zap.String("symbol", symbol))
	start := time.Now()

	facts := p.resolve(in.Company, in.Filing)
	if len(in.Vendor) > 0 && p.mergeVendor(in.Taxonomy, facts) {
		vendor := p.resolve(in.Company, in.Vendor)
		log.Info("pipeline: merging vendor facts",
			zap.String("taxonomy", in.Taxonomy),
			zap.Int("filing", len(facts)),
			zap.Int("vendor", len(vendor)),
		)
		facts = append(facts, vendor...)
	}
	if len(facts) == 0 {
		return nil, &CompanyError{Symbol: symbol, Err: ErrNoUsableFacts}
	}
	resolved := len(facts)

	facts = period.Reconcile(facts)
	reconciled := len(facts)

	facts = p.engine.Apply(facts)
	facts = p.normalizer.Apply(facts)
	facts = sortkey.Assign(facts)

	log.Info("pipeline: company normalized",
		zap.Int("resolved", resolved),
		zap.Int("reconciled", reconciled),
		zap.Int("facts", len(facts)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return facts, nil
}

// mergeVendor reports whether vendor facts supplement the filing. Only a
// us-gaap filing meeting the quarterly threshold stands alone.
func (p *Pipeline) mergeVendor(taxonomy string, filing []model.Fact) bool {
	if taxonomy != xbrl.TaxonomyUSGAAP || p.threshold <= 0 {
		return true
	}
	return !period.HasSufficientQuarterlyData(filing, p.threshold)
}

// resolve turns raw facts into working facts. Raw facts without an item or
// a resolvable period are dropped. A statement hint applies only to items the
// concept table cannot place.
func (p *Pipeline) resolve(company model.Company, raws []model.RawFact) []model.Fact {
	reporting := strings.ToUpper(strings.TrimSpace(company.ReportingCurrency))

	out := make([]model.Fact, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		if strings.TrimSpace(raw.Item) == "" {
			dropped++
			continue
		}
		fp, year, date, ok := period.Classify(raw)
		if !ok {
			dropped++
			continue
		}

		res := p.resolver.Resolve(raw.Item)
		if res.StatementType == model.StatementUnknown && raw.StatementHint != model.StatementUnknown {
			res.StatementType = raw.StatementHint
			res.StatementSortOrder = p.table.StatementOrder(raw.StatementHint)
		}

		symbol := raw.Symbol
		if company.Symbol != "" {
			symbol = company.Symbol
		}
		currency := strings.ToUpper(strings.TrimSpace(raw.Currency))
		if currency == "" {
			currency = reporting
		}

		out = append(out, model.Fact{
			Symbol:             symbol,
			Item:               res.Item,
			StatementType:      res.StatementType,
			FiscalYear:         year,
			FiscalPeriod:       fp,
			PeriodHeader:       period.Header(fp, year),
			PeriodDate:         date,
			Value:              raw.Value,
			Currency:           currency,
			Source:             raw.Source,
			Form:               raw.Form,
			Filed:              raw.Filed,
			ItemSortOrder:      res.ItemSortOrder,
			MetricSortOrder:    res.MetricSortOrder,
			StatementSortOrder: res.StatementSortOrder,
		})
	}

	if dropped > 0 {
		zap.L().Debug("pipeline: dropped malformed raw facts",
			zap.String("symbol", company.Symbol),
			zap.Int("dropped", dropped),
		)
	}
	return out
}

// Process runs the pipeline and, when a store is configured, records the run
// and upserts the facts. Without a store it is equivalent to Run.
func (p *Pipeline) Process(ctx context.Context, in Input) ([]model.Fact, error) {
	if p.store == nil {
		return p.Run(ctx, in)
	}
	symbol := in.Symbol()
	log := zap.L().With(zap.String("symbol", symbol))

	run, err := p.store.StartRun(ctx, symbol)
	if err != nil {
		return nil, &CompanyError{Symbol: symbol, Err: eris.Wrap(err, "pipeline: start run")}
	}

	fail := func(cause error) error {
		if ferr := p.store.FailRun(context.WithoutCancel(ctx), run.ID, cause.Error()); ferr != nil {
			log.Warn("pipeline: failed to record run failure", zap.String("run_id", run.ID), zap.Error(ferr))
		}
		var ce *CompanyError
		if errors.As(cause, &ce) {
			return cause
		}
		return &CompanyError{Symbol: symbol, Err: cause}
	}

	facts, err := p.Run(ctx, in)
	if err != nil {
		return nil, fail(err)
	}

	cfg := p.retry
	cfg.OnRetry = resilience.RetryLogger("store", "save_facts")
	if _, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (int64, error) {
		return p.store.SaveFacts(ctx, facts)
	}); err != nil {
		return nil, fail(eris.Wrap(err, "pipeline: save facts"))
	}

	if err := p.store.CompleteRun(ctx, run.ID, len(facts)); err != nil {
		log.Warn("pipeline: failed to complete run", zap.String("run_id", run.ID), zap.Error(err))
	}
	return facts, nil
}
