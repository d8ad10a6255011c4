package pipeline

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/fundamentals-cli/internal/model"
)

// DefaultConcurrency is the number of companies processed at once when the
// caller does not say.
const DefaultConcurrency = 4

// Result is the outcome for one company of a batch.
type Result struct {
	Symbol string
	Facts  []model.Fact
	Err    error
}

// BatchSummary counts the outcomes of RunBatch.
type BatchSummary struct {
	Results   []Result
	Succeeded int
	Failed    int
}

// Failures returns the per-company errors, in input order.
func (s BatchSummary) Failures() []*CompanyError {
	var out []*CompanyError
	for _, r := range s.Results {
		if r.Err == nil {
			continue
		}
		var ce *CompanyError
		if !errors.As(r.Err, &ce) {
			ce = &CompanyError{Symbol: r.Symbol, Err: r.Err}
		}
		out = append(out, ce)
	}
	return out
}

// RunBatch processes inputs concurrently, at most concurrency at a time. A
// failing company is recorded in its Result and never stops the others;
// only context cancellation ends the batch early. Results keep input order.
func (p *Pipeline) RunBatch(ctx context.Context, inputs []Input, concurrency int) (BatchSummary, error) {
	if len(inputs) == 0 {
		zap.L().Info("pipeline: no companies to process")
		return BatchSummary{}, nil
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	zap.L().Info("pipeline: processing batch",
		zap.Int("companies", len(inputs)),
		zap.Int("concurrency", concurrency),
	)

	results := make([]Result, len(inputs))
	var succeeded, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, in := range inputs {
		g.Go(func() error {
			symbol := in.Symbol()
			results[i].Symbol = symbol

			if err := gctx.Err(); err != nil {
				results[i].Err = &CompanyError{Symbol: symbol, Err: err}
				failed.Add(1)
				return nil
			}

			facts, err := p.Process(gctx, in)
			if err != nil {
				failed.Add(1)
				results[i].Err = err
				zap.L().Error("pipeline: company failed", zap.String("symbol", symbol), zap.Error(err))
				return nil
			}

			succeeded.Add(1)
			results[i].Facts = facts
			return nil
		})
	}

	_ = g.Wait()

	summary := BatchSummary{
		Results:   results,
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
	}
	zap.L().Info("pipeline: batch complete",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
	)

	if err := ctx.Err(); err != nil {
		return summary, eris.Wrap(err, "pipeline: batch cancelled")
	}
	return summary, nil
}
