package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fundamentals-cli/internal/model"
)

func batchInputs() []Input {
	good := func(symbol string) Input {
		in := acmeInput()
		in.Company.Symbol = symbol
		return in
	}
	return []Input{
		good("AAA"),
		{Company: model.Company{Symbol: "BAD"}},
		good("CCC"),
		good("DDD"),
	}
}

func TestRunBatch_IsolatesFailures(t *testing.T) {
	p := newTestPipeline()

	summary, err := p.RunBatch(context.Background(), batchInputs(), 2)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	require.Len(t, summary.Results, 4)
	for i, want := range []string{"AAA", "BAD", "CCC", "DDD"} {
		assert.Equal(t, want, summary.Results[i].Symbol)
	}
	assert.NotEmpty(t, summary.Results[0].Facts)
	assert.True(t, errors.Is(summary.Results[1].Err, ErrNoUsableFacts))
	for _, f := range summary.Results[2].Facts {
		assert.Equal(t, "CCC", f.Symbol)
	}

	failures := summary.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "BAD", failures[0].Symbol)
}

func TestRunBatch_MatchesSequentialRuns(t *testing.T) {
	p := newTestPipeline()
	inputs := batchInputs()

	summary, err := p.RunBatch(context.Background(), inputs, 4)
	require.NoError(t, err)

	for i, in := range inputs {
		want, wantErr := p.Run(context.Background(), in)
		if wantErr != nil {
			assert.Error(t, summary.Results[i].Err)
			continue
		}
		assert.Equal(t, want, summary.Results[i].Facts)
	}
}

func TestRunBatch_Empty(t *testing.T) {
	summary, err := newTestPipeline().RunBatch(context.Background(), nil, 0)
	require.NoError(t, err)
	assert.Empty(t, summary.Results)
}

func TestRunBatch_DefaultConcurrency(t *testing.T) {
	summary, err := newTestPipeline().RunBatch(context.Background(), batchInputs(), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Succeeded)
}

func TestRunBatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := newTestPipeline().RunBatch(ctx, batchInputs(), 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 4, summary.Failed)
	for _, r := range summary.Results {
		assert.NotEmpty(t, r.Symbol)
		assert.Error(t, r.Err)
	}
}

func TestRunBatch_WithStore(t *testing.T) {
	st := newFakeStore()
	p := newTestPipeline(WithStore(st, fastRetry()))

	summary, err := p.RunBatch(context.Background(), batchInputs(), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 4, st.started)
	assert.Len(t, st.completed, 3)
	assert.Contains(t, st.failed, "run-BAD")
}

func TestCompanyError(t *testing.T) {
	err := &CompanyError{Symbol: "ACME", Err: ErrNoUsableFacts}
	assert.Equal(t, "ACME: pipeline: no usable facts", err.Error())
	assert.True(t, errors.Is(err, ErrNoUsableFacts))
}
