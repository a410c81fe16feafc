package ingest

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlibraryenvironment/dcb-service-sub007/types"
)

// fakeRunner emits canned bibs and counts how many times Run is invoked.
type fakeRunner struct {
	bibs []types.BibRecord
	err  error
	runs atomic.Int32
}

func (r *fakeRunner) Run(ctx context.Context) (<-chan types.BibRecord, error) {
	r.runs.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	out := make(chan types.BibRecord)
	go func() {
		defer close(out)
		for _, bib := range r.bibs {
			select {
			case out <- bib:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func TestInstrumented_CountsPerSource(t *testing.T) {
	inner := &fakeRunner{bibs: []types.BibRecord{
		types.NewBibRecord("sierra-main", "a"),
		types.NewBibRecord("sierra-main", "b"),
		types.NewBibRecord("polaris-east", "c"),
	}}
	runner := NewInstrumented(inner, nil, nil, time.Hour)

	out, err := runner.Run(context.Background())
	require.NoError(t, err)

	var n int
	for range out {
		n++
	}
	assert.Equal(t, 3, n, "every record is forwarded")

	counts := runner.Counts()
	assert.Equal(t, int64(2), counts["sierra-main"])
	assert.Equal(t, int64(1), counts["polaris-east"])
}

func TestInstrumented_SingleSubscription(t *testing.T) {
	inner := &fakeRunner{bibs: []types.BibRecord{types.NewBibRecord("src", "a")}}
	runner := NewInstrumented(inner, nil, nil, time.Hour)

	out, err := runner.Run(context.Background())
	require.NoError(t, err)
	for range out {
	}

	assert.Equal(t, int32(1), inner.runs.Load(), "the decorator must not re-trigger the pass")
}

func TestInstrumented_PropagatesStartError(t *testing.T) {
	inner := &fakeRunner{err: stderrors.New("pass already running")}
	runner := NewInstrumented(inner, nil, nil, time.Hour)

	_, err := runner.Run(context.Background())
	assert.Error(t, err)
}

func TestInstrumented_ResetsBetweenPasses(t *testing.T) {
	inner := &fakeRunner{bibs: []types.BibRecord{types.NewBibRecord("src", "a")}}
	runner := NewInstrumented(inner, nil, nil, time.Hour)

	for pass := 0; pass < 2; pass++ {
		out, err := runner.Run(context.Background())
		require.NoError(t, err)
		for range out {
		}
		assert.Equal(t, int64(1), runner.Counts()["src"], "counts cover the current pass only")
	}
}
