package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/qa-scraper/internal/model"
	"github.com/sells-group/qa-scraper/internal/orchestrator"
)

func makeQuestions(n int) []model.Question {
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{ID: fmt.Sprintf("q-%d", i), Text: fmt.Sprintf("question %d", i)}
	}
	return qs
}

func TestProcessBatch_Empty(t *testing.T) {
	err := processBatch(context.Background(), nil, 10, 2, func(context.Context, string) (*orchestrator.Result, error) {
		t.Fatal("process should not be called for an empty batch")
		return nil, nil
	})
	require.NoError(t, err)
}

func TestProcessBatch_AllSucceed(t *testing.T) {
	var count atomic.Int64
	err := processBatch(context.Background(), makeQuestions(3), 0, 2, func(_ context.Context, id string) (*orchestrator.Result, error) {
		count.Add(1)
		return &orchestrator.Result{QuestionID: id, ResponseCount: 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count.Load())
}

func TestProcessBatch_FailuresDoNotAbort(t *testing.T) {
	var count atomic.Int64
	err := processBatch(context.Background(), makeQuestions(4), 0, 2, func(_ context.Context, id string) (*orchestrator.Result, error) {
		if count.Add(1)%2 == 0 {
			return nil, model.Errorf(model.KindAllSourcesFailed, "orchestrator.process", "every source failed")
		}
		return &orchestrator.Result{QuestionID: id}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), count.Load())
}

func TestProcessBatch_AppliesLimit(t *testing.T) {
	var count atomic.Int64
	err := processBatch(context.Background(), makeQuestions(5), 3, 2, func(_ context.Context, id string) (*orchestrator.Result, error) {
		count.Add(1)
		return &orchestrator.Result{QuestionID: id}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count.Load())
}

func TestProcessBatch_RespectsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int64
	err := processBatch(context.Background(), makeQuestions(6), 0, 2, func(_ context.Context, id string) (*orchestrator.Result, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		defer inFlight.Add(-1)
		return &orchestrator.Result{QuestionID: id}, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestProcessBatch_ZeroConcurrencyRunsSerially(t *testing.T) {
	var count atomic.Int64
	err := processBatch(context.Background(), makeQuestions(2), 0, 0, func(_ context.Context, id string) (*orchestrator.Result, error) {
		count.Add(1)
		return &orchestrator.Result{QuestionID: id}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count.Load())
}

func TestProcessBatch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := processBatch(ctx, makeQuestions(2), 0, 2, func(ctx context.Context, _ string) (*orchestrator.Result, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &orchestrator.Result{}, nil
	})
	assert.NoError(t, err)
}
