package aggregate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/qa-scraper/internal/model"
	"github.com/sells-group/qa-scraper/internal/store"
)

type mockSummarizer struct {
	mock.Mock
}

func (m *mockSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	args := m.Called(ctx, text)
	return args.String(0), args.Error(1)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "aggregate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedResponses(t *testing.T, st store.Store, contents ...string) *model.Question {
	t.Helper()
	ctx := context.Background()
	q, err := st.CreateQuestion(ctx, "How to debug a null pointer", nil)
	require.NoError(t, err)
	for _, c := range contents {
		_, err := st.CreateResponse(ctx, model.Response{QuestionID: q.ID, Source: "Quora", Content: c, URL: "https://www.quora.com/a"})
		require.NoError(t, err)
	}
	return q
}

func TestSummarize_NoResponses(t *testing.T) {
	st := newTestStore(t)
	q := seedResponses(t, st)
	sum := &mockSummarizer{}

	got, err := New(st, sum).Summarize(context.Background(), q.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	sum.AssertNotCalled(t, "Summarize", mock.Anything, mock.Anything)

	stored, err := st.GetQuestion(context.Background(), q.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Summary)
}

func TestSummarize_ConcatenatesInCreationOrder(t *testing.T) {
	st := newTestStore(t)
	q := seedResponses(t, st, "first", "  second  ", "third")
	sum := &mockSummarizer{}
	sum.On("Summarize", mock.Anything, "first\n\nsecond\n\nthird").Return("combined", nil)

	got, err := New(st, sum).Summarize(context.Background(), q.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "combined", *got)

	stored, err := st.GetQuestion(context.Background(), q.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Summary)
	assert.Equal(t, "combined", *stored.Summary)
	sum.AssertExpectations(t)
}

func TestSummarize_IdempotentOverwrite(t *testing.T) {
	st := newTestStore(t)
	q := seedResponses(t, st, "a", "b")

	var inputs []string
	sum := &mockSummarizer{}
	sum.On("Summarize", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		inputs = append(inputs, args.String(1))
	}).Return("summary of a and b", nil)

	agg := New(st, sum)
	first, err := agg.Summarize(context.Background(), q.ID)
	require.NoError(t, err)
	second, err := agg.Summarize(context.Background(), q.ID)
	require.NoError(t, err)

	require.Len(t, inputs, 2)
	assert.Equal(t, inputs[0], inputs[1])
	assert.Equal(t, *first, *second)

	stored, err := st.GetQuestion(context.Background(), q.ID)
	require.NoError(t, err)
	assert.Equal(t, "summary of a and b", *stored.Summary)
}

func TestSummarize_SummarizerFailureReturnsSentinel(t *testing.T) {
	st := newTestStore(t)
	q := seedResponses(t, st, "a")
	require.NoError(t, st.SetSummary(context.Background(), q.ID, "previous"))

	sum := &mockSummarizer{}
	sum.On("Summarize", mock.Anything, "a").Return("", model.Errorf(model.KindSummarization, "llm.summarize", "boom"))

	got, err := New(st, sum).Summarize(context.Background(), q.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, SummaryUnavailable, *got)

	stored, err := st.GetQuestion(context.Background(), q.ID)
	require.NoError(t, err)
	assert.Equal(t, "previous", *stored.Summary)
}

func TestSummarize_UnknownQuestion(t *testing.T) {
	st := newTestStore(t)
	_, err := New(st, &mockSummarizer{}).Summarize(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, model.KindStorage, model.KindOf(err))
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

type failingSetStore struct {
	store.Store
}

func (failingSetStore) SetSummary(context.Context, string, string) error {
	return eris.New("database is locked")
}

func TestSummarize_WriteFailure(t *testing.T) {
	st := newTestStore(t)
	q := seedResponses(t, st, "a")
	sum := &mockSummarizer{}
	sum.On("Summarize", mock.Anything, "a").Return("s", nil)

	_, err := New(failingSetStore{st}, sum).Summarize(context.Background(), q.ID)
	assert.Equal(t, model.KindStorage, model.KindOf(err))
}

func TestConcat_SkipsBlank(t *testing.T) {
	got := Concat([]model.Response{{Content: "x"}, {Content: "  "}, {Content: "y"}})
	assert.Equal(t, "x\n\ny", got)
}
