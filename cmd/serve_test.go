package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/qa-scraper/internal/model"
	"github.com/sells-group/qa-scraper/internal/orchestrator"
	"github.com/sells-group/qa-scraper/internal/store"
)

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) Process(ctx context.Context, questionID string) (*orchestrator.Result, error) {
	args := m.Called(ctx, questionID)
	res, _ := args.Get(0).(*orchestrator.Result)
	return res, args.Error(1)
}

func newServeStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestBuildRouter_Health(t *testing.T) {
	rr := do(t, buildRouter(newServeStore(t), nil, nil), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestBuildRouter_CreateQuestion(t *testing.T) {
	st := newServeStore(t)
	h := buildRouter(st, nil, nil)

	rr := do(t, h, http.MethodPost, "/questions", map[string]string{"text": "  How do channels work?  ", "category": "programming"})
	require.Equal(t, http.StatusCreated, rr.Code)

	var q model.Question
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &q))
	assert.Equal(t, "How do channels work?", q.Text)
	require.NotNil(t, q.Category)
	assert.Equal(t, model.CategoryProgramming, *q.Category)

	stored, err := st.GetQuestion(context.Background(), q.ID)
	require.NoError(t, err)
	assert.Equal(t, q.Text, stored.Text)
}

func TestBuildRouter_CreateQuestion_Invalid(t *testing.T) {
	h := buildRouter(newServeStore(t), nil, nil)

	rr := do(t, h, http.MethodPost, "/questions", map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "text is required")

	rr = do(t, h, http.MethodPost, "/questions", map[string]string{"text": "q", "category": "cooking"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/questions", bytes.NewBufferString("{not json"))
	raw := httptest.NewRecorder()
	h.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestBuildRouter_GetQuestion(t *testing.T) {
	st := newServeStore(t)
	ctx := context.Background()
	q, err := st.CreateQuestion(ctx, "Is Go fast?", nil)
	require.NoError(t, err)
	_, err = st.CreateResponse(ctx, model.Response{QuestionID: q.ID, Source: "Quora", Content: "Yes.", URL: "https://www.quora.com/a"})
	require.NoError(t, err)

	rr := do(t, buildRouter(st, nil, nil), http.MethodGet, "/questions/"+q.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Question  model.Question   `json:"question"`
		Responses []model.Response `json:"responses"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, q.ID, body.Question.ID)
	require.Len(t, body.Responses, 1)
	assert.Equal(t, "Yes.", body.Responses[0].Content)
}

func TestBuildRouter_GetQuestion_NotFound(t *testing.T) {
	rr := do(t, buildRouter(newServeStore(t), nil, nil), http.MethodGet, "/questions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBuildRouter_Summary(t *testing.T) {
	st := newServeStore(t)
	ctx := context.Background()
	q, err := st.CreateQuestion(ctx, "Is Go fast?", nil)
	require.NoError(t, err)
	h := buildRouter(st, nil, nil)

	rr := do(t, h, http.MethodGet, "/questions/"+q.ID+"/summary", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	require.NoError(t, st.SetSummary(ctx, q.ID, "Fast enough."))
	rr = do(t, h, http.MethodGet, "/questions/"+q.ID+"/summary", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"question_id":%q,"summary":"Fast enough."}`, q.ID), rr.Body.String())
}

func TestBuildRouter_Scrape(t *testing.T) {
	summary := "Use a debugger."
	proc := &mockProcessor{}
	proc.On("Process", mock.Anything, "q-1").Return(&orchestrator.Result{QuestionID: "q-1", ResponseCount: 4, Summary: &summary}, nil)

	rr := do(t, buildRouter(newServeStore(t), proc, nil), http.MethodPost, "/questions/q-1/scrape", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"message":"Scraping completed","responseCount":4,"summary":"Use a debugger."}`, rr.Body.String())
	proc.AssertExpectations(t)
}

func TestBuildRouter_Scrape_NoSummary(t *testing.T) {
	proc := &mockProcessor{}
	proc.On("Process", mock.Anything, "q-1").Return(&orchestrator.Result{QuestionID: "q-1"}, nil)

	rr := do(t, buildRouter(newServeStore(t), proc, nil), http.MethodPost, "/questions/q-1/scrape", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"message":"Scraping completed","responseCount":0,"summary":null}`, rr.Body.String())
}

func TestBuildRouter_Scrape_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		result *orchestrator.Result
		want   int
	}{
		{"all sources failed", model.Errorf(model.KindAllSourcesFailed, "orchestrator.process", "every source failed"), &orchestrator.Result{}, http.StatusBadGateway},
		{"not found", model.Wrap(model.KindStorage, "orchestrator.process", store.ErrNotFound), nil, http.StatusNotFound},
		{"storage", model.Errorf(model.KindStorage, "orchestrator.category", "locked"), nil, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &mockProcessor{}
			proc.On("Process", mock.Anything, "q-1").Return(tt.result, tt.err)

			rr := do(t, buildRouter(newServeStore(t), proc, nil), http.MethodPost, "/questions/q-1/scrape", nil)
			assert.Equal(t, tt.want, rr.Code)
			assert.Contains(t, rr.Body.String(), "error")
		})
	}
}

func TestBuildRouter_Scrape_NotConfigured(t *testing.T) {
	rr := do(t, buildRouter(newServeStore(t), nil, nil), http.MethodPost, "/questions/q-1/scrape", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestBuildRouter_CORS(t *testing.T) {
	h := buildRouter(newServeStore(t), nil, []string{"http://localhost:5173"})

	req := httptest.NewRequest(http.MethodOptions, "/questions", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "http://localhost:5173", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestResolvePort(t *testing.T) {
	assert.Equal(t, 9090, resolvePort(9090, 8080))
	assert.Equal(t, 8080, resolvePort(0, 8080))
}

func TestStartServer_GracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := buildRouter(newServeStore(t), nil, nil)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close() //nolint:errcheck

	errCh := make(chan error, 1)
	go func() {
		errCh <- startServer(ctx, h, port)
	}()

	var ready bool
	for i := 0; i < 50; i++ {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
		if err == nil {
			resp.Body.Close() //nolint:errcheck
			ready = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, ready, "server did not become ready in time")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
