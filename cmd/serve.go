package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/qa-scraper/internal/model"
	"github.com/sells-group/qa-scraper/internal/orchestrator"
	"github.com/sells-group/qa-scraper/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP trigger server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		env, err := initScrapeEnv(ctx, "scrape")
		if err != nil {
			return err
		}
		defer env.Close()

		router := buildRouter(env.Store, env.Orchestrator, cfg.Server.AllowedOrigins)
		return startServer(ctx, router, resolvePort(servePort, cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// questionStore is the persistence the HTTP handlers read and write.
type questionStore interface {
	CreateQuestion(ctx context.Context, text string, category *model.Category) (*model.Question, error)
	GetQuestion(ctx context.Context, id string) (*model.Question, error)
	ListResponses(ctx context.Context, questionID string) ([]model.Response, error)
}

// questionProcessor runs one question end to end.
type questionProcessor interface {
	Process(ctx context.Context, questionID string) (*orchestrator.Result, error)
}

type scrapeResponse struct {
	Message       string  `json:"message"`
	ResponseCount int     `json:"responseCount"`
	Summary       *string `json:"summary"`
}

// buildRouter wires the trigger endpoints. A nil proc makes the scrape
// endpoint answer 503.
func buildRouter(st questionStore, proc questionProcessor, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/questions", func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Text     string `json:"text"`
				Category string `json:"category"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			req.Text = strings.TrimSpace(req.Text)
			if req.Text == "" {
				writeError(w, http.StatusBadRequest, "text is required")
				return
			}
			category, err := parseCategoryFlag(req.Category)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}

			q, err := st.CreateQuestion(r.Context(), req.Text, category)
			if err != nil {
				zap.L().Error("create question failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "could not store question")
				return
			}
			writeJSON(w, http.StatusCreated, q)
		})

		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			q, ok := loadQuestion(w, r, st)
			if !ok {
				return
			}
			resps, err := st.ListResponses(r.Context(), q.ID)
			if err != nil {
				zap.L().Error("list responses failed", zap.String("question_id", q.ID), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "could not load responses")
				return
			}
			if resps == nil {
				resps = []model.Response{}
			}
			writeJSON(w, http.StatusOK, map[string]any{"question": q, "responses": resps})
		})

		r.Get("/{id}/summary", func(w http.ResponseWriter, r *http.Request) {
			q, ok := loadQuestion(w, r, st)
			if !ok {
				return
			}
			if q.Summary == nil {
				writeError(w, http.StatusNotFound, "no summary yet")
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"question_id": q.ID, "summary": *q.Summary})
		})

		r.Post("/{id}/scrape", func(w http.ResponseWriter, r *http.Request) {
			if proc == nil {
				writeError(w, http.StatusServiceUnavailable, "scraping is not configured")
				return
			}
			id := chi.URLParam(r, "id")
			log := zap.L().With(zap.String("question_id", id))

			result, err := proc.Process(r.Context(), id)
			if err != nil {
				log.Error("scrape request failed", zap.Error(err))
				status := scrapeErrorStatus(err)
				body := map[string]any{"error": "Error during scraping", "kind": model.KindOf(err)}
				if status == http.StatusNotFound {
					body["error"] = "question not found"
				}
				if result != nil {
					body["responseCount"] = result.ResponseCount
				}
				writeJSON(w, status, body)
				return
			}
			writeJSON(w, http.StatusOK, scrapeResponse{
				Message:       "Scraping completed",
				ResponseCount: result.ResponseCount,
				Summary:       result.Summary,
			})
		})
	})

	return r
}

func loadQuestion(w http.ResponseWriter, r *http.Request, st questionStore) (*model.Question, bool) {
	id := chi.URLParam(r, "id")
	q, err := st.GetQuestion(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "question not found")
		return nil, false
	}
	if err != nil {
		zap.L().Error("get question failed", zap.String("question_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load question")
		return nil, false
	}
	return q, true
}

func scrapeErrorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case model.IsKind(err, model.KindAllSourcesFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func resolvePort(flag, configured int) int {
	if flag != 0 {
		return flag
	}
	return configured
}

// startServer serves handler until ctx is done, then shuts down gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	return nil
}
