package main

import (
	"context"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/qa-scraper/internal/model"
	"github.com/sells-group/qa-scraper/internal/orchestrator"
	"github.com/sells-group/qa-scraper/internal/store"
)

var (
	batchLimit    int
	batchCategory string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Process stored questions that have no summary yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		category, err := parseCategoryFlag(batchCategory)
		if err != nil {
			return err
		}

		env, err := initScrapeEnv(ctx, "scrape")
		if err != nil {
			return err
		}
		defer env.Close()

		filter := store.QuestionFilter{Unsummarized: true, Limit: batchLimit}
		if category != nil {
			filter.Category = *category
		}
		questions, err := env.Store.ListQuestions(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list unsummarized questions")
		}

		return processBatch(ctx, questions, batchLimit, cfg.Batch.MaxConcurrentQuestions, env.Orchestrator.Process)
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchLimit, "limit", 100, "max number of questions to process")
	batchCmd.Flags().StringVar(&batchCategory, "category", "", "only process questions in this category")
	rootCmd.AddCommand(batchCmd)
}

// processFunc is the callback signature for processing one question.
type processFunc func(ctx context.Context, questionID string) (*orchestrator.Result, error)

// processBatch applies limit, then processes questions concurrently. One
// question failing never aborts the others.
func processBatch(ctx context.Context, questions []model.Question, limit, concurrency int, process processFunc) error {
	if len(questions) == 0 {
		zap.L().Info("no unsummarized questions found")
		return nil
	}

	if limit > 0 && len(questions) > limit {
		questions = questions[:limit]
	}
	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("questions", len(questions)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed, responses atomic.Int64

	for _, q := range questions {
		g.Go(func() error {
			log := zap.L().With(zap.String("question_id", q.ID))

			result, err := process(gctx, q.ID)
			if err != nil {
				failed.Add(1)
				log.Error("question failed", zap.String("kind", string(model.KindOf(err))), zap.Error(err))
				return nil // don't abort batch on individual failure
			}

			succeeded.Add(1)
			responses.Add(int64(result.ResponseCount))
			log.Info("question complete",
				zap.String("category", string(result.Category)),
				zap.Int("responses", result.ResponseCount),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
		zap.Int64("responses", responses.Load()),
	)
	return nil
}
