package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/qa-scraper/internal/model"
	"github.com/sells-group/qa-scraper/internal/orchestrator"
)

var runQuestionID string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Classify, scrape and summarize one stored question",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initScrapeEnv(ctx, "scrape")
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Orchestrator.Process(ctx, runQuestionID)
		if result != nil {
			if encErr := writeResult(os.Stdout, result); encErr != nil {
				return encErr
			}
		}
		if err != nil {
			return eris.Wrapf(err, "process question %s", runQuestionID)
		}

		zap.L().Info("question processed",
			zap.String("question_id", result.QuestionID),
			zap.String("category", string(result.Category)),
			zap.Int("responses", result.ResponseCount),
		)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runQuestionID, "question", "", "question ID (required)")
	_ = runCmd.MarkFlagRequired("question")
	rootCmd.AddCommand(runCmd)
}

func writeResult(w io.Writer, result *orchestrator.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// parseCategoryFlag turns an optional --category value into a Category.
func parseCategoryFlag(raw string) (*model.Category, error) {
	if raw == "" {
		return nil, nil
	}
	c, ok := model.ParseCategory(raw)
	if !ok {
		return nil, eris.Errorf("unknown category %q (want one of %v)", raw, model.Categories)
	}
	return &c, nil
}
