package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	askCategory string
	askProcess  bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question text]",
	Short: "Store a new question, optionally processing it right away",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		text := strings.TrimSpace(strings.Join(args, " "))
		if text == "" {
			return eris.New("question text is empty")
		}
		category, err := parseCategoryFlag(askCategory)
		if err != nil {
			return err
		}

		if !askProcess {
			if err := cfg.Validate("accounts"); err != nil {
				return err
			}
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			q, err := st.CreateQuestion(ctx, text, category)
			if err != nil {
				return eris.Wrap(err, "create question")
			}
			zap.L().Info("question stored", zap.String("question_id", q.ID))
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(q)
		}

		env, err := initScrapeEnv(ctx, "scrape")
		if err != nil {
			return err
		}
		defer env.Close()

		q, err := env.Store.CreateQuestion(ctx, text, category)
		if err != nil {
			return eris.Wrap(err, "create question")
		}
		zap.L().Info("question stored", zap.String("question_id", q.ID))

		result, err := env.Orchestrator.Process(ctx, q.ID)
		if result != nil {
			if encErr := writeResult(os.Stdout, result); encErr != nil {
				return encErr
			}
		}
		if err != nil {
			return eris.Wrapf(err, "process question %s", q.ID)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().StringVar(&askCategory, "category", "", "skip classification and use this category")
	askCmd.Flags().BoolVar(&askProcess, "process", false, "scrape and summarize immediately")
	rootCmd.AddCommand(askCmd)
}
