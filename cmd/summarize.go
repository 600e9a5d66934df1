package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var summarizeQuestionID string

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Recompute a question's summary from its stored responses",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, agg, err := initAggregator(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		summary, err := agg.Summarize(ctx, summarizeQuestionID)
		if err != nil {
			return eris.Wrapf(err, "summarize question %s", summarizeQuestionID)
		}
		if summary == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "no responses yet")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), *summary)
		return nil
	},
}

func init() {
	summarizeCmd.Flags().StringVar(&summarizeQuestionID, "question", "", "question ID (required)")
	_ = summarizeCmd.MarkFlagRequired("question")
	rootCmd.AddCommand(summarizeCmd)
}
