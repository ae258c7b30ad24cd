package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"scuolakb/internal/retrieval"
)

var (
	queryTopK int
	queryJSON bool
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Ask the knowledge base",
	Long: `Embeds the question, retrieves the closest chunks and prints up to three
citations with title, source, date, link and an excerpt.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of chunks to retrieve (default from SEARCH_TOP_K)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output the answer as JSON")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")

	return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
		if rt.Rehydrate != nil {
			if err := rt.Rehydrate(ctx); err != nil {
				return fmt.Errorf("load knowledge base: %w", err)
			}
		}

		results, err := rt.Retriever.Retrieve(ctx, question, queryTopK)
		if errors.Is(err, retrieval.ErrQueryTooShort) {
			fmt.Fprintln(cmd.OutOrStdout(), "Per favore scrivi una domanda più specifica.")
			return err
		}
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}

		answer := retrieval.FormatAnswer(question, results)
		if queryJSON {
			data, err := json.MarshalIndent(answer, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal answer: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), answer.Markdown())
		return nil
	})
}
