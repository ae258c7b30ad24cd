package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"scuolakb/internal/eval"
)

var (
	evalCases string
	evalTopK  int
	evalJSON  bool
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Measure retrieval hit rate on reference questions",
	Long: `Runs each reference question against the index and counts a hit when any of
its keywords appears in the retrieved chunks. Without --cases a built-in set
of questions is used.`,
	Args: cobra.NoArgs,
	RunE: runEval,
}

func init() {
	evalCmd.Flags().StringVar(&evalCases, "cases", "", "YAML file with {cases: [{question, keywords}]}")
	evalCmd.Flags().IntVarP(&evalTopK, "top-k", "k", eval.DefaultTopK, "chunks retrieved per question")
	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "output the report as JSON")
	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, _ []string) error {
	cases := eval.DefaultCases
	if evalCases != "" {
		loaded, err := eval.LoadCases(evalCases)
		if err != nil {
			return err
		}
		cases = loaded
	}

	return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
		if rt.Rehydrate != nil {
			if err := rt.Rehydrate(ctx); err != nil {
				return fmt.Errorf("load knowledge base: %w", err)
			}
		}

		rep, err := eval.Run(ctx, rt.Retriever, cases, evalTopK)
		if err != nil {
			return err
		}

		if evalJSON {
			data, err := json.MarshalIndent(rep, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal report: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		for _, c := range rep.Cases {
			mark := "MISS"
			if c.Hit {
				mark = "HIT "
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  %s %s\n", mark, c.Question)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Hit rate:  %.1f %% (%d/%d)\n", rep.HitRate*100, rep.Hits, rep.Total)
		fmt.Fprintf(cmd.OutOrStdout(), "Miss rate: %.1f %%\n", rep.MissRate*100)
		return nil
	})
}
