package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"scuolakb/internal/ingest"
)

var (
	ingestSources  []string
	ingestMaxDocs  int
	ingestReingest []string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion pass",
	Long: `Discovers new items from every configured source (or the ones named with
--source), fetches and indexes at most --max-docs of them, then writes the
snapshot. Documents that fail are retried by the next run. The command exits
non-zero only when the run could not complete.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringArrayVar(&ingestSources, "source", nil, "only discover from the named source (repeatable)")
	ingestCmd.Flags().IntVar(&ingestMaxDocs, "max-docs", 0, "override the per-run document cap")
	ingestCmd.Flags().StringArrayVar(&ingestReingest, "reingest", nil, "forget and ingest this url again (repeatable)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
		rep, err := rt.Runner.Run(ctx, ingest.RunOptions{
			Sources:  ingestSources,
			MaxDocs:  ingestMaxDocs,
			Reingest: ingestReingest,
		})
		if err != nil {
			return fmt.Errorf("ingest failed: %w", err)
		}

		printReport(cmd, rep)

		var partial *ingest.PartialBatchFailure
		if errors.As(rep.Err(), &partial) {
			slog.WarnContext(ctx, "some documents failed", "error", partial)
		}
		return nil
	})
}

func printReport(cmd *cobra.Command, rep *ingest.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s\n", rep.RunID)
	fmt.Fprintf(out, "  Discovered: %d\n", rep.Discovered)
	fmt.Fprintf(out, "  New:        %d (deferred %d)\n", rep.New, rep.Deferred)
	fmt.Fprintf(out, "  Indexed:    %d (%d chunks)\n", rep.Indexed, rep.Chunks)
	fmt.Fprintf(out, "  Skipped:    %d\n", rep.Skipped)
	fmt.Fprintf(out, "  Failed:     %d\n", rep.Failed)
	for _, f := range rep.Failures {
		fmt.Fprintf(out, "    - [%s/%s] %s: %s\n", f.Stage, f.Kind, f.URL, f.Error)
	}
	if rep.Cancelled {
		fmt.Fprintln(out, "  Run cancelled, progress so far was saved.")
	}
}
