package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and consume run requests",
	Long: `Loads the last snapshot, serves the HTTP API and, when ENABLE_EVENTS is set,
consumes run requests from NSQ. Stops on SIGINT or SIGTERM after the current
document.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
		if rt.Rehydrate != nil {
			if err := rt.Rehydrate(ctx); err != nil {
				return fmt.Errorf("load knowledge base: %w", err)
			}
		}
		return rt.Server.Run(ctx)
	})
}
