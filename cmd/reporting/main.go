// Command reporting runs the hospital sustainability reporting service and
// its maintenance tasks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "reporting",
	Short: "Hospital sustainability reporting service",
	Long: `Collects monthly sustainability metrics from hospitals, tracks
submission deadlines and serves the reporting API.

Configuration is read from the environment, an optional .env file and
the YAML file named by CONFIG_FILE.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, remindCmd, seedCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
