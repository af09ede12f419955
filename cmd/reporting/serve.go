package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/greenhospital/reporting/internal/app/runtime"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the reminder scheduler",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := runtime.NewApplication(ctx)
	if err != nil {
		return err
	}
	runErr := a.Run(ctx)
	if err := a.Shutdown(context.Background()); err != nil && runErr == nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return runErr
}
