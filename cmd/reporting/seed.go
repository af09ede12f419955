package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/greenhospital/reporting/internal/app/runtime"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the hospitals and users listed in CONFIG_FILE",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := runtime.NewApplication(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Shutdown(context.Background())

		if err := a.Seed(cmd.Context()); err != nil {
			return err
		}
		cmd.Println("seed data applied")
		return nil
	},
}
