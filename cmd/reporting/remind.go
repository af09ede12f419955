package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/greenhospital/reporting/internal/app/runtime"
)

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Email every hospital that has not submitted the current month",
	Long: `Runs one pass of the reminder scheduler: every hospital without a
submitted entry for the current reporting month gets a reminder email.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := runtime.NewApplication(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Shutdown(context.Background())

		results, err := a.App().Reminders.SendOutstanding(cmd.Context())
		if err != nil {
			return err
		}
		if len(results) == 0 {
			cmd.Println("every hospital has submitted")
			return nil
		}
		for _, r := range results {
			cmd.Printf("%s %s: %d sent, %d failed\n", r.HospitalID, r.MonthYear, r.Sent, r.Failed)
		}
		return nil
	},
}
