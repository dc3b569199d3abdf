package cli

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"tradeguard/internal/app"
)

var (
	simulateEventID   int64
	simulateTitle     string
	simulateSummary   string
	simulateSeverity  string
	simulatePort      string
	simulateCommodity string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-event",
	Short: "Push one synthetic event through admission and alert delivery",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateTitle == "" {
			return errors.New("--title is required")
		}

		severity, err := decimal.NewFromString(simulateSeverity)
		if err != nil {
			return fmt.Errorf("invalid --severity value: %w", err)
		}
		if severity.IsNegative() || severity.GreaterThan(decimal.NewFromInt(1)) {
			return errors.New("--severity must be within [0, 1]")
		}

		a := getApp()
		a.Out = cmd.OutOrStdout()
		_, err = a.SimulateEvent(cmd.Context(), simulateOptions(severity))
		return err
	},
}

func simulateOptions(severity decimal.Decimal) app.SimulateOptions {
	return app.SimulateOptions{
		EventID:   simulateEventID,
		Title:     simulateTitle,
		Summary:   simulateSummary,
		Severity:  severity,
		Port:      simulatePort,
		Commodity: simulateCommodity,
	}
}

func init() {
	simulateCmd.Flags().Int64Var(&simulateEventID, "id", 0, "Event id")
	simulateCmd.Flags().StringVar(&simulateTitle, "title", "", "Event title")
	simulateCmd.Flags().StringVar(&simulateSummary, "summary", "", "Event summary")
	simulateCmd.Flags().StringVar(&simulateSeverity, "severity", "0.9", "Severity in [0, 1]")
	simulateCmd.Flags().StringVar(&simulatePort, "port", "", "Affected port")
	simulateCmd.Flags().StringVar(&simulateCommodity, "commodity", "", "Affected commodity")
}
