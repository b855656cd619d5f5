package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	costRate   float64
	costFormat string
)

var costModelCmd = &cobra.Command{
	Use:   "cost-model",
	Short: "Compare cascade cost against running the deep model alone",
	Long: `cost-model prices the cascade at its target escalation rate and at the
rate observed in stored analyses. Pass --rate to price a hypothetical rate instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rate := costRate
		var computed int64
		if !cmd.Flags().Changed("rate") {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			rate, computed, err = a.DB().EscalationRate(cmd.Context())
			if err != nil {
				return err
			}
		}
		if rate < 0 || rate > 1 {
			return fmt.Errorf("rate must be within [0,1], got %v", rate)
		}

		report := cfg.CostModel().Report(rate)
		out := cmd.OutOrStdout()
		if costFormat == "json" {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		fmt.Fprintf(out, "stage 1 cost:        $%.4f\n", report.Stage1Cost)
		fmt.Fprintf(out, "stage 2 cost:        $%.4f\n", report.Stage2Cost)
		fmt.Fprintf(out, "single-stage cost:   $%.4f\n", report.SingleStageCost)
		fmt.Fprintf(out, "target rate:         %.0f%%  blended $%.4f  savings %.1f%%\n",
			report.TargetEscalationRate*100, report.TargetBlendedCost, report.TargetSavings*100)
		label := "observed rate:"
		if cmd.Flags().Changed("rate") {
			label = "requested rate:"
		}
		fmt.Fprintf(out, "%-20s %.0f%%  blended $%.4f  savings %.1f%%", label,
			report.ObservedEscalationRate*100, report.ObservedBlendedCost, report.ObservedSavings*100)
		if computed > 0 {
			fmt.Fprintf(out, "  (%d analyses)", computed)
		}
		fmt.Fprintln(out)
		return nil
	},
}

func init() {
	costModelCmd.Flags().Float64Var(&costRate, "rate", 0, "Escalation rate to price, in [0,1]")
	costModelCmd.Flags().StringVarP(&costFormat, "format", "f", "text", "Output format (text, json)")
}
