package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/promptforge/gateway/pkg/config"
	"github.com/promptforge/gateway/pkg/ledger"
)

func newStatsCmd() *cobra.Command {
	var (
		configPath string
		subjectID  string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show execution usage and cost statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			led, err := ledger.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = led.Close() }()

			ctx := context.Background()

			// Per-subject detail view
			if subjectID != "" {
				recs, err := led.Recent(ctx, subjectID, limit)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Println("No executions found for subject.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tPROVIDER\tSTATUS\tPROMPT\tCOMPLETION\tCOST ¢\tLATENCY MS\tERROR")
				for _, r := range recs {
					errCode := "-"
					if r.ErrorCode != "" {
						errCode = r.ErrorCode
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.2f\t%d\t%s\n",
						r.CreatedAt.Format("2006-01-02T15:04:05"), r.ProviderID, r.Status,
						r.Usage.PromptTokens, r.Usage.CompletionTokens, r.Cost.Total, r.LatencyMs, errCode)
				}
				return w.Flush()
			}

			// Default: per-provider summary
			summaries, err := led.Summary(ctx)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No usage data found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tREQUESTS\tSUCCEEDED\tFAILED\tREJECTED\tPROMPT\tCOMPLETION\tCOST ¢")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%.2f\n",
					s.ProviderID, s.RequestCount, s.Succeeded, s.Failed, s.Rejected,
					s.TotalPrompt, s.TotalCompletion, s.TotalCostCents)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gateway.yaml", "path to config file")
	cmd.Flags().StringVar(&subjectID, "subject", "", "show recent executions for a subject")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows in the subject view")
	return cmd
}
