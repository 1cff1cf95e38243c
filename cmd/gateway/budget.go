package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/promptforge/gateway/pkg/budget"
	"github.com/promptforge/gateway/pkg/config"
)

func newBudgetCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Manage cost budgets and scopes",
	}

	var scope string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show budget consumption vs limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if !cfg.Budget.Enabled {
				fmt.Println("Budget enforcement is disabled.")
				return nil
			}

			enforcer, err := budget.New(cfg.DBPath, cfg.Budget.Policies)
			if err != nil {
				return err
			}
			defer func() { _ = enforcer.Close() }()

			statuses, err := enforcer.Status(context.Background(), scope)
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				fmt.Println("No budget scopes found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCOPE\tMAX ¢\tCONSUMED ¢\tREMAINING ¢\tOVER BUDGET")
			for _, s := range statuses {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%t\n",
					s.Policy.ScopeKey, s.Policy.MaxCostCents, s.ConsumedCents, s.RemainingCents, s.OverBudget)
			}
			return w.Flush()
		},
	}
	statusCmd.Flags().StringVar(&scope, "scope", "", "filter by scope key (toolId or runId)")

	resetCmd := &cobra.Command{
		Use:   "reset <scope>",
		Short: "Reset a scope's consumption and over-budget flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			enforcer, err := budget.New(cfg.DBPath, cfg.Budget.Policies)
			if err != nil {
				return err
			}
			defer func() { _ = enforcer.Close() }()

			if err := enforcer.Reset(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Budget scope %s reset.\n", args[0])
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "gateway.yaml", "path to config file")
	cmd.AddCommand(statusCmd, resetCmd)
	return cmd
}
