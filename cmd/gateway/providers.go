package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/promptforge/gateway/pkg/config"
)

func newProvidersCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List configured providers and their capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if len(cfg.Providers) == 0 {
				fmt.Println("No providers configured.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMODEL\tCATEGORY\tPROMPT ¢/1K\tCOMPLETION ¢/1K\tMAX TOKENS\tENABLED")
			for _, pc := range cfg.Providers {
				d := pc.Descriptor()
				fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.2f\t%d\t%t\n",
					d.ID, d.Model, d.Category, d.Pricing.PromptPer1K, d.Pricing.CompletionPer1K, d.MaxTokens, d.Enabled)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gateway.yaml", "path to config file")
	return cmd
}
