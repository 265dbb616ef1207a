package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"crewsim/pkg/metrics"
)

func newUsageCmd() *cobra.Command {
	var (
		prometheusURL string
		asJSON        bool
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show backend token and request usage from Prometheus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := metrics.NewQueryService(prometheusURL)
			if err != nil {
				return err //nolint:wrapcheck // Already descriptive
			}
			usage, err := q.GetUsageByModel(cmd.Context())
			if err != nil {
				return err //nolint:wrapcheck // Already descriptive
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(usage) //nolint:wrapcheck // Output error
			}
			if len(usage) == 0 {
				_, err := fmt.Fprintln(out, "No usage recorded")
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MODEL\tREQUESTS\tPROMPT\tCOMPLETION\tTOTAL\tTHROTTLED")
			for _, u := range usage {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", u.Model, u.Requests, u.PromptTokens, u.CompletionTokens, u.TotalTokens, u.Throttles)
			}
			return tw.Flush() //nolint:wrapcheck // Output error
		},
	}
	cmd.Flags().StringVar(&prometheusURL, "prometheus", "http://localhost:9090", "Prometheus server scraping crewsim")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}
