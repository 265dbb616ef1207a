package main

import "github.com/spf13/cobra"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "crewsim",
		Short:         "Crew simulation host with rate-limited LLM decisions",
		Long:          "crewsim drives a station crew through simulated days, asking an LLM backend for each worker's next action under strict request and token budgets.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		newRunCmd(),
		newUsageCmd(),
		newVersionCmd(),
	)
	return rootCmd
}
