package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var verbose bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync users and libraries from all active servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				results, err := client.Sync(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, results)
				}
				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				if len(results) == 0 {
					fmt.Fprintln(stdout, "No active servers to sync")
					return nil
				}

				failures := 0
				for _, result := range results {
					kind := statusOK
					detail := fmt.Sprintf("%s; %s", result.LibrariesMessage, result.UsersMessage)
					if !result.Success {
						kind = statusError
						failures++
					}
					printStatusLine(stdout, result.ServerName, kind, detail, colorize)
					if verbose {
						for _, change := range result.Changes {
							fmt.Fprintf(stdout, "    %s\n", change)
						}
					}
				}
				if failures > 0 {
					fmt.Fprintf(stdout, "\n%d of %d servers failed to sync\n", failures, len(results))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show per-user and per-library changes")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of formatted text")
	return cmd
}
