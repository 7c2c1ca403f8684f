package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, status)
				}

				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)

				printSectionHeader(stdout, "Daemon", colorize)
				if status.Running {
					printStatusLine(stdout, "Running", statusOK, fmt.Sprintf("pid %d", status.PID), colorize)
				} else {
					printStatusLine(stdout, "Running", statusError, "stopped", colorize)
				}
				printStatusLine(stdout, "Database", statusInfo, status.DatabasePath, colorize)
				printStatusLine(stdout, "Lock file", statusInfo, status.LockFilePath, colorize)
				printStatusLine(stdout, "Open sessions", statusInfo, strconv.Itoa(status.OpenSessions), colorize)
				fmt.Fprintln(stdout)

				printSectionHeader(stdout, "Servers", colorize)
				if len(status.Servers) == 0 {
					fmt.Fprintln(stdout, "No servers configured; add one with `usher servers add`")
					return nil
				}
				for _, server := range status.Servers {
					kind := statusOK
					detail := fmt.Sprintf("%s online", server.DisplayType)
					switch {
					case !server.IsActive:
						kind = statusWarn
						detail = fmt.Sprintf("%s disabled", server.DisplayType)
					case !server.IsOnline:
						kind = statusError
						detail = fmt.Sprintf("%s offline", server.DisplayType)
						if server.LastStatusError != "" {
							detail += ": " + server.LastStatusError
						}
					}
					printStatusLine(stdout, server.Name, kind, detail, colorize)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of formatted text")
	return cmd
}
