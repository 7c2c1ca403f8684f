package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List open playback sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				sessions, err := client.Sessions(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, sessions)
				}
				stdout := cmd.OutOrStdout()
				if len(sessions) == 0 {
					fmt.Fprintln(stdout, "No active sessions")
					return nil
				}

				rows := make([][]string, 0, len(sessions))
				for _, session := range sessions {
					title := session.MediaTitle
					if session.SeriesTitle != "" {
						title = session.SeriesTitle + " - " + title
					}
					rows = append(rows, []string{
						session.ServerName,
						session.Username,
						title,
						session.Player,
						formatProgress(session.OffsetSeconds, session.RuntimeSeconds),
						session.StartedAt.Local().Format("15:04"),
					})
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"Server", "User", "Title", "Player", "Progress", "Started"},
					rows,
					4,
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of a table")
	return cmd
}
