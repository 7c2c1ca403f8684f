package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"usher/internal/api"
)

func newServersCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	serversCmd := &cobra.Command{
		Use:   "servers",
		Short: "Manage configured media servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServersList(ctx, cmd, jsonOutput)
		},
	}
	serversCmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of a table")

	serversCmd.AddCommand(newServersListCommand(ctx))
	serversCmd.AddCommand(newServersAddCommand(ctx))
	serversCmd.AddCommand(newServersRemoveCommand(ctx))
	serversCmd.AddCommand(newServersTestCommand(ctx))

	return serversCmd
}

func newServersListCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServersList(ctx, cmd, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of a table")
	return cmd
}

func runServersList(ctx *commandContext, cmd *cobra.Command, jsonOutput bool) error {
	return ctx.withClient(func(client *apiClient) error {
		servers, err := client.Servers(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd, servers)
		}
		stdout := cmd.OutOrStdout()
		if len(servers) == 0 {
			fmt.Fprintln(stdout, "No servers configured")
			return nil
		}

		rows := make([][]string, 0, len(servers))
		for _, server := range servers {
			rows = append(rows, []string{
				strconv.FormatInt(server.ID, 10),
				server.Name,
				server.DisplayType,
				server.BaseURL,
				yesNo(server.IsActive),
				yesNo(server.IsOnline),
				formatTimestamp(server.LastSyncedAt),
			})
		}
		fmt.Fprintln(stdout, renderTable(
			[]string{"ID", "Name", "Type", "URL", "Active", "Online", "Last Synced"},
			rows,
			0,
		))
		return nil
	})
}

func newServersAddCommand(ctx *commandContext) *cobra.Command {
	var serviceType string
	var baseURL string
	var apiKey string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a media server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *apiClient) error {
				created, err := client.AddServer(cmd.Context(), api.CreateServerRequest{
					Name:        name,
					ServiceType: serviceType,
					BaseURL:     baseURL,
					APIKey:      apiKey,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s server %q (id %d)\n", created.DisplayType, created.Name, created.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&serviceType, "type", "t", "", "Service type (plex, jellyfin, emby)")
	cmd.Flags().StringVarP(&baseURL, "url", "u", "", "Server base URL")
	cmd.Flags().StringVarP(&apiKey, "api-key", "k", "", "API key or token for the server")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func newServersRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a server and its cached data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseServerID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *apiClient) error {
				if err := client.RemoveServer(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed server %d\n", id)
				return nil
			})
		},
	}
}

func newServersTestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test <id>",
		Short: "Test connectivity to a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseServerID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *apiClient) error {
				result, err := client.TestServer(cmd.Context(), id)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				if result.OK {
					printStatusLine(stdout, "Connection", statusOK, result.Message, colorize)
					return nil
				}
				printStatusLine(stdout, "Connection", statusError, result.Message, colorize)
				return nil
			})
		},
	}
}

func parseServerID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid server id %q", raw)
	}
	return id, nil
}
