package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/danhigham/tgscope/internal/gateway"
)

func parseID(name, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return id, nil
}

func newChatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chats <user-id>",
		Short: "List a user's groups and channels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID("user id", args[0])
			if err != nil {
				return err
			}
			return withService(cmd, opts, func(ctx context.Context, svc *gateway.Service) error {
				convs, err := svc.Conversations(ctx, userID)
				if err != nil {
					return err
				}
				return writeJSON(cmd, convs)
			})
		},
	}
}

func newMessagesCmd(opts *rootOptions) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "messages [--days N] <user-id> <chat-id>",
		Short: "Print a chat's text messages from the last few days",
		Long: `Print a chat's text messages from the last few days.

Group and channel ids are negative, so flags go before the ids:
  tgscope messages --days 3 12345 -1001234567890`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID("user id", args[0])
			if err != nil {
				return err
			}
			chatID, err := parseID("chat id", args[1])
			if err != nil {
				return err
			}
			return withService(cmd, opts, func(ctx context.Context, svc *gateway.Service) error {
				msgs, err := svc.Messages(ctx, userID, chatID, days)
				if err != nil {
					return err
				}
				return writeJSON(cmd, msgs)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", gateway.DefaultDays, "how many days back to read")
	// Marked chat ids start with '-' and must not be read as flags.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout <user-id>",
		Short: "Disconnect a user and forget their session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID("user id", args[0])
			if err != nil {
				return err
			}
			return withService(cmd, opts, func(ctx context.Context, svc *gateway.Service) error {
				return svc.Logout(ctx, userID)
			})
		},
	}
}
