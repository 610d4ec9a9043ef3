package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/danhigham/tgscope/internal/domain"
	"github.com/danhigham/tgscope/internal/gateway"
)

func newSendCodeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send-code <phone>",
		Short: "Request a login code for a phone number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc *gateway.Service) error {
				hash, err := svc.SendCode(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd, map[string]string{"phoneCodeHash": hash})
			})
		},
	}
}

func newSignInCmd(opts *rootOptions) *cobra.Command {
	var (
		codeHash string
		password string
	)
	cmd := &cobra.Command{
		Use:   "sign-in <phone> <code>",
		Short: "Complete a login with the code Telegram sent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc *gateway.Service) error {
				user, err := svc.SignIn(ctx, args[0], args[1], codeHash, password)
				if errors.Is(err, domain.ErrPasswordRequired) {
					return fmt.Errorf("%w: run sign-in again with --password", err)
				}
				if err != nil {
					return err
				}
				return writeJSON(cmd, map[string]string{
					"userId":     strconv.FormatInt(user.ID, 10),
					"telegramId": strconv.FormatInt(user.AccountID, 10),
					"username":   user.Username,
					"firstName":  user.FirstName,
				})
			})
		},
	}
	cmd.Flags().StringVar(&codeHash, "code-hash", "", "code hash from send-code (defaults to the stored one)")
	cmd.Flags().StringVar(&password, "password", "", "two-step verification password")
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <phone>",
		Short: "Show where the login for a phone number stands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc *gateway.Service) error {
				state, err := svc.AuthStatus(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd, map[string]string{"state": string(state)})
			})
		},
	}
}
