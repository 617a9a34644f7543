package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"labelflow/internal/domain"
	"labelflow/internal/engine"
)

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage user profiles"}
	user.AddCommand(userShowCmd())
	user.AddCommand(userCreateCmd())
	return user
}

func userShowCmd() *cobra.Command {
	var wallet string
	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show a user by id or --wallet",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && wallet == "" {
				return fmt.Errorf("user id or --wallet required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var (
					u   domain.User
					err error
				)
				if len(args) == 1 {
					u, err = e.GetUser(ctx, args[0])
				} else {
					u, err = e.GetUserByWallet(ctx, wallet)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&wallet, "wallet", "", "wallet address")
	return cmd
}

func userCreateCmd() *cobra.Command {
	var wallet, username, userType, email string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a user profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := engine.UserFields{Username: &username, UserType: &userType}
			if cmd.Flags().Changed("email") {
				f.Email = &email
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				// an empty actor makes the new user its own creator
				actor, _ := actorID()
				u, err := e.CreateUser(ctx, actor, wallet, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&wallet, "wallet", "", "wallet address")
	cmd.Flags().StringVar(&username, "username", "", "display name")
	cmd.Flags().StringVar(&userType, "type", "labeler", "submitter, labeler or validator")
	cmd.Flags().StringVar(&email, "email", "", "email")
	_ = cmd.MarkFlagRequired("wallet")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}
