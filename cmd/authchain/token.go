package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/authchain/auth"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and inspect tokens",
	}
	cmd.AddCommand(tokenIssueCmd())
	cmd.AddCommand(tokenDecodeCmd())
	return cmd
}

func tokenIssueCmd() *cobra.Command {
	var (
		accessID string
		ttl      time.Duration
		attrs    []string
	)

	cmd := &cobra.Command{
		Use:     "issue",
		Short:   "Issue a token for an access id",
		Example: `  authchain token issue --access-id user:corp/u-1001 --ttl 15m`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := auth.ParseAccessID(accessID); err != nil {
				return err
			}
			attributes, err := parsePairs(attrs)
			if err != nil {
				return fmt.Errorf("attr: %w", err)
			}

			ctx := context.Background()
			rt, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(ctx) }()
			if rt.Codec == nil {
				return errors.New("no token section configured")
			}

			raw, err := rt.Codec.Issue(accessID, attributes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return nil
		},
	}

	cmd.Flags().StringVar(&accessID, "access-id", "", "Access id, e.g. user:corp/u-1001")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default: configured ttl)")
	cmd.Flags().StringArrayVar(&attrs, "attr", nil, "Token attribute as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("access-id")

	return cmd
}

func tokenDecodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode <token>",
		Short: "Verify a token and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			rt, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(ctx) }()
			if rt.Codec == nil {
				return errors.New("no token section configured")
			}

			tok, err := rt.Codec.Decode(ctx, []byte(args[0]))
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Access ID: %s\n", tok.AccessIDAttribute())
			fmt.Fprintf(w, "Expires:   %s\n", tok.Expiration().Format(time.RFC3339))
			return nil
		},
	}
	return cmd
}
