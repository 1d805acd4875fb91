package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/baluhost/baluhost/pkg/core"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage refresh tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a refresh token for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetInt64("user")
		deviceID, _ := cmd.Flags().GetString("device")
		return withCore(func(ctx context.Context, c *core.Core) error {
			token, jti, err := c.IssueToken(ctx, userID, deviceID, "", "baluhost-cli")
			if err != nil {
				return err
			}
			fmt.Printf("JTI:   %s\n", jti)
			fmt.Printf("Token: %s\n", token)
			return nil
		})
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke JTI",
	Short: "Revoke one token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		return withCore(func(ctx context.Context, c *core.Core) error {
			if err := c.RevokeToken(ctx, args[0], reason); err != nil {
				return err
			}
			fmt.Printf("✓ Token %s revoked\n", args[0])
			return nil
		})
	},
}

var tokenRevokeUserCmd = &cobra.Command{
	Use:   "revoke-user",
	Short: "Revoke every live token of a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetInt64("user")
		reason, _ := cmd.Flags().GetString("reason")
		return withCore(func(ctx context.Context, c *core.Core) error {
			n, err := c.RevokeAllForUser(ctx, userID, reason)
			if err != nil {
				return err
			}
			fmt.Printf("✓ %d token(s) revoked\n", n)
			return nil
		})
	},
}

var tokenRevokeDeviceCmd = &cobra.Command{
	Use:   "revoke-device",
	Short: "Revoke every live token of one device",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetInt64("user")
		deviceID, _ := cmd.Flags().GetString("device")
		reason, _ := cmd.Flags().GetString("reason")
		return withCore(func(ctx context.Context, c *core.Core) error {
			n, err := c.RevokeDevice(ctx, userID, deviceID, reason)
			if err != nil {
				return err
			}
			fmt.Printf("✓ %d token(s) revoked\n", n)
			return nil
		})
	},
}

var tokenCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge tokens expired past the retention grace",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			n, err := c.CleanupTokens(ctx, time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("✓ %d token(s) purged\n", n)
			return nil
		})
	},
}

func init() {
	tokenCmd.AddCommand(tokenIssueCmd)
	tokenCmd.AddCommand(tokenRevokeCmd)
	tokenCmd.AddCommand(tokenRevokeUserCmd)
	tokenCmd.AddCommand(tokenRevokeDeviceCmd)
	tokenCmd.AddCommand(tokenCleanupCmd)

	tokenIssueCmd.Flags().Int64("user", 0, "User ID")
	tokenIssueCmd.Flags().String("device", "", "Device identifier")
	tokenIssueCmd.MarkFlagRequired("user")

	tokenRevokeCmd.Flags().String("reason", "cli revoke", "Revocation reason")

	tokenRevokeUserCmd.Flags().Int64("user", 0, "User ID")
	tokenRevokeUserCmd.Flags().String("reason", "cli revoke", "Revocation reason")
	tokenRevokeUserCmd.MarkFlagRequired("user")

	tokenRevokeDeviceCmd.Flags().Int64("user", 0, "User ID")
	tokenRevokeDeviceCmd.Flags().String("device", "", "Device identifier")
	tokenRevokeDeviceCmd.Flags().String("reason", "cli revoke", "Revocation reason")
	tokenRevokeDeviceCmd.MarkFlagRequired("user")
	tokenRevokeDeviceCmd.MarkFlagRequired("device")
}
