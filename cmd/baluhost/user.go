package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/baluhost/baluhost/pkg/core"
	"github.com/baluhost/baluhost/pkg/types"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

// readPassword takes the password from --password or, when the flag is
// empty, from the first line of stdin.
func readPassword(cmd *cobra.Command) (string, error) {
	password, _ := cmd.Flags().GetString("password")
	if password != "" {
		return password, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

var userCreateCmd = &cobra.Command{
	Use:   "create USERNAME",
	Short: "Create a user account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		admin, _ := cmd.Flags().GetBool("admin")
		password, err := readPassword(cmd)
		if err != nil {
			return err
		}
		role := types.RoleUser
		if admin {
			role = types.RoleAdmin
		}
		return withCore(func(ctx context.Context, c *core.Core) error {
			user, err := c.CreateUser(ctx, args[0], email, password, role)
			if err != nil {
				return err
			}
			fmt.Printf("✓ User %s created (id=%d, role=%s)\n", user.Username, user.ID, user.Role)
			return nil
		})
	},
}

var userPasswdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change a user's password and revoke their sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetInt64("user")
		current, _ := cmd.Flags().GetString("current")
		next, err := readPassword(cmd)
		if err != nil {
			return err
		}
		return withCore(func(ctx context.Context, c *core.Core) error {
			if err := c.ChangePassword(ctx, userID, current, next); err != nil {
				return err
			}
			fmt.Println("✓ Password changed, all sessions revoked")
			return nil
		})
	},
}

var userQuotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show or set a user's storage quota",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetInt64("user")
		limit, _ := cmd.Flags().GetInt64("set")
		return withCore(func(ctx context.Context, c *core.Core) error {
			if limit > 0 {
				if err := c.SetQuota(ctx, userID, limit); err != nil {
					return err
				}
			}
			q, err := c.QuotaOf(ctx, userID)
			if err != nil {
				return err
			}
			fmt.Printf("User:  %d\n", q.UserID)
			fmt.Printf("Limit: %s\n", formatBytes(q.LimitBytes))
			fmt.Printf("Used:  %s\n", formatBytes(q.UsedBytes))
			return nil
		})
	},
}

func init() {
	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userPasswdCmd)
	userCmd.AddCommand(userQuotaCmd)

	userCreateCmd.Flags().String("email", "", "Email address")
	userCreateCmd.Flags().String("password", "", "Password (read from stdin when omitted)")
	userCreateCmd.Flags().Bool("admin", false, "Grant the admin role")

	userPasswdCmd.Flags().Int64("user", 0, "User ID")
	userPasswdCmd.Flags().String("current", "", "Current password")
	userPasswdCmd.Flags().String("password", "", "New password (read from stdin when omitted)")
	userPasswdCmd.MarkFlagRequired("user")
	userPasswdCmd.MarkFlagRequired("current")

	userQuotaCmd.Flags().Int64("user", 0, "User ID")
	userQuotaCmd.Flags().Int64("set", 0, "New quota limit in bytes")
	userQuotaCmd.MarkFlagRequired("user")
}
