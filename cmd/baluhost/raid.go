package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/baluhost/baluhost/pkg/core"
	"github.com/baluhost/baluhost/pkg/types"
)

var raidCmd = &cobra.Command{
	Use:   "raid",
	Short: "Manage RAID arrays",
}

var raidListCmd = &cobra.Command{
	Use:   "list",
	Short: "List arrays",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			arrays, err := c.RaidList(ctx)
			if err != nil {
				return err
			}
			if len(arrays) == 0 {
				fmt.Println("No arrays.")
				return nil
			}
			fmt.Printf("%-10s %-8s %-12s %-8s %12s  %s\n",
				"NAME", "LEVEL", "STATUS", "SYNC", "SIZE", "DEVICES")
			for _, a := range arrays {
				fmt.Printf("%-10s %-8s %-12s %-8s %12s  %d\n",
					a.Name, a.Level, a.Status, a.SyncAction,
					formatBytes(a.SizeBytes), len(a.Devices))
			}
			return nil
		})
	},
}

var raidShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Show one array with its members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			a, err := c.RaidGet(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Name:       %s\n", a.Name)
			fmt.Printf("Level:      %s\n", a.Level)
			fmt.Printf("Status:     %s\n", a.Status)
			fmt.Printf("Size:       %s\n", formatBytes(a.SizeBytes))
			fmt.Printf("Bitmap:     %s\n", a.Bitmap)
			fmt.Printf("Sync:       %s", a.SyncAction)
			if a.SyncProgress != nil {
				fmt.Printf(" (%.1f%%)", *a.SyncProgress)
			}
			fmt.Println()
			if a.MinSyncKB > 0 || a.MaxSyncKB > 0 {
				fmt.Printf("Sync speed: %d-%d KB/s\n", a.MinSyncKB, a.MaxSyncKB)
			}
			fmt.Println("Devices:")
			for _, d := range a.Devices {
				fmt.Printf("  %-12s slot=%-3d role=%-12s state=%s\n",
					d.Name, d.Slot, d.Role, d.State)
			}
			return nil
		})
	},
}

var raidCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a new array",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		levelStr, _ := cmd.Flags().GetString("level")
		devices, _ := cmd.Flags().GetStringSlice("devices")
		spares, _ := cmd.Flags().GetStringSlice("spares")
		chunkKB, _ := cmd.Flags().GetInt("chunk-kb")

		level, err := types.ParseRaidLevel(levelStr)
		if err != nil {
			return err
		}
		return withCore(func(ctx context.Context, c *core.Core) error {
			if err := c.RaidCreate(ctx, args[0], level, devices, spares, chunkKB); err != nil {
				return err
			}
			fmt.Printf("✓ Array %s created\n", args[0])
			return nil
		})
	},
}

var raidDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Stop and delete an array",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			if err := c.RaidDelete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ Array %s deleted\n", args[0])
			return nil
		})
	},
}

var raidFailCmd = &cobra.Command{
	Use:   "fail NAME DEVICE",
	Short: "Mark a member device faulty",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			if err := c.RaidFail(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("✓ Device %s marked faulty in %s\n", args[1], args[0])
			return nil
		})
	},
}

var raidRemoveCmd = &cobra.Command{
	Use:   "remove NAME DEVICE",
	Short: "Remove a faulty or spare member",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			if err := c.RaidRemove(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("✓ Device %s removed from %s\n", args[1], args[0])
			return nil
		})
	},
}

var raidAddSpareCmd = &cobra.Command{
	Use:   "add-spare NAME DEVICE",
	Short: "Add a hot spare to an array",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			if err := c.RaidAddSpare(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("✓ Spare %s added to %s\n", args[1], args[0])
			return nil
		})
	},
}

var raidScrubCmd = &cobra.Command{
	Use:   "scrub NAME",
	Short: "Start a scrub pass",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repair, _ := cmd.Flags().GetBool("repair")
		action := types.ScrubCheck
		if repair {
			action = types.ScrubRepair
		}
		return withCore(func(ctx context.Context, c *core.Core) error {
			if err := c.RaidStartScrub(ctx, args[0], action); err != nil {
				return err
			}
			fmt.Printf("✓ Scrub (%s) started on %s\n", action, args[0])
			return nil
		})
	},
}

var raidFreeCmd = &cobra.Command{
	Use:   "free",
	Short: "List devices available for new arrays",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			devices, err := c.ListFreeDevices(ctx)
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Println("No free devices.")
				return nil
			}
			fmt.Printf("%-12s %12s\n", "DEVICE", "SIZE")
			for _, d := range devices {
				fmt.Printf("%-12s %12s\n", d.Name, formatBytes(d.SizeBytes))
			}
			return nil
		})
	},
}

var raidWriteMostlyCmd = &cobra.Command{
	Use:   "write-mostly NAME DEVICE",
	Short: "Set or clear the write-mostly flag on a member",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		clear, _ := cmd.Flags().GetBool("clear")
		return withCore(func(ctx context.Context, c *core.Core) error {
			if err := c.RaidSetWriteMostly(ctx, args[0], args[1], !clear); err != nil {
				return err
			}
			if clear {
				fmt.Printf("✓ write-mostly cleared on %s\n", args[1])
			} else {
				fmt.Printf("✓ write-mostly set on %s\n", args[1])
			}
			return nil
		})
	},
}

var raidBitmapCmd = &cobra.Command{
	Use:   "bitmap NAME [none|internal]",
	Short: "Set the write-intent bitmap mode",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := types.BitmapMode(args[1])
		if mode != types.BitmapNone && mode != types.BitmapInternal {
			return fmt.Errorf("bitmap mode must be none or internal, got %q", args[1])
		}
		return withCore(func(ctx context.Context, c *core.Core) error {
			if err := c.RaidSetBitmap(ctx, args[0], mode); err != nil {
				return err
			}
			fmt.Printf("✓ Bitmap set to %s on %s\n", mode, args[0])
			return nil
		})
	},
}

var raidSyncLimitsCmd = &cobra.Command{
	Use:   "sync-limits NAME",
	Short: "Set the rebuild speed window",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		minKB, _ := cmd.Flags().GetInt("min-kb")
		maxKB, _ := cmd.Flags().GetInt("max-kb")
		return withCore(func(ctx context.Context, c *core.Core) error {
			if err := c.RaidSetSyncLimits(ctx, args[0], minKB, maxKB); err != nil {
				return err
			}
			fmt.Printf("✓ Sync limits %d-%d KB/s on %s\n", minKB, maxKB, args[0])
			return nil
		})
	},
}

func init() {
	raidCmd.AddCommand(raidListCmd)
	raidCmd.AddCommand(raidShowCmd)
	raidCmd.AddCommand(raidCreateCmd)
	raidCmd.AddCommand(raidDeleteCmd)
	raidCmd.AddCommand(raidFailCmd)
	raidCmd.AddCommand(raidRemoveCmd)
	raidCmd.AddCommand(raidAddSpareCmd)
	raidCmd.AddCommand(raidScrubCmd)
	raidCmd.AddCommand(raidFreeCmd)
	raidCmd.AddCommand(raidWriteMostlyCmd)
	raidCmd.AddCommand(raidBitmapCmd)
	raidCmd.AddCommand(raidSyncLimitsCmd)

	raidCreateCmd.Flags().String("level", "", "RAID level (0, 1, 5, 6, 10)")
	raidCreateCmd.Flags().StringSlice("devices", nil, "Member devices in order")
	raidCreateCmd.Flags().StringSlice("spares", nil, "Hot spare devices")
	raidCreateCmd.Flags().Int("chunk-kb", 0, "Chunk size in KB (striped levels)")
	raidCreateCmd.MarkFlagRequired("level")
	raidCreateCmd.MarkFlagRequired("devices")

	raidScrubCmd.Flags().Bool("repair", false, "Repair mismatches instead of just checking")
	raidWriteMostlyCmd.Flags().Bool("clear", false, "Clear the flag instead of setting it")
	raidSyncLimitsCmd.Flags().Int("min-kb", 0, "Minimum rebuild speed in KB/s")
	raidSyncLimitsCmd.Flags().Int("max-kb", 0, "Maximum rebuild speed in KB/s")
	raidSyncLimitsCmd.MarkFlagRequired("min-kb")
	raidSyncLimitsCmd.MarkFlagRequired("max-kb")
}

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
