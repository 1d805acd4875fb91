package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/baluhost/baluhost/pkg/core"
)

var fsCmd = &cobra.Command{
	Use:   "fs",
	Short: "Work with sandboxed file storage",
}

var fsMountsCmd = &cobra.Command{
	Use:   "mounts",
	Short: "List mountpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			mounts, err := c.Mountpoints(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%-12s %-12s %-10s %12s %12s %s\n",
				"ID", "LABEL", "KIND", "CAPACITY", "USED", "FLAGS")
			for _, m := range mounts {
				flags := ""
				if m.Readonly {
					flags = "ro"
				}
				fmt.Printf("%-12s %-12s %-10s %12s %12s %s\n",
					m.ID, m.Label, m.Kind,
					formatBytes(m.CapacityBytes), formatBytes(m.UsedBytes), flags)
			}
			return nil
		})
	},
}

var fsListCmd = &cobra.Command{
	Use:   "list MOUNT [DIR]",
	Short: "List a directory on a mountpoint",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ""
		if len(args) == 2 {
			dir = args[1]
		}
		return withCore(func(ctx context.Context, c *core.Core) error {
			entries, err := c.FsList(ctx, args[0], dir)
			if err != nil {
				return err
			}
			for _, e := range entries {
				kind := "-"
				if e.IsDirectory {
					kind = "d"
				}
				fmt.Printf("%s %12s  owner=%-4d %s\n",
					kind, formatBytes(e.SizeBytes), e.OwnerID, e.Path)
			}
			return nil
		})
	},
}

var fsPutCmd = &cobra.Command{
	Use:   "put LOCAL MOUNT DEST",
	Short: "Upload a local file into a mountpoint",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetInt64("user")
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return err
		}
		return withCore(func(ctx context.Context, c *core.Core) error {
			meta, err := c.FsWrite(ctx, userID, args[1], args[2], f, info.Size())
			if err != nil {
				return err
			}
			fmt.Printf("✓ Wrote %s (%s)\n", meta.Path, formatBytes(meta.SizeBytes))
			return nil
		})
	},
}

var fsGetCmd = &cobra.Command{
	Use:   "get MOUNT SRC [LOCAL]",
	Short: "Download a file, to stdout when LOCAL is omitted",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			rc, err := c.FsRead(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			defer rc.Close()

			var out io.Writer = os.Stdout
			if len(args) == 3 {
				f, err := os.Create(args[2])
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			_, err = io.Copy(out, rc)
			return err
		})
	},
}

var fsMkdirCmd = &cobra.Command{
	Use:   "mkdir MOUNT DIR",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetInt64("user")
		return withCore(func(ctx context.Context, c *core.Core) error {
			meta, err := c.FsMkdir(ctx, userID, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("✓ Created %s\n", meta.Path)
			return nil
		})
	},
}

var fsMoveCmd = &cobra.Command{
	Use:   "move MOUNT SRC DEST",
	Short: "Rename a file or directory within a mountpoint",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			if err := c.FsRename(ctx, args[0], args[1], args[2]); err != nil {
				return err
			}
			fmt.Printf("✓ Moved %s -> %s\n", args[1], args[2])
			return nil
		})
	},
}

var fsRmCmd = &cobra.Command{
	Use:   "rm MOUNT PATH",
	Short: "Delete a file or directory tree",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetInt64("user")
		return withCore(func(ctx context.Context, c *core.Core) error {
			if err := c.FsDelete(ctx, userID, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("✓ Deleted %s\n", args[1])
			return nil
		})
	},
}

func init() {
	fsCmd.AddCommand(fsMountsCmd)
	fsCmd.AddCommand(fsListCmd)
	fsCmd.AddCommand(fsPutCmd)
	fsCmd.AddCommand(fsGetCmd)
	fsCmd.AddCommand(fsMkdirCmd)
	fsCmd.AddCommand(fsMoveCmd)
	fsCmd.AddCommand(fsRmCmd)

	fsPutCmd.Flags().Int64("user", 0, "Owning user ID, charged for quota")
	fsPutCmd.MarkFlagRequired("user")
	fsMkdirCmd.Flags().Int64("user", 0, "Owning user ID")
	fsMkdirCmd.MarkFlagRequired("user")
	fsRmCmd.Flags().Int64("user", 0, "User credited with the freed bytes")
	fsRmCmd.MarkFlagRequired("user")
}
