package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/baluhost/baluhost/pkg/core"
	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/types"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Inspect live device monitoring",
}

// waitSample polls fn until it stops reporting "no sample yet". One-shot
// commands boot the samplers fresh, so the first tick may not have landed.
func waitSample[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	deadline := time.Now().Add(10 * time.Second)
	for {
		v, err := fn()
		if err == nil || errdefs.KindOf(err) != errdefs.KindNotAvailable || time.Now().After(deadline) {
			return v, err
		}
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

var monitorCPUCmd = &cobra.Command{
	Use:   "cpu",
	Short: "Show current CPU utilisation",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			s, err := waitSample(ctx, c.CurrentCPU)
			if err != nil {
				return err
			}
			fmt.Printf("Total: %.1f%%\n", s.TotalPct)
			if s.FreqMHz > 0 {
				fmt.Printf("Freq:  %d MHz\n", s.FreqMHz)
			}
			if s.TempC > 0 {
				fmt.Printf("Temp:  %.1f°C\n", s.TempC)
			}
			for i, pct := range s.PerThreadPct {
				fmt.Printf("  cpu%-3d %5.1f%%\n", i, pct)
			}
			return nil
		})
	},
}

var monitorMemoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Show current memory usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			s, err := waitSample(ctx, c.CurrentMemory)
			if err != nil {
				return err
			}
			fmt.Printf("Total:     %s\n", formatBytes(s.TotalBytes))
			fmt.Printf("Used:      %s\n", formatBytes(s.UsedBytes))
			fmt.Printf("Available: %s\n", formatBytes(s.AvailableBytes))
			fmt.Printf("Cached:    %s\n", formatBytes(s.CachedBytes))
			if s.SwapTotalBytes > 0 {
				fmt.Printf("Swap:      %s / %s\n",
					formatBytes(s.SwapUsedBytes), formatBytes(s.SwapTotalBytes))
			}
			return nil
		})
	},
}

var monitorDisksCmd = &cobra.Command{
	Use:   "disks",
	Short: "Show current per-device I/O rates",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			samples, err := waitSample(ctx, func() ([]types.DiskSample, error) {
				s := c.CurrentDisks()
				if len(s) == 0 {
					return nil, errdefs.Errorf(errdefs.KindNotAvailable, "no sample yet")
				}
				return s, nil
			})
			if err != nil {
				return err
			}
			fmt.Printf("%-12s %12s %12s %8s %8s\n",
				"DEVICE", "READ/s", "WRITE/s", "R-OPS/s", "W-OPS/s")
			for _, s := range samples {
				fmt.Printf("%-12s %12s %12s %8d %8d\n",
					s.DeviceName,
					formatBytes(s.ReadBytesPerSec), formatBytes(s.WriteBytesPerSec),
					s.ReadOpsPerSec, s.WriteOpsPerSec)
			}
			return nil
		})
	},
}

var monitorNetCmd = &cobra.Command{
	Use:   "net",
	Short: "Show current per-interface throughput",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			samples, err := waitSample(ctx, func() ([]types.NetworkSample, error) {
				s := c.CurrentNetwork()
				if len(s) == 0 {
					return nil, errdefs.Errorf(errdefs.KindNotAvailable, "no sample yet")
				}
				return s, nil
			})
			if err != nil {
				return err
			}
			fmt.Printf("%-12s %12s %12s\n", "IFACE", "RX/s", "TX/s")
			for _, s := range samples {
				fmt.Printf("%-12s %12s %12s\n",
					s.Interface, formatBytes(s.RxBytesPerSec), formatBytes(s.TxBytesPerSec))
			}
			return nil
		})
	},
}

var monitorPsCmd = &cobra.Command{
	Use:   "ps",
	Short: "Show the current top processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			samples, err := waitSample(ctx, func() ([]types.ProcessSample, error) {
				s := c.CurrentProcesses()
				if len(s) == 0 {
					return nil, errdefs.Errorf(errdefs.KindNotAvailable, "no sample yet")
				}
				return s, nil
			})
			if err != nil {
				return err
			}
			fmt.Printf("%8s %6s %12s  %s\n", "PID", "CPU%", "MEM", "COMMAND")
			for _, s := range samples {
				fmt.Printf("%8d %5.1f%% %12s  %s\n",
					s.PID, s.CPUPct, formatBytes(s.MemoryBytes), s.Command)
			}
			return nil
		})
	},
}

var monitorSmartCmd = &cobra.Command{
	Use:   "smart [DEVICE]",
	Short: "Show SMART health, scanning all devices when none is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			var records []types.SmartRecord
			if len(args) == 1 {
				rec, err := c.CurrentSmart(ctx, args[0])
				if err != nil {
					return err
				}
				records = []types.SmartRecord{*rec}
			} else {
				var err error
				records, err = c.ScanSmart(ctx)
				if err != nil {
					return err
				}
			}
			fmt.Printf("%-12s %-8s %6s %10s %8s %8s\n",
				"DEVICE", "HEALTH", "TEMP", "POH", "REALLOC", "PENDING")
			for _, r := range records {
				fmt.Printf("%-12s %-8s %5d° %10d %8d %8d\n",
					r.DeviceName, r.Health, r.TempC, r.PowerOnHours,
					r.ReallocatedSectors, r.PendingSectors)
			}
			return nil
		})
	},
}

func init() {
	monitorCmd.AddCommand(monitorCPUCmd)
	monitorCmd.AddCommand(monitorMemoryCmd)
	monitorCmd.AddCommand(monitorDisksCmd)
	monitorCmd.AddCommand(monitorNetCmd)
	monitorCmd.AddCommand(monitorPsCmd)
	monitorCmd.AddCommand(monitorSmartCmd)
}
