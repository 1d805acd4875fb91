package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/baluhost/baluhost/pkg/config"
	"github.com/baluhost/baluhost/pkg/core"
	"github.com/baluhost/baluhost/pkg/log"
	"github.com/baluhost/baluhost/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "baluhost",
	Short: "BaluHost - self-hosted NAS storage and device control plane",
	Long: `BaluHost manages software RAID arrays, device monitoring, scheduled
maintenance, and sandboxed file storage on a single host, delivered as
one binary backed by one SQLite database.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"BaluHost version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(raidCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(fsCmd)
}

// loadConfig builds the effective config and initialises logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
	return cfg, nil
}

// withCore boots the control plane, runs fn, and shuts down again. Used by
// every one-shot command.
func withCore(fn func(ctx context.Context, c *core.Core) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := core.New(cfg)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		c.Stop()
		return err
	}
	defer c.Stop()
	return fn(ctx, c)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		metrics.SetVersion(Version)
		c, err := core.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to create control plane: %w", err)
		}
		if err := c.Start(context.Background()); err != nil {
			c.Stop()
			return fmt.Errorf("failed to start control plane: %w", err)
		}

		fmt.Printf("BaluHost running in %s mode. Press Ctrl+C to stop.\n", cfg.Mode)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		c.Stop()
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Boot the control plane and report component health",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			health := c.Health()
			fmt.Printf("Status:  %s\n", health.Status)
			fmt.Printf("Uptime:  %s\n", health.Uptime)
			if health.Version != "" {
				fmt.Printf("Version: %s\n", health.Version)
			}
			fmt.Println("Components:")
			for name, state := range health.Components {
				fmt.Printf("  %-12s %s\n", name, state)
			}
			ready := c.Readiness()
			fmt.Printf("Ready:   %s\n", ready.Status)
			return nil
		})
	},
}
