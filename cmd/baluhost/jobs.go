package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/baluhost/baluhost/pkg/core"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage scheduled jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			jobs, err := c.ListJobs(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%-16s %-22s %-8s %-10s %s\n",
				"NAME", "TRIGGER", "ENABLED", "LAST", "LAST RUN")
			for _, j := range jobs {
				lastRun := "never"
				if j.LastRunAt != nil {
					lastRun = j.LastRunAt.Local().Format(time.RFC3339)
				}
				fmt.Printf("%-16s %-22s %-8t %-10s %s\n",
					j.Name, j.TriggerSpec, j.Enabled, j.LastStatus, lastRun)
			}
			return nil
		})
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			j, err := c.GetJob(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Name:                 %s\n", j.Name)
			fmt.Printf("Trigger:              %s\n", j.TriggerSpec)
			fmt.Printf("Enabled:              %t\n", j.Enabled)
			fmt.Printf("Last status:          %s\n", j.LastStatus)
			if j.LastRunAt != nil {
				fmt.Printf("Last run:             %s\n", j.LastRunAt.Local().Format(time.RFC3339))
			}
			if j.LastErr != "" {
				fmt.Printf("Last error:           %s\n", j.LastErr)
			}
			fmt.Printf("Consecutive failures: %d\n", j.ConsecutiveFailures)
			return nil
		})
	},
}

var jobsRunCmd = &cobra.Command{
	Use:   "run NAME",
	Short: "Trigger a job immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			if err := c.RunJobNow(args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ Job %s triggered\n", args[0])
			return nil
		})
	},
}

var jobsEnableCmd = &cobra.Command{
	Use:   "enable NAME",
	Short: "Enable a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			if err := c.SetJobEnabled(ctx, args[0], true); err != nil {
				return err
			}
			fmt.Printf("✓ Job %s enabled\n", args[0])
			return nil
		})
	},
}

var jobsDisableCmd = &cobra.Command{
	Use:   "disable NAME",
	Short: "Disable a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			if err := c.SetJobEnabled(ctx, args[0], false); err != nil {
				return err
			}
			fmt.Printf("✓ Job %s disabled\n", args[0])
			return nil
		})
	},
}

var jobsHistoryCmd = &cobra.Command{
	Use:   "history NAME",
	Short: "Show recent executions of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withCore(func(ctx context.Context, c *core.Core) error {
			execs, err := c.JobHistory(ctx, args[0], limit)
			if err != nil {
				return err
			}
			if len(execs) == 0 {
				fmt.Println("No executions.")
				return nil
			}
			fmt.Printf("%-25s %-10s %-9s %8s  %s\n",
				"STARTED", "STATUS", "SOURCE", "DURATION", "ERROR")
			for _, e := range execs {
				fmt.Printf("%-25s %-10s %-9s %7dms  %s\n",
					e.StartedAt.Local().Format(time.RFC3339),
					e.Status, e.TriggeredBy, e.DurationMs, e.Error)
			}
			return nil
		})
	},
}

func init() {
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsRunCmd)
	jobsCmd.AddCommand(jobsEnableCmd)
	jobsCmd.AddCommand(jobsDisableCmd)
	jobsCmd.AddCommand(jobsHistoryCmd)

	jobsHistoryCmd.Flags().Int("limit", 20, "Maximum executions to show")
}
