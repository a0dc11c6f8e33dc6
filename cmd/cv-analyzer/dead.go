package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var deadCmd = &cobra.Command{
	Use:   "dead",
	Short: "Inspect and replay jobs that exhausted their attempts",
}

var deadListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead jobs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		e, err := loadEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()
		broker, closeBroker, err := e.broker(ctx)
		if err != nil {
			return err
		}
		defer closeBroker()

		stats, err := broker.Stats(ctx)
		if err != nil {
			return err
		}
		envs, err := broker.Dead(ctx, limit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ready=%d active=%d delayed=%d dead=%d\n", stats.Ready, stats.Active, stats.Delayed, stats.Dead)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "JOB\tCV\tSUBMISSION\tATTEMPTS\tFAILED AT\tERROR")
		for _, j := range envs {
			failed := ""
			if j.FailedAt != nil {
				failed = j.FailedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d/%d\t%s\t%s\n",
				j.ID, j.Job.CVID, j.Job.SubmissionID, j.Attempts, j.MaxAttempts, failed, j.LastError)
		}
		return tw.Flush()
	},
}

var deadReplayCmd = &cobra.Command{
	Use:   "replay <job-id>",
	Short: "Move a dead job back to the ready queue with a fresh attempt budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := loadEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()
		broker, closeBroker, err := e.broker(ctx)
		if err != nil {
			return err
		}
		defer closeBroker()

		if err := broker.Replay(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "job %s replayed\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deadCmd)
	deadCmd.AddCommand(deadListCmd, deadReplayCmd)
	deadListCmd.Flags().Int("limit", 50, "max jobs to show")
}
