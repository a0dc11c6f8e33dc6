package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database tables if they do not exist",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := loadEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()
		if err := e.db.Migrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Ping the database and the queue once",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		e, err := loadEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		out := cmd.OutOrStdout()
		if err := e.db.HealthCheck(ctx, 2*time.Second); err != nil {
			fmt.Fprintf(out, "database: FAIL (%v)\n", err)
			return err
		}
		fmt.Fprintln(out, "database: OK")

		broker, closeBroker, err := e.broker(ctx)
		if err != nil {
			fmt.Fprintf(out, "queue: FAIL (%v)\n", err)
			return err
		}
		defer closeBroker()
		stats, err := broker.Stats(ctx)
		if err != nil {
			fmt.Fprintf(out, "queue: FAIL (%v)\n", err)
			return err
		}
		fmt.Fprintf(out, "queue: OK ready=%d active=%d delayed=%d dead=%d\n", stats.Ready, stats.Active, stats.Delayed, stats.Dead)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, healthCmd)
}
