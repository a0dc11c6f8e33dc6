package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ZoroCRE/cv-analyzer/internal/credits"
	"github.com/ZoroCRE/cv-analyzer/internal/repository"
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Inspect and top up user credits",
}

var creditsGrantCmd = &cobra.Command{
	Use:   "grant <user-uuid> <amount>",
	Short: "Add credits to a user's balance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid user id: %w", err)
		}
		var amount int
		if _, err := fmt.Sscan(args[1], &amount); err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[1], err)
		}
		reason, _ := cmd.Flags().GetString("reason")

		gate, closeFn, err := openGate(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		balance, err := gate.Grant(cmd.Context(), userID, amount, reason)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s balance %d\n", userID, balance)
		return nil
	},
}

var creditsBalanceCmd = &cobra.Command{
	Use:   "balance <user-uuid>",
	Short: "Print a user's credit balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid user id: %w", err)
		}
		gate, closeFn, err := openGate(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		balance, err := gate.Balance(cmd.Context(), userID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s balance %d\n", userID, balance)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(creditsCmd)
	creditsCmd.AddCommand(creditsGrantCmd, creditsBalanceCmd)
	creditsGrantCmd.Flags().String("reason", "admin top-up", "ledger reason")
}

func openGate(cmd *cobra.Command) (*credits.Gate, func(), error) {
	e, err := loadEnv(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	gate := credits.NewGate(repository.NewCreditRepository(e.db, e.logger), e.cfg.Credits.CostPerCV, e.logger)
	return gate, e.close, nil
}
