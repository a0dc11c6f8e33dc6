// Package credits is the pay-per-document gate in front of the pipeline.
package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ZoroCRE/cv-analyzer/internal/common"
	"github.com/ZoroCRE/cv-analyzer/internal/repository"
)

const DefaultCostPerCV = 1

type Gate struct {
	repo   repository.CreditRepository
	cost   int
	logger *slog.Logger
}

func NewGate(repo repository.CreditRepository, costPerCV int, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if costPerCV <= 0 {
		costPerCV = DefaultCostPerCV
	}
	return &Gate{repo: repo, cost: costPerCV, logger: logger}
}

// ChargeOne debits one document's cost. The balance is checked and decremented
// in the same statement, so concurrent charges never take it below zero. A
// chargeKey that was already charged succeeds without debiting again.
func (g *Gate) ChargeOne(ctx context.Context, userID uuid.UUID, cvID int64, chargeKey string) (int, error) {
	balance, charged, err := g.repo.Charge(ctx, userID, cvID, g.cost, chargeKey)
	if errors.Is(err, common.ErrInsufficientCredits) {
		g.logger.Info("credits.charge.insufficient", "user_id", userID, "cv_id", cvID)
		return 0, common.Terminal(err)
	}
	if err != nil {
		return 0, fmt.Errorf("charge credits: %w", err)
	}
	if !charged {
		g.logger.Info("credits.charge.already_applied", "user_id", userID, "cv_id", cvID, "charge_key", chargeKey)
	} else {
		g.logger.Debug("credits.charge.ok", "user_id", userID, "cv_id", cvID, "balance", balance)
	}
	return balance, nil
}

// Grant tops up a user's balance. Only positive amounts are accepted.
func (g *Gate) Grant(ctx context.Context, userID uuid.UUID, amount int, reason string) (int, error) {
	v := common.NewValidator()
	v.Field("user_id", userID, common.Required)
	v.Field("amount", amount, common.Positive)
	v.Field("reason", strings.TrimSpace(reason), common.Required)
	if v.HasErrors() {
		return 0, v.Error()
	}

	balance, err := g.repo.Grant(ctx, userID, amount, strings.TrimSpace(reason))
	if err != nil {
		return 0, fmt.Errorf("grant credits: %w", err)
	}
	g.logger.Info("credits.grant.ok", "user_id", userID, "amount", amount, "reason", reason, "balance", balance)
	return balance, nil
}

func (g *Gate) Balance(ctx context.Context, userID uuid.UUID) (int, error) {
	return g.repo.Balance(ctx, userID)
}
