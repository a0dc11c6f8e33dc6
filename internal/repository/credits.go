package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ZoroCRE/cv-analyzer/internal/common"
)

type CreditRepository interface {
	// Charge takes amount credits from userID, once per chargeKey. charged is
	// false when the key was already used; balance is then the current one.
	Charge(ctx context.Context, userID uuid.UUID, cvID int64, amount int, chargeKey string) (balance int, charged bool, err error)
	Grant(ctx context.Context, userID uuid.UUID, amount int, reason string) (int, error)
	Balance(ctx context.Context, userID uuid.UUID) (int, error)
}

type creditRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewCreditRepository(db *DB, logger *slog.Logger) CreditRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &creditRepository{db: db, logger: logger}
}

const chargeReason = "cv analysis"

func (r *creditRepository) Charge(ctx context.Context, userID uuid.UUID, cvID int64, amount int, chargeKey string) (int, bool, error) {
	var (
		balance int
		charged bool
	)
	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		var ledgerID int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO credit_transactions (user_id, amount, reason, cv_id, charge_key) VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (charge_key) DO NOTHING RETURNING id`,
			userID, -amount, chargeReason, cvID, chargeKey,
		).Scan(&ledgerID)
		if errors.Is(err, sql.ErrNoRows) {
			// this job already paid
			return balanceTx(ctx, tx, userID, &balance)
		}
		if err != nil {
			return err
		}

		err = tx.QueryRowContext(ctx,
			`UPDATE profiles SET credits = credits - $1 WHERE id = $2 AND credits >= $1 RETURNING credits`,
			amount, userID,
		).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrInsufficientCredits
		}
		if err != nil {
			return err
		}
		charged = true
		return nil
	})
	if err != nil {
		if !errors.Is(err, common.ErrInsufficientCredits) {
			r.logger.Error("failed to charge credits", "user_id", userID, "cv_id", cvID, "error", err)
		}
		return 0, false, err
	}
	return balance, charged, nil
}

func (r *creditRepository) Grant(ctx context.Context, userID uuid.UUID, amount int, reason string) (int, error) {
	var balance int
	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO profiles (id, credits) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET credits = profiles.credits + excluded.credits
			RETURNING credits`,
			userID, amount,
		).Scan(&balance)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO credit_transactions (user_id, amount, reason) VALUES ($1, $2, $3)`,
			userID, amount, reason)
		return err
	})
	if err != nil {
		r.logger.Error("failed to grant credits", "user_id", userID, "amount", amount, "error", err)
		return 0, err
	}
	return balance, nil
}

func (r *creditRepository) Balance(ctx context.Context, userID uuid.UUID) (int, error) {
	var balance int
	err := r.db.QueryRowContext(ctx, `SELECT credits FROM profiles WHERE id = $1`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("profile %s: %w", userID, common.ErrNotFound)
	}
	return balance, err
}

func balanceTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID, out *int) error {
	err := tx.QueryRowContext(ctx, `SELECT credits FROM profiles WHERE id = $1`, userID).Scan(out)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("profile %s: %w", userID, common.ErrNotFound)
	}
	return err
}
