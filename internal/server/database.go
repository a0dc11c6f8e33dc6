package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/ZoroCRE/cv-analyzer/internal/async"
	"github.com/ZoroCRE/cv-analyzer/internal/repository"
)

// DatabaseCheck pings the database with the given timeout.
func DatabaseCheck(db *repository.DB, timeout time.Duration, logger *slog.Logger) Check {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) error {
		logger.Debug("pinging database")
		if err := db.HealthCheck(ctx, timeout); err != nil {
			logger.Error("database ping failed", "error", err)
			return err
		}
		logger.Debug("database ping successful")
		return nil
	}
}

// BrokerCheck pings the job broker.
func BrokerCheck(b async.Broker, timeout time.Duration) Check {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return b.Ping(ctx)
	}
}
