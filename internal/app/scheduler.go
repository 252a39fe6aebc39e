package app

import (
	"context"
	"time"

	"github.com/bobmcallan/fundterm/internal/common"
	"github.com/bobmcallan/fundterm/internal/interfaces"
)

// startSyncScheduler refreshes holding prices and history on a fixed interval.
func startSyncScheduler(ctx context.Context, ledgerService interfaces.LedgerService, logger *common.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Sync scheduler: stopped")
			return
		case <-ticker.C:
			runSync(ctx, ledgerService, logger)
		}
	}
}

func runSync(ctx context.Context, ledgerService interfaces.LedgerService, logger *common.Logger) {
	start := time.Now()

	result, err := ledgerService.SyncAll(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Scheduled sync failed")
		return
	}

	logger.Info().
		Int("updated", result.Updated).
		Int("failed", result.Failed).
		Int("total", result.Total).
		Dur("elapsed", time.Since(start)).
		Msg("Scheduled sync: complete")
}
