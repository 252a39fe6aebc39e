package ledger

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bobmcallan/fundterm/internal/models"
)

const (
	priceLookbackDays   = 30
	historyLookbackDays = 365
)

// latestPrice resolves the most recent market price for a holding.
func (s *Service) latestPrice(ctx context.Context, symbol string, assetType models.AssetType) (float64, error) {
	if s.market == nil {
		return 0, fmt.Errorf("market data service unavailable")
	}

	if assetType == models.AssetFund {
		return s.market.LatestNav(ctx, symbol)
	}

	start := s.now().AddDate(0, 0, -priceLookbackDays).Format("2006-01-02")
	bars, err := s.market.StockDaily(ctx, symbol, start, "")
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, fmt.Errorf("no recent bars for %s", symbol)
	}
	return bars[len(bars)-1].Close, nil
}

// historySeries builds the cacheable value series for a holding.
func (s *Service) historySeries(ctx context.Context, symbol string, assetType models.AssetType) ([]models.HistoryPoint, error) {
	if assetType == models.AssetFund {
		points, err := s.market.FundNAV(ctx, symbol)
		if err != nil {
			return nil, err
		}
		out := make([]models.HistoryPoint, 0, len(points))
		for _, p := range points {
			out = append(out, models.HistoryPoint{Date: p.Date, Value: p.Nav})
		}
		return out, nil
	}

	start := s.now().AddDate(0, 0, -historyLookbackDays).Format("2006-01-02")
	bars, err := s.market.StockDaily(ctx, symbol, start, "")
	if err != nil {
		return nil, err
	}
	out := make([]models.HistoryPoint, 0, len(bars))
	for _, b := range bars {
		out = append(out, models.HistoryPoint{Date: b.Date, Value: b.Close})
	}
	return out, nil
}

// HoldingSummary aggregates one position against its latest market price.
func (s *Service) HoldingSummary(ctx context.Context, symbol string, assetType models.AssetType) (*models.HoldingSummary, error) {
	symbol = models.NormalizeSymbol(symbol, assetType)
	pos, err := s.GetPosition(ctx, symbol, assetType)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, fmt.Errorf("no position held for %s", symbol)
	}

	price := pos.CostPrice
	if pos.CurrentPrice != nil {
		price = *pos.CurrentPrice
	}
	if live, err := s.latestPrice(ctx, symbol, assetType); err == nil && live > 0 {
		price = live
	}

	name := pos.Name
	if name == "" && s.market != nil {
		name = s.market.Name(ctx, symbol, assetType)
	}

	invested := pos.Quantity * pos.CostPrice
	marketValue := pos.Quantity * price
	summary := &models.HoldingSummary{
		Symbol:       symbol,
		AssetType:    assetType,
		Name:         name,
		Quantity:     pos.Quantity,
		CostPrice:    pos.CostPrice,
		CurrentPrice: price,
		Invested:     invested,
		MarketValue:  marketValue,
		Profit:       marketValue - invested,
	}
	if invested > 0 {
		summary.ProfitRate = (marketValue - invested) / invested * 100
	}
	return summary, nil
}

// Summary aggregates cash plus all holdings at their last synced prices.
func (s *Service) Summary(ctx context.Context) (*models.AssetsSummary, error) {
	capital, err := s.GetCapital(ctx)
	if err != nil {
		return nil, err
	}
	positions, err := s.ListPositions(ctx)
	if err != nil {
		return nil, err
	}

	holdingsValue := 0.0
	for _, pos := range positions {
		price := pos.CostPrice
		if pos.CurrentPrice != nil {
			price = *pos.CurrentPrice
		}
		holdingsValue += pos.Quantity * price
	}

	return &models.AssetsSummary{
		Capital:       capital,
		Holdings:      positions,
		HoldingsValue: holdingsValue,
		TotalValue:    capital + holdingsValue,
	}, nil
}

// SyncAll refreshes every position's price, display name and cached history
// series, fanning out across a bounded worker pool. Per-holding failures are
// counted, not fatal.
func (s *Service) SyncAll(ctx context.Context) (*models.SyncResult, error) {
	positions, err := s.ListPositions(ctx)
	if err != nil {
		return nil, err
	}

	result := &models.SyncResult{Total: len(positions)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, pos := range positions {
		pos := pos
		g.Go(func() error {
			if err := s.syncOne(gctx, pos); err != nil {
				s.logger.Warn().Err(err).Str("symbol", pos.Symbol).Msg("Holding sync failed")
				mu.Lock()
				result.Failed++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			result.Updated++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	s.logger.Info().Int("updated", result.Updated).Int("failed", result.Failed).Msg("Holdings sync completed")
	return result, nil
}

func (s *Service) syncOne(ctx context.Context, pos *models.Position) error {
	price, err := s.latestPrice(ctx, pos.Symbol, pos.AssetType)
	if err != nil {
		return err
	}

	name := pos.Name
	if name == "" {
		name = s.market.Name(ctx, pos.Symbol, pos.AssetType)
	}

	if err := s.storage.LedgerStore().UpdatePositionPrice(ctx, pos.Symbol, pos.AssetType, name, price); err != nil {
		return err
	}

	// history is a best-effort cache, a miss does not fail the sync
	if series, err := s.historySeries(ctx, pos.Symbol, pos.AssetType); err == nil && len(series) > 0 {
		history := &models.HoldingHistory{
			Symbol:    pos.Symbol,
			AssetType: pos.AssetType,
			Data:      series,
			UpdatedAt: s.now(),
		}
		if err := s.storage.HistoryStore().Put(ctx, history); err != nil {
			s.logger.Debug().Err(err).Str("symbol", pos.Symbol).Msg("History cache write failed")
		}
	}

	return nil
}
