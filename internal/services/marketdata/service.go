// Package marketdata provides normalized market data with automatic provider failover
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bobmcallan/fundterm/internal/common"
	"github.com/bobmcallan/fundterm/internal/interfaces"
	"github.com/bobmcallan/fundterm/internal/models"
)

const (
	DefaultAttemptTimeout = 30 * time.Second
	DefaultRetries        = 3 // attempts per provider, including the first

	// effective-source keys, one per failover-managed call type
	CallFundNAV    = "fund_nav"
	CallFundList   = "fund_list"
	CallStockDaily = "stock_daily"
	CallIndexDaily = "index_daily"
)

// Service implements MarketDataService over two providers with primary-first
// failover. The primary is tried to exhaustion (with retries) before the
// secondary is consulted; an empty-but-successful answer also triggers the
// fallback. Which provider actually answered is tracked per call type.
type Service struct {
	providers map[models.Source]interfaces.MarketProvider
	logger    *common.Logger
	retries   int
	timeout   time.Duration

	mu        sync.RWMutex
	primary   models.Source
	effective map[string]models.Source
}

// ServiceOption configures the service
type ServiceOption func(*Service)

// WithRetries sets the attempts per provider per call (minimum 1).
func WithRetries(retries int) ServiceOption {
	return func(s *Service) {
		if retries > 0 {
			s.retries = retries
		}
	}
}

// WithAttemptTimeout sets the per-attempt deadline.
func WithAttemptTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// NewService creates a market data service. Either provider may be nil, in
// which case its slot is simply skipped during failover.
func NewService(primary models.Source, eastmoney, tushare interfaces.MarketProvider, logger *common.Logger, opts ...ServiceOption) *Service {
	if !models.ValidSource(primary) {
		primary = models.SourceEastmoney
	}

	s := &Service{
		providers: map[models.Source]interfaces.MarketProvider{},
		logger:    logger,
		retries:   DefaultRetries,
		timeout:   DefaultAttemptTimeout,
		primary:   primary,
		effective: make(map[string]models.Source),
	}
	if eastmoney != nil {
		s.providers[models.SourceEastmoney] = eastmoney
	}
	if tushare != nil {
		s.providers[models.SourceTushare] = tushare
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Primary returns the current provider preference.
func (s *Service) Primary() models.Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primary
}

// SetPrimary changes the provider preference. Invalid sources are ignored.
func (s *Service) SetPrimary(source models.Source) {
	if !models.ValidSource(source) {
		return
	}
	s.mu.Lock()
	s.primary = source
	s.mu.Unlock()
	s.logger.Info().Str("primary", string(source)).Msg("Primary data source changed")
}

// SetTokens replaces the credential list of the named provider, when that
// provider supports runtime credential swaps.
func (s *Service) SetTokens(source models.Source, tokens []string) {
	p := s.providers[source]
	if p == nil {
		return
	}
	if carrier, ok := p.(interfaces.TokenCarrier); ok {
		carrier.SetTokens(tokens)
	}
}

// EffectiveSources reports which provider supplied the most recent successful
// result, per call type.
func (s *Service) EffectiveSources() map[string]models.Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.Source, len(s.effective))
	for k, v := range s.effective {
		out[k] = v
	}
	return out
}

func (s *Service) recordEffective(callType string, source models.Source) {
	s.mu.Lock()
	s.effective[callType] = source
	s.mu.Unlock()
}

// order returns the failover order starting from the current primary.
func (s *Service) order() []models.Source {
	p := s.Primary()
	return []models.Source{p, p.Other()}
}

// callWithRetry runs fn against one provider with exponential backoff and a
// per-attempt deadline. Cancellation of the parent context stops the retry
// loop immediately.
func callWithRetry[T any](ctx context.Context, s *Service, source models.Source, op string, fn func(context.Context) (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0

	var result T
	operation := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		out, err := fn(attemptCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				s.logger.Warn().Str("source", string(source)).Str("op", op).Dur("timeout", s.timeout).Msg("Provider call timed out")
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		result = out
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.retries-1)), ctx))
	return result, err
}

// failover tries the primary provider to exhaustion, then the secondary. A
// successful non-empty answer records the effective source. An empty answer
// from either provider, with no better answer available, is returned as an
// empty result with nil error. Only when every provider errored does the call
// fail, with the per-provider causes preserved.
func failover[T any](ctx context.Context, s *Service, op, callType, symbol string, fn func(context.Context, interfaces.MarketProvider) ([]T, error)) ([]T, error) {
	var (
		tried    []models.Source
		causes   []error
		sawEmpty bool
	)

	for _, src := range s.order() {
		p := s.providers[src]
		if p == nil {
			continue
		}

		out, err := callWithRetry(ctx, s, src, op, func(c context.Context) ([]T, error) {
			return fn(c, p)
		})
		if err != nil {
			tried = append(tried, src)
			causes = append(causes, err)
			s.logger.Warn().Err(err).Str("source", string(src)).Str("op", op).Str("symbol", symbol).Msg("Provider failed, trying next")
			continue
		}
		if len(out) == 0 {
			sawEmpty = true
			s.logger.Debug().Str("source", string(src)).Str("op", op).Str("symbol", symbol).Msg("Provider returned no rows, trying next")
			continue
		}

		s.recordEffective(callType, src)
		return out, nil
	}

	if sawEmpty {
		return []T{}, nil
	}
	return nil, &DataUnavailableError{Op: op, Symbol: symbol, Tried: tried, Causes: causes}
}

// FundNAV returns the NAV series for a fund, ascending by date with duplicate
// dates collapsed (later row wins).
func (s *Service) FundNAV(ctx context.Context, code string) ([]models.NavPoint, error) {
	code = models.NormalizeSymbol(code, models.AssetFund)
	points, err := failover(ctx, s, "fund_nav", CallFundNAV, code, func(c context.Context, p interfaces.MarketProvider) ([]models.NavPoint, error) {
		return p.FundNAV(c, code)
	})
	if err != nil {
		return nil, err
	}
	return normalizeNavSeries(points), nil
}

// normalizeNavSeries sorts ascending by date and collapses duplicate dates,
// keeping the last occurrence.
func normalizeNavSeries(points []models.NavPoint) []models.NavPoint {
	byDate := make(map[string]models.NavPoint, len(points))
	for _, p := range points {
		byDate[p.Date] = p
	}
	out := make([]models.NavPoint, 0, len(byDate))
	for _, p := range byDate {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// LatestNav returns the most recent NAV for a fund.
func (s *Service) LatestNav(ctx context.Context, code string) (float64, error) {
	points, err := s.FundNAV(ctx, code)
	if err != nil {
		return 0, err
	}
	if len(points) == 0 {
		return 0, fmt.Errorf("no NAV data for fund %s", code)
	}
	return points[len(points)-1].Nav, nil
}

// FundList returns up to limit fund listings.
func (s *Service) FundList(ctx context.Context, limit int) ([]models.FundInfo, error) {
	return failover(ctx, s, "fund_list", CallFundList, "", func(c context.Context, p interfaces.MarketProvider) ([]models.FundInfo, error) {
		return p.FundList(c, limit)
	})
}

// StockDaily returns daily bars for a stock.
func (s *Service) StockDaily(ctx context.Context, symbol, start, end string) ([]models.DailyBar, error) {
	symbol = models.NormalizeSymbol(symbol, models.AssetStock)
	return failover(ctx, s, "stock_daily", CallStockDaily, symbol, func(c context.Context, p interfaces.MarketProvider) ([]models.DailyBar, error) {
		return p.StockDaily(c, symbol, start, end)
	})
}

// IndexDaily returns daily bars for an index.
func (s *Service) IndexDaily(ctx context.Context, symbol, start, end string) ([]models.DailyBar, error) {
	symbol = models.NormalizeSymbol(symbol, models.AssetStock)
	return failover(ctx, s, "index_daily", CallIndexDaily, symbol, func(c context.Context, p interfaces.MarketProvider) ([]models.DailyBar, error) {
		return p.IndexDaily(c, symbol, start, end)
	})
}

// lookup runs a best-effort string lookup across providers in failover order
// without retries. Lookups degrade to "" rather than failing a caller that
// only wants a display label.
func (s *Service) lookup(ctx context.Context, op string, fn func(context.Context, interfaces.MarketProvider) (string, error)) string {
	for _, src := range s.order() {
		p := s.providers[src]
		if p == nil {
			continue
		}
		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		value, err := fn(attemptCtx, p)
		cancel()
		if err != nil {
			s.logger.Debug().Err(err).Str("source", string(src)).Str("op", op).Msg("Lookup failed, trying next")
			continue
		}
		if value != "" {
			return value
		}
	}
	return ""
}

// Name is a best-effort display-name lookup. Never fails.
func (s *Service) Name(ctx context.Context, symbol string, assetType models.AssetType) string {
	symbol = models.NormalizeSymbol(symbol, assetType)
	return s.lookup(ctx, "name", func(c context.Context, p interfaces.MarketProvider) (string, error) {
		if assetType == models.AssetStock {
			return p.StockName(c, symbol)
		}
		return p.FundName(c, symbol)
	})
}

// Sector is a best-effort sector/industry lookup. Never fails.
func (s *Service) Sector(ctx context.Context, symbol string, assetType models.AssetType) string {
	symbol = models.NormalizeSymbol(symbol, assetType)
	return s.lookup(ctx, "sector", func(c context.Context, p interfaces.MarketProvider) (string, error) {
		if assetType == models.AssetStock {
			return p.StockSector(c, symbol)
		}
		return p.FundSector(c, symbol)
	})
}

// Ensure Service implements MarketDataService
var _ interfaces.MarketDataService = (*Service)(nil)
