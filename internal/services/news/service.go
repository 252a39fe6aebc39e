// Package news aggregates RSS feeds into stored, deduplicated items
package news

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/bobmcallan/fundterm/internal/common"
	"github.com/bobmcallan/fundterm/internal/interfaces"
	"github.com/bobmcallan/fundterm/internal/models"
)

// Service implements NewsService over a set of RSS feed URL templates.
// A "{code}" placeholder in a feed URL is replaced with the fund code, so
// per-fund search feeds and general market feeds can share one list.
type Service struct {
	storage  interfaces.StorageManager
	parser   *gofeed.Parser
	feedURLs []string
	logger   *common.Logger
	now      func() time.Time
}

// ServiceOption configures the service
type ServiceOption func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// WithParser overrides the feed parser, used to inject a client with custom
// timeouts.
func WithParser(parser *gofeed.Parser) ServiceOption {
	return func(s *Service) {
		s.parser = parser
	}
}

// NewService creates a news service reading from the given feed URLs.
func NewService(storage interfaces.StorageManager, feedURLs []string, logger *common.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		storage:  storage,
		parser:   gofeed.NewParser(),
		feedURLs: feedURLs,
		logger:   logger,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// inferSource labels an item by its feed host.
func inferSource(feedURL string) string {
	switch {
	case strings.Contains(feedURL, "eastmoney"):
		return "eastmoney"
	case strings.Contains(feedURL, "sina"):
		return "sina"
	default:
		return "rss"
	}
}

// FetchAndStore pulls every configured feed, keeps items newer than the
// cutoff, and upserts them by link. fundCode substitutes into "{code}"
// placeholders and tags the stored items; it may be empty for market-wide
// fetches. Feed failures are logged and skipped, not fatal, unless every
// feed failed.
func (s *Service) FetchAndStore(ctx context.Context, fundCode string, days int) ([]*models.NewsItem, error) {
	if days <= 0 {
		days = 3
	}
	cutoff := s.now().AddDate(0, 0, -days)

	var (
		fetched   []*models.NewsItem
		feedErrs  int
		feedCount int
	)

	for _, tmpl := range s.feedURLs {
		if strings.Contains(tmpl, "{code}") && fundCode == "" {
			continue
		}
		feedURL := strings.ReplaceAll(tmpl, "{code}", fundCode)
		feedCount++

		feed, err := s.parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			feedErrs++
			s.logger.Warn().Err(err).Str("feed", feedURL).Msg("Feed fetch failed")
			continue
		}

		source := inferSource(feedURL)
		for _, entry := range feed.Items {
			item := s.toItem(entry, source, fundCode)
			if item == nil || item.PubDate.Before(cutoff) {
				continue
			}
			if err := s.storage.NewsStore().Upsert(ctx, item); err != nil {
				s.logger.Warn().Err(err).Str("link", item.Link).Msg("News upsert failed")
				continue
			}
			fetched = append(fetched, item)
		}
	}

	if feedCount > 0 && feedErrs == feedCount {
		return nil, fmt.Errorf("all %d feeds failed", feedCount)
	}

	s.logger.Info().Str("fund", fundCode).Int("items", len(fetched)).Msg("News fetch completed")
	return fetched, nil
}

func (s *Service) toItem(entry *gofeed.Item, source, fundCode string) *models.NewsItem {
	if entry == nil || entry.Link == "" || entry.Title == "" {
		return nil
	}

	pubDate := s.now()
	if entry.PublishedParsed != nil {
		pubDate = *entry.PublishedParsed
	} else if entry.UpdatedParsed != nil {
		pubDate = *entry.UpdatedParsed
	}

	summary := entry.Description
	if summary == "" {
		summary = entry.Content
	}

	return &models.NewsItem{
		Title:     strings.TrimSpace(entry.Title),
		Link:      entry.Link,
		Source:    source,
		Summary:   strings.TrimSpace(summary),
		FundCode:  fundCode,
		PubDate:   pubDate,
		CreatedAt: s.now(),
	}
}

// Recent returns stored items within the window, newest first.
func (s *Service) Recent(ctx context.Context, fundCode string, since time.Time, limit int) ([]*models.NewsItem, error) {
	return s.storage.NewsStore().Recent(ctx, fundCode, since, limit)
}

// ByLinks returns stored items matching the given links, newest first.
func (s *Service) ByLinks(ctx context.Context, links []string, limit int) ([]*models.NewsItem, error) {
	return s.storage.NewsStore().ByLinks(ctx, links, limit)
}

// Ensure Service implements NewsService
var _ interfaces.NewsService = (*Service)(nil)
