package surrealdb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/fundterm/internal/common"
	"github.com/bobmcallan/fundterm/internal/interfaces"
	"github.com/bobmcallan/fundterm/internal/models"
)

// NewsStore implements interfaces.NewsStore using SurrealDB. Items are keyed
// by a hash of their link, so refetching a feed is idempotent.
type NewsStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewNewsStore creates a new NewsStore.
func NewNewsStore(db *surrealdb.DB, logger *common.Logger) *NewsStore {
	return &NewsStore{db: db, logger: logger}
}

func newsID(link string) string {
	sum := sha256.Sum256([]byte(link))
	return hex.EncodeToString(sum[:16])
}

func (s *NewsStore) Upsert(ctx context.Context, item *models.NewsItem) error {
	sql := "UPSERT $rid CONTENT $item"
	vars := map[string]any{
		"rid":  surrealmodels.NewRecordID("news_item", newsID(item.Link)),
		"item": item,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to upsert news item: %w", err)
	}
	return nil
}

func (s *NewsStore) Recent(ctx context.Context, fundCode string, since time.Time, limit int) ([]*models.NewsItem, error) {
	if limit <= 0 {
		limit = 50
	}

	sql := "SELECT title, link, source, summary, fund_code, pub_date, created_at FROM news_item WHERE pub_date >= $since"
	vars := map[string]any{"since": since, "limit": limit}
	if fundCode != "" {
		sql += " AND fund_code = $fund_code"
		vars["fund_code"] = fundCode
	}
	sql += " ORDER BY pub_date DESC LIMIT $limit"

	return s.queryItems(ctx, sql, vars)
}

func (s *NewsStore) ByLinks(ctx context.Context, links []string, limit int) ([]*models.NewsItem, error) {
	if len(links) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = len(links)
	}

	sql := "SELECT title, link, source, summary, fund_code, pub_date, created_at FROM news_item WHERE link IN $links ORDER BY pub_date DESC LIMIT $limit"
	vars := map[string]any{"links": links, "limit": limit}

	return s.queryItems(ctx, sql, vars)
}

func (s *NewsStore) queryItems(ctx context.Context, sql string, vars map[string]any) ([]*models.NewsItem, error) {
	results, err := surrealdb.Query[[]models.NewsItem](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to query news items: %w", err)
	}

	var items []*models.NewsItem
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			items = append(items, &(*results)[0].Result[i])
		}
	}
	return items, nil
}

// Compile-time check
var _ interfaces.NewsStore = (*NewsStore)(nil)
