// Package common provides shared test infrastructure
package common

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bobmcallan/fundterm/internal/interfaces"
	"github.com/bobmcallan/fundterm/internal/models"
)

// MockProvider implements MarketProvider and TokenCarrier for testing.
// Setting Err makes every call fail with it; empty maps yield empty results.
type MockProvider struct {
	mu sync.Mutex

	source  models.Source
	NavData map[string][]models.NavPoint
	Funds   []models.FundInfo
	Bars    map[string][]models.DailyBar
	Names   map[string]string
	Sectors map[string]string
	Err     error
	Tokens  []string
	Calls   map[string]int
}

// NewMockProvider creates a mock provider for the given source.
func NewMockProvider(source models.Source) *MockProvider {
	return &MockProvider{
		source:  source,
		NavData: make(map[string][]models.NavPoint),
		Bars:    make(map[string][]models.DailyBar),
		Names:   make(map[string]string),
		Sectors: make(map[string]string),
		Calls:   make(map[string]int),
	}
}

func (m *MockProvider) record(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls[op]++
	return m.Err
}

// CallCount returns how many times op was invoked.
func (m *MockProvider) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[op]
}

func (m *MockProvider) Source() models.Source { return m.source }

func (m *MockProvider) FundNAV(ctx context.Context, code string) ([]models.NavPoint, error) {
	if err := m.record("fund_nav"); err != nil {
		return nil, err
	}
	return m.NavData[code], nil
}

func (m *MockProvider) FundList(ctx context.Context, limit int) ([]models.FundInfo, error) {
	if err := m.record("fund_list"); err != nil {
		return nil, err
	}
	if limit > 0 && limit < len(m.Funds) {
		return m.Funds[:limit], nil
	}
	return m.Funds, nil
}

func (m *MockProvider) StockDaily(ctx context.Context, symbol, start, end string) ([]models.DailyBar, error) {
	if err := m.record("stock_daily"); err != nil {
		return nil, err
	}
	return m.Bars[symbol], nil
}

func (m *MockProvider) IndexDaily(ctx context.Context, symbol, start, end string) ([]models.DailyBar, error) {
	if err := m.record("index_daily"); err != nil {
		return nil, err
	}
	return m.Bars[symbol], nil
}

func (m *MockProvider) FundName(ctx context.Context, code string) (string, error) {
	if err := m.record("fund_name"); err != nil {
		return "", err
	}
	return m.Names[code], nil
}

func (m *MockProvider) StockName(ctx context.Context, symbol string) (string, error) {
	if err := m.record("stock_name"); err != nil {
		return "", err
	}
	return m.Names[symbol], nil
}

func (m *MockProvider) FundSector(ctx context.Context, code string) (string, error) {
	if err := m.record("fund_sector"); err != nil {
		return "", err
	}
	return m.Sectors[code], nil
}

func (m *MockProvider) StockSector(ctx context.Context, symbol string) (string, error) {
	if err := m.record("stock_sector"); err != nil {
		return "", err
	}
	return m.Sectors[symbol], nil
}

func (m *MockProvider) SetTokens(tokens []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tokens = append([]string(nil), tokens...)
}

var (
	_ interfaces.MarketProvider = (*MockProvider)(nil)
	_ interfaces.TokenCarrier   = (*MockProvider)(nil)
)

// MemoryStorage implements StorageManager in memory. It honors the same
// version discipline as the SurrealDB stores, so concurrency behavior can be
// exercised without a database.
type MemoryStorage struct {
	mu sync.Mutex

	positions    map[string]*models.Position
	transactions map[string]*models.Transaction
	capital      *float64
	decisions    []*models.DecisionLog
	news         map[string]*models.NewsItem
	histories    map[string]*models.HoldingHistory
	prompts      []*models.RolePrompt
	kv           map[string]string

	// ConflictsBeforeSuccess makes the next N position writes fail with
	// ErrVersionConflict, exercising the retry path.
	ConflictsBeforeSuccess int

	// FailDecisionWithCapital makes SaveDecisionWithCapital fail atomically:
	// neither the decision nor the capital persists.
	FailDecisionWithCapital error
}

// NewMemoryStorage creates an empty in-memory storage manager.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		positions:    make(map[string]*models.Position),
		transactions: make(map[string]*models.Transaction),
		news:         make(map[string]*models.NewsItem),
		histories:    make(map[string]*models.HoldingHistory),
		kv:           make(map[string]string),
	}
}

func (m *MemoryStorage) LedgerStore() interfaces.LedgerStore   { return &memLedgerStore{m} }
func (m *MemoryStorage) AccountStore() interfaces.AccountStore { return &memAccountStore{m} }
func (m *MemoryStorage) NewsStore() interfaces.NewsStore       { return &memNewsStore{m} }
func (m *MemoryStorage) HistoryStore() interfaces.HistoryStore { return &memHistoryStore{m} }
func (m *MemoryStorage) PromptStore() interfaces.PromptStore   { return &memPromptStore{m} }
func (m *MemoryStorage) SystemKV() interfaces.SystemKVStore    { return &memSystemKV{m} }
func (m *MemoryStorage) Close() error                          { return nil }

// TransactionCount returns the number of stored transactions.
func (m *MemoryStorage) TransactionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transactions)
}

// DecisionCount returns the number of stored decision logs.
func (m *MemoryStorage) DecisionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.decisions)
}

var _ interfaces.StorageManager = (*MemoryStorage)(nil)

type memLedgerStore struct{ m *MemoryStorage }

func copyPosition(p *models.Position) *models.Position {
	cp := *p
	return &cp
}

func (s *memLedgerStore) GetPosition(ctx context.Context, symbol string, assetType models.AssetType) (*models.Position, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	pos, ok := s.m.positions[models.PositionKey(symbol, assetType)]
	if !ok {
		return nil, nil
	}
	return copyPosition(pos), nil
}

func (s *memLedgerStore) ListPositions(ctx context.Context) ([]*models.Position, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*models.Position
	for _, pos := range s.m.positions {
		out = append(out, copyPosition(pos))
	}
	return out, nil
}

func (s *memLedgerStore) UpdatePositionPrice(ctx context.Context, symbol string, assetType models.AssetType, name string, price float64) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	pos, ok := s.m.positions[models.PositionKey(symbol, assetType)]
	if !ok {
		return nil
	}
	pos.Name = name
	pos.CurrentPrice = &price
	pos.UpdatedAt = time.Now()
	return nil
}

// checkVersion enforces the optimistic-concurrency contract. Caller holds the lock.
func (s *memLedgerStore) checkVersion(key string, expectedVersion int) error {
	if s.m.ConflictsBeforeSuccess > 0 {
		s.m.ConflictsBeforeSuccess--
		return interfaces.ErrVersionConflict
	}
	cur, ok := s.m.positions[key]
	if expectedVersion == 0 {
		if ok {
			return interfaces.ErrVersionConflict
		}
		return nil
	}
	if !ok || cur.Version != expectedVersion {
		return interfaces.ErrVersionConflict
	}
	return nil
}

func (s *memLedgerStore) ApplyTransaction(ctx context.Context, tx *models.Transaction, pos *models.Position, expectedVersion int, deletePosition bool) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	key := models.PositionKey(pos.Symbol, pos.AssetType)
	if err := s.checkVersion(key, expectedVersion); err != nil {
		return err
	}

	txCopy := *tx
	s.m.transactions[tx.ID] = &txCopy
	if deletePosition {
		delete(s.m.positions, key)
	} else {
		s.m.positions[key] = copyPosition(pos)
	}
	return nil
}

func (s *memLedgerStore) ReverseTransaction(ctx context.Context, transactionID string, pos *models.Position, expectedVersion int, deletePosition bool) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	key := models.PositionKey(pos.Symbol, pos.AssetType)
	if err := s.checkVersion(key, expectedVersion); err != nil {
		return err
	}

	delete(s.m.transactions, transactionID)
	if deletePosition {
		delete(s.m.positions, key)
	} else {
		s.m.positions[key] = copyPosition(pos)
	}
	return nil
}

func (s *memLedgerStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	tx, ok := s.m.transactions[id]
	if !ok {
		return nil, nil
	}
	cp := *tx
	return &cp, nil
}

func (s *memLedgerStore) ListTransactions(ctx context.Context, symbol string, assetType models.AssetType) ([]*models.Transaction, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*models.Transaction
	for _, tx := range s.m.transactions {
		if tx.Symbol == symbol && tx.AssetType == assetType {
			cp := *tx
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memLedgerStore) ClearSymbol(ctx context.Context, symbol string, assetType models.AssetType) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	removed := 0
	for id, tx := range s.m.transactions {
		if tx.Symbol == symbol && tx.AssetType == assetType {
			delete(s.m.transactions, id)
			removed++
		}
	}
	delete(s.m.positions, models.PositionKey(symbol, assetType))
	return removed, nil
}

type memAccountStore struct{ m *MemoryStorage }

func (s *memAccountStore) GetCapital(ctx context.Context) (float64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.capital == nil {
		return models.DefaultCapital, nil
	}
	return *s.m.capital, nil
}

func (s *memAccountStore) SetCapital(ctx context.Context, value float64) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.capital = &value
	return nil
}

func (s *memAccountStore) SaveDecision(ctx context.Context, decision *models.DecisionLog) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cp := *decision
	s.m.decisions = append(s.m.decisions, &cp)
	return nil
}

func (s *memAccountStore) SaveDecisionWithCapital(ctx context.Context, decision *models.DecisionLog, capitalAfter float64) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.FailDecisionWithCapital != nil {
		return s.m.FailDecisionWithCapital
	}
	cp := *decision
	s.m.decisions = append(s.m.decisions, &cp)
	s.m.capital = &capitalAfter
	return nil
}

func (s *memAccountStore) ListDecisions(ctx context.Context, fundCode string, action models.UserAction, limit, skip int) ([]*models.DecisionLog, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}

	var filtered []*models.DecisionLog
	for i := len(s.m.decisions) - 1; i >= 0; i-- {
		d := s.m.decisions[i]
		if fundCode != "" && d.FundCode != fundCode {
			continue
		}
		if action != "" && d.UserAction != action {
			continue
		}
		cp := *d
		filtered = append(filtered, &cp)
	}
	if skip >= len(filtered) {
		return nil, nil
	}
	filtered = filtered[skip:]
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

func (s *memAccountStore) DeleteDecision(ctx context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for i, d := range s.m.decisions {
		if d.ID == id {
			s.m.decisions = append(s.m.decisions[:i], s.m.decisions[i+1:]...)
			return nil
		}
	}
	return nil
}

type memNewsStore struct{ m *MemoryStorage }

func (s *memNewsStore) Upsert(ctx context.Context, item *models.NewsItem) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cp := *item
	s.m.news[item.Link] = &cp
	return nil
}

func (s *memNewsStore) Recent(ctx context.Context, fundCode string, since time.Time, limit int) ([]*models.NewsItem, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []*models.NewsItem
	for _, item := range s.m.news {
		if item.PubDate.Before(since) {
			continue
		}
		if fundCode != "" && item.FundCode != fundCode {
			continue
		}
		cp := *item
		out = append(out, &cp)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memNewsStore) ByLinks(ctx context.Context, links []string, limit int) ([]*models.NewsItem, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*models.NewsItem
	for _, link := range links {
		if item, ok := s.m.news[link]; ok {
			cp := *item
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

type memHistoryStore struct{ m *MemoryStorage }

func (s *memHistoryStore) Put(ctx context.Context, history *models.HoldingHistory) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cp := *history
	s.m.histories[models.PositionKey(history.Symbol, history.AssetType)] = &cp
	return nil
}

func (s *memHistoryStore) Get(ctx context.Context, symbol string, assetType models.AssetType) (*models.HoldingHistory, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	history, ok := s.m.histories[models.PositionKey(symbol, assetType)]
	if !ok {
		return nil, nil
	}
	cp := *history
	return &cp, nil
}

type memPromptStore struct{ m *MemoryStorage }

func (s *memPromptStore) SaveRolePrompt(ctx context.Context, content string) (*models.RolePrompt, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	version := len(s.m.prompts) + 1
	rp := &models.RolePrompt{
		ID:        fmt.Sprintf("v%d", version),
		Content:   content,
		Version:   version,
		UpdatedAt: time.Now(),
	}
	s.m.prompts = append(s.m.prompts, rp)
	cp := *rp
	return &cp, nil
}

func (s *memPromptStore) GetRolePrompt(ctx context.Context, version int) (*models.RolePrompt, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if len(s.m.prompts) == 0 {
		return nil, nil
	}
	if version <= 0 {
		cp := *s.m.prompts[len(s.m.prompts)-1]
		return &cp, nil
	}
	for _, rp := range s.m.prompts {
		if rp.Version == version {
			cp := *rp
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memPromptStore) ListRolePrompts(ctx context.Context, limit int) ([]*models.RolePrompt, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	var out []*models.RolePrompt
	for i := len(s.m.prompts) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.m.prompts[i]
		cp.Content = ""
		out = append(out, &cp)
	}
	return out, nil
}

type memSystemKV struct{ m *MemoryStorage }

func (s *memSystemKV) Get(ctx context.Context, key string) (string, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.kv[key], nil
}

func (s *memSystemKV) Set(ctx context.Context, key, value string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.kv[key] = value
	return nil
}
