package marketdata

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bobmcallan/fundterm/internal/common"
	"github.com/bobmcallan/fundterm/internal/models"
	testcommon "github.com/bobmcallan/fundterm/test/common"
)

// --- Test helpers ---

func testProviders() (*testcommon.MockProvider, *testcommon.MockProvider) {
	return testcommon.NewMockProvider(models.SourceEastmoney), testcommon.NewMockProvider(models.SourceTushare)
}

func testService(em, ts *testcommon.MockProvider, opts ...ServiceOption) *Service {
	opts = append([]ServiceOption{WithRetries(1)}, opts...)
	return NewService(models.SourceEastmoney, em, ts, common.NewSilentLogger(), opts...)
}

var navFixture = []models.NavPoint{
	{Date: "2025-01-13", Nav: 1.20},
	{Date: "2025-01-14", Nav: 1.25},
}

// --- Tests ---

func TestPrimaryAnswersFirst(t *testing.T) {
	em, ts := testProviders()
	em.NavData["000001"] = navFixture
	ts.NavData["000001"] = []models.NavPoint{{Date: "2025-01-14", Nav: 9.99}}
	svc := testService(em, ts)

	points, err := svc.FundNAV(context.Background(), "000001")
	if err != nil {
		t.Fatalf("FundNAV failed: %v", err)
	}
	if len(points) != 2 || points[1].Nav != 1.25 {
		t.Errorf("points = %+v, want the primary's series", points)
	}
	if ts.CallCount("fund_nav") != 0 {
		t.Error("secondary should not be consulted when the primary answers")
	}
	if got := svc.EffectiveSources()[CallFundNAV]; got != models.SourceEastmoney {
		t.Errorf("effective source = %s, want eastmoney", got)
	}
}

func TestFailoverToSecondary(t *testing.T) {
	em, ts := testProviders()
	em.Err = fmt.Errorf("upstream down")
	ts.NavData["000001"] = navFixture
	svc := testService(em, ts)

	points, err := svc.FundNAV(context.Background(), "000001")
	if err != nil {
		t.Fatalf("FundNAV failed: %v", err)
	}
	if len(points) != 2 {
		t.Errorf("points = %+v, want the secondary's series", points)
	}
	if em.CallCount("fund_nav") == 0 {
		t.Error("primary should have been tried first")
	}
	if got := svc.EffectiveSources()[CallFundNAV]; got != models.SourceTushare {
		t.Errorf("effective source = %s, want tushare after failover", got)
	}
}

func TestEmptyPrimaryTriggersFallback(t *testing.T) {
	em, ts := testProviders()
	// Primary succeeds but has nothing for this code.
	ts.NavData["000001"] = navFixture
	svc := testService(em, ts)

	points, err := svc.FundNAV(context.Background(), "000001")
	if err != nil {
		t.Fatalf("FundNAV failed: %v", err)
	}
	if len(points) != 2 {
		t.Errorf("points = %+v, want the secondary's series", points)
	}
}

func TestAllProvidersError(t *testing.T) {
	em, ts := testProviders()
	em.Err = fmt.Errorf("primary down")
	ts.Err = fmt.Errorf("secondary down")
	svc := testService(em, ts)

	_, err := svc.FundNAV(context.Background(), "000001")
	var unavailable *DataUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected DataUnavailableError, got %v", err)
	}
	if len(unavailable.Tried) != 2 || len(unavailable.Causes) != 2 {
		t.Errorf("error should carry both providers' causes, got %+v", unavailable)
	}
	if unavailable.Symbol != "000001" || unavailable.Op != "fund_nav" {
		t.Errorf("error context = %s/%s, want fund_nav/000001", unavailable.Op, unavailable.Symbol)
	}
}

func TestAllProvidersEmpty(t *testing.T) {
	em, ts := testProviders()
	svc := testService(em, ts)

	points, err := svc.FundNAV(context.Background(), "000001")
	if err != nil {
		t.Fatalf("empty everywhere should not be an error, got %v", err)
	}
	if len(points) != 0 {
		t.Errorf("points = %+v, want empty", points)
	}
	if _, recorded := svc.EffectiveSources()[CallFundNAV]; recorded {
		t.Error("an empty answer should not record an effective source")
	}
}

func TestSetPrimaryFlipsOrder(t *testing.T) {
	em, ts := testProviders()
	em.NavData["000001"] = navFixture
	ts.NavData["000001"] = navFixture
	svc := testService(em, ts)

	svc.SetPrimary(models.SourceTushare)
	if svc.Primary() != models.SourceTushare {
		t.Fatalf("primary = %s, want tushare", svc.Primary())
	}

	if _, err := svc.FundNAV(context.Background(), "000001"); err != nil {
		t.Fatalf("FundNAV failed: %v", err)
	}
	if ts.CallCount("fund_nav") != 1 {
		t.Error("new primary should answer the call")
	}
	if em.CallCount("fund_nav") != 0 {
		t.Error("old primary should not be consulted")
	}

	// Invalid sources are ignored.
	svc.SetPrimary("bloomberg")
	if svc.Primary() != models.SourceTushare {
		t.Errorf("invalid source changed the primary to %s", svc.Primary())
	}
}

func TestSetTokensReachesProvider(t *testing.T) {
	em, ts := testProviders()
	svc := testService(em, ts)

	svc.SetTokens(models.SourceTushare, []string{"tok-a", "tok-b"})
	if len(ts.Tokens) != 2 || ts.Tokens[0] != "tok-a" {
		t.Errorf("tokens = %v, want the new pair", ts.Tokens)
	}
	if len(em.Tokens) != 0 {
		t.Error("tokens should only reach the named provider")
	}
}

func TestRetriesBeforeFallback(t *testing.T) {
	em, ts := testProviders()
	em.Err = fmt.Errorf("flaky")
	ts.NavData["000001"] = navFixture
	svc := testService(em, ts, WithRetries(2))

	if _, err := svc.FundNAV(context.Background(), "000001"); err != nil {
		t.Fatalf("FundNAV failed: %v", err)
	}
	if got := em.CallCount("fund_nav"); got != 2 {
		t.Errorf("primary attempts = %d, want 2 before the fallback", got)
	}
}

func TestLatestNav(t *testing.T) {
	em, ts := testProviders()
	em.NavData["000001"] = navFixture
	svc := testService(em, ts)

	nav, err := svc.LatestNav(context.Background(), "000001")
	if err != nil {
		t.Fatalf("LatestNav failed: %v", err)
	}
	if nav != 1.25 {
		t.Errorf("nav = %v, want the most recent 1.25", nav)
	}

	if _, err := svc.LatestNav(context.Background(), "999999"); err == nil {
		t.Error("LatestNav with no data should fail")
	}
}

func TestNormalizeNavSeries(t *testing.T) {
	points := normalizeNavSeries([]models.NavPoint{
		{Date: "2025-01-14", Nav: 1.25},
		{Date: "2025-01-13", Nav: 1.20},
		{Date: "2025-01-14", Nav: 1.26}, // later row wins
	})
	if len(points) != 2 {
		t.Fatalf("len = %d, want duplicate dates collapsed to 2", len(points))
	}
	if points[0].Date != "2025-01-13" || points[1].Date != "2025-01-14" {
		t.Errorf("dates = %s, %s, want ascending order", points[0].Date, points[1].Date)
	}
	if points[1].Nav != 1.26 {
		t.Errorf("nav = %v, want the last occurrence 1.26", points[1].Nav)
	}
}

func TestNameLookupDegrades(t *testing.T) {
	em, ts := testProviders()
	em.Err = fmt.Errorf("down")
	ts.Names["000001"] = "Test Fund"
	svc := testService(em, ts)
	ctx := context.Background()

	if got := svc.Name(ctx, "000001", models.AssetFund); got != "Test Fund" {
		t.Errorf("name = %q, want the secondary's answer", got)
	}
	// Unknown everywhere degrades to empty, never an error.
	if got := svc.Name(ctx, "999999", models.AssetFund); got != "" {
		t.Errorf("unknown name = %q, want empty", got)
	}
}

func TestNilProviderSkipped(t *testing.T) {
	em := testcommon.NewMockProvider(models.SourceEastmoney)
	em.NavData["000001"] = navFixture
	svc := NewService(models.SourceTushare, em, nil, common.NewSilentLogger(), WithRetries(1))

	// Primary slot is empty; the call should still land on eastmoney.
	points, err := svc.FundNAV(context.Background(), "000001")
	if err != nil {
		t.Fatalf("FundNAV failed: %v", err)
	}
	if len(points) != 2 {
		t.Errorf("points = %+v, want eastmoney's series", points)
	}
}

func TestStockDailyFailover(t *testing.T) {
	em, ts := testProviders()
	em.Err = fmt.Errorf("down")
	ts.Bars["600000"] = []models.DailyBar{{Date: "2025-01-14", Close: 15}}
	svc := testService(em, ts)

	bars, err := svc.StockDaily(context.Background(), "600000", "", "")
	if err != nil {
		t.Fatalf("StockDaily failed: %v", err)
	}
	if len(bars) != 1 || bars[0].Close != 15 {
		t.Errorf("bars = %+v, want the secondary's bar", bars)
	}
	if got := svc.EffectiveSources()[CallStockDaily]; got != models.SourceTushare {
		t.Errorf("effective source = %s, want tushare", got)
	}
}
