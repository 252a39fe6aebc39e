// Package app wires configuration, storage, clients and services together
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/fundterm/internal/clients/eastmoney"
	"github.com/bobmcallan/fundterm/internal/clients/gemini"
	"github.com/bobmcallan/fundterm/internal/clients/tushare"
	"github.com/bobmcallan/fundterm/internal/common"
	"github.com/bobmcallan/fundterm/internal/interfaces"
	"github.com/bobmcallan/fundterm/internal/services/ledger"
	"github.com/bobmcallan/fundterm/internal/services/marketdata"
	"github.com/bobmcallan/fundterm/internal/services/news"
	"github.com/bobmcallan/fundterm/internal/storage/surrealdb"
)

// App holds all initialized services and clients. It is the shared core used
// by cmd/fundterm-server.
type App struct {
	Config            *common.Config
	Logger            *common.Logger
	Storage           interfaces.StorageManager
	AdviceClient      interfaces.AdviceClient
	MarketDataService interfaces.MarketDataService
	LedgerService     interfaces.LedgerService
	NewsService       interfaces.NewsService
	StartupTime       time.Time

	schedulerCancel context.CancelFunc
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes configuration, storage, clients and services.
// configPath may be empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	binDir := getBinaryDir()

	// Config resolution: provided path, FUNDTERM_CONFIG, binary dir, dev fallback
	if configPath == "" {
		configPath = os.Getenv("FUNDTERM_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "fundterm.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/fundterm.toml"
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	storageManager, err := surrealdb.NewManager(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Runtime-set values in system KV take precedence over the config file
	ctx := context.Background()
	tushareTokens := common.ResolveTushareTokens(ctx, storageManager.SystemKV(), config.Providers.Tushare.Tokens)
	primary := common.ResolvePrimaryProvider(ctx, storageManager.SystemKV(), config.Providers.PrimarySource())

	eastmoneyClient := eastmoney.NewClient(
		eastmoney.WithBaseURLs(
			config.Providers.Eastmoney.FundBaseURL,
			config.Providers.Eastmoney.QuoteBaseURL,
			config.Providers.Eastmoney.SnapshotBaseURL,
			config.Providers.Eastmoney.SearchBaseURL,
		),
		eastmoney.WithLogger(logger),
		eastmoney.WithCallSpacing(config.Providers.GetCallSpacing()),
		eastmoney.WithTimeout(config.Providers.GetTimeout()),
	)

	tushareClient := tushare.NewClient(tushareTokens,
		tushare.WithBaseURL(config.Providers.Tushare.BaseURL),
		tushare.WithLogger(logger),
		tushare.WithCallSpacing(config.Providers.GetCallSpacing()),
		tushare.WithTimeout(config.Providers.GetTimeout()),
	)
	if len(tushareTokens) == 0 {
		logger.Warn().Msg("No Tushare tokens configured - fallback provider will reject calls")
	}

	var adviceClient interfaces.AdviceClient
	if config.Gemini.APIKey != "" {
		geminiClient, err := gemini.NewClient(ctx, config.Gemini.APIKey,
			gemini.WithLogger(logger),
			gemini.WithModel(config.Gemini.Model),
		)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize Gemini client - advice endpoint will be unavailable")
		} else {
			adviceClient = geminiClient
		}
	} else {
		logger.Warn().Msg("Gemini API key not configured - advice endpoint will be unavailable")
	}

	marketDataService := marketdata.NewService(primary, eastmoneyClient, tushareClient, logger,
		marketdata.WithRetries(config.Providers.GetRetries()),
		marketdata.WithAttemptTimeout(config.Providers.GetTimeout()),
	)
	ledgerService := ledger.NewService(storageManager, marketDataService, logger,
		ledger.WithSyncWorkers(config.Sync.GetWorkers()),
	)
	newsService := news.NewService(storageManager, config.News.FeedURLs, logger)

	a := &App{
		Config:            config,
		Logger:            logger,
		Storage:           storageManager,
		AdviceClient:      adviceClient,
		MarketDataService: marketDataService,
		LedgerService:     ledgerService,
		NewsService:       newsService,
		StartupTime:       startupStart,
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")

	return a, nil
}

// Close releases all resources held by the App.
func (a *App) Close() {
	if a.schedulerCancel != nil {
		a.schedulerCancel()
		a.schedulerCancel = nil
	}
	if a.Storage != nil {
		a.Storage.Close()
		a.Storage = nil
	}
}

// StartSyncScheduler launches the periodic holdings sync goroutine. A zero
// interval disables it.
func (a *App) StartSyncScheduler() {
	interval := a.Config.Sync.GetInterval()
	if interval == 0 {
		a.Logger.Info().Msg("Sync scheduler disabled")
		return
	}

	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	a.schedulerCancel = schedulerCancel
	go startSyncScheduler(schedulerCtx, a.LedgerService, a.Logger, interval)
}
