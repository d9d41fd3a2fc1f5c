package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"liqwatch/internal/alerting"
	"liqwatch/internal/config"
	"liqwatch/internal/events"
	"liqwatch/internal/health"
	"liqwatch/internal/ingest"
	"liqwatch/internal/position"
	"liqwatch/internal/pricing"
	"liqwatch/internal/service"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newStore() (*position.Store, error) {
	supplied, borrowed, err := a.Config.InitialAmounts()
	if err != nil {
		return nil, err
	}
	return position.NewStore(position.Options{
		Account:         common.HexToAddress(a.Config.Position.Account),
		SupplyToken:     common.HexToAddress(a.Config.Position.SupplyToken.Address),
		BorrowToken:     common.HexToAddress(a.Config.Position.BorrowToken.Address),
		InitialSupplied: supplied,
		InitialBorrowed: borrowed,
	}, a.Logger)
}

func (a *App) newPriceCache() *pricing.Cache {
	client := pricing.NewClient(pricing.ClientOptions{
		BaseURL:   a.Config.Pricing.BaseURL,
		APIKey:    a.Config.Pricing.APIKey,
		Timeout:   a.Config.Pricing.RequestTimeout,
		UserAgent: a.Config.Pricing.UserAgent,
	}, a.Logger)

	return pricing.NewCache(client, pricing.CacheOptions{
		SupplyToken:     common.HexToAddress(a.Config.Position.SupplyToken.Address),
		BorrowToken:     common.HexToAddress(a.Config.Position.BorrowToken.Address),
		RefreshInterval: a.Config.Pricing.RefreshInterval,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, a.Config.Alerting.SendTimeout, a.Logger)
	}
	return nil
}

func (a *App) newDispatcher(notifier alerting.Notifier) *alerting.Dispatcher {
	return alerting.New(alerting.Options{
		Threshold:      decimal.NewFromFloat(a.Config.Health.Threshold),
		Account:        common.HexToAddress(a.Config.Position.Account),
		SupplyToken:    common.HexToAddress(a.Config.Position.SupplyToken.Address),
		SupplyDecimals: a.Config.Position.SupplyToken.Decimals,
		BorrowToken:    common.HexToAddress(a.Config.Position.BorrowToken.Address),
		BorrowDecimals: a.Config.Position.BorrowToken.Decimals,
	}, notifier, a.Logger)
}

func (a *App) checkRunnable() error {
	if a.Config.Ethereum.WSURL == "" {
		return fmt.Errorf("ethereum.ws_url is required (set LIQWATCH_ETHEREUM_WS_URL or the config file)")
	}
	if a.Config.Pricing.APIKey == "" {
		return fmt.Errorf("pricing.api_key is required (set LIQWATCH_PRICING_API_KEY or the config file)")
	}
	if a.Config.Position.Account == "" {
		return fmt.Errorf("position.account is required")
	}
	return nil
}

func (a *App) logBanner() {
	cfg := a.Config
	a.Logger.Info().
		Str("account", cfg.Position.Account).
		Str("pool", cfg.Ethereum.PoolAddress).
		Str("supply_token", cfg.Position.SupplyToken.Address).
		Str("borrow_token", cfg.Position.BorrowToken.Address).
		Str("initial_supplied", cfg.Position.InitialSupplied).
		Str("initial_borrowed", cfg.Position.InitialBorrowed).
		Float64("threshold", cfg.Health.Threshold).
		Dur("health_interval", cfg.Health.Interval).
		Dur("price_refresh", cfg.Pricing.RefreshInterval).
		Bool("telegram", cfg.Alerting.Telegram.Enabled).
		Msg("watching position")
}

func (a *App) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: a.Config.Metrics.ListenAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		a.Logger.Info().Str("addr", srv.Addr).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.checkRunnable(); err != nil {
		return err
	}

	store, err := a.newStore()
	if err != nil {
		return err
	}
	cache := a.newPriceCache()
	evaluator := health.New(store, cache, health.Options{
		SupplyDecimals: a.Config.Position.SupplyToken.Decimals,
		BorrowDecimals: a.Config.Position.BorrowToken.Decimals,
	}, a.Logger)

	notifier := a.newNotifier()
	var async *alerting.AsyncNotifier
	if notifier == nil {
		a.Logger.Warn().Msg("no notification channel configured; alerts will only be logged")
	} else {
		// sends run in the background so a slow sink never delays the
		// health cadence; Wait drains them on shutdown
		async = alerting.NewAsyncNotifier(notifier, a.Config.Alerting.SendTimeout, a.Config.Alerting.ShutdownGrace, a.Logger)
		notifier = async
	}
	dispatcher := a.newDispatcher(notifier)

	stream := ingest.NewEthStream(a.Config.Ethereum.WSURL, common.HexToAddress(a.Config.Ethereum.PoolAddress), a.Logger)
	eventCh := make(chan events.Event, 64)
	supervisor := ingest.New(stream, eventCh, ingest.Options{
		InitialBackoff: a.Config.Ingest.InitialBackoff,
		MaxBackoff:     a.Config.Ingest.MaxBackoff,
	}, a.Logger)

	svc := service.New(supervisor, eventCh, store, cache, evaluator, dispatcher, service.Options{
		PriceInterval:  a.Config.Pricing.RefreshInterval,
		HealthInterval: a.Config.Health.Interval,
	}, a.Logger)

	if a.Config.Metrics.Enabled {
		a.serveMetrics(ctx)
	}

	a.logBanner()
	err = svc.Run(ctx)
	if async != nil {
		async.Wait()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}
