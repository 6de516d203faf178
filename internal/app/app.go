package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pricewatch/internal/alerting"
	"pricewatch/internal/api"
	"pricewatch/internal/config"
	"pricewatch/internal/fetcher"
	"pricewatch/internal/scheduler"
	"pricewatch/internal/service"
	"pricewatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives human-readable command output.
	Out io.Writer

	backend *backend
}

type backend struct {
	prices storage.PriceStore
	subs   storage.SubscriptionStore
	close  func()
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// Close releases the storage backend if one was opened.
func (a *App) Close() {
	if a.backend != nil && a.backend.close != nil {
		a.backend.close()
	}
	a.backend = nil
}

func (a *App) openBackend(ctx context.Context) (*backend, error) {
	if a.backend != nil {
		return a.backend, nil
	}

	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory store, nothing survives restart")
		mem := storage.NewMemoryStore()
		a.backend = &backend{prices: mem, subs: mem}
		return a.backend, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	store := storage.NewStore(pool)
	a.backend = &backend{prices: store, subs: store, close: store.Close}
	return a.backend, nil
}

func (a *App) newFetcher() fetcher.PriceFetcher {
	cfg := a.Config.Fetcher
	opts := fetcher.Options{
		BaseURL:        cfg.BaseURL,
		PriceXPath:     cfg.PriceXPath,
		UserAgent:      cfg.UserAgent,
		AcceptLanguage: cfg.AcceptLanguage,
		MinDelay:       cfg.MinDelay,
		MaxDelay:       cfg.MaxDelay,
		ScrollPause:    cfg.ScrollPause,
		Timeout:        cfg.Timeout,
		Headless:       cfg.Headless,
		ExecPath:       cfg.ExecPath,
	}
	if cfg.Driver == config.FetcherDriverHTTP {
		return fetcher.NewHTTP(opts, a.Logger)
	}
	return fetcher.NewBrowser(opts, a.Logger)
}

func (a *App) newNotifier() (alerting.Notifier, error) {
	mailCfg := a.Config.Mail

	var mailer alerting.Mailer
	switch {
	case !mailCfg.Enabled:
		mailer = alerting.NewLogMailer(a.Logger)
	case mailCfg.Driver == config.MailDriverMailgun:
		mg, err := alerting.NewMailgunMailer(mailCfg)
		if err != nil {
			return nil, err
		}
		mailer = mg
	default:
		smtp, err := alerting.NewSMTPMailer(mailCfg)
		if err != nil {
			return nil, err
		}
		mailer = smtp
	}
	return alerting.NewEmailNotifier(alerting.NewRenderer(), mailer, mailCfg.Subject, a.Logger), nil
}

func (a *App) newScraper(b *backend) *service.Scraper {
	loop := a.Config.Scheduler.Scrape
	return service.NewScraper(a.newFetcher(), b.prices, b.subs, service.LoopOptions{
		LockKey: loop.AdvisoryLockKey,
		MaxRPS:  loop.MaxRPS,
	}, a.Logger)
}

func (a *App) newEvaluator(b *backend) (*service.Evaluator, error) {
	notifier, err := a.newNotifier()
	if err != nil {
		return nil, err
	}
	loop := a.Config.Scheduler.Notify
	return service.NewEvaluator(b.prices, b.subs, notifier, service.LoopOptions{
		LockKey: loop.AdvisoryLockKey,
		MaxRPS:  loop.MaxRPS,
	}, a.Logger), nil
}

func (a *App) newSubscriptions(ctx context.Context, b *backend) *service.Subscriptions {
	return service.NewSubscriptions(ctx, a.newFetcher(), b.prices, b.subs, service.SubscriptionsOptions{
		DefaultIntervalHours: a.Config.Subscriptions.DefaultIntervalHours,
		Timeout:              a.Config.Subscriptions.Timeout,
	}, a.Logger)
}

func newScheduler(name string, loop config.LoopConfig, logger zerolog.Logger) *scheduler.Scheduler {
	return scheduler.New(scheduler.Options{
		Name:         name,
		Interval:     loop.Interval,
		AlignToStart: loop.AlignToBucket,
		StartupDelay: loop.StartupDelay,
		RunOnStart:   loop.RunOnStart,
	}, logger)
}

// Run executes both background loops, plus the admin API when enabled, until SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	evaluator, err := a.newEvaluator(b)
	if err != nil {
		return err
	}
	svc := service.New(
		a.newScraper(b),
		evaluator,
		newScheduler("scrape", a.Config.Scheduler.Scrape, a.Logger),
		newScheduler("notify", a.Config.Scheduler.Notify, a.Logger),
		a.Logger,
	)
	subs := a.newSubscriptions(ctx, b)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(gctx)
	})
	if a.Config.HTTP.Enabled {
		srv := &http.Server{
			Addr:              a.Config.HTTP.Addr,
			Handler:           api.NewRouter(b.prices, subs, a.Logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		a.Logger.Info().Str("addr", srv.Addr).Msg("admin api listening")
		g.Go(func() error {
			return api.Serve(gctx, srv)
		})
	}

	a.Logger.Info().Msg("starting price tracking service")
	err = g.Wait()

	subs.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("price tracking service stopped")
	return nil
}

// Cycle runs one cycle of the named loop immediately.
func (a *App) Cycle(ctx context.Context, loop string) error {
	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	switch loop {
	case "scrape":
		report, err := a.newScraper(b).RunCycle(ctx, now)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "cycle %s: %d products, %d scraped, %d failed, %d stale\n",
			report.CycleID, report.Products, report.Scraped, report.Failed, report.Stale)
	case "notify":
		evaluator, err := a.newEvaluator(b)
		if err != nil {
			return err
		}
		report, err := evaluator.RunCycle(ctx, now)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "cycle %s: %d subscriptions, %d notified, %d throttled, %d waiting, %d failed\n",
			report.CycleID, report.Subscriptions, report.Notified, report.Throttled, report.Waiting, report.Failed)
	default:
		return fmt.Errorf("unknown loop %q (want scrape or notify)", loop)
	}
	return nil
}

// ExportOptions hold parameters for exporting a product's price history.
type ExportOptions struct {
	ProductID int64
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// HistoryOptions configure the history command.
type HistoryOptions struct {
	ProductID int64
	Limit     int
}

// SubscribeOptions mirror service.SubscriptionRequest for the CLI.
type SubscribeOptions struct {
	Request service.SubscriptionRequest
}
