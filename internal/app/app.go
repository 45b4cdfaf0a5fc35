package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"relay-weather/internal/config"
	"relay-weather/internal/metrics"
	"relay-weather/internal/notify"
	"relay-weather/internal/onionoo"
	"relay-weather/internal/scheduler"
	"relay-weather/internal/service"
	"relay-weather/internal/storage"
	"relay-weather/internal/tracker"
	"relay-weather/internal/version"
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

// RunOptions configure a single evaluation pass.
type RunOptions struct {
	// DryRun evaluates against an empty in-memory store and only logs notifications.
	DryRun bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit    int
	DownOnly bool
}

// ExportOptions configure the export command.
type ExportOptions struct {
	CSVPath     string
	PNGPath     string
	Fingerprint string
}

func (a *App) newFetcher() *onionoo.Client {
	ua := a.Config.Directory.UserAgent
	if ua == "" {
		ua = version.UserAgent()
	}
	return onionoo.NewClient(onionoo.Options{
		BaseURL:       a.Config.Directory.BaseURL,
		Timeout:       a.Config.Directory.RequestTimeout,
		UserAgent:     ua,
		HistoryGraphs: a.Config.Directory.HistoryGraphs,
	}, a.Logger)
}

func (a *App) newDispatcher() (notify.Dispatcher, error) {
	mail := a.Config.Mail
	switch mail.Transport {
	case config.TransportSMTP:
		return notify.NewSMTPDispatcher(notify.SMTPOptions{
			Host:      mail.SMTP.Host,
			Port:      mail.SMTP.Port,
			Username:  mail.SMTP.Username,
			Password:  mail.SMTP.Password,
			From:      mail.From,
			TLSPolicy: mail.SMTP.TLSPolicy,
			Timeout:   mail.SMTP.Timeout,
		}, a.Logger), nil
	case config.TransportWebhook:
		return notify.NewWebhookDispatcher(mail.Webhook.URL, mail.Webhook.Timeout, a.Logger), nil
	case config.TransportLog:
		return notify.NewLogDispatcher(a.Logger), nil
	default:
		return nil, fmt.Errorf("unsupported mail transport %q", mail.Transport)
	}
}

func (a *App) newSummaryNotifier() notify.SummaryNotifier {
	if !a.Config.Alerting.Telegram.Enabled {
		return nil
	}
	cfg := a.Config.Alerting.Telegram
	return notify.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	return store, store.Close, nil
}

func (a *App) requireStore(ctx context.Context, purpose string) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, fmt.Errorf("database.dsn not configured; cannot %s", purpose)
	}
	return store, closeStore, nil
}

func (a *App) newService(store tracker.Store, dispatcher notify.Dispatcher, recorder *metrics.Recorder) *service.Service {
	opts := []service.Option{service.WithRecorder(recorder)}
	if locker, ok := store.(storage.AdvisoryLocker); ok {
		opts = append(opts, service.WithLocker(locker))
	}
	if summary := a.newSummaryNotifier(); summary != nil {
		opts = append(opts, service.WithSummaryNotifier(summary))
	}
	tr := tracker.New(store, a.Logger)
	return service.New(a.Config, a.newFetcher(), tr, dispatcher, a.Logger, opts...)
}

// RunOnce executes a single evaluation pass; the exit status reflects its outcome.
func (a *App) RunOnce(ctx context.Context, opts RunOptions) (service.Report, error) {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		store      tracker.Store
		dispatcher notify.Dispatcher
	)
	if opts.DryRun {
		a.Logger.Info().Msg("dry run: in-memory state, notifications are logged only")
		store = storage.NewMemory()
		dispatcher = notify.NewLogDispatcher(a.Logger)
	} else {
		pgStore, closeStore, err := a.requireStore(ctx, "run (use --dry-run to evaluate without persistence)")
		if err != nil {
			return service.Report{}, err
		}
		defer closeStore()
		store = pgStore

		dispatcher, err = a.newDispatcher()
		if err != nil {
			return service.Report{}, err
		}
	}

	recorder := metrics.NewRecorder()
	report, err := a.newService(store, dispatcher, recorder).RunOnce(ctx)
	a.exportMetrics(ctx, recorder)
	return report, err
}

func (a *App) exportMetrics(ctx context.Context, recorder *metrics.Recorder) {
	if path := a.Config.Metrics.TextfilePath; path != "" {
		if err := recorder.WriteTextfile(path); err != nil {
			a.Logger.Error().Err(err).Str("path", path).Msg("failed to write metrics textfile")
		}
	}
	if url := a.Config.Metrics.PushgatewayURL; url != "" {
		if err := recorder.Push(ctx, url, a.Config.Metrics.Job); err != nil {
			a.Logger.Error().Err(err).Str("url", url).Msg("failed to push metrics")
		}
	}
}

// Serve runs evaluation passes on the scheduler until interrupted and exposes
// run metrics over HTTP.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.requireStore(ctx, "serve")
	if err != nil {
		return err
	}
	defer closeStore()

	dispatcher, err := a.newDispatcher()
	if err != nil {
		return err
	}

	recorder := metrics.NewRecorder()
	svc := a.newService(store, dispatcher, recorder)
	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	group, ctx := errgroup.WithContext(ctx)
	if addr := a.Config.Metrics.ListenAddr; addr != "" {
		server := metrics.NewServer(addr, recorder, a.Logger)
		group.Go(func() error { return server.Run(ctx) })
	}
	group.Go(func() error {
		return sched.Run(ctx, func(ctx context.Context, scheduled time.Time) error {
			err := svc.Tick(ctx, scheduled)
			a.exportMetrics(ctx, recorder)
			return err
		})
	})

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting relay weather daemon")
	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("daemon terminated with error")
		return err
	}

	a.Logger.Info().Msg("relay weather daemon stopped")
	return nil
}

// Migrate applies the schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database.dsn not configured; cannot migrate")
	}
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	store := storage.NewStore(pool)
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	a.Logger.Info().Msg("migrations applied")
	return nil
}
