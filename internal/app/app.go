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

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"tradeguard/internal/alerting"
	"tradeguard/internal/config"
	"tradeguard/internal/httpapi"
	"tradeguard/internal/notify"
	"tradeguard/internal/observability"
	"tradeguard/internal/scheduler"
	"tradeguard/internal/service"
	"tradeguard/internal/storage"
	"tradeguard/internal/stream"
	"tradeguard/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	// base has no component field; components derive their own.
	base zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
		base:   logger,
	}
}

func (a *App) newBoard(clock clockwork.Clock) *notify.Board {
	n := a.Config.Notifications
	return notify.NewBoard(notify.Options{
		Threshold:       decimal.NewFromFloat(n.Threshold),
		Capacity:        n.Capacity,
		DedupeByEventID: n.DedupeByEventID,
		DedupeWindow:    n.DedupeWindow,
		Clock:           clock,
	})
}

func (a *App) newStreamClient(clock clockwork.Clock, metrics *observability.Metrics) *stream.Client {
	s := a.Config.Stream
	return stream.New(stream.Options{
		HandshakeTimeout: s.HandshakeTimeout,
		ReadLimit:        s.ReadLimit,
		Header:           http.Header{"User-Agent": []string{version.UserAgent()}},
		Reconnect: stream.ReconnectPolicy{
			Delay:       s.Reconnect.Delay,
			MaxDelay:    s.Reconnect.MaxDelay,
			MaxAttempts: s.Reconnect.MaxAttempts,
		},
		Clock:   clock,
		Metrics: metrics,
	}, a.base)
}

// newNotifier returns nil when no alert channel is configured.
func (a *App) newNotifier(ctx context.Context) (alerting.Notifier, func(), error) {
	multi, err := alerting.FromConfig(ctx, a.Config.Alerting, a.base)
	if err != nil {
		return nil, nil, err
	}
	if multi.Len() == 0 {
		return nil, func() {}, nil
	}
	closer := func() {
		if err := multi.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close alert channels")
		}
	}
	return multi, closer, nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool, a.Config.App.InstanceID)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running notification service together with the HTTP
// surface and journal retention.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	address, err := a.Config.StreamAddress(stream.EventsURL)
	if err != nil {
		return fmt.Errorf("resolve stream address: %w", err)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	var journal storage.NotificationStore
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; journal disabled")
	} else {
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		journal = store
	}

	notifier, closeNotifier, err := a.newNotifier(ctx)
	if err != nil {
		return err
	}
	defer closeNotifier()

	clock := clockwork.NewRealClock()
	metrics := observability.NewMetrics()
	client := a.newStreamClient(clock, metrics)

	svc := service.New(a.Config, address, service.Deps{
		Source:   client,
		Board:    a.newBoard(clock),
		Journal:  journal,
		Notifier: notifier,
		Metrics:  metrics,
		Clock:    clock,
	}, a.base)
	srv := httpapi.NewServer(a.Config.HTTP.Addr, svc, metrics, a.base)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(svc.Run(gctx))
	})

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if journal != nil && a.Config.Database.Retention > 0 {
		sched := scheduler.New(scheduler.Options{
			Interval: a.Config.Database.RetentionInterval,
			Clock:    clock,
		}, a.base)
		g.Go(func() error {
			return ignoreCanceled(sched.Run(gctx, svc.Prune))
		})
	}

	a.Logger.Info().Str("address", address).Str("version", version.Version).Msg("starting notification service")
	if err := g.Wait(); err != nil {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("notification service stopped")
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SimulateOptions describe one synthetic stream event.
type SimulateOptions struct {
	EventID   int64
	Title     string
	Summary   string
	Severity  decimal.Decimal
	Port      string
	Commodity string
}
