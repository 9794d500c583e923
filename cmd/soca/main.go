package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/firgia/soca/auth"
	"github.com/firgia/soca/availability"
	"github.com/firgia/soca/cockroach"
	"github.com/firgia/soca/cockroach/migrator"
	"github.com/firgia/soca/config"
	"github.com/firgia/soca/events"
	"github.com/firgia/soca/matcher"
	"github.com/firgia/soca/memstore"
	"github.com/firgia/soca/notify"
	"github.com/firgia/soca/onesignal"
	"github.com/firgia/soca/realtime"
	"github.com/firgia/soca/rtc"
	"github.com/firgia/soca/service"
	"github.com/firgia/soca/store"
	"github.com/firgia/soca/web"
	"github.com/firgia/soca/webpush"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// durableStore is what both the cockroach and the in-memory backends
// provide.
type durableStore interface {
	store.Durable
	service.Profiles
	service.History
	matcher.VolunteerFinder
	availability.Setter
	notify.ProfileFinder
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	errLogger := slog.New(charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
	}))
	infoLogger := slog.New(charmlog.NewWithOptions(os.Stdout, charmlog.Options{
		ReportTimestamp: true,
	}))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		durable durableStore
		shared  store.Shared
	)

	switch cfg.Store {
	case config.StoreModeMemory:
		infoLogger.Warn("using in-memory stores, data is lost on exit")
		durable = memstore.NewDurable()
		shared = memstore.NewShared()
	default:
		dbPool, err := pgxpool.New(ctx, cfg.CockroachURL)
		if err != nil {
			return fmt.Errorf("open cockroach connection pool: %w", err)
		}

		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			return fmt.Errorf("ping cockroach: %w", err)
		}

		migrationStart := time.Now()
		infoLogger.Info("starting cockroach migrations")

		if err := migrator.Migrate(ctx, dbPool, cockroach.MigrationsFS); err != nil {
			return fmt.Errorf("migrate cockroach schema: %w", err)
		}

		infoLogger.Info("finished cockroach migrations", "took", time.Since(migrationStart))

		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}

		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}

		durable = cockroach.New(dbPool)
		shared = realtime.New(rdb)
	}

	var publisher service.EventPublisher = events.NoopPublisher{}
	if cfg.NATSURL != "" {
		natsPublisher, nc, err := events.Connect(events.NATSConfig{
			URL:           cfg.NATSURL,
			SubjectPrefix: cfg.NATSSubject,
		}, infoLogger)
		if err != nil {
			return err
		}

		defer func() {
			if err := nc.Drain(); err != nil {
				errLogger.Error("drain nats", "err", err)
			}
		}()

		publisher = natsPublisher
	}

	httpClient := &http.Client{Timeout: cfg.HTTPClientTimeout}
	gateways := map[notify.Channel]notify.Gateway{}
	if cfg.OneSignalVoIPAppID != "" {
		gateways[notify.ChannelVoIP] = onesignal.NewVoIP(cfg.OneSignalURL, onesignal.App{
			ID:         cfg.OneSignalVoIPAppID,
			RESTAPIKey: cfg.OneSignalVoIPRESTAPIKey,
		}, httpClient)
	}
	if cfg.OneSignalAppID != "" {
		gateways[notify.ChannelStandard] = onesignal.NewStandard(cfg.OneSignalURL, onesignal.App{
			ID:         cfg.OneSignalAppID,
			RESTAPIKey: cfg.OneSignalRESTAPIKey,
		}, cfg.OneSignalAndroidChannelID, httpClient)
	}
	if cfg.VAPIDPrivateKey != "" {
		gateways[notify.ChannelWeb] = webpush.New(webpush.Options{
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			Subscriber:      cfg.VAPIDSubscriber,
			HTTPClient:      httpClient,
		})
	}

	svc := service.New(service.Config{
		Calls:    store.NewCalls(durable, shared),
		Profiles: durable,
		History:  durable,
		Matcher:  matcher.New(durable),
		Notifier: &notify.Notifier{
			Gateways: gateways,
			Profiles: durable,
			Logger:   errLogger,
		},
		Availability:      availability.New(durable, errLogger),
		Events:            publisher,
		RTC:               rtc.New(cfg.RTCAppID, []byte(cfg.RTCCertificate), cfg.RTCTokenTTL),
		Logger:            errLogger,
		BaseCtx:           context.Background(),
		SideEffectTimeout: cfg.SideEffectTimeout,
		BackgroundTimeout: cfg.SideEffectTimeout,
	})

	errsDone := make(chan struct{})
	go func() {
		defer close(errsDone)
		for err := range svc.Errs() {
			errLogger.Error("service error", "err", err)
		}
	}()

	handler := &web.Handler{
		Service:     svc,
		Verifier:    &auth.Verifier{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer, Leeway: 30 * time.Second},
		ErrorLogger: errLogger,
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		infoLogger.Info("starting soca server", "url", fmt.Sprintf("http://localhost:%d", cfg.Port), "store", cfg.Store)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("start soca server: %w", err)
		}
	case <-ctx.Done():
		infoLogger.Info("shutting down soca server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.SideEffectTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			errLogger.Error("shutdown soca server", "err", err)
		}
	}

	_ = svc.Close()
	<-errsDone

	return nil
}
