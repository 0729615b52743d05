package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"shopnotify/internal/config"
	"shopnotify/internal/httpserver"
	"shopnotify/internal/logging"
	"shopnotify/internal/notify"
	"shopnotify/internal/observability"
	"shopnotify/internal/providers/twilio"
	"shopnotify/internal/scheduler"
	"shopnotify/internal/store/pg"
	"shopnotify/internal/webhooks"
)

func main() {
	cfg := config.Load()
	logging.Init("server", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
		MaxConns:          cfg.DBPoolMaxConns,
		MinConns:          cfg.DBPoolMinConns,
		MaxConnLifetime:   cfg.DBPoolMaxConnLifetime,
		MaxConnIdleTime:   cfg.DBPoolMaxConnIdleTime,
		HealthCheckPeriod: cfg.DBPoolHealthCheckPeriod,
	})
	if err != nil {
		slog.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	if err := db.Ping(startupCtx); err != nil {
		startupCancel()
		slog.Error("db not reachable", "err", err)
		os.Exit(1)
	}
	startupCancel()

	observability.Register(prometheus.DefaultRegisterer)

	st := pg.New(db)

	sender := &twilio.Client{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		FromNumber: cfg.TwilioWhatsAppNumber,
		BaseURL:    cfg.TwilioBaseURL,
		HTTP:       &http.Client{Timeout: 10 * time.Second},
	}
	if !sender.Configured() {
		slog.Warn("twilio credentials absent, sends run in mock mode")
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "twilio",
		MaxRequests: 3,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 10
		},
	})

	statusCallbackURL := ""
	if cfg.PublicWebhookURL != "" {
		statusCallbackURL = cfg.PublicWebhookURL + "/v1/webhooks/twilio/status"
	}

	dispatcher := &notify.Dispatcher{
		Store:             st,
		Sender:            sender,
		Limiter:           rate.NewLimiter(rate.Limit(cfg.TwilioRPS), cfg.TwilioBurst),
		Breaker:           breaker,
		StatusCallbackURL: statusCallbackURL,
		DefaultLanguage:   cfg.DefaultLanguage,
	}

	sched := &scheduler.Scheduler{
		Store:            st,
		Dispatcher:       dispatcher,
		Campaigns:        &notify.Broadcaster{Store: st, Dispatcher: dispatcher},
		CartInterval:     mustDuration("CART_POLL_INTERVAL", cfg.CartPollInterval),
		ReviewInterval:   mustDuration("REVIEW_POLL_INTERVAL", cfg.ReviewPollInterval),
		CampaignInterval: mustDuration("CAMPAIGN_POLL_INTERVAL", cfg.CampaignPollInterval),
	}
	go sched.Run(ctx)

	s := httpserver.New()

	shopify := &webhooks.Shopify{Store: st, Dispatcher: dispatcher, Secret: cfg.ShopifyWebhookSecret}
	shopify.Register(s.Mux)

	status := &webhooks.Status{Store: st, AuthToken: cfg.TwilioAuthToken, PublicURL: cfg.PublicWebhookURL}
	status.Register(s.Mux)

	inbound := &webhooks.Inbound{Store: st, AuthToken: cfg.TwilioAuthToken, PublicURL: cfg.PublicWebhookURL}
	inbound.Register(s.Mux)

	admin := &httpserver.Admin{Store: st, Dispatcher: dispatcher, ProviderConfigured: sender.Configured()}
	admin.Register(s.Mux)

	s.Mux.HandleFunc("/healthz", httpserver.Healthz())
	s.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, func(ctx context.Context) error {
		return db.Ping(ctx)
	}))
	s.Mux.Use(httpserver.Metrics(observability.HTTPRequests))

	handler := httpserver.Logging(s.Mux)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	metricsSrv := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: promhttp.Handler(),
	}
	go func() {
		slog.Info("metrics listening", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("server shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("server listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func mustDuration(name, v string) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Error("invalid duration", "env", name, "value", v, "err", err)
		os.Exit(1)
	}
	return d
}
