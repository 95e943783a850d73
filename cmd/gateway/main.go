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

	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/pflag"

	"github.com/your-org/admsgw/internal/api"
	"github.com/your-org/admsgw/internal/api/handlers"
	"github.com/your-org/admsgw/internal/api/ws"
	"github.com/your-org/admsgw/internal/auth"
	"github.com/your-org/admsgw/internal/clock"
	"github.com/your-org/admsgw/internal/commands"
	"github.com/your-org/admsgw/internal/config"
	"github.com/your-org/admsgw/internal/ingest"
	"github.com/your-org/admsgw/internal/observability"
	"github.com/your-org/admsgw/internal/presence"
	"github.com/your-org/admsgw/internal/queue"
	"github.com/your-org/admsgw/internal/storage"
)

const onlineGaugeInterval = 30 * time.Second

func main() {
	configPath := pflag.StringP("config", "c", "configs/config.yaml", "path to config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	loc := cfg.ADMS.Location()
	slog.Info("starting ADMS gateway", "port", cfg.Server.Port, "timezone", loc.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		slog.Error("migrate schema", "error", err)
		os.Exit(1)
	}

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	checks := map[string]handlers.Check{
		"postgres": db.Ping,
		"minio":    minioStore.Ping,
	}

	hub := ws.NewHub()
	go hub.Run()

	// Events go through NATS when it is configured, so every gateway
	// instance can feed its websocket clients. Otherwise they go straight
	// to the local hub.
	var (
		attendanceEvents ingest.Publisher   = hub
		commandEvents    commands.Publisher = hub
	)
	if cfg.NATS.URL != "" {
		producer, consumer, err := connectNATS(ctx, cfg.NATS.URL, hub)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		defer consumer.Close()

		attendanceEvents, commandEvents = producer, producer
		checks["nats"] = func(context.Context) error { return producer.Ping() }
	} else {
		slog.Info("nats not configured, events are delivered to local websocket clients only")
	}

	clk := clock.Real()
	commandQueue := commands.NewQueue(db, commandEvents)
	tracker := presence.NewTracker(db, clk)
	engine := ingest.NewEngine(ingest.Config{
		Store:    db,
		Blobs:    minioStore,
		Commands: commandQueue,
		Events:   attendanceEvents,
		Clock:    clk,
		Location: loc,
	})

	go refreshOnlineGauge(ctx, db, clk)

	router := api.NewRouter(api.RouterConfig{
		Store:    db,
		Blobs:    minioStore,
		Engine:   engine,
		Commands: commandQueue,
		Presence: tracker,
		Hub:      hub,
		Keys:     auth.Keys{Plain: cfg.Server.APIKey, Hashes: cfg.Server.APIKeyHashes},
		ADMS:     cfg.ADMS,
		Checks:   checks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("gateway listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gateway...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("gateway stopped")
}

func connectNATS(ctx context.Context, url string, hub *ws.Hub) (*queue.Producer, *queue.Consumer, error) {
	producer, err := queue.NewProducer(url)
	if err != nil {
		return nil, nil, err
	}
	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	consumer, err := queue.NewConsumer(url)
	if err != nil {
		producer.Close()
		return nil, nil, err
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	if err := consumer.ConsumeEvents(ctx, "gateway-"+queue.SubjectToken(host), func(_ context.Context, msg jetstream.Msg) error {
		return hub.Relay(msg.Subject(), msg.Data())
	}); err != nil {
		slog.Warn("start event consumer", "error", err)
	}
	return producer, consumer, nil
}

// refreshOnlineGauge keeps the devices-online gauge current, since online
// state is derived from last_seen and never written.
func refreshOnlineGauge(ctx context.Context, db *storage.PostgresStore, clk clock.Clock) {
	ticker := time.NewTicker(onlineGaugeInterval)
	defer ticker.Stop()

	for {
		n, err := db.CountOnlineDevices(ctx, clk.Now().Add(-presence.OnlineWindow))
		if err != nil {
			slog.Warn("count online devices", "error", err)
		} else {
			observability.DevicesOnline.Set(float64(n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
