package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/tracegate/internal/auth"
	"github.com/alfredjeanlab/tracegate/internal/config"
	"github.com/alfredjeanlab/tracegate/internal/events"
	"github.com/alfredjeanlab/tracegate/internal/export"
	"github.com/alfredjeanlab/tracegate/internal/idgen"
	"github.com/alfredjeanlab/tracegate/internal/model"
	"github.com/alfredjeanlab/tracegate/internal/presence"
	"github.com/alfredjeanlab/tracegate/internal/routing"
	"github.com/alfredjeanlab/tracegate/internal/server"
	"github.com/alfredjeanlab/tracegate/internal/store"
	"github.com/alfredjeanlab/tracegate/internal/store/memory"
	"github.com/alfredjeanlab/tracegate/internal/store/postgres"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the gRPC and HTTP routing server",
	GroupID: "server",
	Args:    cobra.NoArgs,
	RunE:    runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	stations, err := config.LoadStations(cfg.StationsFile)
	if err != nil {
		return err
	}
	logger.Info("station table loaded",
		zap.String("file", cfg.StationsFile),
		zap.Strings("stations", stations.Table.IDs()),
		zap.Strings("terminals", stations.Table.Terminals()),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("error closing store", zap.Error(err))
		}
	}()

	if err := seedGoldenSamples(ctx, st, stations.GoldenSamples); err != nil {
		return err
	}
	if err := bootstrapAdmin(ctx, st, cfg.AdminUser, cfg.AdminPassword, logger); err != nil {
		return err
	}

	// Sessions live in Redis when configured so every instance sees them.
	var rdb *redis.Client
	var sessions auth.SessionStore
	if cfg.RedisURL != "" {
		rdb, err = auth.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		sessions = auth.NewRedisSessionStore(rdb, "tracegate:")
		logger.Info("redis session store enabled")
	} else {
		sessions = auth.NewMemorySessionStore()
		logger.Info("in-memory session store (TRACEGATE_REDIS_URL not set)")
	}
	defer sessions.Close()

	gate := auth.NewGate(st, sessions, auth.Config{
		SessionTTL: cfg.SessionTTL,
		Retention:  cfg.SessionRetention,
		Logger:     logger,
	})
	sweeper := auth.NewSweeper(gate, time.Minute)
	sweeper.Start()

	seq := routing.NewSequencer(routing.SequencerConfig{Logger: logger})
	seq.StartSweeper()
	engine := routing.NewEngine(stations.Table, st, routing.Options{Sequencer: seq, Logger: logger})

	publisher, err := openPublishers(cfg, logger)
	if err != nil {
		sweeper.Stop()
		seq.Stop()
		return err
	}

	rs := server.NewRoutingServer(engine, gate, st, publisher, logger)
	rs.Presence.StartReaper(&presence.ReaperConfig{
		DeadThreshold: cfg.HeartbeatGrace,
		OnDead:        rs.SessionLost,
	})

	var scheduler *export.Scheduler
	if cfg.ExportEnabled() {
		scheduler, err = openExport(ctx, cfg, st, rdb, publisher, logger)
		if err != nil {
			logger.Error("export disabled", zap.Error(err))
		} else {
			scheduler.Start()
		}
	}

	grpcServer := server.NewGRPCServer(rs)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           rs.NewHTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		rs.Shutdown()

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(cfg.ShutdownTimeout):
			logger.Warn("gRPC graceful stop timed out")
			grpcServer.Stop()
		}
		logger.Info("gRPC server stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}
		logger.Info("HTTP server stopped")
		return nil
	})

	logger.Info("tracegate server started",
		zap.String("grpc_addr", cfg.GRPCAddr),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("store", cfg.Store),
	)
	serveErr := g.Wait()

	// Transports are down; drain the routing core, then ship what is left.
	engine.Close()
	rs.Presence.Stop()
	sweeper.Stop()
	seq.Stop()
	if scheduler != nil {
		scheduler.Stop()
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		if n, err := scheduler.Flush(flushCtx); err != nil {
			logger.Error("final export failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("final export shipped", zap.Int("entries", n))
		}
		cancel()
	}
	if err := publisher.Close(); err != nil {
		logger.Error("error closing publisher", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return serveErr
}

func openStore(cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory store; history is lost on exit")
		return memory.New(), nil
	default:
		pg, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("postgres store ready", zap.Uint("schema_version", pg.SchemaVersion()))
		return pg, nil
	}
}

// openPublishers connects every configured event sink. With none
// configured, events are dropped.
func openPublishers(cfg *config.Config, logger *zap.Logger) (events.Publisher, error) {
	var pubs []events.Publisher
	closeAll := func() {
		for _, p := range pubs {
			_ = p.Close()
		}
	}
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, pub)
		logger.Info("NATS events enabled", zap.String("nats_url", cfg.NATSURL))
	}
	if cfg.MQTTURL != "" {
		pub, err := events.NewMQTTPublisher(events.MQTTConfig{
			Broker:   cfg.MQTTURL,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			QoS:      cfg.MQTTQoS,
		})
		if err != nil {
			closeAll()
			return nil, err
		}
		pubs = append(pubs, pub)
		logger.Info("MQTT line interlock enabled", zap.String("broker", cfg.MQTTURL))
	}
	switch len(pubs) {
	case 0:
		logger.Info("events disabled (TRACEGATE_NATS_URL and TRACEGATE_MQTT_URL not set)")
		return &events.NoopPublisher{}, nil
	case 1:
		return pubs[0], nil
	}
	return events.NewMultiPublisher(logger, pubs...), nil
}

func openExport(ctx context.Context, cfg *config.Config, st store.Store, rdb *redis.Client, pub events.Publisher, logger *zap.Logger) (*export.Scheduler, error) {
	var dests []export.Destination
	if cfg.ExportS3Bucket != "" {
		s3Dest, err := export.NewS3Destination(ctx, cfg.ExportS3Bucket, cfg.ExportS3Prefix, cfg.ExportS3Region, cfg.ExportS3Endpoint)
		if err != nil {
			return nil, err
		}
		dests = append(dests, s3Dest)
		logger.Info("S3 export destination enabled", zap.String("bucket", cfg.ExportS3Bucket), zap.String("prefix", cfg.ExportS3Prefix))
	}
	if cfg.ExportDir != "" {
		dests = append(dests, export.NewDirDestination(cfg.ExportDir))
		logger.Info("directory export destination enabled", zap.String("dir", cfg.ExportDir))
	}

	var cursor export.Cursor
	switch {
	case cfg.ExportCursorFile != "":
		cursor = export.NewFileCursor(cfg.ExportCursorFile)
	case rdb != nil:
		cursor = export.NewRedisCursor(rdb, "")
	default:
		logger.Warn("export cursor kept in memory; a restart re-exports from the start")
		cursor = &export.MemoryCursor{}
	}

	return export.NewScheduler(st, dests, export.Config{
		Interval:  cfg.ExportInterval,
		BatchSize: cfg.ExportBatchSize,
		Cursor:    cursor,
		Publisher: pub,
		Logger:    logger,
	}), nil
}

func seedGoldenSamples(ctx context.Context, st store.Store, serials []string) error {
	for _, serial := range serials {
		if err := st.AddGoldenSample(ctx, serial, "stations-file"); err != nil {
			return fmt.Errorf("seed golden sample %s: %w", serial, err)
		}
	}
	return nil
}

// bootstrapAdmin creates the admin account when a password is configured
// and the user does not exist yet.
func bootstrapAdmin(ctx context.Context, st store.Store, name, password string, logger *zap.Logger) error {
	if password == "" {
		return nil
	}
	if _, err := st.GetUserByName(ctx, name); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("look up admin: %w", err)
	}
	if err := createUser(ctx, st, name, password, model.RoleAdmin); err != nil {
		return err
	}
	logger.Info("bootstrap admin created", zap.String("user", name))
	return nil
}

func createUser(ctx context.Context, st store.Store, name, password string, role model.Role) error {
	if !role.IsValid() {
		return fmt.Errorf("unknown role %q (want operator, supervisor or admin)", role)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	id, err := idgen.UserID()
	if err != nil {
		return err
	}
	user := &model.User{
		ID:           id,
		Name:         name,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := st.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("create user %s: %w", name, err)
	}
	return nil
}
