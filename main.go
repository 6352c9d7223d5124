package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chatline/gateway/internal/auth"
	"github.com/chatline/gateway/internal/config"
	"github.com/chatline/gateway/internal/dispatch"
	"github.com/chatline/gateway/internal/events"
	internalhttp "github.com/chatline/gateway/internal/http"
	"github.com/chatline/gateway/internal/hub"
	"github.com/chatline/gateway/internal/metrics"
	"github.com/chatline/gateway/internal/policy"
	"github.com/chatline/gateway/internal/presence"
	"github.com/chatline/gateway/internal/ratelimit"
	"github.com/chatline/gateway/internal/repository"
	"github.com/chatline/gateway/internal/service"
	v1 "github.com/chatline/gateway/internal/transport/http/v1"
	"github.com/chatline/gateway/internal/transport/rpc"
	"github.com/chatline/gateway/internal/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Gateway stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("Starting chat gateway",
		zap.String("gateway_id", cfg.GatewayID),
		zap.Int("ws_port", cfg.WSPort),
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("internal_port", cfg.InternalPort),
		zap.Int("rpc_port", cfg.RPCPort))

	// Storage and policy
	store, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	verifier, err := auth.NewVerifier([]byte(cfg.JWTSecret), cfg.JWTAlg)
	if err != nil {
		return err
	}
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		return err
	}

	// Session registry, optionally mirrored into Redis
	var observers []hub.Observer
	var mirror *presence.RedisMirror
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("Redis unreachable, presence mirror will retry per write", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		mirror = presence.NewRedisMirror(rdb, cfg.GatewayID, cfg.PresenceTTL, log.Named("presence"))
		observers = append(observers, mirror)
	}
	registry := hub.NewRegistry(observers...)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promRegistry, registry.Len)

	// Delivery
	bus := events.NewBus(cfg.EventBuffer, m)
	dispatcher := dispatch.New(registry, log.Named("dispatch"), m)
	svc := service.New(store, policyEngine, bus.From("api"), log.Named("service"))

	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		dispatcher.Run(ctx, bus.Events())
	}()
	if mirror != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			mirror.Run(ctx, cfg.PresenceTTL/3, registry.Snapshot)
		}()
	}

	// WebSocket server
	limiter := ratelimit.New(cfg.HandshakeRPS, cfg.HandshakeBurst, 10*time.Minute)
	wsServer := ws.NewServer(cfg, registry, verifier, store, limiter, m, log.Named("ws"))
	wsServer.SetMessageCreator(svc)

	wsEcho := newEcho(log.Named("ws.http"))
	wsEcho.GET("/ws", wsServer.HandleWebSocket)

	// Public REST API
	apiEcho := newEcho(log.Named("api"))
	if len(cfg.AllowedOrigins) > 0 {
		apiEcho.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.AllowedOrigins}))
	}
	v1.NewHandler(svc, verifier).RegisterRoutes(apiEcho)

	// Internal HTTP server
	internalServer := internalhttp.NewServer(cfg.GatewayID, registry, bus.From("http"), m, log.Named("internal"))

	// Out-of-process publishers
	var rpcServer *rpc.Server
	if cfg.RPCPort > 0 {
		rpcServer, err = rpc.NewServer(bus.From("rpc"), log.Named("rpc"))
		if err != nil {
			return fmt.Errorf("failed to create rpc server: %w", err)
		}
	}
	var bridge *events.NATSBridge
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = events.ConnectNATS(cfg.NATSURL, "chat-gateway-"+cfg.GatewayID, log.Named("nats"))
		if err != nil {
			return err
		}
		defer nc.Close()
		bridge = events.NewNATSBridge(nc, cfg.NATSSubject, bus.From("nats"), log.Named("nats"))
		if err := bridge.Start(); err != nil {
			return err
		}
	}

	// Start servers
	serve := func(name string, start func(addr string) error, port int) {
		go func() {
			addr := fmt.Sprintf(":%d", port)
			if err := start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal("Failed to start server", zap.String("server", name), zap.Error(err))
			}
		}()
		log.Info("Server started", zap.String("server", name), zap.Int("port", port))
	}
	serve("websocket", wsEcho.Start, cfg.WSPort)
	serve("api", apiEcho.Start, cfg.HTTPPort)
	serve("internal", internalServer.Start, cfg.InternalPort)
	if rpcServer != nil {
		serve("rpc", rpcServer.Start, cfg.RPCPort)
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down gateway...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Millisecond)
	defer shutdownCancel()

	if err := wsEcho.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to shutdown WebSocket server gracefully", zap.Error(err))
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to close WebSocket connections gracefully", zap.Error(err))
	}
	if err := apiEcho.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to shutdown API server gracefully", zap.Error(err))
	}
	if err := internalServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to shutdown internal server gracefully", zap.Error(err))
	}
	if rpcServer != nil {
		if err := rpcServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("Failed to shutdown RPC server gracefully", zap.Error(err))
		}
	}
	if bridge != nil {
		if err := bridge.Stop(); err != nil {
			log.Warn("Failed to drain NATS subscription", zap.Error(err))
		}
	}

	bus.Close()
	cancel()
	workers.Wait()

	log.Info("Gateway stopped")
	return nil
}

func newEcho(log *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(internalhttp.RequestLogger(log))
	e.Use(middleware.Recover())
	return e
}
