package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"streamgrid/internal/core/ports"
	"streamgrid/internal/core/services"
	httphandlers "streamgrid/internal/handlers/http"
	"streamgrid/internal/infrastructure/distributed"
	"streamgrid/internal/infrastructure/engine"
	"streamgrid/internal/infrastructure/middleware"
	"streamgrid/internal/infrastructure/monitoring"
	"streamgrid/internal/infrastructure/registry"
	"streamgrid/internal/infrastructure/signal"
	"streamgrid/pkg/config"
	"streamgrid/pkg/logger"
	"streamgrid/pkg/tracing"
	"streamgrid/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	zl := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zl.Sync()
	log := zl.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to init tracing", "error", err)
	}

	engineConfig := engine.Config{ICEServers: iceServers(cfg)}
	engineConfig.PortRange.Min = cfg.Engine.PortRange.Min
	engineConfig.PortRange.Max = cfg.Engine.PortRange.Max

	mediaEngine, err := engine.NewPionEngine(engineConfig, log)
	if err != nil {
		log.Fatalw("failed to init media engine", "error", err)
	}

	sessions := registry.NewSessionRegistry()
	streams := registry.NewStreamDirectory()
	graph := registry.NewResourceGraph()

	hub := signal.NewHub(log)
	health := monitoring.NewHealthChecker()

	var notifier ports.Notifier = hub
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		mirror := distributed.NewEventMirror(redisClient, utils.GenerateSessionID(), log)
		notifier = distributed.NewMultiNotifier(hub, mirror)
		health.AddCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}, 2*time.Second)
	}

	var metrics ports.MetricsRecorder
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector()
	}

	service := services.NewSignalingService(sessions, streams, graph, mediaEngine, notifier, metrics, log)

	wsServer := signal.NewWebSocketServer(service, hub, signal.ServerOptions{
		PingInterval:      cfg.Signal.PingInterval,
		ReadTimeout:       cfg.Signal.PongTimeout,
		WriteTimeout:      cfg.Signal.WriteTimeout,
		MessagesPerSecond: wsMessageRate(cfg),
		MessageBurst:      cfg.RateLimiting.WebSocket.Burst,
	}, log)
	relayServer := signal.NewRelayServer(log)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	httphandlers.NewStreamHandler(service, streams, health).SetupRoutes(router)
	router.GET(cfg.Signal.Path, gin.WrapF(wsServer.HandleWebSocket))
	router.GET(cfg.Signal.RelayPath, gin.WrapF(relayServer.HandleWebSocket))

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Infow("starting server", "address", cfg.Server.Address, "ws_path", cfg.Signal.Path)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	ossignal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Warnw("server shutdown failed", "error", err)
	}
	if err := tp.Shutdown(ctx); err != nil {
		log.Warnw("tracer shutdown failed", "error", err)
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Warnw("redis close failed", "error", err)
		}
	}
}

func iceServers(cfg *config.Config) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(cfg.Engine.ICEServers))
	for _, s := range cfg.Engine.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	return servers
}

func wsMessageRate(cfg *config.Config) float64 {
	if !cfg.RateLimiting.Enabled {
		return 0
	}
	return cfg.RateLimiting.WebSocket.MessagesPerSecond
}
