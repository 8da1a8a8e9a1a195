package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"invasion-viewer/backend"
	"invasion-viewer/config"
	"invasion-viewer/database"
	"invasion-viewer/handlers"
	"invasion-viewer/metrics"
	"invasion-viewer/middleware"
	"invasion-viewer/rabbitmq"
	"invasion-viewer/services"
	"invasion-viewer/session"
	ws "invasion-viewer/websocket"

	"github.com/apex/log"
	jsonhandler "github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file loaded")
	}

	// Load configuration
	cfg := config.Load()
	setupLogging(cfg)

	log.Info("Starting the invasion viewer service...")

	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics.Register()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := backend.NewClient(cfg.BackendURL, backend.WithTimeouts(cfg.BackendTimeout, cfg.BackendLongTimeout))

	var snapshots services.SnapshotStore
	var db *sql.DB
	if cfg.SnapshotsEnabled {
		var err error
		db, err = database.DBConnect(ctx, cfg)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := database.InitSchema(ctx, db); err != nil {
			log.Fatalf("Failed to initialize database schema: %v", err)
		}
		snapshots = database.NewSnapshotService(db)
	}

	hub := ws.NewHub()
	go hub.Run(ctx)

	notifiers := []session.Notifier{hub}
	var events *rabbitmq.EventPublisher
	if cfg.AMQPURL != "" {
		publisher, err := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
		if err != nil {
			log.Fatalf("Failed to create RabbitMQ publisher: %v", err)
		}
		defer publisher.Close()

		events = rabbitmq.NewEventPublisher(publisher)
		events.Start(ctx)
		notifiers = append(notifiers, events)
		log.Infof("Publishing session events to exchange %s", cfg.AMQPExchange)
	}

	sessions := services.NewSessionService(client, services.SessionConfig{
		PollInterval:    cfg.SimulationPollInterval,
		MaxPollAttempts: cfg.SimulationPollMaxAttempts,
		TTL:             cfg.SessionTTL,
		SweepInterval:   cfg.SessionSweepInterval,
	}, session.Notifiers(notifiers...), snapshots)
	sessions.Start()

	router := setupRouter(cfg, handlers.NewHandlers(sessions, client, hub))

	srv := &http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Infof("Starting HTTP server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	// Sessions go first so their last events still reach the hub and broker.
	sessions.Stop()
	cancel()
	if events != nil {
		events.Wait()
	}

	log.Info("Server exited")
}

func setupLogging(cfg *config.Config) {
	if cfg.LogFormat == "json" {
		log.SetHandler(jsonhandler.New(os.Stderr))
	} else {
		log.SetHandler(text.New(os.Stderr))
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func setupRouter(cfg *config.Config, h *handlers.Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())

	// The event stream upgrades its connection and cannot be compressed.
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPathsRegexs([]string{`/stream$`})))
	router.Use(middleware.CORSMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h.RegisterRoutes(router,
		middleware.RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst),
		middleware.AuthMiddleware(cfg.JWTSecret),
	)
	return router
}
