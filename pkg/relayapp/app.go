// Package relayapp assembles the HTTP service around the relay: config,
// cache backend, upstream client, handlers, middleware, and lifecycle.
package relayapp

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/quickmeds/gemini-relay/internal/api"
	"github.com/quickmeds/gemini-relay/internal/config"
	"github.com/quickmeds/gemini-relay/internal/services/cache"
	"github.com/quickmeds/gemini-relay/internal/services/chat"
	"github.com/quickmeds/gemini-relay/internal/services/gate"
	"github.com/quickmeds/gemini-relay/internal/services/gemini"
	"github.com/quickmeds/gemini-relay/internal/services/quota"
	"github.com/quickmeds/gemini-relay/internal/services/relay"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

const shutdownTimeout = 30 * time.Second

// App is a configured relay server instance.
type App struct {
	config *config.Config
	app    *fiber.App
	store  cache.Store
}

// New creates an App from the given configuration. The cfg parameter is
// required and must not be nil.
func New(cfg *config.Config) *App {
	if cfg == nil {
		panic("config cannot be nil - use config.LoadFromFile() to create config")
	}
	return &App{config: cfg}
}

// Run starts the server and blocks until shutdown.
func (a *App) Run() error {
	if err := a.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogLevel(a.config)

	port := a.config.Server.Port
	if port == "" {
		port = "8080"
	}
	listenAddr := ":" + port

	a.app = createFiberApp(a.config)
	setupMiddleware(a.app, a.config)

	store, err := cache.New(a.config.Cache)
	if err != nil {
		return fmt.Errorf("failed to create cache store: %w", err)
	}
	a.store = store
	defer func() {
		if err := a.store.Close(); err != nil {
			fiberlog.Errorf("Failed to close cache store: %v", err)
		}
	}()

	if err := a.setupRoutes(); err != nil {
		return fmt.Errorf("failed to setup routes: %w", err)
	}

	fmt.Printf("Gemini relay starting on %s\n", listenAddr)
	fmt.Printf("   Environment: %s\n", a.config.Server.Environment)
	fmt.Printf("   Go version: %s\n", runtime.Version())
	fmt.Printf("   Upstream concurrency: %d\n", a.config.Relay.Concurrency())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := a.app.Listen(listenAddr); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		fiberlog.Infof("Received signal: %v. Starting graceful shutdown...", sig)
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	}

	fiberlog.Info("Server shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErrChan := make(chan error, 1)
	go func() {
		shutdownErrChan <- a.app.ShutdownWithTimeout(shutdownTimeout)
	}()

	select {
	case err := <-shutdownErrChan:
		if err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		fiberlog.Info("Server shutdown completed successfully")
	case <-shutdownCtx.Done():
		return fmt.Errorf("shutdown timeout exceeded")
	}

	return nil
}

// setupRoutes wires the relay pipeline and registers the endpoints.
func (a *App) setupRoutes() error {
	relayCfg := a.config.Relay

	pool := gemini.NewPool()
	client, err := pool.Get(context.Background(), relayCfg.APIKey)
	if err != nil {
		return fmt.Errorf("failed to create upstream client: %w", err)
	}

	guard := quota.New(relayCfg.QuotaCooldown())
	relaySvc := relay.New(client, a.store, gate.New(relayCfg.Concurrency()), guard, relayCfg)
	chatSvc := chat.NewService(relaySvc)

	chatHandler := api.NewChatHandler(chatSvc)
	generateHandler := api.NewGenerateHandler(relaySvc)
	healthHandler := api.NewHealthHandler(guard)

	v1 := a.app.Group("/v1")
	v1.Post("/chat", chatHandler.Chat)
	v1.Post("/generate", generateHandler.Generate)

	a.app.Get("/health", healthHandler.HealthCheck)

	return nil
}

func createFiberApp(cfg *config.Config) *fiber.App {
	isProd := cfg.IsProduction()

	return fiber.New(fiber.Config{
		AppName:           "GeminiRelay v1.0",
		EnablePrintRoutes: !isProd,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       5 * time.Minute,
		CaseSensitive:     true,
		ServerHeader:      "GeminiRelay",
	})
}

func setupMiddleware(app *fiber.App, cfg *config.Config) {
	isProd := cfg.IsProduction()

	// Recover middleware (must be first)
	app.Use(recover.New(recover.Config{
		EnableStackTrace: !isProd,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:               300,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return fmt.Errorf("300 requests per minute")
		},
	}))

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	if isProd {
		app.Use(logger.New(logger.Config{
			Format: "${time} ${status} ${method} ${path} ${latency} ${bytesSent}b\n",
			Output: os.Stdout,
		}))
	} else {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path} ${error}\n",
			Output: os.Stdout,
		}))
	}

	if origins := cfg.Server.AllowedOrigins; origins != "" {
		app.Use(cors.New(cors.Config{
			AllowOrigins: origins,
			AllowHeaders: "Origin, Content-Type, Accept, X-Request-ID",
		}))
	}
}

func setupLogLevel(cfg *config.Config) {
	switch cfg.Server.LogLevel {
	case "debug":
		fiberlog.SetLevel(fiberlog.LevelDebug)
	case "warn":
		fiberlog.SetLevel(fiberlog.LevelWarn)
	case "error":
		fiberlog.SetLevel(fiberlog.LevelError)
	default:
		fiberlog.SetLevel(fiberlog.LevelInfo)
	}
}
