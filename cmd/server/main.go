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

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/legeling/xianyu-auto-reply/common/id"
	"github.com/legeling/xianyu-auto-reply/common/logger"
	"github.com/legeling/xianyu-auto-reply/common/otel"
	"github.com/legeling/xianyu-auto-reply/core/config"
	"github.com/legeling/xianyu-auto-reply/core/db"
	"github.com/legeling/xianyu-auto-reply/internal/gateway"
	"github.com/legeling/xianyu-auto-reply/internal/http/middleware"
	httprouter "github.com/legeling/xianyu-auto-reply/internal/http/router"
	"github.com/legeling/xianyu-auto-reply/internal/login"
	"github.com/legeling/xianyu-auto-reply/internal/loginguard"
	"github.com/legeling/xianyu-auto-reply/internal/orchestrator"
	"github.com/legeling/xianyu-auto-reply/internal/queue"
	"github.com/legeling/xianyu-auto-reply/internal/reply"
	"github.com/legeling/xianyu-auto-reply/internal/service"
	"github.com/legeling/xianyu-auto-reply/internal/session"
	"github.com/legeling/xianyu-auto-reply/internal/store"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet, OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "autoreply starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to apply schema", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "database connected")

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		slog.InfoContext(ctx, "redis connected", "stream", cfg.Redis.AccountEventStream)
	} else {
		slog.InfoContext(ctx, "redis disabled, account events are logged only")
	}

	stores := store.NewStores(database.Conn())

	global := reply.NewGlobalTable(cfg.GlobalKeywordsFile)
	if _, err := global.Reload(); err != nil {
		slog.ErrorContext(ctx, "failed to load global keywords", "error", err, "path", cfg.GlobalKeywordsFile)
		os.Exit(1)
	}
	engine := reply.New(stores.All(), global)

	gatewayClient := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey)
	dialer := gateway.NewDialer(cfg.Gateway.WSURL, cfg.Gateway.APIKey)

	reporters := orchestrator.MultiReporter{orchestrator.NewLogReporter(slog.Default())}
	var events service.EventLister
	var publisher *queue.EventPublisher
	if redisClient != nil {
		publisher = queue.NewEventPublisher(redisClient, cfg.Redis.AccountEventStream, slog.Default())
		go publisher.Run()
		reporters = append(reporters, publisher)
		events = queue.NewEventReader(redisClient, cfg.Redis.AccountEventStream)
	}

	orch := orchestrator.New(stores.All(), dialer, engine, reporters, orchestrator.Config{
		MaxConsecutiveFailures: cfg.Orchestrator.MaxConsecutiveFailures,
		BackoffInitial:         cfg.Orchestrator.BackoffInitial,
		BackoffMax:             cfg.Orchestrator.BackoffMax,
		ConnectTimeout:         cfg.Orchestrator.ConnectTimeout,
		SendTimeout:            cfg.Orchestrator.SendTimeout,
		StoreTimeout:           cfg.Orchestrator.StoreTimeout,
		SendRatePerSec:         cfg.Orchestrator.SendRatePerSec,
		SendBurst:              cfg.Orchestrator.SendBurst,
	})
	if err := orch.Start(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	var tokens session.Store
	var reapers []loginguard.Reaper
	switch cfg.Tokens.Backend {
	case "redis":
		tokens = session.NewRedisStore(redisClient, cfg.Tokens.TTL)
	default:
		mem := session.NewMemoryStore(cfg.Tokens.TTL)
		tokens = mem
		reapers = append(reapers, loginguard.ReaperFunc(func(time.Time) int {
			return mem.Purge(time.Now())
		}))
	}

	logins := login.NewManager(gatewayClient, cfg.Login.ChallengeTTL)
	guard := loginguard.New(
		logins,
		loginguard.NewPipeline(stores.All(), gatewayClient, orch, cfg.Login.RefreshTimeout),
		cfg.Login.Retention,
	)
	reapers = append(reapers, logins)
	sweeper := loginguard.NewSweeper(guard, cfg.Login.SweepInterval, reapers...)

	deps := service.Deps{
		Stores:   stores,
		TxRunner: service.NewTxRunner(database),
		Tokens:   tokens,
		Accounts: orch,
		Global:   global,
		Login:    logins,
		Guard:    guard,
		Events:   events,
	}
	services := service.NewServices(deps)

	if cfg.Admin.Enabled() {
		owner, err := services.Auth().EnsureOwner(ctx, cfg.Admin.Username, cfg.Admin.Password)
		if err != nil {
			slog.ErrorContext(ctx, "failed to ensure admin owner", "error", err)
			os.Exit(1)
		}
		slog.InfoContext(ctx, "admin owner ready", "owner_id", owner.ID, "username", owner.Username)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, services)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		slog.InfoContext(gctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.InfoContext(ctx, "shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
		}
		sweeper.Stop()
		if err := orch.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "orchestrator shutdown error", "error", err)
		}
		if publisher != nil {
			if err := publisher.Close(shutdownCtx); err != nil {
				slog.ErrorContext(shutdownCtx, "event publisher flush error", "error", err, "dropped", publisher.Dropped())
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.ErrorContext(ctx, "server exited with error", "error", err)
	}

	if telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "shutdown complete")
}

func setupRouter(cfg config.Config, services *service.Services) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span, Recovery catches panics, Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, services)

	return router
}

const banner = `
██████╗ ███████╗██╗      █████╗ ██╗   ██╗    ███████╗███████╗██████╗ ██╗   ██╗███████╗██████╗ 
██╔══██╗██╔════╝██║     ██╔══██╗╚██╗ ██╔╝    ██╔════╝██╔════╝██╔══██╗██║   ██║██╔════╝██╔══██╗
██████╔╝█████╗  ██║     ███████║ ╚████╔╝     ███████╗█████╗  ██████╔╝██║   ██║█████╗  ██████╔╝
██╔══██╗██╔══╝  ██║     ██╔══██║  ╚██╔╝      ╚════██║██╔══╝  ██╔══██╗╚██╗ ██╔╝██╔══╝  ██╔══██╗
██║  ██║███████╗███████╗██║  ██║   ██║       ███████║███████╗██║  ██║ ╚████╔╝ ███████╗██║  ██║
╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝   ╚═╝       ╚══════╝╚══════╝╚═╝  ╚═╝  ╚═══╝  ╚══════╝╚═╝  ╚═╝
`
