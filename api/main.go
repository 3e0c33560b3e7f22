package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/fengtai/docgraph/agent/pkg/agent"
	"github.com/fengtai/docgraph/agent/pkg/intent"
	"github.com/fengtai/docgraph/agent/pkg/llm"
	"github.com/fengtai/docgraph/api/audit"
	"github.com/fengtai/docgraph/api/config"
	"github.com/fengtai/docgraph/api/handlers"
	"github.com/fengtai/docgraph/api/metrics"
	slackbot "github.com/fengtai/docgraph/slack/bot"
	"github.com/fengtai/docgraph/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// shuttingDown flips when a shutdown signal arrives so the readiness
	// probe fails fast.
	shuttingDown atomic.Bool
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	metricsAddrFlag := flag.String("metrics-addr", "0.0.0.0:0", "Address to listen on for prometheus metrics")
	modelFlag := flag.String("model", "", "Anthropic model identifier (or set ANTHROPIC_MODEL env var)")
	flag.Parse()

	logg := logger.New(*verboseFlag)
	log.Printf("Starting docgraph-api version=%s commit=%s date=%s", version, commit, date)
	handlers.SetBuildInfo(version, commit, date)

	// godotenv doesn't override existing env vars
	_ = godotenv.Load()
	_ = godotenv.Load("api/.env")

	sentryDSN := os.Getenv("SENTRY_DSN")
	if sentryDSN != "" {
		sentryEnv := os.Getenv("SENTRY_ENVIRONMENT")
		if sentryEnv == "" {
			sentryEnv = "development"
		}
		release := version
		if commit != "none" {
			release = version + "-" + commit
		}
		tracesSampleRate := 0.1
		if sentryEnv == "development" {
			tracesSampleRate = 1.0
		}
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              sentryDSN,
			Environment:      sentryEnv,
			Release:          release,
			EnableTracing:    true,
			TracesSampleRate: tracesSampleRate,
		}); err != nil {
			log.Printf("Warning: Sentry initialization failed: %v", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx := context.Background()

	if err := config.LoadPostgres(ctx); err != nil {
		return fmt.Errorf("failed to load PostgreSQL: %w", err)
	}
	defer config.ClosePostgres()

	if err := config.LoadNeo4j(ctx, logg); err != nil {
		log.Printf("Warning: Neo4j not available, entity tools disabled: %v", err)
	} else {
		defer func() { _ = config.CloseNeo4j(context.Background()) }()
	}

	if err := config.LoadClickHouse(ctx); err != nil {
		log.Printf("Warning: ClickHouse not available, audit trail disabled: %v", err)
	} else {
		defer func() { _ = config.CloseClickHouse() }()
	}

	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}

	model := *modelFlag
	if model == "" {
		model = os.Getenv("ANTHROPIC_MODEL")
	}

	// Agent collaborators
	llmClient := llm.NewClient(logg, model, metrics.RecordAnthropicRequest)
	rules := intent.NewRuleEngine(logg, clockwork.NewRealClock())
	embedder := intent.NewHashEmbedder()
	parser := intent.NewLayeredParser(logg, rules,
		intent.NewHistoryMatcher(logg, intent.NewPGHistoryStore(config.PgPool), embedder, 0),
		intent.NewLLMParser(logg, llmClient),
	)
	tools := handlers.NewToolExecutor(logg, config.PgPool, config.GraphClient, embedder)

	runner, err := agent.New(&agent.Config{
		Logger: logg,
		LLM:    llmClient,
		Tools:  tools,
		Parser: parser,
		Rules:  rules,
		Model:  llmClient.Model(),
	})
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	recorder, err := audit.NewRecorder(ctx, logg, config.Audit)
	if err != nil {
		log.Printf("Warning: audit recorder unavailable: %v", err)
		recorder, _ = audit.NewRecorder(ctx, logg, nil)
	}
	chat := handlers.NewChatHandler(logg, runner, recorder, llmClient.Model())

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	if sentryDSN != "" {
		r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	}
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins(),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if shuttingDown.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("shutting down"))
			return
		}
		pingCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := config.PgPool.Ping(pingCtx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database connection failed"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/api/version", handlers.GetVersion)
	r.Post("/api/chat", chat.Chat)
	r.Post("/api/chat/stream", chat.ChatStream)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // disabled for SSE streaming
		IdleTimeout:  60 * time.Second,
	}

	// Cancellable base context so SSE handlers observe shutdown;
	// http.Server.Shutdown does not cancel request contexts by itself.
	serverCtx, serverCancel := context.WithCancel(context.Background())
	defer serverCancel()
	server.BaseContext = func(net.Listener) context.Context { return serverCtx }

	var metricsServer *http.Server
	g, gctx := errgroup.WithContext(serverCtx)
	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		listener, err := net.Listen("tcp", *metricsAddrFlag)
		if err != nil {
			log.Printf("Failed to start prometheus metrics listener: %v", err)
		} else {
			log.Printf("Prometheus metrics server listening on %s", listener.Addr().String())
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			metricsServer = &http.Server{Handler: mux}
			g.Go(func() error {
				if err := metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		}
	}

	g.Go(func() error {
		log.Printf("API server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	var bot *slackbot.Bot
	if os.Getenv("SLACK_BOT_TOKEN") != "" {
		bot, err = slackbot.New(logg, runner)
		if err != nil {
			log.Printf("Slack bot config error: %v (bot will not start)", err)
		} else {
			bot.Start(serverCtx)
		}
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		log.Printf("Received signal %v, shutting down gracefully...", sig)
	case <-gctx.Done():
		log.Printf("Server failed, shutting down: %v", gctx.Err())
	}

	shuttingDown.Store(true)
	if bot != nil {
		bot.Stop(30 * time.Second)
	}
	serverCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown error: %v", err)
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return g.Wait()
}

func corsOrigins() []string {
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		return strings.Split(origins, ",")
	}
	return []string{"*"}
}
