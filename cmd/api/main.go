package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Dan9191/sacco-service/internal/config"
	"github.com/Dan9191/sacco-service/internal/events"
	"github.com/Dan9191/sacco-service/internal/handler"
	"github.com/Dan9191/sacco-service/internal/integrations/cbr"
	"github.com/Dan9191/sacco-service/internal/middleware"
	"github.com/Dan9191/sacco-service/internal/repository"
	"github.com/Dan9191/sacco-service/internal/revenue"
	"github.com/Dan9191/sacco-service/internal/rules"
	"github.com/Dan9191/sacco-service/internal/scheduler"
	"github.com/Dan9191/sacco-service/internal/service"
	"github.com/Dan9191/sacco-service/internal/utils"
	"github.com/Dan9191/sacco-service/internal/utils/email"
)

// revenueModules maps each content module to its revenue table.
var revenueModules = map[string]string{
	"music":   "music.revenue_events",
	"podcast": "podcast.revenue_events",
	"store":   "store.revenue_events",
}

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, relying on environment")
	}

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	ruleSet, err := rules.LoadFile(cfg.RulesFile)
	if err != nil {
		logger.Fatalf("Failed to load rules: %v", err)
	}
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			logger.Fatalf("Invalid TIMEZONE: %v", err)
		}
		ruleSet.Location = loc
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	var (
		store   repository.Store
		members repository.MemberRegistry
		sources []revenue.Source
	)
	switch cfg.Store {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DBConn)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatalf("Failed to ping database: %v", err)
		}
		pg := repository.NewPostgresStore(db)
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatalf("Failed to migrate database: %v", err)
		}
		store = pg
		members = repository.NewPostgresMembers(db)
		for name, table := range revenueModules {
			sources = append(sources, repository.NewPostgresRevenueSource(db, name, table))
		}
	default:
		logger.Warn("Using in-memory store; data is lost on restart")
		store = repository.NewMemoryStore()
		members = repository.NewMemoryMembers()
		for name := range revenueModules {
			sources = append(sources, repository.NewStaticRevenueSource(name))
		}
	}

	// Redis backs the report cache and the redis event sink
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatalf("Failed to ping redis: %v", err)
		}
	}

	provider := rules.NewProvider(ruleSet)
	var mailer *email.Sender
	if cfg.EmailEnabled() {
		mailer = email.NewSender(cfg, logger)
	}

	sinks, closeSinks, err := buildSinks(cfg, rdb, members, mailer, provider, logger)
	if err != nil {
		logger.Fatalf("Failed to configure event sinks: %v", err)
	}
	defer closeSinks()

	opts := service.Options{
		Events:  sinks,
		Sources: sources,
	}
	if rdb != nil {
		opts.Cache = revenue.NewRedisReportCache(rdb, cfg.ReportCacheTTL, logger)
	}
	var rates service.RateProvider
	if cfg.CBRURL != "" {
		rates = cbr.NewCBRClient(cfg, logger)
		opts.Rates = rates
	}

	// Initialize layers
	svc := service.NewService(service.Deps{
		Store:   store,
		Members: members,
		Rules:   provider,
		Signer:  utils.NewSigner(cfg.HMACSecret),
		Log:     logger,
	}, opts)
	if err := svc.Catalog.Seed(ctx, ruleSet.Products); err != nil {
		logger.Fatalf("Failed to seed loan products: %v", err)
	}

	var reminders service.ReminderSender
	if mailer != nil {
		reminders = mailer
	}
	jobs := scheduler.New(svc.Loans, svc.Repayments, svc.Catalog, reminders, ruleSet.Location, logger)
	jobs.RepriceProduct = cfg.RepriceProduct
	if jobs.RepriceMargin, err = decimal.NewFromString(cfg.RepriceMargin); err != nil {
		logger.Fatalf("Invalid REPRICE_MARGIN: %v", err)
	}
	if err := jobs.Register(scheduler.Schedules{
		Delinquency: cfg.DelinquencySchedule,
		Reminders:   cfg.ReminderSchedule,
		Royalties:   cfg.RoyaltySchedule,
		Reprice:     cfg.RepriceSchedule,
	}); err != nil {
		logger.Fatalf("Failed to schedule jobs: %v", err)
	}

	// Setup router
	r := mux.NewRouter()
	// Public routes
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	// Protected routes
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.Auth(cfg.JWTSecret))
	handler.NewHandler(svc, rates, logger).Register(authRouter)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}).Handler(r)

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      corsHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		jobs.Start()
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		jobs.Stop(shutdownCtx)
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Errorf("Exited with error: %v", err)
		os.Exit(1)
	}
}

// buildSinks assembles the configured event sinks. The returned func closes
// sinks that hold connections.
func buildSinks(cfg *config.Config, rdb *redis.Client, members repository.MemberRegistry, mailer *email.Sender,
	provider *rules.Provider, logger *logrus.Logger) (*events.Multi, func(), error) {
	var (
		sinks   []events.Publisher
		closers []func() error
	)
	for _, name := range cfg.EventSinks {
		switch name {
		case "log":
			sinks = append(sinks, events.NewLogPublisher(logger))
		case "redis":
			sinks = append(sinks, events.NewRedisPublisher(rdb, cfg.RedisChannel))
		case "kafka":
			kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
			sinks = append(sinks, kp)
			closers = append(closers, kp.Close)
		case "email":
			if mailer == nil {
				return nil, nil, fmt.Errorf("email sink requires SMTP_HOST")
			}
			currency := func() string { return provider.Current().Ledger.Currency }
			sinks = append(sinks, events.NewEmailNotifier(members, mailer, currency, logger))
		}
	}
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warnf("Failed to close event sink: %v", err)
			}
		}
	}
	logger.Infof("Publishing loan events to %d sinks", len(sinks))
	return events.NewMulti(sinks...), closeAll, nil
}
