package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/viking/cactuar/pkg/account"
	"github.com/viking/cactuar/pkg/config"
	"github.com/viking/cactuar/pkg/delegated"
	"github.com/viking/cactuar/pkg/middleware"
	"github.com/viking/cactuar/pkg/observability"
	"github.com/viking/cactuar/pkg/openid"
	"github.com/viking/cactuar/pkg/provider"
	"github.com/viking/cactuar/pkg/session"
	"github.com/viking/cactuar/pkg/storage"
	"github.com/viking/cactuar/pkg/trust"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("cactuar: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)

	db, err := storage.Open(cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()

	ctx := context.Background()
	if err := storage.Migrate(ctx, db, cfg.Database.Driver); err != nil {
		log.WithError(err).Fatal("failed to run migrations")
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// session backend
	var sessionStore session.Store
	var redisStore *session.RedisStore
	switch cfg.Session.Backend {
	case "redis":
		redisStore, err = session.NewRedisStore(cfg.Session.RedisURL, cfg.Session.RedisPassword, cfg.Session.RedisDB, cfg.Session.TTL)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to Redis")
		}
		defer redisStore.Close()
		sessionStore = redisStore
	default:
		sessionStore = session.NewSQLStore(db, cfg.Session.TTL)
	}
	sessions := session.NewManager(sessionStore, "cactuar_session", cfg.Session.TTL, cfg.Session.Secure)

	accounts := account.NewStore(db)
	trustStore := trust.NewStore(db)
	bindings := delegated.NewRegistry(db, accounts)

	var mailer account.Mailer = account.NopMailer{}
	if cfg.Mail.Enabled {
		mailer = account.NewSMTPMailer(cfg.Mail.Addr, cfg.Mail.From, cfg.Mail.Username, cfg.Mail.Password)
	}
	lifecycle := account.NewLifecycle(accounts, mailer, bindings, cfg.Server.BaseURL, log)

	codec := openid.NewSimpleCodec(cfg.Server.BaseURL + "/openid/auth")
	engine := openid.NewEngine(codec, trustStore, cfg.Server.BaseURL, log)

	var upstream *delegated.OIDCUpstream
	if cfg.Upstream.Enabled {
		upstream, err = delegated.NewOIDCUpstream(ctx, delegated.OIDCConfig{
			Name:         cfg.Upstream.Name,
			IssuerURL:    cfg.Upstream.IssuerURL,
			ClientID:     cfg.Upstream.ClientID,
			ClientSecret: cfg.Upstream.ClientSecret,
			RedirectURL:  cfg.Upstream.RedirectURL,
			Scopes:       cfg.Upstream.Scopes,
			AutoCreate:   cfg.Upstream.AutoCreate,
		})
		if err != nil {
			log.WithError(err).Fatal("failed to configure upstream provider")
		}
	}

	srv, err := provider.NewProvider(accounts, lifecycle, trustStore, engine, codec, sessions, bindings, upstream, metrics, log, cfg.Server.BaseURL)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize provider")
	}

	router := mux.NewRouter()
	if cfg.Observability.MetricsEnabled {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
		router.Handle("/metrics", observability.MetricsHandler(registry)).Methods("GET")
	}
	limiter := middleware.NewRateLimiter(middleware.LoginRateLimitConfig())
	router.Use(limiter.Middleware("/login", "/signup"))
	var redisClient *redis.Client
	if redisStore != nil {
		redisClient = redisStore.Client()
	}
	health := observability.NewHealthChecker(db, redisClient)
	router.HandleFunc("/health", health.Readiness).Methods("GET")
	router.HandleFunc("/health/live", health.Liveness).Methods("GET")
	srv.RegisterRoutes(router)

	// the SQL backend needs a periodic sweep; Redis expires keys itself
	scheduler := cron.New()
	if cfg.Session.Backend == "sql" {
		_, err = scheduler.AddFunc(cfg.Session.CleanupSchedule, func() {
			swept, err := sessionStore.Cleanup(context.Background())
			if err != nil {
				log.WithError(err).Warn("session cleanup failed")
				return
			}
			if swept > 0 {
				metrics.SessionsSwept.Add(float64(swept))
				log.WithField("count", swept).Debug("swept expired sessions")
			}
		})
		if err != nil {
			log.WithError(err).Fatal("failed to schedule session cleanup")
		}
	}
	_, err = scheduler.AddFunc("@every 30s", func() {
		metrics.ObserveDBStats(db.Stats())
	})
	if err != nil {
		log.WithError(err).Fatal("failed to schedule pool gauge refresh")
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("cactuar listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown failed")
	}
}
