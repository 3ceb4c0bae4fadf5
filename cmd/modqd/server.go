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

	"github.com/bluesky-social/modqueue/appeals"
	"github.com/bluesky-social/modqueue/authz"
	"github.com/bluesky-social/modqueue/automod/cachestore"
	"github.com/bluesky-social/modqueue/automod/classifier"
	"github.com/bluesky-social/modqueue/automod/countstore"
	"github.com/bluesky-social/modqueue/automod/flagstore"
	"github.com/bluesky-social/modqueue/automod/rules"
	"github.com/bluesky-social/modqueue/content"
	"github.com/bluesky-social/modqueue/credibility"
	"github.com/bluesky-social/modqueue/models"
	"github.com/bluesky-social/modqueue/notify"
	"github.com/bluesky-social/modqueue/pkg/metrics"
	"github.com/bluesky-social/modqueue/pkg/robusthttp"
	"github.com/bluesky-social/modqueue/queue"
	"github.com/bluesky-social/modqueue/token"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	slogecho "github.com/samber/slog-echo"
	cli "github.com/urfave/cli/v2"
	"gorm.io/gorm"
)

type Server struct {
	echo   *echo.Echo
	httpd  *http.Server
	logger *slog.Logger
	db     *gorm.DB
	rdb    *redis.Client

	auth        authz.Authorizer
	queue       *queue.Service
	rules       rules.ConfigStore
	tokens      *token.Service
	credibility *credibility.Scorer
	appeals     *appeals.Service
}

// Process configuration, built once from CLI flags and environment at startup.
type Config struct {
	Logger *slog.Logger
	Bind   string
	// for HTTP request metrics; prometheus.DefaultRegisterer when nil
	MetricsRegisterer prometheus.Registerer

	JWTSecret   string
	JWTAudience string

	RedisURL string
	CacheTTL time.Duration

	ClassifierURL    string
	ClassifierAPIKey string
	Classifier       classifier.Config

	ContentHost       string
	ContentAdminToken string
	SlackWebhookURL   string

	Queue             queue.Config
	QueueRanking      string
	Tokens            token.Config
	CredibilityPolicy appeals.CredibilityPolicy
}

func configFromCLI(cctx *cli.Context) (Config, error) {
	policy, err := appeals.ParseCredibilityPolicy(cctx.String("appeal-credibility-policy"))
	if err != nil {
		return Config{}, err
	}
	qcfg := queue.DefaultConfig()
	qcfg.AutoRejectConfidence = cctx.Float64("auto-reject-confidence")
	qcfg.AutoApprove = cctx.Bool("auto-approve")
	qcfg.AutoApproveBelow = cctx.Float64("auto-approve-below")
	qcfg.TrustedReporterWeight = cctx.Float64("trusted-reporter-weight")
	qcfg.TokenTTL = cctx.Duration("token-ttl")
	qcfg.TokenMaxUses = cctx.Int("token-max-uses")

	return Config{
		Bind:             cctx.String("bind"),
		JWTSecret:        cctx.String("jwt-secret"),
		JWTAudience:      cctx.String("jwt-audience"),
		RedisURL:         cctx.String("redis-url"),
		CacheTTL:         cctx.Duration("cache-ttl"),
		ClassifierURL:    cctx.String("classifier-url"),
		ClassifierAPIKey: cctx.String("classifier-api-key"),
		Classifier: classifier.Config{
			Timeout:            cctx.Duration("classifier-timeout"),
			Fallback:           cctx.Bool("classifier-fallback"),
			DefaultSensitivity: cctx.Float64("classifier-sensitivity"),
			RateLimit:          cctx.Float64("classifier-rate-limit"),
		},
		ContentHost:       cctx.String("content-host"),
		ContentAdminToken: cctx.String("content-admin-token"),
		SlackWebhookURL:   cctx.String("slack-webhook-url"),
		Queue:             qcfg,
		QueueRanking:      cctx.String("queue-ranking"),
		Tokens: token.Config{
			DefaultTTL:     cctx.Duration("token-ttl"),
			DefaultMaxUses: cctx.Int("token-max-uses"),
		},
		CredibilityPolicy: policy,
	}, nil
}

func migrate(db *gorm.DB) error {
	if err := models.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

func NewServer(db *gorm.DB, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	if config.JWTSecret == "" {
		return nil, fmt.Errorf("a JWT secret is required")
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 30 * time.Second
	}

	if err := migrate(db); err != nil {
		return nil, err
	}

	var counters countstore.CountStore
	var cache cachestore.CacheStore
	var flags flagstore.FlagStore
	var rdb *redis.Client
	if config.RedisURL != "" {
		opt, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis URL: %v", err)
		}
		rdb = redis.NewClient(opt)
		// check redis connection
		_, err = rdb.Ping(context.TODO()).Result()
		if err != nil {
			return nil, fmt.Errorf("redis ping failed: %v", err)
		}
		counters = countstore.NewRedisCountStore(rdb)
		cache = cachestore.NewRedisCacheStore(rdb, config.CacheTTL)
		flags = flagstore.NewRedisFlagStore(rdb)
	} else {
		counters = countstore.NewMemCountStore()
		cache = cachestore.NewMemCacheStore(5_000, config.CacheTTL)
		flags = flagstore.NewMemFlagStore()
	}

	registry := content.NewRegistry()
	if config.ContentHost != "" {
		svc := &content.HTTPService{
			Client:     robusthttp.NewClient(robusthttp.WithLogger(logger)),
			Host:       config.ContentHost,
			AdminToken: config.ContentAdminToken,
		}
		for _, ct := range content.AllTypes {
			registry.RegisterFetcher(ct, svc.FetcherFor(ct))
		}
		registry.SetDefaultActor(svc)
	} else {
		logger.Warn("no content service configured, content actions will only be logged")
		registry.SetDefaultActor(content.LogActor{Logger: logger})
	}

	var upstream classifier.Upstream
	if config.ClassifierURL != "" {
		client := robusthttp.NewClient(robusthttp.WithLogger(logger), robusthttp.WithMaxRetries(1))
		upstream = classifier.NewHTTPUpstream(client, config.ClassifierURL, config.ClassifierAPIKey)
	} else {
		logger.Warn("no upstream classifier configured")
	}
	adapter := classifier.NewAdapter(upstream, classifier.NewHeuristic(classifier.DefaultHeuristicCategories), config.Classifier, logger)

	var notifier notify.Notifier = notify.LogNotifier{Logger: logger.With("component", "notify")}
	if config.SlackWebhookURL != "" {
		notifier = notify.Multi{
			notifier,
			&notify.SlackNotifier{
				WebhookURL: config.SlackWebhookURL,
				Client:     robusthttp.NewClient(robusthttp.WithLogger(logger)),
			},
		}
	}

	ruleConfigs := rules.NewCachedConfigStore(rules.NewGormConfigStore(db), cache, logger.With("component", "rules"))
	tokens := token.NewService(token.NewGormStore(db), config.Tokens, logger.With("component", "token"))
	scorer := credibility.NewScorer(credibility.NewGormStore(db), cache, logger.With("component", "credibility"))

	var ranker queue.Ranker = queue.PriorityNewest
	if config.QueueRanking != "" {
		r, err := queue.ParseRanker(config.QueueRanking)
		if err != nil {
			return nil, err
		}
		ranker = r
	}

	qsvc := &queue.Service{
		Store:       queue.NewGormStore(db),
		Classifier:  adapter,
		Rules:       rules.NewEngine(ruleConfigs, logger.With("component", "rules")),
		Content:     registry,
		Tokens:      tokens,
		Credibility: scorer,
		Flags:       flags,
		Counters:    counters,
		Cache:       cache,
		Notifier:    notifier,
		Ranker:      ranker,
		Config:      config.Queue,
		Logger:      logger.With("component", "queue"),
	}
	asvc := &appeals.Service{
		Store:       appeals.NewGormStore(db),
		Tokens:      tokens,
		Content:     registry,
		Credibility: scorer,
		Notifier:    notifier,
		Policy:      config.CredibilityPolicy,
		Logger:      logger.With("component", "appeals"),
	}

	e := echo.New()

	// httpd
	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	srv := &Server{
		echo:        e,
		logger:      logger,
		db:          db,
		rdb:         rdb,
		auth:        authz.NewJWTAuthorizer([]byte(config.JWTSecret), config.JWTAudience),
		queue:       qsvc,
		rules:       ruleConfigs,
		tokens:      tokens,
		credibility: scorer,
		appeals:     asvc,
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "modqd",
		Registerer: config.MetricsRegisterer,
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.HTTPErrorHandler = srv.errorHandler
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000, // 365 days
	}))

	e.GET("/_health", srv.HandleHealthCheck)
	e.GET("/metrics", echoprometheus.NewHandler())
	srv.registerRoutes(e.Group("/v1", srv.authMiddleware))

	return srv, nil
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

func (srv *Server) RunAPI() error {
	srv.logger.Info("starting server", "bind", srv.httpd.Addr)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				srv.logger.Error("HTTP server shutting down unexpectedly", "err", err)
			}
		}
	}()

	// Wait for a signal to exit.
	srv.logger.Info("registering OS exit signal handler")
	quit := make(chan struct{})
	exitSignals := make(chan os.Signal, 1)
	signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-exitSignals
		srv.logger.Info("received OS exit signal", "signal", sig)

		if err := srv.Shutdown(); err != nil {
			srv.logger.Error("HTTP server shutdown error", "err", err)
		}

		close(quit)
	}()
	<-quit
	srv.logger.Info("graceful shutdown complete")
	return nil
}

// Dependencies the metrics listener's /ping reports on.
func (srv *Server) ReadinessChecks() []metrics.Check {
	checks := []metrics.Check{{
		Name: "database",
		Ping: func(ctx context.Context) error {
			sqlDB, err := srv.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}}
	if srv.rdb != nil {
		checks = append(checks, metrics.Check{
			Name: "redis",
			Ping: func(ctx context.Context) error {
				return srv.rdb.Ping(ctx).Err()
			},
		})
	}
	return checks
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := srv.httpd.Shutdown(ctx)
	if srv.rdb != nil {
		if cerr := srv.rdb.Close(); cerr != nil {
			srv.logger.Error("closing redis client", "err", cerr)
		}
	}
	return err
}
