package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bluesky-social/modqueue/pkg/metrics"
	"github.com/bluesky-social/modqueue/util/cliutil"
	"github.com/bluesky-social/modqueue/util/svcutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "modqd",
		Usage:   "content moderation queue daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			Value:   "info",
			EnvVars: []string{"MODQ_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database connection string (sqlite or postgres)",
			Value:   "sqlite://data/modqd/modq.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
			Value:   40,
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL for counters, flags and caches; in-process stores are used when empty",
			EnvVars: []string{"MODQ_REDIS_URL"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		migrateCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":4100",
			EnvVars: []string{"MODQ_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":4101",
			EnvVars: []string{"MODQ_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:     "jwt-secret",
			Usage:    "HS256 secret shared with the auth service, for verifying caller tokens",
			Required: true,
			EnvVars:  []string{"MODQ_JWT_SECRET"},
		},
		&cli.StringFlag{
			Name:    "jwt-audience",
			Usage:   "expected 'aud' claim on caller tokens; not checked when empty",
			EnvVars: []string{"MODQ_JWT_AUDIENCE"},
		},
		&cli.StringFlag{
			Name:    "classifier-url",
			Usage:   "full URL of the upstream moderation classifier endpoint",
			EnvVars: []string{"MODQ_CLASSIFIER_URL"},
		},
		&cli.StringFlag{
			Name:    "classifier-api-key",
			EnvVars: []string{"MODQ_CLASSIFIER_API_KEY"},
		},
		&cli.DurationFlag{
			Name:    "classifier-timeout",
			Value:   10 * time.Second,
			EnvVars: []string{"MODQ_CLASSIFIER_TIMEOUT"},
		},
		&cli.BoolFlag{
			Name:    "classifier-fallback",
			Usage:   "use the keyword heuristic when the upstream classifier fails, instead of refusing submissions",
			Value:   true,
			EnvVars: []string{"MODQ_CLASSIFIER_FALLBACK"},
		},
		&cli.Float64Flag{
			Name:    "classifier-sensitivity",
			Usage:   "default flagging threshold on category scores; upstream's own flag is used when zero",
			EnvVars: []string{"MODQ_CLASSIFIER_SENSITIVITY"},
		},
		&cli.Float64Flag{
			Name:    "classifier-rate-limit",
			Usage:   "max requests per second to the upstream classifier; unlimited when zero",
			Value:   20,
			EnvVars: []string{"MODQ_CLASSIFIER_RATE_LIMIT"},
		},
		&cli.StringFlag{
			Name:    "content-host",
			Usage:   "method, hostname, and port of the content service (fetch, hide, restore, replace)",
			EnvVars: []string{"MODQ_CONTENT_HOST"},
		},
		&cli.StringFlag{
			Name:    "content-admin-token",
			EnvVars: []string{"MODQ_CONTENT_ADMIN_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "full URL of slack webhook for moderator notifications",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
		&cli.Float64Flag{
			Name:    "auto-reject-confidence",
			Value:   0.95,
			EnvVars: []string{"MODQ_AUTO_REJECT_CONFIDENCE"},
		},
		&cli.BoolFlag{
			Name:    "auto-approve",
			EnvVars: []string{"MODQ_AUTO_APPROVE"},
		},
		&cli.Float64Flag{
			Name:    "auto-approve-below",
			Value:   0.1,
			EnvVars: []string{"MODQ_AUTO_APPROVE_BELOW"},
		},
		&cli.Float64Flag{
			Name:    "trusted-reporter-weight",
			Value:   0.8,
			EnvVars: []string{"MODQ_TRUSTED_REPORTER_WEIGHT"},
		},
		&cli.DurationFlag{
			Name:    "token-ttl",
			Value:   72 * time.Hour,
			EnvVars: []string{"MODQ_TOKEN_TTL"},
		},
		&cli.IntFlag{
			Name:    "token-max-uses",
			Value:   1,
			EnvVars: []string{"MODQ_TOKEN_MAX_USES"},
		},
		&cli.StringFlag{
			Name:    "queue-ranking",
			Usage:   "queue listing order: priority-newest or priority-oldest",
			Value:   "priority-newest",
			EnvVars: []string{"MODQ_QUEUE_RANKING"},
		},
		&cli.StringFlag{
			Name:    "appeal-credibility-policy",
			Usage:   "which reporters an appeal decision counts against: report-only, always, or never",
			Value:   "report-only",
			EnvVars: []string{"MODQ_APPEAL_CREDIBILITY_POLICY"},
		},
		&cli.DurationFlag{
			Name:    "cache-ttl",
			Usage:   "how stale rule configs and analytics may be",
			Value:   30 * time.Second,
			EnvVars: []string{"MODQ_CACHE_TTL"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		logger := svcutil.ConfigLogger(cctx, os.Stdout)
		configOTEL("modqd")

		db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
		if err != nil {
			return err
		}

		config, err := configFromCLI(cctx)
		if err != nil {
			return err
		}
		config.Logger = logger

		srv, err := NewServer(db, config)
		if err != nil {
			return err
		}

		go func() {
			if err := metrics.RunServer(ctx, cancel, cctx.String("metrics-listen"), srv.ReadinessChecks()...); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		return srv.RunAPI()
	},
}

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "create or update database tables, then exit",
	Action: func(cctx *cli.Context) error {
		logger := svcutil.ConfigLogger(cctx, os.Stdout)
		db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
		if err != nil {
			return err
		}
		if err := migrate(db); err != nil {
			return err
		}
		logger.Info("database migrated")
		return nil
	},
}
