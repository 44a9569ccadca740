// cmd/passwordreplacer/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"

	"github.com/highlight-run/passwordreplacer/internal/api"
	"github.com/highlight-run/passwordreplacer/internal/checkpoint"
	"github.com/highlight-run/passwordreplacer/internal/cloud"
	"github.com/highlight-run/passwordreplacer/internal/config"
	"github.com/highlight-run/passwordreplacer/internal/dispatch"
	"github.com/highlight-run/passwordreplacer/internal/invoke"
	"github.com/highlight-run/passwordreplacer/internal/ledger"
	"github.com/highlight-run/passwordreplacer/internal/storage"
	"github.com/highlight-run/passwordreplacer/pkg/logger"
)

func main() {
	cfg := config.Load()

	if err := newApp(cfg).Run(os.Args); err != nil {
		logger.Log.Fatal().Err(err).Msg("dispatch failed")
	}
}

func newApp(cfg *config.Config) *cli.App {
	return &cli.App{
		Name:      "passwordreplacer",
		Usage:     "Invoke the password replacer function for every session-contents object under a prefix",
		ArgsUsage: "<prefix> [continuation-token]",
		Flags:     newFlags(cfg),
		Before: func(c *cli.Context) error {
			applyFlags(c, cfg)
			logger.SetLevel(cfg.Log.Level)
			logger.SetFormat(cfg.Log.Format)
			return nil
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 || c.NArg() > 2 {
				return cli.Exit("usage: passwordreplacer [flags] <prefix> [continuation-token]", 2)
			}
			if err := cfg.Validate(); err != nil {
				return cli.Exit(err.Error(), 2)
			}
			return run(c.Context, cfg, c.Args().Get(0), c.Args().Get(1), c.Bool("resume"))
		},
	}
}

func newFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "bucket", Usage: "Bucket to list", Value: cfg.Dispatch.Bucket},
		&cli.StringFlag{Name: "function", Usage: "Function to invoke for each matching object", Value: cfg.Dispatch.Function},
		&cli.StringFlag{Name: "marker", Usage: "Substring an object key must contain", Value: cfg.Dispatch.Marker},
		&cli.IntFlag{Name: "workers", Usage: "Concurrent invocations per page", Value: cfg.Dispatch.Workers},
		&cli.IntFlag{Name: "page-size", Usage: "Keys requested per listing page (max 1000)", Value: cfg.Dispatch.PageSize},
		&cli.BoolFlag{Name: "dry-run", Usage: "List and filter without invoking", Value: cfg.Dispatch.DryRun},
		&cli.StringFlag{Name: "region", Usage: "AWS region", Value: cfg.AWS.Region},
		&cli.StringFlag{Name: "endpoint-url", Usage: "Override the AWS endpoint (e.g. localstack)", Value: cfg.AWS.EndpointURL},
		&cli.StringFlag{Name: "storage-backend", Usage: "Listing backend: s3 or minio", Value: cfg.Storage.Backend},
		&cli.StringFlag{Name: "storage-endpoint", Usage: "Endpoint for the minio backend", Value: cfg.Storage.Endpoint},
		&cli.BoolFlag{Name: "checkpoint", Usage: "Store the last completed token in Redis", Value: cfg.Checkpoint.Enabled},
		&cli.BoolFlag{Name: "resume", Usage: "Start from the stored checkpoint when no token argument is given"},
		&cli.BoolFlag{Name: "ledger", Usage: "Record dispatched keys in Postgres", Value: cfg.Ledger.Enabled},
		&cli.StringFlag{Name: "status-addr", Usage: "Serve progress and metrics on this address", Value: cfg.Server.StatusAddr},
		&cli.StringFlag{Name: "log-level", Usage: "Log level", Value: cfg.Log.Level},
		&cli.StringFlag{Name: "log-format", Usage: "Log format: console or json", Value: cfg.Log.Format},
	}
}

// applyFlags copies flag values over the environment-derived config. Flag
// defaults come from cfg, so unset flags leave it untouched.
func applyFlags(c *cli.Context, cfg *config.Config) {
	cfg.Dispatch.Bucket = c.String("bucket")
	cfg.Dispatch.Function = c.String("function")
	cfg.Dispatch.Marker = c.String("marker")
	cfg.Dispatch.Workers = c.Int("workers")
	cfg.Dispatch.PageSize = c.Int("page-size")
	cfg.Dispatch.DryRun = c.Bool("dry-run")
	cfg.AWS.Region = c.String("region")
	cfg.AWS.EndpointURL = c.String("endpoint-url")
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(c.String("storage-backend")))
	cfg.Storage.Endpoint = c.String("storage-endpoint")
	cfg.Checkpoint.Enabled = c.Bool("checkpoint")
	cfg.Ledger.Enabled = c.Bool("ledger")
	cfg.Server.StatusAddr = c.String("status-addr")
	cfg.Log.Level = c.String("log-level")
	cfg.Log.Format = c.String("log-format")
}

func run(parent context.Context, cfg *config.Config, prefix, token string, resume bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := cloud.LoadConfig(ctx, cfg.AWS)
	if err != nil {
		return err
	}

	lister, err := newLister(cfg, awsCfg)
	if err != nil {
		return err
	}

	var invoker invoke.Invoker = invoke.NewLambdaInvokerFromConfig(awsCfg, cfg.Dispatch.Function)
	if cfg.Dispatch.DryRun {
		invoker = invoke.NewNoopInvoker()
	}

	store, err := checkpoint.New(cfg.Checkpoint)
	if err != nil {
		return err
	}

	recorder := ledger.NewNoop()
	if cfg.Ledger.Enabled {
		db, err := ledger.Open(cfg.Ledger.DSN())
		if err != nil {
			return err
		}
		defer db.Close()

		pg := ledger.NewPostgres(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		recorder = pg
	}

	start, err := dispatch.ResolveStartToken(ctx, store, lister.Bucket(), prefix, token, resume)
	if err != nil {
		return err
	}

	d := dispatch.New(lister, invoker, dispatch.Config{
		Marker:   cfg.Dispatch.Marker,
		Workers:  cfg.Dispatch.Workers,
		Function: cfg.Dispatch.Function,
		DryRun:   cfg.Dispatch.DryRun,
	}, dispatch.WithCheckpoints(store), dispatch.WithLedger(recorder))

	if cfg.Server.StatusAddr != "" {
		srv := startStatusServer(cfg, d.Progress())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Log.Warn().Err(err).Msg("status server forced to shutdown")
			}
		}()
	}

	logger.Log.Info().
		Str("bucket", lister.Bucket()).
		Str("prefix", prefix).
		Str("function", cfg.Dispatch.Function).
		Str("marker", cfg.Dispatch.Marker).
		Int("workers", cfg.Dispatch.Workers).
		Bool("dry_run", cfg.Dispatch.DryRun).
		Msg("starting dispatch")

	return d.Run(ctx, prefix, start)
}

func newLister(cfg *config.Config, awsCfg aws.Config) (storage.Lister, error) {
	switch cfg.Storage.Backend {
	case config.BackendMinio:
		return storage.NewMinioLister(storage.MinioConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.AWS.AccessKeyID,
			SecretKey: cfg.AWS.SecretAccessKey,
			Bucket:    cfg.Dispatch.Bucket,
			Region:    cfg.AWS.Region,
			UseSSL:    cfg.Storage.UseSSL,
			PageSize:  cfg.Dispatch.PageSize,
		})
	default:
		return storage.NewS3ListerFromConfig(awsCfg, cfg.Dispatch.Bucket, cfg.Dispatch.PageSize), nil
	}
}

func startStatusServer(cfg *config.Config, progress *dispatch.Progress) *http.Server {
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:              cfg.Server.StatusAddr,
		Handler:           api.NewRouter(progress, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Log.Info().Str("addr", cfg.Server.StatusAddr).Msg("Starting status server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error().Err(err).Msg("status server failed")
		}
	}()

	return srv
}
