package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/docopt/docopt-go"

	"github.com/simatei/kpi/internal/auth"
	"github.com/simatei/kpi/internal/backend"
	"github.com/simatei/kpi/internal/config"
	"github.com/simatei/kpi/internal/credential"
	"github.com/simatei/kpi/internal/gateway"
	"github.com/simatei/kpi/internal/gelf"
	"github.com/simatei/kpi/internal/handler"
	"github.com/simatei/kpi/internal/metrics"
	"github.com/simatei/kpi/internal/permission"
	"github.com/simatei/kpi/internal/repository"
	"github.com/simatei/kpi/internal/router"
	"github.com/simatei/kpi/internal/service"
)

const version = "0.1.0"

const usage = `kpi submission data proxy.

Usage:
    kpi [--config=<path>]
    kpi token <username> [--config=<path>] [--ttl=<duration>]
    kpi -h | --help
    kpi --version

Options:
    -h --help          Show this screen.
    --version          Show version.
    --config=<path>    YAML configuration file; environment variables override it.
    --ttl=<duration>   Lifetime of an issued API token [default: 720h].`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		panic(err)
	}
	configPath, _ := opts.String("--config")

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if issue, _ := opts.Bool("token"); issue {
		username, _ := opts.String("<username>")
		ttlStr, _ := opts.String("--ttl")
		if err := printToken(cfg, username, ttlStr); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	docs, err := backend.OpenDocStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open document store", "backend", cfg.DocStore, "err", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		docs.Close(closeCtx)
	}()
	// Index builds can take minutes on large collections and must not delay
	// serving.
	go backend.EnsureIndexes(context.Background(), docs, logger.WithPrefix("init"))

	raw, err := backend.OpenRawLog(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to open raw log", "driver", cfg.RawLogDriver, "err", err)
	}
	defer raw.Close()

	var cache credential.Cache = credential.NewMemoryCache()
	if cfg.RedisAddr != "" {
		rc, err := credential.NewRedisCache(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, caching tokens in memory", "addr", cfg.RedisAddr, "err", err)
		} else {
			defer rc.Close()
			cache = rc
		}
	}

	m := metrics.NewRegistry()
	creds := credential.NewStore(cache, docs, cfg.KoBoCATTokenSecret, cfg.KoBoCATAuthScheme, logger)
	kc := gateway.New(&http.Client{}, creds, gateway.URLs{
		Public:   cfg.KoBoCATURL,
		Internal: cfg.KoBoCATInternalURL,
	}, m, logger)

	svc := service.NewSubmissionService(
		repository.NewDeploymentRepo(docs),
		permission.NewResolver(docs),
		repository.NewSubmissionRepo(docs, raw, cfg.BatchSize),
		kc, m, logger,
		service.Options{
			ListLimit:       int64(cfg.SubmissionListLimit),
			BulkConcurrency: cfg.BulkConcurrency,
		},
	)

	r := router.New(cfg.JWTSecret, logger, m, handler.NewSubmissionHandler(svc, logger), map[string]router.Pinger{
		"docstore": docs,
		"rawlog":   raw,
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("server starting", "addr", cfg.HTTPAddr, "docstore", cfg.DocStore, "rawlog", cfg.RawLogDriver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", "err", err)
	}
	logger.Info("server stopped")
}

// printToken issues an API bearer token for username signed with the
// configured JWT secret.
func printToken(cfg *config.Config, username, ttlStr string) error {
	ttl, err := time.ParseDuration(ttlStr)
	if err != nil || ttl <= 0 {
		return fmt.Errorf("invalid --ttl %q", ttlStr)
	}
	tok, err := auth.GenerateToken(cfg.JWTSecret, username, ttl)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	fmt.Println(tok)
	return nil
}

func newLogger(cfg *config.Config) *log.Logger {
	var out io.Writer = os.Stderr
	var gelfErr error
	if cfg.GelfAddr != "" {
		w, err := gelf.New(cfg.GelfAddr, "kpi")
		if err != nil {
			gelfErr = err
		} else {
			out = io.MultiWriter(os.Stderr, w)
		}
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	logger := log.NewWithOptions(out, log.Options{
		Formatter:       log.JSONFormatter,
		ReportTimestamp: true,
		Level:           level,
	})
	if gelfErr != nil {
		logger.Warn("GELF init failed", "addr", cfg.GelfAddr, "err", gelfErr)
	} else if cfg.GelfAddr != "" {
		logger.Info("GELF logging enabled", "addr", cfg.GelfAddr)
	}
	return logger
}
