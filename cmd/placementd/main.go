// Package main is the entry point for the LimiQuantix placement service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/limiquantix/placement/internal/auth"
	"github.com/limiquantix/placement/internal/config"
	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/repository/etcd"
	"github.com/limiquantix/placement/internal/repository/postgres"
	"github.com/limiquantix/placement/internal/repository/redis"
	"github.com/limiquantix/placement/internal/server"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	issueToken := flag.String("issue-token", "", "Print a bearer token for <subject>:<role> and exit")
	flag.Parse()

	if *showVersion {
		println("LimiQuantix Placement")
		println("Version:", version)
		println("Commit:", commit)
		println("Build Date:", buildDate)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		println("Failed to load config:", err.Error())
		os.Exit(1)
	}

	if *issueToken != "" {
		if err := printToken(cfg.Auth, *issueToken); err != nil {
			println("Failed to issue token:", err.Error())
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	defer logger.Sync()

	logger.Info("Starting LimiQuantix Placement",
		zap.String("version", version),
		zap.String("commit", commit),
	)

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received signal", zap.String("signal", sig.String()))
		cancel()
	}()

	opts, err := connectInfrastructure(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect infrastructure", zap.Error(err))
	}

	// Create server
	srv, err := server.New(cfg, logger, opts...)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	// Run server
	if err := srv.Run(ctx); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}

	logger.Info("Goodbye!")
}

// connectInfrastructure opens the backends enabled in the configuration.
func connectInfrastructure(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]server.ServerOption, error) {
	var opts []server.ServerOption

	if cfg.Database.Enabled {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		db, err := postgres.NewDB(dialCtx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, server.WithPostgreSQL(db))
	}

	if cfg.Redis.Enabled {
		cache, err := redis.NewCache(cfg.Redis, logger)
		if err != nil {
			// Lookups fall back to the topology store
			logger.Warn("Redis unavailable, topology cache disabled", zap.Error(err))
		} else {
			opts = append(opts, server.WithRedis(cache))
		}
	}

	if cfg.Etcd.Enabled {
		client, err := etcd.NewClient(cfg.Etcd, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, server.WithEtcd(client))
	}

	return opts, nil
}

// printToken signs a token for "<subject>:<role>" and writes it to stdout.
func printToken(cfg config.AuthConfig, arg string) error {
	subject, role, ok := strings.Cut(arg, ":")
	if !ok {
		role = string(domain.RoleScheduler)
	}

	manager := auth.NewJWTManager(cfg)
	token, err := manager.Generate(subject, domain.Role(role))
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Token for %s (%s) valid for %s\n", subject, role, manager.TokenExpiry())
	fmt.Println(token.AccessToken)
	return nil
}

// setupLogger configures the zap logger based on configuration.
func setupLogger(cfg config.LoggingConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	zapConfig.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapConfig.Build()
	if err != nil {
		panic("Failed to create logger: " + err.Error())
	}

	return logger
}
