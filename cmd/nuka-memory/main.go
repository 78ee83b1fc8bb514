package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nidhogg/nuka-memory/internal/api"
	"github.com/nidhogg/nuka-memory/internal/config"
	"github.com/nidhogg/nuka-memory/internal/memory"
	"github.com/nidhogg/nuka-memory/internal/registry"
	"github.com/nidhogg/nuka-memory/internal/resolver"
)

func main() {
	_ = godotenv.Load()

	srvCfg, err := config.LoadServer()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := newLogger(srvCfg.LogLevel)
	defer logger.Sync()

	logger.Info("Starting Nuka Memory...")

	// Load and resolve the memory configuration
	raw, err := config.LoadRaw(srvCfg.ConfigPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", srvCfg.ConfigPath), zap.Error(err))
	}

	reg := registry.Default()
	reg.SetLogger(logger)
	resolved, err := resolver.New(reg, logger).Resolve(raw)
	if err != nil {
		logFieldErrors(logger, err)
		logger.Fatal("failed to resolve config", zap.String("path", srvCfg.ConfigPath), zap.Error(err))
	}
	logger.Info("Config resolved",
		zap.String("path", srvCfg.ConfigPath),
		zap.String("collection", resolved.CollectionName),
		zap.Bool("graph", resolved.GraphStore != nil),
		zap.Bool("history", resolved.StoreHistory),
	)

	mem, err := memory.New(context.Background(), resolved, logger)
	if err != nil {
		resolved.Close()
		logger.Fatal("failed to initialize memory", zap.Error(err))
	}

	// Build HTTP handler
	handler := api.NewHandler(mem, logger)

	port := fmt.Sprintf("%d", srvCfg.Port)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Nuka Memory listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Nuka Memory...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	if err := mem.Close(); err != nil {
		logger.Warn("close memory", zap.Error(err))
	}
}

// logFieldErrors logs one line per failed validation rule.
func logFieldErrors(logger *zap.Logger, err error) {
	var ve *config.ValidationError
	if !errors.As(err, &ve) {
		return
	}
	for _, fe := range ve.Fields {
		logger.Error("invalid config field",
			zap.String("path", fe.Path),
			zap.String("reason", fe.Reason),
			zap.String("expected", fe.Expected),
			zap.String("actual", fe.Actual),
		)
	}
}

func newLogger(level string) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := cfg.Build()
	if err != nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}
