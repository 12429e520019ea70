package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/poudelpratik/fragmentrt/pkg/config"
	"github.com/poudelpratik/fragmentrt/pkg/gateway"
)

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	bootLogger, _ := zap.NewProduction()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger.Error("failed to load configuration", zap.Error(err))
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		bootLogger.Error("failed to build logger", zap.Error(err))
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize gateway", zap.Error(err))
		os.Exit(1)
	}

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: gw.Routes(),
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		logger.Error("failed to bind listen address", zap.String("addr", cfg.Addr()), zap.Error(err))
		os.Exit(1)
	}
	logger.Info("fragment runtime gateway listening", zap.String("addr", ln.Addr().String()))

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- server.Serve(ln)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serveErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	if err := gw.Close(shutdownCtx); err != nil {
		logger.Error("gateway close error", zap.Error(err))
	}

	fmt.Fprintln(os.Stdout, "gateway stopped")
}
