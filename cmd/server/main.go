package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/andy6609/direct-chat-server/internal/chat"
	"github.com/andy6609/direct-chat-server/internal/config"
	"github.com/andy6609/direct-chat-server/internal/history"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chat server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	addr := flag.String("addr", "", "chat listen address, overrides HOST and PORT")
	envFile := flag.String("env-file", ".env", "optional dotenv file")
	showHistory := flag.Int("history", 0, "print the last N chat log records and exit")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		return exitConfig, err
	}
	if *addr == "" {
		*addr = cfg.Addr()
	}
	logger := logs.GetLoggerFromString(cfg.LogLevel)

	store, closeStore, err := openHistory(cfg, logger)
	if err != nil {
		return exitRuntime, err
	}
	defer closeStore()

	if *showHistory > 0 {
		if err := printHistory(context.Background(), os.Stdout, store, *showHistory); err != nil {
			return exitRuntime, err
		}
		return exitOK, nil
	}

	srv := chat.NewServer(*addr, store, logger, chat.Options{
		OutboxSize:   cfg.OutboxSize,
		MaxFrameSize: cfg.MaxFrameSize,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := srv.Start(); err != nil {
		return exitRuntime, fmt.Errorf("failed to start server: %w", err)
	}

	var httpSrv *http.Server
	if cfg.HTTPEnabled() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/ws", srv.WebSocketHandler())
		httpSrv = &http.Server{Addr: cfg.HTTPAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("http endpoint started", "addr", cfg.HTTPAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http endpoint failed", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	quit := make(chan struct{})
	go func() {
		if console(os.Stdin, os.Stdout) {
			close(quit)
		}
	}()

	select {
	case <-ctx.Done():
	case <-quit:
	}

	srv.Stop()
	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = httpSrv.Shutdown(shutdownCtx)
		cancel()
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Wait(drainCtx); err != nil {
		logger.Warn("exiting with sessions still open", "connected", srv.Registry().Len(), "error", err)
	}
	return exitOK, nil
}

func openHistory(cfg config.Config, logger *slog.Logger) (history.Store, func(), error) {
	switch cfg.HistoryBackend {
	case "badger":
		db, err := badger.Open(badger.DefaultOptions(cfg.BadgerPath).WithLoggingLevel(badger.WARNING))
		if err != nil {
			return nil, nil, fmt.Errorf("open chat history: %w", err)
		}
		return history.NewBadger(db, logger), func() {
			logger.Info("Closing BadgerDB...")
			_ = db.Close()
		}, nil
	default:
		store, err := history.OpenJSONFile(cfg.HistoryPath, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}
