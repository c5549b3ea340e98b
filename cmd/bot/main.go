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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"tournament-desk/internal/config"
	"tournament-desk/internal/ledger"
	"tournament-desk/internal/qr"
	"tournament-desk/internal/server"
	"tournament-desk/internal/tgbot"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err == nil {
		err = cfg.ValidateBot()
	}
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("stopped", "error", err)
		os.Exit(1)
	}
	log.Info("bye")
}

// run owns every resource the bot opens, so they are released before main
// decides the exit code.
func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, store, err := ledger.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s ledger: %w", cfg.LedgerBackend, err)
	}
	if store != nil {
		defer store.Close()
	}

	opts := tgbot.Options{
		Operators: cfg.Operators,
		QR:        qr.Options{FPS: cfg.QRFPS, Box: cfg.QRBox},
		Location:  cfg.Location(),
		Timeout:   cfg.RequestTimeout,
		Log:       log.With("component", "bot"),
	}
	if store != nil && cfg.ExportSecret != "" {
		opts.ExportURL = server.ExportURL(cfg.BasePublicURL, cfg.HTTPAddr, cfg.ExportSecret)
	}
	botApp, err := tgbot.New(cfg.TelegramToken, backend, opts)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return botApp.Run(ctx)
	})

	// A local ledger is also served to the web desk.
	if store != nil {
		httpSrv := server.New(store, server.Options{
			Addr:         cfg.HTTPAddr,
			ExportSecret: cfg.ExportSecret,
			Log:          log.With("component", "http"),
		})
		g.Go(func() error {
			log.Info("HTTP listening", "addr", cfg.HTTPAddr, "backend", cfg.LedgerBackend)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
