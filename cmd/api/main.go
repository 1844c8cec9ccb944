package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adriejeon/featureDetective/internal/api"
	"github.com/adriejeon/featureDetective/internal/config"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to base crawler configuration")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	maxConc := flag.Int("max-concurrency", 3, "Maximum concurrent crawls")
	flag.Parse()

	baseCfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting api server", "addr", *addr, "max_concurrency", *maxConc)

	manager := api.NewManager(*baseCfg, *maxConc, ctx, logger)
	server := api.NewServer(manager)

	httpServer := &http.Server{
		Addr:    *addr,
		Handler: server,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}
		manager.Shutdown()
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
	log.Println("api server stopped")
}
