package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adriejeon/featureDetective/internal/config"
	"github.com/adriejeon/featureDetective/internal/crawler"
	"github.com/adriejeon/featureDetective/internal/export"
	"github.com/adriejeon/featureDetective/internal/storage"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to crawler configuration file")
	jsonPath := flag.String("export-json", "", "Write full crawl results as JSON to this file")
	csvPath := flag.String("export-csv", "", "Write a crawl summary as CSV to this file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	engine, err := crawler.NewEngine(*cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise engine: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := engine.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "crawl stopped with error: %v\n", err)
		os.Exit(1)
	}

	if *jsonPath != "" {
		if err := writeFile(*jsonPath, func(f *os.File) error {
			return export.JSON(f, result, cfg.Crawl)
		}); err != nil {
			fmt.Fprintf(os.Stderr, "json export failed: %v\n", err)
			os.Exit(1)
		}
	}
	if *csvPath != "" {
		if err := writeFile(*csvPath, func(f *os.File) error {
			return export.CSV(f, result.Pages)
		}); err != nil {
			fmt.Fprintf(os.Stderr, "csv export failed: %v\n", err)
			os.Exit(1)
		}
	}

	if cfg.DB.Driver != "" && cfg.DB.DSN != "" {
		if err := persist(cfg, result); err != nil {
			fmt.Fprintf(os.Stderr, "persist failed: %v\n", err)
			os.Exit(1)
		}
	}

	stats := result.Stats
	fmt.Printf("crawl %s: %d attempted, %d succeeded, %d failed in %s\n",
		stats.State, stats.PagesAttempted, stats.PagesSucceeded, stats.PagesFailed,
		stats.Elapsed.Round(time.Millisecond))
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func persist(cfg *config.Config, result *crawler.Result) error {
	writer, err := storage.NewSQLWriter(cfg.DB)
	if err != nil {
		return err
	}
	defer writer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	runID := time.Now().UTC().Format("20060102T150405Z")
	return writer.SaveAll(ctx, runID, result.Pages)
}
