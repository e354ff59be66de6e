package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"vyapaar/internal/config"
	"vyapaar/internal/listener"
	"vyapaar/internal/logging"
	"vyapaar/internal/notify"
	"vyapaar/internal/pipeline"
	"vyapaar/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	uploads := pipeline.NewUploadService(db, storage.NewSnapshotStore(cfg.DataDir),
		pipeline.NewAnalyzerFromConfig(cfg, nil), pipeline.NewForecasterFromConfig(cfg), logger)

	var summaries *notify.SummaryService
	if cfg.MailListenerAutoNotify && strings.TrimSpace(cfg.TwilioSID) != "" {
		summaries = notify.NewSummaryService(db, uploads, notify.NewClient(cfg), logger)
	}

	svc := listener.NewService(db, cfg, pipeline.NewProcessingService(db, uploads, logger), summaries, logger)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	must(svc.Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
