package listener

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"vyapaar/internal/config"
	"vyapaar/internal/connectors"
	"vyapaar/internal/logging"
	"vyapaar/internal/notify"
	"vyapaar/internal/pipeline"
	"vyapaar/internal/storage"
)

// Service polls a mailbox, turns mailed sales reports into snapshots and,
// when a summary service is set, sends each new snapshot's summary.
type Service struct {
	db        *storage.DB
	cfg       config.Config
	processor *pipeline.ProcessingService
	summaries *notify.SummaryService
	logger    *slog.Logger

	connect func(ctx context.Context, provider string) (connectors.MailConnector, error)
}

type CycleResult struct {
	Provider  string
	Fetched   int
	Stored    int
	Processed int
	Skipped   int
	Failed    int
	Notified  int
}

func NewService(db *storage.DB, cfg config.Config, processor *pipeline.ProcessingService, summaries *notify.SummaryService, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		db:        db,
		cfg:       cfg,
		processor: processor,
		summaries: summaries,
		logger:    logger,
		connect: func(ctx context.Context, provider string) (connectors.MailConnector, error) {
			return connectors.New(ctx, cfg, provider)
		},
	}
}

// Run repeats RunOnce every interval until ctx is cancelled. Cycle errors are
// logged and do not stop the loop.
func (s *Service) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.MailListenerIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "listener cycle failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

func (s *Service) RunOnce(ctx context.Context) (CycleResult, error) {
	ctx, _ = logging.EnsureTraceID(ctx)
	provider := strings.ToLower(strings.TrimSpace(s.cfg.MailListenerProvider))
	res := CycleResult{Provider: provider}

	conn, err := s.connect(ctx, provider)
	if err != nil {
		return res, err
	}
	fetched, err := connectors.NewFetchService(s.db, s.cfg.RawMailDir, conn, s.logger).
		FetchAndStore(ctx, s.cfg.MailListenerLabel, s.cfg.MailListenerFetchMax)
	if err != nil {
		return res, err
	}
	res.Fetched, res.Stored = fetched.Fetched, fetched.Stored

	processed, err := s.processor.ProcessPending(ctx, s.cfg.MailListenerProcessBatch, provider)
	if err != nil {
		return res, err
	}
	for _, p := range processed {
		switch p.Status {
		case pipeline.EmailProcessed:
			res.Processed++
		case pipeline.EmailSkipped:
			res.Skipped++
		default:
			res.Failed++
		}
		if s.cfg.MailListenerAutoNotify && s.summaries != nil {
			res.Notified += s.notifyStored(ctx, p)
		}
	}

	s.logger.InfoContext(ctx, "listener cycle done",
		slog.String("provider", provider),
		slog.Int("fetched", res.Fetched),
		slog.Int("stored", res.Stored),
		slog.Int("processed", res.Processed),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed),
		slog.Int("notified", res.Notified),
	)
	return res, nil
}

func (s *Service) notifyStored(ctx context.Context, p pipeline.ProcessResult) int {
	sent := 0
	for _, file := range p.Stored {
		if _, err := s.summaries.SendSummary(ctx, p.Phone, file); err != nil {
			s.logger.WarnContext(ctx, "summary not sent",
				slog.String("phone", p.Phone), slog.String("file", file), slog.String("error", err.Error()))
			continue
		}
		sent++
	}
	return sent
}
