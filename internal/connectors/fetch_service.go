package connectors

import (
	"context"
	"fmt"
	"log/slog"

	"vyapaar/internal/logging"
	"vyapaar/internal/storage"
)

type FetchService struct {
	connector MailConnector
	store     *MailStoreService
	logger    *slog.Logger
}

type FetchResult struct {
	Fetched    int
	Stored     int
	Duplicates int
}

func NewFetchService(db *storage.DB, rawMailDir string, connector MailConnector, logger *slog.Logger) *FetchService {
	if logger == nil {
		logger = logging.Discard()
	}
	return &FetchService{
		connector: connector,
		store:     NewMailStoreService(db, rawMailDir),
		logger:    logger,
	}
}

// FetchAndStore pulls up to max messages and stores the ones not seen before.
func (s *FetchService) FetchAndStore(ctx context.Context, label string, max int) (FetchResult, error) {
	messages, err := s.connector.FetchInbox(ctx, label, max)
	if err != nil {
		return FetchResult{}, fmt.Errorf("fetch %s: %w", label, err)
	}

	res := FetchResult{Fetched: len(messages)}
	for _, msg := range messages {
		row, duplicate, err := s.store.Store(msg)
		if err != nil {
			return res, fmt.Errorf("store %s: %w", msg.MessageID, err)
		}
		if duplicate {
			res.Duplicates++
			continue
		}
		res.Stored++
		s.logger.InfoContext(ctx, "email stored",
			slog.Int("email_id", row.ID),
			slog.String("provider", msg.Provider),
			slog.String("from", msg.From),
			slog.String("subject", msg.Subject),
		)
	}
	return res, nil
}
