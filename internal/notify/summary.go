package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"vyapaar/internal/logging"
	"vyapaar/internal/pipeline"
	"vyapaar/internal/storage"
)

const lastSentKeyPrefix = "notify.last_sent."

// SummaryService sends per-snapshot summaries to the user's WhatsApp number
// and records each delivery.
type SummaryService struct {
	db      *storage.DB
	uploads *pipeline.UploadService
	sender  Sender
	logger  *slog.Logger
}

func NewSummaryService(db *storage.DB, uploads *pipeline.UploadService, sender Sender, logger *slog.Logger) *SummaryService {
	if logger == nil {
		logger = logging.Discard()
	}
	return &SummaryService{db: db, uploads: uploads, sender: sender, logger: logger}
}

// SummaryMessage is the text sent for one snapshot.
func SummaryMessage(file, advice string) string {
	return fmt.Sprintf("Summary for %s:\n%s", file, advice)
}

// SendMessage delivers free text and records the run.
func (s *SummaryService) SendMessage(ctx context.Context, phone, body string) (MessageResult, error) {
	ctx, trace := logging.EnsureTraceID(ctx)
	if strings.TrimSpace(phone) == "" || strings.TrimSpace(body) == "" {
		return MessageResult{}, errors.New("missing phone or message")
	}
	start := time.Now()

	res, err := s.sender.Send(ctx, phone, body)
	if err != nil {
		s.logger.ErrorContext(ctx, "whatsapp send failed", slog.String("phone", phone), slog.String("error", err.Error()))
		return MessageResult{}, err
	}

	if s.db != nil {
		_ = s.db.InsertRun(trace, "notify", nil,
			map[string]float64{"totalMs": float64(time.Since(start).Milliseconds())},
			map[string]int{"chars": len(body)})
		if err := s.db.SetMetadata(lastSentKeyPrefix+phone, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return res, err
		}
	}
	s.logger.InfoContext(ctx, "whatsapp message sent", slog.String("phone", phone), slog.String("sid", res.SID))
	return res, nil
}

// SendSummary analyzes one stored snapshot and sends its advice.
func (s *SummaryService) SendSummary(ctx context.Context, phone, file string) (MessageResult, error) {
	a, err := s.uploads.AnalyzeSnapshot(ctx, phone, file)
	if err != nil {
		return MessageResult{}, err
	}
	return s.SendMessage(ctx, phone, SummaryMessage(file, a.Advice))
}

// SendLatestSummary sends the summary of the newest snapshot.
func (s *SummaryService) SendLatestSummary(ctx context.Context, phone string) (MessageResult, string, error) {
	names, err := s.uploads.Snapshots().ListSnapshots(ctx, phone)
	if err != nil {
		return MessageResult{}, "", err
	}
	if len(names) == 0 {
		return MessageResult{}, "", storage.ErrSnapshotNotFound
	}
	latest := names[len(names)-1]
	res, err := s.SendSummary(ctx, phone, latest)
	return res, latest, err
}

// LastSent reports when a message was last delivered to phone.
func (s *SummaryService) LastSent(phone string) (*time.Time, error) {
	value, err := s.db.GetMetadata(lastSentKeyPrefix + phone)
	if err != nil || value == nil {
		return nil, err
	}
	parsed, err := time.Parse(time.RFC3339, *value)
	if err != nil {
		return nil, nil
	}
	return &parsed, nil
}
