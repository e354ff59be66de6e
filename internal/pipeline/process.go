package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"vyapaar/internal"
	"vyapaar/internal/config"
	"vyapaar/internal/logging"
	"vyapaar/internal/storage"
)

// Email statuses.
const (
	EmailFetched   = "fetched"
	EmailProcessed = "processed"
	EmailSkipped   = "skipped"
	EmailFailed    = "failed"
)

// UploadService stores cleaned uploads as per-user snapshots and analyzes a
// user's history.
type UploadService struct {
	db         *storage.DB
	snapshots  *storage.SnapshotStore
	analyzer   *Analyzer
	forecaster *Forecaster
	logger     *slog.Logger
}

func NewUploadService(db *storage.DB, snapshots *storage.SnapshotStore, analyzer *Analyzer, forecaster *Forecaster, logger *slog.Logger) *UploadService {
	if logger == nil {
		logger = logging.Discard()
	}
	if analyzer == nil {
		analyzer = NewAnalyzer(DefaultInsightOptions(), nil)
	}
	if forecaster == nil {
		forecaster = NewForecaster()
	}
	return &UploadService{db: db, snapshots: snapshots, analyzer: analyzer, forecaster: forecaster, logger: logger}
}

// NewAnalyzerFromConfig applies the configured limits. advisor may be nil.
func NewAnalyzerFromConfig(cfg config.Config, advisor Advisor) *Analyzer {
	opts := DefaultInsightOptions()
	if cfg.TopProducts > 0 {
		opts.TopProducts = cfg.TopProducts
	}
	if cfg.TopCustomers > 0 {
		opts.TopCustomers = cfg.TopCustomers
	}
	if cfg.TopRevenue > 0 {
		opts.TopRevenue = cfg.TopRevenue
	}
	if cfg.LowStockThreshold > 0 {
		opts.LowStockBelow = cfg.LowStockThreshold
	}
	return NewAnalyzer(opts, advisor)
}

func NewForecasterFromConfig(cfg config.Config) *Forecaster {
	f := NewForecaster()
	if cfg.ForecastMinPeriods > 0 {
		f.MinPeriods = cfg.ForecastMinPeriods
	}
	if cfg.ForecastTop > 0 {
		f.Top = cfg.ForecastTop
	}
	return f
}

func (s *UploadService) Analyzer() *Analyzer { return s.analyzer }

func (s *UploadService) Snapshots() *storage.SnapshotStore { return s.snapshots }

type UploadResult struct {
	Upload   internal.UploadRow
	Analysis Analysis
}

// StoreUpload parses content, cleans it and saves the cleaned table as a new
// snapshot for a registered user.
func (s *UploadService) StoreUpload(ctx context.Context, phone string, source internal.TableSource, content []byte) (UploadResult, error) {
	raw, err := ReadTable(source, content)
	if err != nil {
		return UploadResult{}, err
	}
	return s.StoreTable(ctx, phone, source, raw, nil)
}

func (s *UploadService) StoreTable(ctx context.Context, phone string, source internal.TableSource, raw internal.RawTable, emailID *int) (UploadResult, error) {
	if _, err := s.db.GetUser(phone); err != nil {
		return UploadResult{}, err
	}
	table, err := Clean(raw)
	if err != nil {
		return UploadResult{}, err
	}

	name, err := s.snapshots.SaveSnapshot(ctx, phone, ToRaw(table))
	if err != nil {
		return UploadResult{}, fmt.Errorf("save snapshot: %w", err)
	}
	upload, err := s.db.InsertUpload(phone, name, source, len(table.Rows), emailID)
	if err != nil {
		return UploadResult{}, err
	}
	s.logger.InfoContext(ctx, "snapshot stored",
		slog.String("phone", phone),
		slog.String("file", name),
		slog.String("source", string(source)),
		slog.Int("rows", len(table.Rows)),
	)
	return UploadResult{Upload: upload, Analysis: s.analyzer.AnalyzeClean(ctx, table)}, nil
}

// AnalyzeSnapshot re-reads one stored snapshot and analyzes it.
func (s *UploadService) AnalyzeSnapshot(ctx context.Context, phone, name string) (Analysis, error) {
	raw, err := s.snapshots.ReadSnapshot(ctx, phone, name)
	if err != nil {
		return Analysis{}, err
	}
	return s.analyzer.Analyze(ctx, raw)
}

// HistoryEntry is the analysis of one stored snapshot, or the reason it
// could not be analyzed.
type HistoryEntry struct {
	File     string    `json:"file"`
	Analysis *Analysis `json:"analysis,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// AnalyzeHistory analyzes every snapshot of a user in filename order. A file
// that fails only records its error.
func (s *UploadService) AnalyzeHistory(ctx context.Context, phone string) ([]HistoryEntry, error) {
	names, err := s.snapshots.ListSnapshots(ctx, phone)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		a, err := s.AnalyzeSnapshot(ctx, phone, name)
		if err != nil {
			s.logger.WarnContext(ctx, "snapshot analysis failed",
				slog.String("phone", phone), slog.String("file", name), slog.String("error", err.Error()))
			out = append(out, HistoryEntry{File: name, Error: err.Error()})
			continue
		}
		out = append(out, HistoryEntry{File: name, Analysis: &a})
	}
	return out, nil
}

func (s *UploadService) Forecast(ctx context.Context, phone string) ForecastResult {
	return s.forecaster.ForecastSnapshots(ctx, s.snapshots, phone)
}

// ProcessingService turns fetched emails into snapshots for the user
// registered with the sender address.
type ProcessingService struct {
	db      *storage.DB
	uploads *UploadService
	logger  *slog.Logger
}

func NewProcessingService(db *storage.DB, uploads *UploadService, logger *slog.Logger) *ProcessingService {
	if logger == nil {
		logger = logging.Discard()
	}
	return &ProcessingService{db: db, uploads: uploads, logger: logger}
}

type ProcessResult struct {
	EmailID int
	Phone   string
	Status  string
	Stored  []string
	Errors  []string
}

func (s *ProcessingService) ProcessByProviderMessageID(ctx context.Context, provider, messageID string) (ProcessResult, error) {
	email, err := s.db.MustEmailByProviderMessageID(provider, messageID)
	if err != nil {
		return ProcessResult{}, err
	}
	return s.ProcessEmail(ctx, email)
}

// ProcessPending handles up to limit fetched emails. A failing email is
// marked failed and does not stop the batch.
func (s *ProcessingService) ProcessPending(ctx context.Context, limit int, provider string) ([]ProcessResult, error) {
	pending, err := s.db.ListEmailsByStatus(EmailFetched, limit)
	if err != nil {
		return nil, err
	}
	out := make([]ProcessResult, 0, len(pending))
	for _, email := range pending {
		if provider != "" && email.Provider != provider {
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := s.ProcessEmail(ctx, email)
		if err != nil {
			s.logger.ErrorContext(ctx, "email processing failed",
				slog.Int("email_id", email.ID), slog.String("error", err.Error()))
			_ = s.db.UpdateEmailStatus(email.ID, EmailFailed)
			res = ProcessResult{EmailID: email.ID, Status: EmailFailed, Errors: []string{err.Error()}}
		}
		out = append(out, res)
	}
	return out, nil
}

func (s *ProcessingService) ProcessEmail(ctx context.Context, email internal.EmailRow) (ProcessResult, error) {
	ctx, trace := logging.EnsureTraceID(ctx)
	start := time.Now()

	raw, err := os.ReadFile(email.RawRef)
	if err != nil {
		return ProcessResult{}, err
	}
	mail, err := ExtractTablesFromEmailRaw(raw)
	if err != nil {
		return ProcessResult{}, err
	}

	res := ProcessResult{EmailID: email.ID, Errors: append([]string{}, mail.Skipped...)}
	sender := firstNonEmpty(mail.From, senderAddress(email.Sender))
	user, err := s.db.GetUserByEmail(sender)
	if err != nil {
		return ProcessResult{}, err
	}

	switch {
	case user == nil:
		res.Status = EmailSkipped
		res.Errors = append(res.Errors, fmt.Sprintf("no user registered for %s", sender))
	case len(mail.Tables) == 0:
		res.Phone = user.Phone
		res.Status = EmailSkipped
		res.Errors = append(res.Errors, ErrNoTable.Error())
	default:
		res.Phone = user.Phone
		for _, t := range mail.Tables {
			stored, err := s.uploads.StoreTable(ctx, user.Phone, t.Source, t.Table, &email.ID)
			if err != nil {
				var schemaErr *SchemaResolutionError
				if !errors.As(err, &schemaErr) {
					s.logger.WarnContext(ctx, "mail table not stored",
						slog.String("file", t.Filename), slog.String("error", err.Error()))
				}
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", t.Filename, err))
				continue
			}
			res.Stored = append(res.Stored, stored.Upload.Filename)
		}
		res.Status = EmailProcessed
		if len(res.Stored) == 0 {
			res.Status = EmailFailed
		}
	}

	if err := s.db.UpdateEmailStatus(email.ID, res.Status); err != nil {
		return ProcessResult{}, err
	}
	_ = s.db.InsertRun(trace, "mail", &email.ID,
		map[string]float64{"totalMs": float64(time.Since(start).Milliseconds())},
		map[string]int{"tables": len(mail.Tables), "stored": len(res.Stored), "errors": len(res.Errors)})

	s.logger.InfoContext(ctx, "email processed",
		slog.Int("email_id", email.ID),
		slog.String("status", res.Status),
		slog.Int("stored", len(res.Stored)),
	)
	return res, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
