package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"vyapaar/internal"
	"vyapaar/internal/pipeline"
	"vyapaar/internal/storage"
)

var errNoFile = errors.New("No file uploaded")

type userKey struct{}

type userResponse struct {
	Phone     string  `json:"phone"`
	Name      string  `json:"name"`
	Email     *string `json:"email,omitempty"`
	CreatedAt string  `json:"created_at"`
}

type uploadResponse struct {
	File      string `json:"file"`
	Source    string `json:"source"`
	Rows      int    `json:"rows"`
	CreatedAt string `json:"created_at"`
}

type snapshotAnalysisResponse struct {
	File            string            `json:"file"`
	Rows            int               `json:"rows"`
	Insights        pipeline.Insights `json:"insights"`
	SmartSuggestion string            `json:"smart_suggestion"`
}

type smartInsightResponse struct {
	Insights        pipeline.Insights `json:"insights"`
	SmartSuggestion string            `json:"smart_suggestion"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type registerRequest struct {
	Name  string `json:"name" validate:"required,max=120"`
	Phone string `json:"phone" validate:"required,e164"`
	Email string `json:"email" validate:"omitempty,email"`
}

type sendWhatsAppRequest struct {
	Phone   string `json:"phone" validate:"required"`
	Message string `json:"message" validate:"required"`
}

func toUserResponse(u internal.UserRow) userResponse {
	return userResponse{Phone: u.Phone, Name: u.Name, Email: u.Email, CreatedAt: u.CreatedAt}
}

func toUploadResponse(u internal.UploadRow) uploadResponse {
	return uploadResponse{File: u.Filename, Source: u.Source, Rows: u.RowCount, CreatedAt: u.CreatedAt}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.PlainText(w, r, healthText)
}

// readUploadedTable parses the multipart "file" field. The optional "type"
// field overrides the reader guessed from the filename; CSV is the default.
func (s *Server) readUploadedTable(w http.ResponseWriter, r *http.Request) (internal.RawTable, internal.TableSource, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes())
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return internal.RawTable{}, "", err
		}
		return internal.RawTable{}, "", errNoFile
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return internal.RawTable{}, "", err
	}

	source := internal.SourceCSV
	if t := r.FormValue("type"); t != "" {
		if source, err = pipeline.ParseInputType(t); err != nil {
			return internal.RawTable{}, "", err
		}
	} else if guessed, ok := pipeline.SourceFromFilename(header.Filename); ok {
		source = guessed
	}

	raw, err := pipeline.ReadTable(source, content)
	return raw, source, err
}

func (s *Server) analyzeUpload(w http.ResponseWriter, r *http.Request) (pipeline.Analysis, error) {
	raw, source, err := s.readUploadedTable(w, r)
	if err != nil {
		return pipeline.Analysis{}, err
	}
	a, err := s.uploads.Analyzer().Analyze(r.Context(), raw)
	s.countUpload(source, false, err)
	return a, err
}

func (s *Server) countUpload(source internal.TableSource, stored bool, err error) {
	var schemaErr *pipeline.SchemaResolutionError
	if errors.As(err, &schemaErr) {
		s.metrics.schemaFailures.Inc()
		return
	}
	if err == nil {
		storedLabel := "false"
		if stored {
			storedLabel = "true"
		}
		s.metrics.uploads.WithLabelValues(string(source), storedLabel).Inc()
	}
}

// legacyFail answers the stateless routes with {"error": "..."}.
func (s *Server) legacyFail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var schemaErr *pipeline.SchemaResolutionError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, errNoFile):
		status = http.StatusBadRequest
	case errors.As(err, &tooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.As(err, &schemaErr), errors.Is(err, pipeline.ErrNoTable):
		status = http.StatusUnprocessableEntity
	}
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": err.Error()})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	a, err := s.analyzeUpload(w, r)
	if err != nil {
		s.legacyFail(w, r, err)
		return
	}
	render.JSON(w, r, a.Insights)
}

func (s *Server) handleSmartInsight(w http.ResponseWriter, r *http.Request) {
	a, err := s.analyzeUpload(w, r)
	if err != nil {
		s.legacyFail(w, r, err)
		return
	}
	render.JSON(w, r, smartInsightResponse{Insights: a.Insights, SmartSuggestion: a.Advice})
}

func (s *Server) handleSendWhatsApp(w http.ResponseWriter, r *http.Request) {
	var req sendWhatsAppRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil || s.validate.Struct(req) != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, statusResponse{Status: "error", Message: "Missing phone or message"})
		return
	}
	if s.summaries == nil {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, statusResponse{Status: "error", Message: "WhatsApp sending is not configured"})
		return
	}

	_, err := s.summaries.SendMessage(r.Context(), req.Phone, req.Message)
	s.metrics.notifications.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, statusResponse{Status: "error", Message: err.Error()})
		return
	}
	render.JSON(w, r, statusResponse{Status: "success", Message: "Message sent successfully"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		_ = render.Render(w, r, invalidRequest(err))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Email = strings.TrimSpace(req.Email)
	if apiErr := s.validateStruct(req); apiErr != nil {
		_ = render.Render(w, r, apiErr)
		return
	}

	var email *string
	if req.Email != "" {
		email = &req.Email
	}
	user, err := s.db.UpsertUser(req.Phone, req.Name, email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toUserResponse(user))
}

// loadUser resolves {phone} to a registered user.
func (s *Server) loadUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		phone, err := url.PathUnescape(chi.URLParam(r, "phone"))
		if err != nil {
			_ = render.Render(w, r, invalidRequest(err))
			return
		}
		if err := storage.ValidatePhone(phone); err != nil {
			s.fail(w, r, err)
			return
		}
		user, err := s.db.GetUser(phone)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

func userFrom(r *http.Request) internal.UserRow {
	user, _ := r.Context().Value(userKey{}).(internal.UserRow)
	return user
}

func snapshotParam(r *http.Request) string {
	name, err := url.PathUnescape(chi.URLParam(r, "file"))
	if err != nil {
		return chi.URLParam(r, "file")
	}
	return name
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, toUserResponse(userFrom(r)))
}

func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.ListUploads(userFrom(r).Phone)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]uploadResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, toUploadResponse(row))
	}
	render.JSON(w, r, map[string]any{"uploads": out})
}

func (s *Server) handleStoreUpload(w http.ResponseWriter, r *http.Request) {
	raw, source, err := s.readUploadedTable(w, r)
	if err != nil {
		if errors.Is(err, errNoFile) {
			_ = render.Render(w, r, newAPIError(http.StatusBadRequest, "MISSING_PARAMETER", err.Error(), "file"))
			return
		}
		s.fail(w, r, err)
		return
	}

	res, err := s.uploads.StoreTable(r.Context(), userFrom(r).Phone, source, raw, nil)
	s.countUpload(source, true, err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, snapshotAnalysisResponse{
		File:            res.Upload.Filename,
		Rows:            res.Analysis.Rows,
		Insights:        res.Analysis.Insights,
		SmartSuggestion: res.Analysis.Advice,
	})
}

func (s *Server) handleSnapshotInsights(w http.ResponseWriter, r *http.Request) {
	file := snapshotParam(r)
	a, err := s.uploads.AnalyzeSnapshot(r.Context(), userFrom(r).Phone, file)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, snapshotAnalysisResponse{File: file, Rows: a.Rows, Insights: a.Insights, SmartSuggestion: a.Advice})
}

// handleSnapshotReport streams the XLSX report; ?forecast=1 adds the
// forecast sheet.
func (s *Server) handleSnapshotReport(w http.ResponseWriter, r *http.Request) {
	phone, file := userFrom(r).Phone, snapshotParam(r)
	a, err := s.uploads.AnalyzeSnapshot(r.Context(), phone, file)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var forecast *pipeline.ForecastResult
	switch strings.ToLower(r.URL.Query().Get("forecast")) {
	case "1", "true", "yes":
		fc := s.uploads.Forecast(r.Context(), phone)
		forecast = &fc
	}

	f, err := pipeline.BuildReportXLSX(file, a, forecast)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer f.Close()

	name := strings.TrimSuffix(file, ".csv") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if err := f.Write(w); err != nil {
		s.logger.ErrorContext(r.Context(), "report write failed", slog.String("error", err.Error()))
	}
}

func (s *Server) handleSnapshotNotify(w http.ResponseWriter, r *http.Request) {
	if s.summaries == nil {
		_ = render.Render(w, r, newAPIError(http.StatusServiceUnavailable, "NOTIFY_DISABLED", "WhatsApp sending is not configured", nil))
		return
	}
	file := snapshotParam(r)
	res, err := s.summaries.SendSummary(r.Context(), userFrom(r).Phone, file)
	s.metrics.notifications.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"status": "success", "file": file, "sid": res.SID})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.uploads.AnalyzeHistory(r.Context(), userFrom(r).Phone)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"history": entries})
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	res := s.uploads.Forecast(r.Context(), userFrom(r).Phone)
	state := "ok"
	if res.Error != "" {
		state = "error"
	}
	s.metrics.forecasts.WithLabelValues(state).Inc()
	render.JSON(w, r, map[string]any{
		"forecast":          res,
		"periods_available": res.Periods,
		"min_periods":       s.cfg.ForecastMinPeriods,
	})
}
