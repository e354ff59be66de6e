package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"vyapaar/internal/config"
	"vyapaar/internal/logging"
	"vyapaar/internal/notify"
	"vyapaar/internal/pipeline"
	"vyapaar/internal/storage"
)

const healthText = "VyapaarAI API is running."

type Server struct {
	cfg       config.Config
	db        *storage.DB
	uploads   *pipeline.UploadService
	summaries *notify.SummaryService
	metrics   *Metrics
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewServer wires the API. summaries may be nil, in which case the WhatsApp
// routes answer 503.
func NewServer(cfg config.Config, db *storage.DB, uploads *pipeline.UploadService, summaries *notify.SummaryService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{
		cfg:       cfg,
		db:        db,
		uploads:   uploads,
		summaries: summaries,
		metrics:   NewMetrics(),
		validate:  newValidator(),
		logger:    logger.With(slog.String("component", "httpapi")),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(s.metrics.Middleware)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.Post("/upload", s.handleUpload)
	r.Post("/smart-insight", s.handleSmartInsight)
	r.Post("/send-whatsapp", s.handleSendWhatsApp)

	r.Route("/users", func(r chi.Router) {
		r.Post("/", s.handleRegister)
		r.Route("/{phone}", func(r chi.Router) {
			r.Use(s.loadUser)
			r.Get("/", s.handleGetUser)
			r.Get("/uploads", s.handleListUploads)
			r.Post("/uploads", s.handleStoreUpload)
			r.Get("/uploads/{file}/insights", s.handleSnapshotInsights)
			r.Get("/uploads/{file}/report.xlsx", s.handleSnapshotReport)
			r.Post("/uploads/{file}/notify", s.handleSnapshotNotify)
			r.Get("/history", s.handleHistory)
			r.Get("/forecast", s.handleForecast)
		})
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then drains for up to ten
// seconds.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("addr", s.cfg.HTTPAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// requestID tags each request with a uuid, echoed in X-Request-ID and carried
// as the log trace id.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(middleware.RequestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(logging.WithTraceID(ctx, id)))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.InfoContext(r.Context(), "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Server) validateStruct(v any) *APIError {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return invalidRequest(err)
	}
	fields := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, ValidationError{Field: fe.Field(), Message: validationMessage(fe)})
	}
	return validationFailed(fields)
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email address"
	case "e164":
		return fe.Field() + " must be an E.164 phone number like +919876543210"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	default:
		return fe.Field() + " is invalid"
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := errorFor(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	}
	_ = render.Render(w, r, apiErr)
}
