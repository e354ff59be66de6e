package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBPath     string
	DataDir    string
	RawMailDir string
	OutputDir  string

	HTTPAddr    string
	MaxUploadMB int
	LogLevel    string
	LogFormat   string

	LowStockThreshold  int
	TopProducts        int
	TopCustomers       int
	TopRevenue         int
	ForecastMinPeriods int
	ForecastTop        int

	TwilioSID          string
	TwilioAuthToken    string
	TwilioFromNumber   string
	TwilioAPIBaseURL   string
	TwilioRateLimitRPS int
	TwilioTimeoutMs    int

	GeminiAPIKey string
	GeminiModel  string

	GmailClientID     string
	GmailClientSecret string
	GmailRedirectURI  string
	GmailRefreshToken string

	IMAPHost     string
	IMAPPort     int
	IMAPSecure   bool
	IMAPUser     string
	IMAPPassword string
	IMAPMarkSeen bool

	MailListenerProvider     string
	MailListenerLabel        string
	MailListenerIntervalSec  int
	MailListenerFetchMax     int
	MailListenerProcessBatch int
	MailListenerAutoNotify   bool
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:     getEnv("DB_PATH", filepath.Join(cwd, "data", "app.db")),
		DataDir:    getEnv("DATA_DIR", filepath.Join(cwd, "data", "users")),
		RawMailDir: getEnv("MAIL_RAW_DIR", filepath.Join(cwd, "data", "raw")),
		OutputDir:  getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),

		HTTPAddr:    getEnv("HTTP_ADDR", ":5000"),
		MaxUploadMB: getEnvInt("MAX_UPLOAD_MB", 10),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),

		LowStockThreshold:  getEnvInt("LOW_STOCK_THRESHOLD", 5),
		TopProducts:        getEnvInt("TOP_PRODUCTS", 5),
		TopCustomers:       getEnvInt("TOP_CUSTOMERS", 3),
		TopRevenue:         getEnvInt("TOP_REVENUE", 5),
		ForecastMinPeriods: getEnvInt("FORECAST_MIN_PERIODS", 3),
		ForecastTop:        getEnvInt("FORECAST_TOP", 3),

		TwilioSID:          getEnv("TWILIO_SID", ""),
		TwilioAuthToken:    getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:   getEnv("FROM_NUMBER", "whatsapp:+14155238886"),
		TwilioAPIBaseURL:   getEnv("TWILIO_API_BASE_URL", "https://api.twilio.com/2010-04-01"),
		TwilioRateLimitRPS: getEnvInt("TWILIO_RATE_LIMIT_RPS", 1),
		TwilioTimeoutMs:    getEnvInt("TWILIO_TIMEOUT_MS", 15000),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash-lite"),

		GmailClientID:     getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRedirectURI:  getEnv("GMAIL_REDIRECT_URI", "https://developers.google.com/oauthplayground"),
		GmailRefreshToken: getEnv("GMAIL_REFRESH_TOKEN", ""),

		IMAPHost:     getEnv("IMAP_HOST", ""),
		IMAPPort:     getEnvInt("IMAP_PORT", 993),
		IMAPSecure:   getEnvBool("IMAP_SECURE", true),
		IMAPUser:     getEnv("IMAP_USER", ""),
		IMAPPassword: getEnv("IMAP_PASSWORD", ""),
		IMAPMarkSeen: getEnvBool("IMAP_MARK_SEEN", false),

		MailListenerProvider:     getEnv("MAIL_LISTENER_PROVIDER", "imap"),
		MailListenerLabel:        getEnv("MAIL_LISTENER_LABEL", "INBOX"),
		MailListenerIntervalSec:  getEnvInt("MAIL_LISTENER_INTERVAL_SEC", 60),
		MailListenerFetchMax:     getEnvInt("MAIL_LISTENER_FETCH_MAX", 20),
		MailListenerProcessBatch: getEnvInt("MAIL_LISTENER_PROCESS_BATCH", 20),
		MailListenerAutoNotify:   getEnvBool("MAIL_LISTENER_AUTO_NOTIFY", false),
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

// MaxUploadBytes is the request body cap for uploads.
func (c Config) MaxUploadBytes() int64 {
	mb := c.MaxUploadMB
	if mb <= 0 {
		mb = 10
	}
	return int64(mb) << 20
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}
