package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vyapaar/internal/config"
)

const maxAttempts = 5

// Sender delivers a text message to a phone number.
type Sender interface {
	Send(ctx context.Context, phone, body string) (MessageResult, error)
}

// Client sends WhatsApp messages through the Twilio Messages API.
type Client struct {
	cfg        config.Config
	httpClient *http.Client
	limiter    *RateLimiter
}

type MessageResult struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type apiResponse struct {
	SID       string `json:"sid"`
	Status    string `json:"status"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
	ErrorCode *int   `json:"error_code"`
}

// APIError is a non-retryable rejection from the messaging API.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio api error: status=%d code=%d message=%s", e.StatusCode, e.Code, e.Message)
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TwilioTimeoutMs) * time.Millisecond},
		limiter:    NewRateLimiter(cfg.TwilioRateLimitRPS),
	}
}

// WhatsAppAddress prefixes a phone number with the whatsapp: channel.
func WhatsAppAddress(phone string) string {
	phone = strings.ReplaceAll(strings.TrimSpace(phone), " ", "")
	if strings.HasPrefix(phone, "whatsapp:") {
		return phone
	}
	return "whatsapp:" + phone
}

func (c *Client) Send(ctx context.Context, phone, body string) (MessageResult, error) {
	if err := c.cfg.Require("TWILIO_SID", c.cfg.TwilioSID); err != nil {
		return MessageResult{}, err
	}
	if err := c.cfg.Require("TWILIO_AUTH_TOKEN", c.cfg.TwilioAuthToken); err != nil {
		return MessageResult{}, err
	}
	if strings.TrimSpace(phone) == "" || strings.TrimSpace(body) == "" {
		return MessageResult{}, errors.New("missing phone or message")
	}

	endpoint := strings.TrimRight(c.cfg.TwilioAPIBaseURL, "/") + "/Accounts/" + url.PathEscape(c.cfg.TwilioSID) + "/Messages.json"
	form := url.Values{}
	form.Set("From", WhatsAppAddress(c.cfg.TwilioFromNumber))
	form.Set("To", WhatsAppAddress(phone))
	form.Set("Body", body)
	encoded := form.Encode()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return MessageResult{}, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(encoded))
		if err != nil {
			return MessageResult{}, err
		}
		req.SetBasicAuth(c.cfg.TwilioSID, c.cfg.TwilioAuthToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return MessageResult{}, ctx.Err()
			}
			// Only a failed dial guarantees the message was never submitted.
			if !isDialError(err) || attempt == maxAttempts {
				return MessageResult{}, err
			}
			lastErr = err
			if err := sleepContext(ctx, backoff(attempt)); err != nil {
				return MessageResult{}, err
			}
			continue
		}

		blob, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return MessageResult{}, fmt.Errorf("read twilio response: %w", readErr)
		}

		var payload apiResponse
		_ = json.Unmarshal(blob, &payload)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := &APIError{StatusCode: resp.StatusCode, Code: payload.Code, Message: payload.Message}
			if apiErr.Message == "" {
				apiErr.Message = strings.TrimSpace(string(blob))
			}
			if isRetryableStatus(resp.StatusCode) && attempt < maxAttempts {
				lastErr = apiErr
				if err := sleepContext(ctx, backoff(attempt)); err != nil {
					return MessageResult{}, err
				}
				continue
			}
			return MessageResult{}, apiErr
		}
		return MessageResult{SID: payload.SID, Status: payload.Status}, nil
	}

	if lastErr == nil {
		lastErr = errors.New("twilio request failed")
	}
	return MessageResult{}, lastErr
}

func backoff(attempt int) time.Duration {
	return time.Duration(250*(1<<(attempt-1))+rand.Intn(100)) * time.Millisecond
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isRetryableStatus reports statuses where the message was refused before
// being created. Other 5xx responses may follow a successful create, so
// resending could deliver the message twice.
func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	default:
		return false
	}
}

func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
