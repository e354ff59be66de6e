package notify

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vyapaar/internal/config"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func testConfig() config.Config {
	return config.Config{
		TwilioSID:          "AC123",
		TwilioAuthToken:    "secret",
		TwilioFromNumber:   "whatsapp:+14155238886",
		TwilioAPIBaseURL:   "https://example.test/2010-04-01",
		TwilioRateLimitRPS: 1000,
		TwilioTimeoutMs:    1000,
	}
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func TestSendWithRetry(t *testing.T) {
	attempt := 0
	client := NewClient(testConfig())
	client.httpClient = &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.URL.Path != "/2010-04-01/Accounts/AC123/Messages.json" {
				t.Fatalf("unexpected path %s", r.URL.Path)
			}
			user, pass, ok := r.BasicAuth()
			if !ok || user != "AC123" || pass != "secret" {
				t.Fatalf("unexpected auth %q %q", user, pass)
			}
			blob, _ := io.ReadAll(r.Body)
			form, err := url.ParseQuery(string(blob))
			if err != nil {
				t.Fatal(err)
			}
			if form.Get("From") != "whatsapp:+14155238886" || form.Get("To") != "whatsapp:+919876543210" {
				t.Fatalf("unexpected form %v", form)
			}
			if form.Get("Body") != "Summary for a.csv:\nhello" {
				t.Fatalf("unexpected body %q", form.Get("Body"))
			}

			attempt++
			if attempt == 1 {
				return jsonResponse(http.StatusServiceUnavailable, `{"code":20503,"message":"busy"}`), nil
			}
			return jsonResponse(http.StatusCreated, `{"sid":"SM1","status":"queued"}`), nil
		}),
	}

	res, err := client.Send(context.Background(), "+919876543210", "Summary for a.csv:\nhello")
	require.NoError(t, err)
	assert.Equal(t, 2, attempt)
	assert.Equal(t, MessageResult{SID: "SM1", Status: "queued"}, res)
}

func TestSendRejectedWithoutRetry(t *testing.T) {
	attempt := 0
	client := NewClient(testConfig())
	client.httpClient = &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			attempt++
			return jsonResponse(http.StatusBadRequest, `{"code":21211,"message":"Invalid 'To' Phone Number"}`), nil
		}),
	}

	_, err := client.Send(context.Background(), "+91", "hi")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 1, attempt)
	assert.Equal(t, 21211, apiErr.Code)
	assert.Contains(t, apiErr.Error(), "Invalid 'To' Phone Number")
}

func TestSendRequiresCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.TwilioSID = ""
	client := NewClient(cfg)
	client.httpClient = &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			t.Fatal("no request expected")
			return nil, nil
		}),
	}
	_, err := client.Send(context.Background(), "+919876543210", "hi")
	assert.ErrorContains(t, err, "TWILIO_SID")
}

func TestWhatsAppAddress(t *testing.T) {
	assert.Equal(t, "whatsapp:+919876543210", WhatsAppAddress(" +91 98765 43210 "))
	assert.Equal(t, "whatsapp:+14155238886", WhatsAppAddress("whatsapp:+14155238886"))
}

func TestSendRetriesDialFailures(t *testing.T) {
	attempt := 0
	client := NewClient(testConfig())
	client.httpClient = &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			attempt++
			if attempt == 1 {
				return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
			}
			return jsonResponse(http.StatusCreated, `{"sid":"SM2","status":"queued"}`), nil
		}),
	}

	res, err := client.Send(context.Background(), "+919876543210", "hi")
	require.NoError(t, err)
	assert.Equal(t, 2, attempt)
	assert.Equal(t, "SM2", res.SID)
}

func TestSendDoesNotResubmitAfterAmbiguousFailure(t *testing.T) {
	cases := map[string]roundTripFunc{
		"server error": func(r *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusInternalServerError, `{"code":20500,"message":"internal"}`), nil
		},
		"gateway timeout": func(r *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusGatewayTimeout, `gateway timeout`), nil
		},
		"connection reset": func(r *http.Request) (*http.Response, error) {
			return nil, io.ErrUnexpectedEOF
		},
	}
	for name, transport := range cases {
		t.Run(name, func(t *testing.T) {
			attempt := 0
			client := NewClient(testConfig())
			client.httpClient = &http.Client{
				Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
					attempt++
					return transport(r)
				}),
			}
			_, err := client.Send(context.Background(), "+919876543210", "hi")
			assert.Error(t, err)
			assert.Equal(t, 1, attempt)
		})
	}
}
