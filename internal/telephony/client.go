// Package telephony also exposes the small outbound REST surface the call
// flow needs beyond returning telephony-XML: sending SMS and downloading
// recording media, grounded on the teacher's
// internal/conversation/telnyx_voice_client.go HTTP-client idiom (bounded
// client timeout, io.LimitReader, bearer/basic auth header, structured
// logging around the request).
package telephony

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/dispatch-voice-agent/pkg/logging"
)

const (
	defaultBaseURL = "https://api.twilio.com/2010-04-01"
	defaultTimeout = 10 * time.Second
)

// Client is the outbound REST surface: SMS send and recording download.
// Dialing itself is driven entirely by the XML Dial verb (see response.go);
// this client exists for the two things the call flow must do outside the
// current webhook's response document.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// Config configures a Client.
type Config struct {
	AccountSID string
	AuthToken  string
	BaseURL    string // overrides defaultBaseURL, for tests
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// New builds a Client for the primary (sending) account.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, fmt.Errorf("telephony: account sid and auth token are required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// SendSMS sends a one-way SMS, used both for the caller-facing
// location-share link (spec.md §4.7) and the best-effort job-details SMS
// to a newly connected contact (spec.md §4.2).
func (c *Client) SendSMS(ctx context.Context, from, to, body string) error {
	form := url.Values{"From": {from}, "To": {to}, "Body": {body}}
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, c.accountSID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("telephony: build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: sms request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("telephony: sms send failed", "status", resp.StatusCode, "to", to)
		return fmt.Errorf("telephony: sms API returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// jobDetailsTemplate is the best-effort SMS sent to the contact a call was
// just transferred to (spec.md §4.2: "send a job-details SMS to the dialed
// contact").
const jobDetailsTemplate = "Neuer Auftrag: %s\nAdresse: %s\nPreis: %d€ (%d Min.)"

// JobDetailsBody renders the job-details SMS body.
func JobDetailsBody(service, address string, price, minutes int) string {
	return fmt.Sprintf(jobDetailsTemplate, service, address, price, minutes)
}

// RecordingAuth holds the read-only credentials used solely to download
// recorded media, distinct from the primary sending account (spec.md §4.6:
// "authenticating as the read-only recording account").
type RecordingAuth struct {
	AccountSID string
	AuthToken  string
}

// DownloadRecording fetches the media bytes and content type for a
// recording URL, retrying transient failures up to 3 times with a 1s delay
// (spec.md §7: "recording download: up to 3 attempts with a 1 s delay").
func (c *Client) DownloadRecording(ctx context.Context, auth RecordingAuth, recordingURL string) ([]byte, string, error) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		data, contentType, err := c.downloadOnce(ctx, auth, recordingURL)
		if err == nil {
			return data, contentType, nil
		}
		lastErr = err
		c.logger.Warn("telephony: recording download attempt failed", "attempt", attempt, "error", err)
		if attempt < 3 {
			select {
			case <-time.After(1 * time.Second):
			case <-ctx.Done():
				return nil, "", ctx.Err()
			}
		}
	}
	return nil, "", fmt.Errorf("telephony: recording download failed after 3 attempts: %w", lastErr)
}

func (c *Client) downloadOnce(ctx context.Context, auth RecordingAuth, recordingURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, recordingURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("telephony: build recording request: %w", err)
	}
	req.SetBasicAuth(auth.AccountSID, auth.AuthToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("telephony: recording request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("telephony: recording API returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, "", fmt.Errorf("telephony: read recording body: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return data, contentType, nil
}
