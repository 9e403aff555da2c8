package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/dispatch-voice-agent/pkg/logging"
)

// HTTPTranscriber is the one production Transcriber: a thin client against
// the external STT vendor's synchronous transcription endpoint. spec.md §1
// treats the vendor binding itself as out of core scope; this wraps just
// enough of its REST surface (one POST, one JSON field) to satisfy Worker,
// grounded on telephony.Client's bounded-timeout/io.LimitReader HTTP idiom.
type HTTPTranscriber struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewHTTPTranscriber builds a Transcriber against endpoint, authenticating
// with apiKey as a bearer token.
func NewHTTPTranscriber(apiKey, endpoint string, httpClient *http.Client, logger *logging.Logger) *HTTPTranscriber {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &HTTPTranscriber{apiKey: apiKey, endpoint: endpoint, httpClient: httpClient, logger: logger}
}

type transcribeRequest struct {
	AudioURL string `json:"audio_url"`
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// Transcribe implements Transcriber.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, recordingURL string) (string, error) {
	if strings.TrimSpace(t.endpoint) == "" {
		return "", fmt.Errorf("stt: transcription endpoint not configured")
	}
	body, err := json.Marshal(transcribeRequest{AudioURL: recordingURL})
	if err != nil {
		return "", fmt.Errorf("stt: marshal transcribe request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(string(body)))
	if err != nil {
		return "", fmt.Errorf("stt: build transcribe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt: transcribe request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("stt: vendor returned %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed transcribeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("stt: parse transcribe response: %w", err)
	}
	return parsed.Text, nil
}
