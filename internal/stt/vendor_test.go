package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPTranscriberSendsBearerAndParsesText(t *testing.T) {
	var gotAuth, gotAudioURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var body transcribeRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotAudioURL = body.AudioURL
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(transcribeResponse{Text: "Hauptstraße 5 in Kempten"})
	}))
	defer srv.Close()

	tr := NewHTTPTranscriber("secret-key", srv.URL, nil, nil)
	text, err := tr.Transcribe(context.Background(), "https://recordings.example.com/a.mp3")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "Hauptstraße 5 in Kempten" {
		t.Fatalf("text = %q", text)
	}
	if gotAuth != "Bearer secret-key" {
		t.Fatalf("authorization header = %q", gotAuth)
	}
	if gotAudioURL != "https://recordings.example.com/a.mp3" {
		t.Fatalf("audio url = %q", gotAudioURL)
	}
}

func TestHTTPTranscriberReturnsErrorOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("vendor down"))
	}))
	defer srv.Close()

	tr := NewHTTPTranscriber("secret-key", srv.URL, nil, nil)
	_, err := tr.Transcribe(context.Background(), "https://recordings.example.com/a.mp3")
	if err == nil {
		t.Fatal("expected error on 502 response")
	}
}

func TestHTTPTranscriberRejectsEmptyEndpoint(t *testing.T) {
	tr := NewHTTPTranscriber("secret-key", "", nil, nil)
	if _, err := tr.Transcribe(context.Background(), "https://x/y.mp3"); err == nil {
		t.Fatal("expected error when endpoint is unconfigured")
	}
}
