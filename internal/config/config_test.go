package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.LLMRaceTimeout != 6*time.Second {
		t.Fatalf("expected default LLM race timeout 6s, got %s", cfg.LLMRaceTimeout)
	}
	if cfg.STTWorkerConcurrency != 4 {
		t.Fatalf("expected default STT worker concurrency 4, got %d", cfg.STTWorkerConcurrency)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LLM_RACE_TIMEOUT", "3s")
	t.Setenv("SERVER_URL", "https://dispatch.example.com/")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected PORT override, got %s", cfg.Port)
	}
	if cfg.LLMRaceTimeout != 3*time.Second {
		t.Fatalf("expected LLM_RACE_TIMEOUT override, got %s", cfg.LLMRaceTimeout)
	}
	if cfg.ServerURL != "https://dispatch.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.ServerURL)
	}
}
