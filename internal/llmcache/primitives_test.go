package llmcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wolfman30/dispatch-voice-agent/internal/llm"
)

// slowClient never answers before ctx is canceled, so both race
// participants observe the outer deadline instead of returning text.
type slowClient struct{ delay time.Duration }

func (s *slowClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	select {
	case <-time.After(s.delay):
		return llm.Response{Text: "andere -> andere"}, nil
	case <-ctx.Done():
		return llm.Response{}, ctx.Err()
	}
}

func newTimeoutOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	a := llm.NewTaggedClient("grok", &slowClient{delay: time.Second})
	b := llm.NewTaggedClient("gpt", &slowClient{delay: time.Second})
	orch, err := NewOrchestrator(t.TempDir(), a, b, 50*time.Millisecond, nil, nil)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return orch
}

// TestClassifyIntentSurfacesDeadlineExceeded exercises the real
// cachedRequest/llm.Ask path end to end (not a handler-level fake): when
// both providers are still in flight at the caller's deadline, the
// resulting error must be context.DeadlineExceeded so callers like
// callflow's handleOrchestratorError can route to the emergency transfer
// and record "<Request timed out>" instead of silently falling through
// to the "andere" classification.
func TestClassifyIntentSurfacesDeadlineExceeded(t *testing.T) {
	orch := newTimeoutOrchestrator(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	intent, _, _, _, err := orch.ClassifyIntent(ctx, "Ich habe mich ausgesperrt")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got err=%v intent=%q", err, intent)
	}
}

// TestYesNoQuestionSurfacesDeadlineExceeded is the same check on a second
// primitive, guarding against a fix that only patches one call site.
func TestYesNoQuestionSurfacesDeadlineExceeded(t *testing.T) {
	orch := newTimeoutOrchestrator(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, _, _, _, err := orch.YesNoQuestion(ctx, "ja klar", "Bestätigen Sie die Adresse?")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got err=%v", err)
	}
}

// TestCachedRequestStillCachesOnSuccess guards the non-timeout path: a
// normal cache miss followed by a hit must still short-circuit to
// duration 0 / source "cache", per spec.md §4.3 and §8.
func TestCachedRequestStillCachesOnSuccess(t *testing.T) {
	a := llm.NewTaggedClient("grok", fastClient{text: "Klar ja. -> Ja"})
	b := llm.NewTaggedClient("gpt", fastClient{text: ""})
	orch, err := NewOrchestrator(t.TempDir(), a, b, time.Second, nil, nil)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	ctx := context.Background()
	agreement, _, _, src, err := orch.YesNoQuestion(ctx, "ja", "Bestätigen Sie die Adresse?")
	if err != nil {
		t.Fatalf("YesNoQuestion (miss): %v", err)
	}
	if !agreement || src != "grok" {
		t.Fatalf("expected agreement from grok on miss, got agreement=%v src=%s", agreement, src)
	}

	agreement, _, dur, src, err := orch.YesNoQuestion(ctx, "ja", "Bestätigen Sie die Adresse?")
	if err != nil {
		t.Fatalf("YesNoQuestion (hit): %v", err)
	}
	if !agreement || src != "cache" || dur != 0 {
		t.Fatalf("expected cache hit with duration 0, got agreement=%v src=%s dur=%v", agreement, src, dur)
	}
}

type fastClient struct{ text string }

func (f fastClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{Text: f.text}, nil
}
