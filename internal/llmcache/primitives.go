package llmcache

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/dispatch-voice-agent/internal/llm"
	"github.com/wolfman30/dispatch-voice-agent/internal/telemetry"
	"github.com/wolfman30/dispatch-voice-agent/pkg/logging"
)

// ErrHumanAgentRequested is raised out of the cached-request path whenever
// a raw model response contains the token "mitarbeiter" (spec.md §4.3 /
// §6's HumanAgentRequested signal). Every call-flow handler that touches
// the orchestrator must treat this the same way: interrupt immediately and
// transfer, regardless of what state it was in.
var ErrHumanAgentRequested = errors.New("llmcache: human agent requested")

// Orchestrator bundles the two race participants with the four
// cache-backed primitives the call flow drives: yes/no questions, intent
// classification, address extraction and postal-code correction.
// Grounded in the teacher's internal/conversation package layout, where a
// single struct wires the LLM clients used by the rest of the service.
type Orchestrator struct {
	a, b    llm.TaggedClient
	lead    time.Duration
	log     *logging.Logger
	metrics *telemetry.Metrics

	yesNo    *Cache[yesNoResult]
	intent   *Cache[intentResult]
	location *Cache[locationResult]
	plz      *Cache[plzResult]
}

type yesNoResult struct {
	IsAgreement bool   `json:"is_agreement"`
	Reasoning   string `json:"reasoning"`
}

type intentResult struct {
	Intent    string `json:"intent"`
	Reasoning string `json:"reasoning"`
}

type locationResult struct {
	ContainsLocation bool   `json:"contains_location"`
	ContainsCity     bool   `json:"contains_city"`
	KnowsLocation    bool   `json:"knows_location"`
	Address          string `json:"address"`
}

type plzResult struct {
	PLZ   string `json:"plz"`
	Found bool   `json:"found"`
}

// IntentChoices is the fixed classification taxonomy from spec.md §4.3.
var IntentChoices = []string{"schlüsseldienst", "abschleppdienst", "adac", "mitarbeiter", "andere"}

const intentFallback = "andere"

// NewOrchestrator opens the four on-disk caches under cacheRoot. metrics
// may be nil (every Observe* call is nil-receiver-safe).
func NewOrchestrator(cacheRoot string, a, b llm.TaggedClient, leadTimeout time.Duration, log *logging.Logger, metrics *telemetry.Metrics) (*Orchestrator, error) {
	yesNo, err := NewCache[yesNoResult](cacheRoot, "yes_no_question")
	if err != nil {
		return nil, err
	}
	intent, err := NewCache[intentResult](cacheRoot, "classify_intent")
	if err != nil {
		return nil, err
	}
	location, err := NewCache[locationResult](cacheRoot, "process_location")
	if err != nil {
		return nil, err
	}
	plz, err := NewCache[plzResult](cacheRoot, "correct_plz")
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		a: a, b: b, lead: leadTimeout, log: log, metrics: metrics,
		yesNo: yesNo, intent: intent, location: location, plz: plz,
	}, nil
}

// YesNoQuestion implements spec.md §4.3's yes_no_question primitive.
func (o *Orchestrator) YesNoQuestion(ctx context.Context, text, callContext string) (agreement bool, reasoning string, duration time.Duration, source string, err error) {
	if strings.TrimSpace(text) == "" {
		return false, "Kein Text vorhanden.", 0, "noop", nil
	}

	systemPrompt := `Du entscheidest: zeigt die Antwort eine Zustimmung? Gib "Ja" oder "Nein" und eine kurze Begründung auf Deutsch aus.

FORMAT: <Begründung> -> <Ja/Nein>

JA falls klare oder schwache Zustimmung, NEIN bei Verneinung, Unklarheit oder Rückfrage ohne Zustimmung. Ambig ohne positives Signal => Nein.`
	userPrompt := `Kontext: "` + callContext + `"` + "\n" + `Antwort des Benutzers: "` + text + `". Zeigt dies eine bejahende Absicht?`

	parse := func(raw string) (yesNoResult, error) {
		reasoning, decision := splitArrow(raw, 1)
		decision = strings.TrimSpace(decision)
		return yesNoResult{
			IsAgreement: strings.EqualFold(decision, "ja"),
			Reasoning:   reasoning,
		}, nil
	}

	result, dur, src, cerr := cachedRequest(ctx, o.yesNo, map[string]string{"text": text, "context": callContext}, systemPrompt, userPrompt, o.a, o.b, o.lead, o.metrics, parse, func(error) yesNoResult { return yesNoResult{} })
	if cerr != nil {
		return false, "", dur, src, cerr
	}
	return result.IsAgreement, result.Reasoning, dur, src, nil
}

// ClassifyIntent implements spec.md §4.3's classify_intent primitive.
func (o *Orchestrator) ClassifyIntent(ctx context.Context, text string) (intent, reasoning string, duration time.Duration, source string, err error) {
	if strings.TrimSpace(text) == "" {
		return intentFallback, "Kein Text vorhanden.", 0, "noop", nil
	}

	choicesStr := strings.Join(IntentChoices, "', '")
	systemPrompt := "Du klassifizierst exakt in eine dieser Klassen: '" + choicesStr + "'. Gib die Klassifizierung und eine kurze Begründung auf Deutsch aus.\n\n" +
		"FORMAT: <Begründung> -> <Klassenname>\n\n" +
		"PRIORITÄTEN BEI AMBIGUITÄT: Schlüssel- und Auto-Kontext zusammen => schlüsseldienst. Klarer Wunsch nach Mensch überschreibt andere Hinweise => mitarbeiter. Sonst fallback '" + intentFallback + "'."
	userPrompt := `Kategorisiere diese Anfrage: "` + text + `"`

	parse := func(raw string) (intentResult, error) {
		reasoning, classification := splitArrow(raw, 1)
		classification = strings.ToLower(strings.TrimSpace(classification))
		if classification == "" {
			classification = strings.ToLower(strings.TrimSpace(raw))
			reasoning = "Keine Begründung gegeben."
		}
		if !isKnownIntent(classification) {
			reasoning = "Unerwartete Klassifizierung '" + classification + "', fallback zu '" + intentFallback + "'. " + reasoning
			classification = intentFallback
		}
		return intentResult{Intent: classification, Reasoning: reasoning}, nil
	}

	result, dur, src, cerr := cachedRequest(ctx, o.intent, map[string]string{"text": text}, systemPrompt, userPrompt, o.a, o.b, o.lead, o.metrics, parse, func(error) intentResult {
		return intentResult{Intent: intentFallback, Reasoning: "Fehler bei der Klassifizierung."}
	})
	if cerr != nil {
		return intentFallback, "", dur, src, cerr
	}
	return result.Intent, result.Reasoning, dur, src, nil
}

func isKnownIntent(v string) bool {
	for _, c := range IntentChoices {
		if c == v {
			return true
		}
	}
	return false
}

// ProcessLocation implements spec.md §4.3's process_location primitive.
func (o *Orchestrator) ProcessLocation(ctx context.Context, text string) (containsLocation, containsCity, knowsLocation bool, address string, duration time.Duration, source string, err error) {
	if strings.TrimSpace(text) == "" {
		return false, false, false, "", 0, "noop", nil
	}

	systemPrompt := `Analysiere den gesprochenen Text auf Adressinformationen. Gib vier Teile getrennt durch "->" aus:
1. Ja/Nein: enthält der Text eine vollständige Adresse (Straße+Hausnummer oder PLZ+Ort)?
2. Ja/Nein: enthält der Text einen Ortsnamen?
3. Ja/Nein: kennt der Anrufer seinen Standort überhaupt?
4. Die extrahierte Adresse (Straße Hausnummer in PLZ Ort, oder verfügbare Teile), leer falls keine.

FORMAT: <Ja/Nein> -> <Ja/Nein> -> <Ja/Nein> -> <Adresse>`
	userPrompt := `Text: "` + text + `"`

	parse := func(raw string) (locationResult, error) {
		parts := strings.SplitN(raw, "->", 4)
		if len(parts) < 4 {
			return locationResult{}, nil
		}
		return locationResult{
			ContainsLocation: isJa(parts[0]),
			ContainsCity:     isJa(parts[1]),
			KnowsLocation:    isJa(parts[2]),
			Address:          strings.TrimSpace(parts[3]),
		}, nil
	}

	result, dur, src, cerr := cachedRequest(ctx, o.location, map[string]string{"text": text}, systemPrompt, userPrompt, o.a, o.b, o.lead, o.metrics, parse, func(error) locationResult { return locationResult{} })
	if cerr != nil {
		return false, false, false, "", dur, src, cerr
	}
	return result.ContainsLocation, result.ContainsCity, result.KnowsLocation, result.Address, dur, src, nil
}

var plzPattern = regexp.MustCompile(`\d{4,5}`)

// CorrectPLZ implements spec.md §4.3's correct_plz primitive. It is bounded
// by a 5 s ceiling rather than the standard 6 s race timeout, applied by
// the caller wrapping ctx.
func (o *Orchestrator) CorrectPLZ(ctx context.Context, location string, lat, lon float64) (plz string, found bool, duration time.Duration, source string, err error) {
	if strings.TrimSpace(location) == "" {
		return "", false, 0, "noop", nil
	}

	systemPrompt := `Du korrigierst eine deutsche Postleitzahl anhand einer Ortsbeschreibung und Koordinaten. Antworte NUR mit der 5-stelligen PLZ, oder "unbekannt" falls nicht bestimmbar.`
	userPrompt := "Ort: \"" + location + "\", Koordinaten: " + formatCoord(lat) + "," + formatCoord(lon)

	parse := func(raw string) (plzResult, error) {
		match := plzPattern.FindString(raw)
		if match == "" {
			return plzResult{}, nil
		}
		if _, err := strconv.Atoi(match); err != nil {
			return plzResult{}, nil
		}
		return plzResult{PLZ: match, Found: true}, nil
	}

	result, dur, src, cerr := cachedRequest(ctx, o.plz, map[string]string{"location": location}, systemPrompt, userPrompt, o.a, o.b, o.lead, o.metrics, parse, func(error) plzResult { return plzResult{} })
	if cerr != nil {
		return "", false, dur, src, cerr
	}
	return result.PLZ, result.Found, dur, src, nil
}

// cachedRequest implements spec.md §4.3's cached_request: a cache hit short
// circuits to (value, 0, "cache", nil); a miss races the two providers,
// detects the "mitarbeiter" human-handoff token, and otherwise parses and
// persists the raw response.
func cachedRequest[T any](
	ctx context.Context,
	cache *Cache[T],
	input map[string]string,
	systemPrompt, userPrompt string,
	a, b llm.TaggedClient,
	leadTimeout time.Duration,
	metrics *telemetry.Metrics,
	parse func(raw string) (T, error),
	errorValue func(error) T,
) (T, time.Duration, string, error) {
	key := CacheKey(input)
	if cached, ok := cache.Get(key); ok {
		metrics.ObserveRaceLatency("cache", true, 0)
		return cached, 0, "cache", nil
	}

	start := time.Now()
	res := llm.Ask(ctx, a, b, llm.Request{
		System:      []string{systemPrompt},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: userPrompt}},
		MaxTokens:   256,
		Temperature: 0,
	}, leadTimeout)
	elapsed := time.Since(start)
	metrics.ObserveRaceLatency(res.Source, false, elapsed.Seconds())

	// A breached ceiling (the 6.0s race timeout or the 5.0s correct_plz
	// timeout, spec.md §5) surfaces as ctx.Err() here rather than hiding
	// behind Ask's empty-result/"unknown" source: every participant that
	// observed the deadline already folded into Result{Source:"unknown"}
	// with no error of its own, so this is the one place that can still
	// tell a real timeout apart from both providers legitimately
	// returning nothing.
	if ctx.Err() != nil {
		var zero T
		return zero, elapsed, res.Source, ctx.Err()
	}

	if strings.Contains(strings.ToLower(res.Text), "mitarbeiter") {
		var zero T
		return zero, elapsed, res.Source, ErrHumanAgentRequested
	}

	parsed, err := parse(res.Text)
	if err != nil {
		return errorValue(err), elapsed, res.Source, nil
	}

	if err := cache.Set(key, parsed); err != nil {
		// A cache-write failure doesn't invalidate an answer the caller
		// already has; the next identical request just misses again.
		return parsed, elapsed, res.Source, nil
	}
	return parsed, elapsed, res.Source, nil
}

// splitArrow splits raw on the first "->" into (reasoning, decision). With
// no arrow present, reasoning falls back to the spec's fixed placeholder
// and decision is the raw text itself.
func splitArrow(raw string, n int) (reasoning, decision string) {
	parts := strings.SplitN(raw, "->", n+1)
	if len(parts) < 2 {
		return "Keine Begründung gegeben.", strings.TrimSpace(raw)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

func isJa(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "ja")
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', 6, 64)
}
