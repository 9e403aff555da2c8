// Package pricing resolves the closest reachable provider for a service
// and the tiered day/night price for reaching it, grounded on the
// original Python service's utils/pricing.py (tier iteration, the
// _closest_provider fallback sweep) and, for the HTTP call shape, on the
// teacher's internal/conversation/telnyx_voice_client.go idiom. The
// original calls google.maps.routing_v2's gRPC client; no Go routing
// library appears anywhere in the retrieved example pack, so this package
// talks to the Routes API's documented REST endpoint directly with
// net/http instead (see DESIGN.md).
package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/wolfman30/dispatch-voice-agent/internal/providerstore"
	"github.com/wolfman30/dispatch-voice-agent/pkg/logging"
)

const (
	defaultRoutesURL = "https://routes.googleapis.com/directions/v2:computeRoutes"
	defaultTimeout   = 5 * time.Second
)

// ErrNoReachableProvider is returned when no provider location (including
// fallbacks) yields a usable route, matching spec.md §4.4 step 3's
// `ValueError("No reachable provider found")`.
var ErrNoReachableProvider = errors.New("pricing: no reachable provider found")

// Berlin is the fixed zone day/night pricing is evaluated in (spec.md
// §3/§4.4: "'Day' is defined by ... hour_local"), matching the original
// Python service's pytz.timezone("Europe/Berlin"). Every service this
// system dispatches for operates in Germany or Austria, both DE/AT zones
// that track Europe/Berlin, so a single fixed zone is used rather than a
// per-service override. time.LoadLocation falls back to UTC if the tzdata
// database isn't available in a minimal container image; callers should
// ship tzdata (e.g. import _ "time/tzdata") if that matters to them.
var Berlin = loadBerlin()

func loadBerlin() *time.Location {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		return time.UTC
	}
	return loc
}

// RoutesClient calls the Google Routes API's computeRoutes endpoint.
type RoutesClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// RoutesConfig configures a RoutesClient.
type RoutesConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// NewRoutesClient builds a RoutesClient.
func NewRoutesClient(cfg RoutesConfig) (*RoutesClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("pricing: ROUTES_API_KEY is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultRoutesURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &RoutesClient{apiKey: cfg.APIKey, baseURL: baseURL, httpClient: httpClient, logger: logger}, nil
}

type waypoint struct {
	Address  string    `json:"address,omitempty"`
	Location *location `json:"location,omitempty"`
}

type location struct {
	LatLng latLng `json:"latLng"`
}

type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type computeRoutesRequest struct {
	Origin            waypoint `json:"origin"`
	Destination       waypoint `json:"destination"`
	TravelMode        string   `json:"travelMode"`
	RoutingPreference string   `json:"routingPreference"`
	LanguageCode      string   `json:"languageCode"`
	Units             string   `json:"units"`
	RegionCode        string   `json:"regionCode"`
}

type computeRoutesResponse struct {
	Routes []struct {
		DistanceMeters int    `json:"distanceMeters"`
		Duration       string `json:"duration"` // e.g. "1200s"
	} `json:"routes"`
}

// Route is the outcome of one origin→destination lookup.
type Route struct {
	DistanceMeters  int
	DurationSeconds int
}

// ComputeRoute calls the Routes API for origin (coordinates) → destination
// (a free-form address, usually a provider's configured address).
func (c *RoutesClient) ComputeRoute(ctx context.Context, originLat, originLng float64, destinationAddress string) (Route, bool, error) {
	reqBody := computeRoutesRequest{
		Origin:            waypoint{Location: &location{LatLng: latLng{Latitude: originLat, Longitude: originLng}}},
		Destination:       waypoint{Address: destinationAddress},
		TravelMode:        "DRIVE",
		RoutingPreference: "TRAFFIC_UNAWARE",
		LanguageCode:      "de",
		Units:             "METRIC",
		RegionCode:        "DE",
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Route{}, false, fmt.Errorf("pricing: marshal routes request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return Route{}, false, fmt.Errorf("pricing: build routes request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Goog-Api-Key", c.apiKey)
	httpReq.Header.Set("X-Goog-FieldMask", "routes.distanceMeters,routes.duration")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Route{}, false, fmt.Errorf("pricing: routes request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Route{}, false, fmt.Errorf("pricing: read routes response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("pricing: routes API error", "status", resp.StatusCode, "body", string(respBody))
		return Route{}, false, nil
	}

	var decoded computeRoutesResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return Route{}, false, fmt.Errorf("pricing: decode routes response: %w", err)
	}
	if len(decoded.Routes) == 0 {
		return Route{}, false, nil
	}

	seconds, err := parseDurationSeconds(decoded.Routes[0].Duration)
	if err != nil {
		return Route{}, false, fmt.Errorf("pricing: parse route duration: %w", err)
	}
	return Route{DistanceMeters: decoded.Routes[0].DistanceMeters, DurationSeconds: seconds}, true, nil
}

func parseDurationSeconds(s string) (int, error) {
	trimmed := s
	if len(trimmed) > 0 && trimmed[len(trimmed)-1] == 's' {
		trimmed = trimmed[:len(trimmed)-1]
	}
	return strconv.Atoi(trimmed)
}

// Quote is the final priced offer: spec.md §4.4 step 5's
// (price, minutes, provider_name, provider_phone).
type Quote struct {
	Price         int
	Minutes       int
	ProviderName  string
	ProviderPhone string
}

// ClosestProvider implements spec.md §4.4's get_price steps 1-3: try every
// non-fallback provider address first, keep the minimum duration, and only
// consult fallback-flagged providers if none of the primaries were
// reachable.
func (c *RoutesClient) ClosestProvider(ctx context.Context, originLat, originLng float64, svc providerstore.Service) (providerstore.Provider, Route, error) {
	best, bestRoute, ok := c.cheapestAmong(ctx, originLat, originLng, svc.Providers, false)
	if ok {
		return best, bestRoute, nil
	}
	best, bestRoute, ok = c.cheapestAmong(ctx, originLat, originLng, svc.Providers, true)
	if ok {
		return best, bestRoute, nil
	}
	return providerstore.Provider{}, Route{}, ErrNoReachableProvider
}

func (c *RoutesClient) cheapestAmong(ctx context.Context, lat, lng float64, providers []providerstore.Provider, fallback bool) (providerstore.Provider, Route, bool) {
	var best providerstore.Provider
	var bestRoute Route
	found := false

	for _, p := range providers {
		if p.Fallback != fallback || p.Address == "" {
			continue
		}
		route, ok, err := c.ComputeRoute(ctx, lat, lng, p.Address)
		if err != nil {
			c.logger.Warn("pricing: route lookup failed", "provider", p.Name, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if !found || route.DurationSeconds < bestRoute.DurationSeconds {
			best, bestRoute, found = p, route, true
		}
	}
	return best, bestRoute, found
}

// Price implements spec.md §4.4's get_price as a whole: resolve the
// closest provider, then compute the tiered price and the 10-minute-floor
// ETA.
func (c *RoutesClient) Price(ctx context.Context, originLat, originLng float64, svc providerstore.Service, now time.Time) (Quote, error) {
	provider, route, err := c.ClosestProvider(ctx, originLat, originLng, svc)
	if err != nil {
		return Quote{}, err
	}
	price, minutes := EvaluateTier(route.DurationSeconds, svc.Tiers, svc.FallbackDayPrice, svc.FallbackNightPrice, svc.ActiveHours, now)
	if minutes < 10 {
		minutes = 10
	}
	contact := firstContact(provider)
	return Quote{Price: price, Minutes: minutes, ProviderName: provider.Name, ProviderPhone: contact}, nil
}

func firstContact(p providerstore.Provider) string {
	if len(p.Contacts) == 0 {
		return ""
	}
	return p.Contacts[0].Phone
}

// IsDaytime reports whether hour falls within [hours.DayStart, hours.DayEnd)
// per spec.md's testable property ("hour exactly == day_start is day; hour
// exactly == day_end is night").
func IsDaytime(hour int, hours providerstore.ActiveHours) bool {
	return hour >= hours.DayStart && hour < hours.DayEnd
}

// EvaluateTier implements spec.md §4.4 step 4 / §4's testable property:
// pick the first tier whose Minutes exceeds the elapsed minutes, else the
// fallback; day vs night is decided by now's local hour against hours.
func EvaluateTier(durationSeconds int, tiers []providerstore.Tier, fallbackDay, fallbackNight int, hours providerstore.ActiveHours, now time.Time) (price, minutes int) {
	minutes = durationSeconds / 60
	day := IsDaytime(now.Hour(), hours)
	for _, t := range tiers {
		if minutes < t.Minutes {
			if day {
				return t.DayPrice, minutes
			}
			return t.NightPrice, minutes
		}
	}
	if day {
		return fallbackDay, minutes
	}
	return fallbackNight, minutes
}
