// Package geocode wraps the Google Geocoding API, grounded on the
// original Python service's utils/location_utils.py and on the HTTP
// client idiom of the teacher's internal/conversation/telnyx_voice_client.go
// (bounded client timeout, io.LimitReader on the response body, structured
// logging around the call).
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/dispatch-voice-agent/pkg/logging"
)

const (
	defaultBaseURL  = "https://maps.googleapis.com/maps/api/geocode/json"
	defaultTimeout  = 5 * time.Second
	eastShiftDegree = 0.00134 // ~100m east, per spec.md §4.4's PLZ-repair step
)

// Result is the resolved location for an address or coordinate pair.
type Result struct {
	Latitude         float64
	Longitude        float64
	FormattedAddress string
	GoogleMapsLink   string
	PLZ              string // empty if not resolvable
	Ort              string // empty if not resolvable
	Country          string // ISO short name from the "country" component, e.g. "DE"
}

// Valid reports whether the result carries a usable PLZ or Ort, mirroring
// callstate.Location.Valid.
func (r Result) Valid() bool {
	return len(r.PLZ) == 5 || r.Ort != ""
}

// Client calls the Google Geocoding API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// Config configures a Client.
type Config struct {
	APIKey     string
	BaseURL    string // overrides defaultBaseURL, for tests
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// New builds a Client. Returns an error if no API key is configured.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("geocode: MAPS_API_KEY is required")
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
	return &Client{apiKey: cfg.APIKey, baseURL: baseURL, httpClient: httpClient, logger: logger}, nil
}

type geocodeResponse struct {
	Status       string          `json:"status"`
	ErrorMessage string          `json:"error_message"`
	Results      []geocodeResult `json:"results"`
}

type geocodeResult struct {
	FormattedAddress  string             `json:"formatted_address"`
	Geometry          geometry           `json:"geometry"`
	AddressComponents []addressComponent `json:"address_components"`
}

type geometry struct {
	Location struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
}

type addressComponent struct {
	LongName  string   `json:"long_name"`
	ShortName string   `json:"short_name"`
	Types     []string `json:"types"`
}

// Geocode implements spec.md §4.4's get_geocode_result: forward-geocode the
// address (region hint DE), then reverse-geocode the resulting coordinates
// for cleaner component extraction, preferring the reverse result.
func (c *Client) Geocode(ctx context.Context, address string) (Result, bool, error) {
	forward, ok, err := c.fetchFirstResult(ctx, url.Values{
		"address":  {address},
		"key":      {c.apiKey},
		"region":   {"de"},
		"language": {"de"},
	})
	if err != nil || !ok {
		return Result{}, false, err
	}

	lat, lng := forward.Geometry.Location.Lat, forward.Geometry.Location.Lng
	reverse, reverseOK, err := c.fetchFirstResult(ctx, url.Values{
		"latlng":   {formatLatLng(lat, lng)},
		"key":      {c.apiKey},
		"language": {"de"},
	})
	if err != nil {
		c.logger.Warn("geocode: reverse lookup failed, using forward result", "error", err)
	}

	chosen := forward
	if reverseOK {
		chosen = reverse
	}
	plz, ort := extractPLZOrt(chosen)

	return Result{
		Latitude:         lat,
		Longitude:        lng,
		FormattedAddress: chosen.FormattedAddress,
		GoogleMapsLink:   fmt.Sprintf("https://www.google.com/maps?q=%s", formatLatLng(lat, lng)),
		PLZ:              plz,
		Ort:              ort,
		Country:          extractCountry(chosen),
	}, true, nil
}

// ReverseAt reverse-geocodes a specific coordinate pair, used by the
// PLZ-repair "shift east" step in spec.md §4.4.
func (c *Client) ReverseAt(ctx context.Context, lat, lng float64) (Result, bool, error) {
	result, ok, err := c.fetchFirstResult(ctx, url.Values{
		"latlng":   {formatLatLng(lat, lng)},
		"key":      {c.apiKey},
		"language": {"de"},
	})
	if err != nil || !ok {
		return Result{}, false, err
	}
	plz, ort := extractPLZOrt(result)
	return Result{
		Latitude:         lat,
		Longitude:        lng,
		FormattedAddress: result.FormattedAddress,
		GoogleMapsLink:   fmt.Sprintf("https://www.google.com/maps?q=%s", formatLatLng(lat, lng)),
		PLZ:              plz,
		Ort:              ort,
		Country:          extractCountry(result),
	}, true, nil
}

// ShiftedEast reverse-geocodes at (lat, lng+0.00134), the ~100m-east probe
// spec.md §4.4 specifies as the first PLZ-repair attempt.
func (c *Client) ShiftedEast(ctx context.Context, lat, lng float64) (Result, bool, error) {
	return c.ReverseAt(ctx, lat, lng+eastShiftDegree)
}

func (c *Client) fetchFirstResult(ctx context.Context, params url.Values) (geocodeResult, bool, error) {
	reqURL := c.baseURL + "?" + params.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return geocodeResult{}, false, fmt.Errorf("geocode: build request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return geocodeResult{}, false, fmt.Errorf("geocode: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return geocodeResult{}, false, fmt.Errorf("geocode: read response: %w", err)
	}

	var decoded geocodeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return geocodeResult{}, false, fmt.Errorf("geocode: decode response: %w", err)
	}

	if decoded.Status != "OK" {
		c.logger.Warn("geocode: API returned non-OK status", "status", decoded.Status, "error_message", decoded.ErrorMessage)
		return geocodeResult{}, false, nil
	}
	if len(decoded.Results) == 0 {
		return geocodeResult{}, false, nil
	}
	return decoded.Results[0], true, nil
}

// extractPLZOrt implements spec.md §4.4 / location_utils.py's
// _extract_plz_ort: postal code from the "postal_code" component (spaces
// stripped), city from locality/postal_town/administrative_area_level_3 in
// that order, falling back to administrative_area_level_2/_1.
func extractPLZOrt(result geocodeResult) (plz, ort string) {
	for _, comp := range result.AddressComponents {
		if plz == "" && hasAnyType(comp.Types, "postal_code") && comp.LongName != "" {
			plz = strings.ReplaceAll(comp.LongName, " ", "")
		}
		if ort == "" && hasAnyType(comp.Types, "locality", "postal_town", "administrative_area_level_3") {
			ort = comp.LongName
		}
	}
	if ort == "" {
		for _, comp := range result.AddressComponents {
			if hasAnyType(comp.Types, "administrative_area_level_2", "administrative_area_level_1") {
				ort = comp.LongName
				break
			}
		}
	}
	return plz, ort
}

// extractCountry returns the ISO short name (e.g. "DE") of the "country"
// address component, used by internal/callflow to detect out-of-area
// addresses directly instead of substring-matching the formatted address.
func extractCountry(result geocodeResult) string {
	for _, comp := range result.AddressComponents {
		if hasAnyType(comp.Types, "country") {
			return comp.ShortName
		}
	}
	return ""
}

func hasAnyType(types []string, want ...string) bool {
	for _, t := range types {
		for _, w := range want {
			if t == w {
				return true
			}
		}
	}
	return false
}

func formatLatLng(lat, lng float64) string {
	return strconv.FormatFloat(lat, 'f', 6, 64) + "," + strconv.FormatFloat(lng, 'f', 6, 64)
}
