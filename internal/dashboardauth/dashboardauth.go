// Package dashboardauth validates the bearer token dashboard API requests
// carry (spec.md §6): each token is checked against an external OIDC
// userinfo endpoint, and a successful validation is cached 7 days in Redis
// keyed by the SHA-256 of the token so repeat requests within the window
// skip the round trip. Grounded on the teacher's
// internal/http/middleware/cognito_auth.go for the http.Handler-wrapping
// middleware shape and the context-key claims pattern, generalized from
// local JWKS verification to the simpler external-userinfo-call model §6
// actually specifies; golang-jwt/v5 is used to parse the token's subject
// claim for logging without performing signature verification locally.
package dashboardauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/dispatch-voice-agent/pkg/logging"
)

const cacheTTL = 7 * 24 * time.Hour

// Subject is what a successful userinfo call resolves a token to.
type Subject struct {
	ID    string `json:"sub"`
	Email string `json:"email"`
}

// ErrUnauthorized is returned by Validator implementations when the token
// is rejected by the userinfo endpoint.
var ErrUnauthorized = errors.New("dashboardauth: unauthorized")

// Validator checks a bearer token against the external OIDC userinfo
// endpoint. The one production implementation is HTTPValidator; tests
// substitute a fake.
type Validator interface {
	Validate(ctx context.Context, token string) (Subject, error)
}

// HTTPValidator calls a configured OIDC userinfo endpoint.
type HTTPValidator struct {
	userinfoURL string
	httpClient  *http.Client
}

// NewHTTPValidator builds a Validator against userinfoURL.
func NewHTTPValidator(userinfoURL string, httpClient *http.Client) *HTTPValidator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPValidator{userinfoURL: userinfoURL, httpClient: httpClient}
}

// Validate implements Validator.
func (v *HTTPValidator) Validate(ctx context.Context, token string) (Subject, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.userinfoURL, nil)
	if err != nil {
		return Subject{}, fmt.Errorf("dashboardauth: build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return Subject{}, fmt.Errorf("dashboardauth: userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Subject{}, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return Subject{}, fmt.Errorf("dashboardauth: userinfo returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Subject{}, fmt.Errorf("dashboardauth: read userinfo response: %w", err)
	}
	var sub Subject
	if err := json.Unmarshal(body, &sub); err != nil {
		return Subject{}, fmt.Errorf("dashboardauth: decode userinfo response: %w", err)
	}
	return sub, nil
}

// Cache is the Redis-backed 7-day validation cache.
type Cache struct {
	rdb *redis.Client
}

// NewCache wraps an existing Redis client.
func NewCache(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "dashboardauth:token:" + hex.EncodeToString(sum[:])
}

func (c *Cache) get(ctx context.Context, token string) (Subject, bool) {
	data, err := c.rdb.Get(ctx, cacheKey(token)).Bytes()
	if err != nil {
		return Subject{}, false
	}
	var sub Subject
	if json.Unmarshal(data, &sub) != nil {
		return Subject{}, false
	}
	return sub, true
}

func (c *Cache) put(ctx context.Context, token string, sub Subject) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, cacheKey(token), data, cacheTTL).Err()
}

type subjectContextKey struct{}

// SubjectFromContext retrieves the validated Subject the middleware
// attached to the request context.
func SubjectFromContext(ctx context.Context) (Subject, bool) {
	sub, ok := ctx.Value(subjectContextKey{}).(Subject)
	return sub, ok
}

// Middleware wraps handlers with bearer-token validation, checking the
// 7-day cache before calling out to the userinfo endpoint.
func Middleware(validator Validator, cache *Cache, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}
			token := strings.TrimPrefix(auth, "Bearer ")

			if sub, hit := cache.get(r.Context(), token); hit {
				ctx := context.WithValue(r.Context(), subjectContextKey{}, sub)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			sub, err := validator.Validate(r.Context(), token)
			if errors.Is(err, ErrUnauthorized) {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			if err != nil {
				logger.Warn("dashboardauth: validation failed", "claimed_sub", subjectFromUnverifiedToken(token), "error", err)
				http.Error(w, `{"error":"token validation unavailable"}`, http.StatusServiceUnavailable)
				return
			}

			if err := cache.put(r.Context(), token, sub); err != nil {
				logger.Warn("dashboardauth: cache write failed", "error", err)
			}

			ctx := context.WithValue(r.Context(), subjectContextKey{}, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// subjectFromUnverifiedToken extracts the "sub" claim without verifying
// the signature, used only for log correlation before the userinfo round
// trip resolves the authoritative Subject.
func subjectFromUnverifiedToken(token string) string {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return sub
}
