package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"slotkeeper/internal/config"
	"slotkeeper/internal/domain"
	"slotkeeper/internal/metrics"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
)

const (
	apiKeyHeaderDefault = "x-api-key"
	clientKeyUnknown    = "unknown"
)

var (
	errMissingAPIKey = errors.New("missing api key header")
	errInvalidAPIKey = errors.New("invalid api key")
)

type ownerKey struct{}

// OwnerFromContext returns the owner id the request was authenticated as.
func OwnerFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ownerKey{}).(string)
	return id, ok && id != ""
}

// HTTPAuth maps API keys to owners and rate limits each key.
type HTTPAuth struct {
	header  string
	clients []config.APIClientKey
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	header := strings.TrimSpace(strings.ToLower(cfg.Auth.HeaderAPIKey))
	if header == "" {
		header = apiKeyHeaderDefault
	}
	return &HTTPAuth{
		header:  header,
		clients: append([]config.APIClientKey(nil), cfg.Auth.APIKeys...),
		limiter: newRateLimiter(cfg.RateLimit),
	}
}

// Owner wraps an owner-scoped handler.
func (a *HTTPAuth) Owner(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		client, err := a.authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !a.limiter.allow(client.Key) {
			metrics.IncRateLimited("owner")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		ctx := context.WithValue(r.Context(), ownerKey{}, client.OwnerID)
		next(w, r.WithContext(ctx), ps)
	}
}

// authenticate compares the key against every configured client in constant time.
func (a *HTTPAuth) authenticate(r *http.Request) (config.APIClientKey, error) {
	apiKey := strings.TrimSpace(r.Header.Get(a.header))
	if apiKey == "" {
		return config.APIClientKey{}, errMissingAPIKey
	}
	var found *config.APIClientKey
	for i := range a.clients {
		if subtle.ConstantTimeCompare([]byte(a.clients[i].Key), []byte(apiKey)) == 1 {
			found = &a.clients[i]
		}
	}
	if found == nil {
		return config.APIClientKey{}, errInvalidAPIKey
	}
	return *found, nil
}

// PublicLimiter applies a shared fixed-window limit per client address.
type PublicLimiter struct {
	limiter domain.RateLimiter
	limit   int
	window  time.Duration
	logger  *zerolog.Logger
}

func NewPublicLimiter(limiter domain.RateLimiter, cfg config.PublicRateLimitConfig, logger *zerolog.Logger) *PublicLimiter {
	return &PublicLimiter{limiter: limiter, limit: cfg.Limit, window: cfg.Window, logger: logger}
}

func (p *PublicLimiter) Wrap(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if p == nil || p.limiter == nil || p.limit <= 0 {
			next(w, r, ps)
			return
		}
		key := "public:" + clientAddr(r)
		allowed, err := p.limiter.CheckRateLimit(r.Context(), key, p.limit, p.window)
		if err != nil {
			// fail open
			p.logger.Warn().Err(err).Str("client", key).Msg("Rate limit check failed")
		} else if !allowed {
			metrics.IncRateLimited("public")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r, ps)
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return clientKeyUnknown
}
