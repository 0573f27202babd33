package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"sessiond/internal/config"
	"sessiond/internal/domain"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	yaml "gopkg.in/yaml.v2"
)

// Principal — учётная запись, стоящая за API-ключом. Роли (attester, admin)
// определяются конфигом движка, а не файлом принципалов.
type Principal struct {
	Name    string `yaml:"name"`
	Key     string `yaml:"key"`
	Account string `yaml:"account"`
}

type principalsFile struct {
	Principals []Principal `yaml:"principals"`
}

// LoadPrincipals reads the API key -> account mapping from a YAML file.
func LoadPrincipals(path string) ([]Principal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read principals file: %w", err)
	}

	var pf principalsFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &pf); err != nil {
		return nil, fmt.Errorf("parse principals file: %w", err)
	}

	seen := make(map[string]struct{}, len(pf.Principals))
	for _, p := range pf.Principals {
		if strings.TrimSpace(p.Key) == "" || strings.TrimSpace(p.Account) == "" {
			return nil, fmt.Errorf("principal %q: key and account are required", p.Name)
		}
		if _, dup := seen[p.Key]; dup {
			return nil, fmt.Errorf("principal %q: duplicate api key", p.Name)
		}
		seen[p.Key] = struct{}{}
	}
	return pf.Principals, nil
}

const (
	apiKeyHeaderDefault  = "X-Api-Key"
	idempotencyKeyHeader = "Idempotency-Key"
	clientKeyUnknown     = "unknown"
)

type principalCtxKey struct{}

// PrincipalFromContext returns the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(Principal)
	return p, ok
}

// HTTPAuth authenticates requests by API key and applies two rate limits:
// a per-key token bucket in process and a per-account window in the guard
// store. Mutating requests may carry an Idempotency-Key header; a replay
// inside the TTL is rejected before it reaches a handler.
type HTTPAuth struct {
	cfg    config.APIConfig
	byKey  map[string]Principal
	guard  domain.GuardRepository
	logger zerolog.Logger

	buckets sync.Map // api key -> *rate.Limiter
}

func NewHTTPAuth(cfg config.APIConfig, principals []Principal, guard domain.GuardRepository, logger *zerolog.Logger) *HTTPAuth {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "api_auth").Logger()
	}

	byKey := make(map[string]Principal, len(principals))
	for _, p := range principals {
		byKey[p.Key] = p
	}

	return &HTTPAuth{
		cfg:    cfg,
		byKey:  byKey,
		guard:  guard,
		logger: base,
	}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		principal, ok := a.authenticate(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}

		if !a.allowKey(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		if principal.Account != "" {
			if ok, err := a.allowAccount(r.Context(), principal.Account); err != nil {
				a.logger.Warn().Err(err).Str("account", principal.Account).Msg("account rate limit check failed")
			} else if !ok {
				writeError(w, http.StatusTooManyRequests, "account rate limit exceeded")
				return
			}
		}

		if r.Method != http.MethodGet {
			if done, ok := a.reserveIdempotency(r, principal); !ok {
				writeError(w, http.StatusInternalServerError, "idempotency check failed")
				return
			} else if done {
				writeError(w, http.StatusConflict, "duplicate request")
				return
			}
		}

		ctx := context.WithValue(r.Context(), principalCtxKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *HTTPAuth) authenticate(r *http.Request) (Principal, bool) {
	if !a.cfg.Auth.Enabled {
		// В открытом режиме аккаунт берётся из заголовка как есть.
		account := strings.TrimSpace(r.Header.Get("X-Account"))
		return Principal{Account: account}, account != ""
	}

	header := strings.TrimSpace(a.cfg.Auth.HeaderAPIKey)
	if header == "" {
		header = apiKeyHeaderDefault
	}

	apiKey := strings.TrimSpace(r.Header.Get(header))
	if apiKey == "" {
		return Principal{}, false
	}

	for key, p := range a.byKey {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			return p, true
		}
	}
	return Principal{}, false
}

func (a *HTTPAuth) allowKey(key string) bool {
	if a.cfg.RateLimit.RPS <= 0 {
		return true
	}

	if v, ok := a.buckets.Load(key); ok {
		return v.(*rate.Limiter).Allow()
	}

	burst := a.cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 5
	}
	lim := rate.NewLimiter(rate.Limit(a.cfg.RateLimit.RPS), burst)
	if actual, loaded := a.buckets.LoadOrStore(key, lim); loaded {
		lim = actual.(*rate.Limiter)
	}
	return lim.Allow()
}

func (a *HTTPAuth) allowAccount(ctx context.Context, account string) (bool, error) {
	if !a.cfg.RateLimit.AccountEnabled || a.guard == nil {
		return true, nil
	}
	window := time.Duration(a.cfg.RateLimit.AccountWindow) * time.Second
	return a.guard.CheckRateLimit(ctx, account, a.cfg.RateLimit.AccountLimit, window)
}

// reserveIdempotency returns (alreadySeen, ok).
func (a *HTTPAuth) reserveIdempotency(r *http.Request, p Principal) (bool, bool) {
	if a.guard == nil {
		return false, true
	}
	key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if key == "" {
		return false, true
	}

	reserved, err := a.guard.Reserve(r.Context(), fmt.Sprintf("idem:%s:%s", p.Account, key), a.cfg.IdempotencyTTL)
	if err != nil {
		a.logger.Error().Err(err).Str("account", p.Account).Msg("idempotency reservation failed")
		return false, false
	}
	return !reserved, true
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	header := strings.TrimSpace(a.cfg.Auth.HeaderAPIKey)
	if header == "" {
		header = apiKeyHeaderDefault
	}
	if key := strings.TrimSpace(r.Header.Get(header)); key != "" {
		return key
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return clientKeyUnknown
	}
	return host
}
