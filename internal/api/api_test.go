package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sessiond/internal/config"
	"sessiond/internal/database"
	"sessiond/internal/events"
	"sessiond/internal/ledger"
	"sessiond/internal/models"
	"sessiond/internal/repository"
	"sessiond/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	keyHost     = "key-host"
	keyGuest    = "key-guest"
	keyAttester = "key-attester"
	keyAdmin    = "key-admin"
)

type testClock struct {
	now int64
}

func (c *testClock) Now() time.Time { return time.Unix(c.now, 0) }

type testServer struct {
	srv   *HTTPServer
	db    *database.DB
	clock *testClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.EnsureSettings(context.Background(), &models.EngineSettings{
		FeeBps:               250,
		LateCancelPenaltyBps: 2000,
		ChallengeBond:        500,
		ChallengeWindowSecs:  86_400,
		DisputeTimeoutSecs:   259_200,
		NoAttestBufferSecs:   86_400,
	}))

	logger := zerolog.Nop()
	clock := &testClock{now: 1_000_000}
	bus := events.NewEventBus()
	acct := ledger.NewAccounting(db, ledger.NewLogSubmitter(&logger), "treasury-1", bus, &logger)

	svc := Services{
		Slots:        service.NewSlotService(db, acct, bus, &logger),
		Bookings:     service.NewBookingService(db, acct, bus, clock, "treasury-1", &logger),
		Attestations: service.NewAttestationService(db, acct, bus, clock, "attester-1", "treasury-1", &logger),
		Disputes:     service.NewDisputeService(db, acct, bus, clock, []string{"admin-1"}, &logger),
		Requests:     service.NewRequestService(db, acct, bus, clock, &logger),
		Admin:        service.NewAdminService(db, acct, []string{"admin-1"}, &logger),
	}

	cfg := config.APIConfig{
		Enabled: true,
		Port:    0,
		Auth:    config.APIAuthConfig{Enabled: true, HeaderAPIKey: "X-Api-Key"},
		RateLimit: config.APIRateLimitConfig{
			RPS: 0, // key bucket off in tests
		},
		IdempotencyTTL: time.Hour,
	}
	principals := []Principal{
		{Name: "host", Key: keyHost, Account: "host-a"},
		{Name: "guest", Key: keyGuest, Account: "guest-b"},
		{Name: "attester", Key: keyAttester, Account: "attester-1"},
		{Name: "admin", Key: keyAdmin, Account: "admin-1"},
	}

	srv := NewHTTPServer(cfg, svc, principals, repository.NewMemoryGuardRepository(), &logger)
	return &testServer{srv: srv, db: db, clock: clock}
}

func (ts *testServer) do(t *testing.T, method, path, apiKey string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if apiKey != "" {
		req.Header.Set("X-Api-Key", apiKey)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (ts *testServer) openSlot(t *testing.T) models.Slot {
	t.Helper()
	rec := ts.do(t, http.MethodPut, "/api/v1/hosts/price", keyHost, map[string]int64{"price": 1000})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/v1/slots", keyHost, map[string]any{
		"start_time":         1_600_000,
		"duration_mins":      60,
		"grace_mins":         10,
		"min_overlap_mins":   30,
		"cancel_cutoff_mins": 120,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[struct {
		Created int         `json:"created"`
		Slot    models.Slot `json:"slot"`
	}](t, rec)
	return resp.Slot
}

func TestHealthz_NoAuth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_RejectsUnknownKey(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/slots/open", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/slots/open", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBookingFlow_EndToEnd(t *testing.T) {
	ts := newTestServer(t)
	slot := ts.openSlot(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/bookings", keyGuest, map[string]int64{
		"slot_id": slot.ID, "payment": 1000,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	booking := decode[models.Booking](t, rec)
	assert.Equal(t, "guest-b", booking.Guest)

	// Аттестация чужим ключом запрещена.
	ts.clock.now = slot.EndTime()
	rec = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/attest", booking.ID), keyGuest,
		map[string]string{"outcome": "completed"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/attest", booking.ID), keyAttester,
		map[string]string{"outcome": "completed", "evidence_ref": "evidence://1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Финализация до конца окна — timing-ошибка.
	rec = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/finalize", booking.ID), keyGuest, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "timing", decode[map[string]string](t, rec)["kind"])

	ts.clock.now += 86_400
	rec = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/finalize", booking.ID), keyGuest, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/bookings/%d", booking.ID), keyHost, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.BookingStatusFinalized, decode[models.Booking](t, rec).Status)

	// После финализации эскроу пуст.
	rec = ts.do(t, http.MethodGet, "/api/v1/ledger", keyAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[models.LedgerState](t, rec)
	assert.Equal(t, int64(0), state.Held)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	slot := ts.openSlot(t)

	// Неточная оплата.
	rec := ts.do(t, http.MethodPost, "/api/v1/bookings", keyGuest, map[string]int64{
		"slot_id": slot.ID, "payment": 999,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "amount", decode[map[string]string](t, rec)["kind"])

	// Несуществующая бронь.
	rec = ts.do(t, http.MethodPost, "/api/v1/bookings/404/cancel", keyGuest, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Двойное бронирование — конфликт состояния.
	rec = ts.do(t, http.MethodPost, "/api/v1/bookings", keyGuest, map[string]int64{
		"slot_id": slot.ID, "payment": 1000,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/v1/bookings", keyGuest, map[string]int64{
		"slot_id": slot.ID, "payment": 1000,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "state", decode[map[string]string](t, rec)["kind"])

	// Мусорное тело.
	rec = ts.do(t, http.MethodPost, "/api/v1/bookings", keyGuest, map[string]any{"unknown_field": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Кривой id в пути.
	rec = ts.do(t, http.MethodPost, "/api/v1/bookings/abc/cancel", keyGuest, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminEndpoints_RoleCheck(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/ledger", keyGuest, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/admin/sweep", keyGuest, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Излишка нет: state-конфликт, но не запрет.
	rec = ts.do(t, http.MethodPost, "/api/v1/admin/sweep", keyAdmin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/v1/admin/config", keyAdmin, models.EngineSettings{
		FeeBps:               300,
		LateCancelPenaltyBps: 2000,
		ChallengeBond:        500,
		ChallengeWindowSecs:  86_400,
		DisputeTimeoutSecs:   259_200,
		NoAttestBufferSecs:   86_400,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(300), decode[models.EngineSettings](t, rec).FeeBps)
}

func TestUpdateConfig_PartialBodyKeepsOtherSettings(t *testing.T) {
	ts := newTestServer(t)

	// Только залог; комиссия и остальные окна остаются прежними.
	rec := ts.do(t, http.MethodPut, "/api/v1/admin/config", keyAdmin, map[string]int64{
		"challenge_bond": 900,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	settings := decode[models.EngineSettings](t, rec)
	assert.Equal(t, int64(900), settings.ChallengeBond)
	assert.Equal(t, int64(250), settings.FeeBps)
	assert.Equal(t, int64(2000), settings.LateCancelPenaltyBps)
	assert.Equal(t, int64(86_400), settings.ChallengeWindowSecs)
}

func TestIdempotencyKey_RejectsReplay(t *testing.T) {
	ts := newTestServer(t)
	ts.openSlot(t)

	body := map[string]int64{"slot_id": 1, "payment": 1000}
	rec := ts.do(t, http.MethodPost, "/api/v1/bookings", keyGuest, body, "Idempotency-Key", "op-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/v1/bookings", keyGuest, body, "Idempotency-Key", "op-1")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate request", decode[map[string]string](t, rec)["error"])
}

func TestRateLimit_PerKeyBucket(t *testing.T) {
	logger := zerolog.Nop()
	auth := NewHTTPAuth(config.APIConfig{
		Auth:      config.APIAuthConfig{Enabled: true, HeaderAPIKey: "X-Api-Key"},
		RateLimit: config.APIRateLimitConfig{RPS: 1, Burst: 2},
	}, []Principal{{Name: "g", Key: keyGuest, Account: "guest-b"}}, repository.NewMemoryGuardRepository(), &logger)

	handler := auth.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/slots/open", nil)
		req.Header.Set("X-Api-Key", keyGuest)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestRateLimit_PerAccountWindow(t *testing.T) {
	logger := zerolog.Nop()
	auth := NewHTTPAuth(config.APIConfig{
		Auth: config.APIAuthConfig{Enabled: true, HeaderAPIKey: "X-Api-Key"},
		RateLimit: config.APIRateLimitConfig{
			AccountEnabled: true,
			AccountLimit:   2,
			AccountWindow:  60,
		},
	}, []Principal{{Name: "g", Key: keyGuest, Account: "guest-b"}}, repository.NewMemoryGuardRepository(), &logger)

	handler := auth.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/slots/open", nil)
		req.Header.Set("X-Api-Key", keyGuest)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestAuthDisabled_AccountHeader(t *testing.T) {
	logger := zerolog.Nop()
	auth := NewHTTPAuth(config.APIConfig{
		Auth: config.APIAuthConfig{Enabled: false},
	}, nil, nil, &logger)

	var seen string
	handler := auth.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFromContext(r.Context())
		seen = p.Account
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/slots/open", nil)
	req.Header.Set("X-Account", "walk-in")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "walk-in", seen)

	// Без заголовка аккаунта запрос анонимный и отклоняется.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/slots/open", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoadPrincipals(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "principals.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`principals:
  - name: host
    key: ${TEST_PRINCIPAL_KEY}
    account: host-a
  - name: guest
    key: literal-key
    account: guest-b
`), 0o600))
	t.Setenv("TEST_PRINCIPAL_KEY", "env-key")

	principals, err := LoadPrincipals(good)
	require.NoError(t, err)
	require.Len(t, principals, 2)
	assert.Equal(t, "env-key", principals[0].Key)

	dup := filepath.Join(dir, "dup.yaml")
	require.NoError(t, os.WriteFile(dup, []byte(`principals:
  - {name: a, key: k, account: x}
  - {name: b, key: k, account: y}
`), 0o600))
	_, err = LoadPrincipals(dup)
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte(`principals:
  - {name: a, key: "", account: x}
`), 0o600))
	_, err = LoadPrincipals(empty)
	assert.Error(t, err)
}

func TestRequestFlow_OverHTTP(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPut, "/api/v1/hosts/price", keyHost, map[string]int64{"price": 1000})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/requests", keyGuest, map[string]any{
		"window_start":  1_200_000,
		"window_end":    1_500_000,
		"duration_mins": 60,
		"expiry":        1_400_000,
		"payment":       1200,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	request := decode[models.Request](t, rec)

	rec = ts.do(t, http.MethodGet, "/api/v1/requests/open", keyHost, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/requests/%d/accept", request.ID), keyHost, map[string]any{
		"start_time":         1_200_000,
		"grace_mins":         10,
		"min_overlap_mins":   30,
		"cancel_cutoff_mins": 120,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	accepted := decode[models.Request](t, rec)
	assert.Equal(t, models.RequestStatusAccepted, accepted.Status)
	assert.NotZero(t, accepted.BookingID)
}
