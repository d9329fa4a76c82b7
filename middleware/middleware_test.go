package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/queue"
	"github.com/MrEthical07/goGuard/queue/memqueue"
)

type testEnv struct {
	engine *goGuard.Engine
	mr     *miniredis.Miniredis
	broker *memqueue.Broker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	broker := memqueue.New()

	cfg := goGuard.DefaultConfig()
	cfg.Token.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.RateLimit.Routes["/limited"] = goGuard.RouteLimit{MaxAttempts: 1, Penalty: 3 * time.Minute}

	engine, err := goGuard.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithPublisher(broker).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	t.Cleanup(func() {
		engine.Close()
		_ = broker.Close()
		_ = rdb.Close()
		mr.Close()
	})

	return &testEnv{engine: engine, mr: mr, broker: broker}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var body ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	return body.Detail
}

func TestAdmissionAdmitsAndPublishes(t *testing.T) {
	env := newTestEnv(t)
	h := Admission(env.engine, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := env.broker.Pending(queue.RateLimitTopology); got != 1 {
		t.Fatalf("expected 1 published event, got %d", got)
	}
}

func TestAdmissionRejectsPenalizedIdentity(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.RecordRequest(context.Background(), "192.0.2.1", "/limited"); err != nil {
		t.Fatalf("RecordRequest failed: %v", err)
	}

	h := Admission(env.engine, nil)(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got == "" || got == "0" {
		t.Fatalf("expected Retry-After, got %q", got)
	}
	if got := decodeDetail(t, rec); got != "Too many requests, try again in 3 minutes" {
		t.Fatalf("unexpected detail %q", got)
	}
	if got := env.broker.Pending(queue.RateLimitTopology); got != 0 {
		t.Fatalf("rejected request must not publish, got %d", got)
	}
}

func TestAdmissionCustomIdentity(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.RecordRequest(context.Background(), "tenant-a", "/limited"); err != nil {
		t.Fatalf("RecordRequest failed: %v", err)
	}

	byHeader := func(r *http.Request) string { return r.Header.Get("X-Tenant") }
	h := Admission(env.engine, byHeader)(okHandler())

	for tenant, want := range map[string]int{"tenant-a": http.StatusTooManyRequests, "tenant-b": http.StatusNoContent} {
		req := httptest.NewRequest(http.MethodGet, "/limited", nil)
		req.Header.Set("X-Tenant", tenant)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("%s: expected %d, got %d", tenant, want, rec.Code)
		}
	}
}

func TestAdmissionStoreUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.mr.SetError("connection refused")
	defer env.mr.SetError("")

	h := Admission(env.engine, nil)(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/limited", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestGuard(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	access, _, err := env.engine.IssueToken(ctx, goGuard.IssueRequest{
		UserID:    "u1",
		TokenType: goGuard.TokenTypeAccess,
		IP:        "192.0.2.1",
		UserAgent: "guard-test",
	})
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	refresh, _, err := env.engine.IssueToken(ctx, goGuard.IssueRequest{
		UserID:    "u1",
		TokenType: goGuard.TokenTypeRefresh,
		IP:        "192.0.2.1",
		UserAgent: "guard-test",
	})
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	var seen *goGuard.Claims
	h := Guard(env.engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		ua     string
		want   int
	}{
		{name: "valid", header: "Bearer " + access, ua: "guard-test", want: http.StatusNoContent},
		{name: "missing header", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + access, ua: "guard-test", want: http.StatusUnauthorized},
		{name: "other user agent", header: "Bearer " + access, ua: "curl/8.0", want: http.StatusUnauthorized},
		{name: "refresh token", header: "Bearer " + refresh, ua: "guard-test", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/others", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			req.Header.Set("User-Agent", tt.ua)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
			if tt.want == http.StatusNoContent && (seen == nil || seen.UserID != "u1") {
				t.Fatalf("expected claims in context, got %+v", seen)
			}
			if tt.want == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") != "Bearer" {
				t.Fatal("expected WWW-Authenticate header")
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&goGuard.RateLimitError{RetryAfter: time.Minute}, http.StatusTooManyRequests},
		{&goGuard.LockoutError{Remaining: time.Minute}, http.StatusForbidden},
		{goGuard.ErrAccountInactive, http.StatusForbidden},
		{goGuard.ErrInvalidCredentials, http.StatusUnauthorized},
		{goGuard.ErrTokenRevoked, http.StatusUnauthorized},
		{goGuard.ErrBrokerUnavailable, http.StatusServiceUnavailable},
		{context.Canceled, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got, _ := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
