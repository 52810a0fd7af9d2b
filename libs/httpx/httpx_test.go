package httpx

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}), mw("a"), mw("b"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if strings.Join(order, ",") != "a,b" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if seen != "req-1" || rw.Header().Get(RequestIDHeader) != "req-1" {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seen, rw.Header().Get(RequestIDHeader))
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	h := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	var codes []int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		codes = append(codes, rw.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Date string `json:"date"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"date":"2026-03-01"}`))
	if err := DecodeJSON(req, &dst); err != nil || dst.Date != "2026-03-01" {
		t.Fatalf("decode failed: %v %+v", err, dst)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"date":"x","extra":1}`))
	if err := DecodeJSON(req, &dst); err == nil {
		t.Fatal("expected unknown field error")
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"date":"x"}{}`))
	if err := DecodeJSON(req, &dst); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestCORSPreflight(t *testing.T) {
	h := WithCORS(CORSPolicy{AllowedOrigins: []string{"https://shop.example"}, AllowedMethods: []string{"GET", "PUT"}})(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) }))
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://shop.example")
	req.Header.Set("Access-Control-Request-Method", "PUT")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rw.Code)
	}
	if rw.Header().Get("Access-Control-Allow-Origin") != "https://shop.example" {
		t.Fatalf("unexpected allow origin %q", rw.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestCORSWildcardSubdomain(t *testing.T) {
	policy := []string{"https://*.shops.example"}
	cases := map[string]bool{
		"https://acme.shops.example": true,
		"https://shops.example":      false,
		"http://acme.shops.example":  false,
		"https://acme.evil.example":  false,
	}
	for origin, want := range cases {
		_, ok := matchOrigin(origin, policy, false)
		if ok != want {
			t.Fatalf("matchOrigin(%q) = %v, want %v", origin, ok, want)
		}
	}
}

func TestRateLimiterRetryAfterAndSweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }

	if ok, _ := rl.allow("a"); !ok {
		t.Fatal("expected first request allowed")
	}
	ok, retry := rl.allow("a")
	if ok || retry != time.Minute {
		t.Fatalf("expected rejection with one minute retry, got ok=%v retry=%v", ok, retry)
	}

	rw := httptest.NewRecorder()
	writeRateLimited(rw, retry)
	if rw.Code != http.StatusTooManyRequests || rw.Header().Get("Retry-After") != "60" {
		t.Fatalf("unexpected response %d %q", rw.Code, rw.Header().Get("Retry-After"))
	}

	now = now.Add(2 * time.Minute)
	if ok, _ := rl.allow("b"); !ok {
		t.Fatal("expected new window")
	}
	if _, stale := rl.visitors["a"]; stale {
		t.Fatal("expected expired visitor to be swept")
	}
}

func TestRecoverWritesJSON(t *testing.T) {
	h := WithRecover(slog.New(slog.NewTextHandler(io.Discard, nil)))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	if rw.Code != http.StatusInternalServerError || !strings.Contains(rw.Body.String(), "internal_error") {
		t.Fatalf("unexpected response %d %s", rw.Code, rw.Body.String())
	}
}

func TestRequestIDReplacesInvalid(t *testing.T) {
	h := WithRequestID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "bad id with spaces")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if got := rw.Header().Get(RequestIDHeader); got == "" || got == "bad id with spaces" {
		t.Fatalf("expected generated id, got %q", got)
	}
}
