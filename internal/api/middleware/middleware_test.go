package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestNormalizePath(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/health", "/health"},
		{"/v1/users/eip155:0xAbc", "/v1/users/:did"},
		{"/v1/chat/groups/abc123", "/v1/chat/groups/:chatId"},
		{"/v1/chat/groups/abc123/profile", "/v1/chat/groups/:chatId/profile"},
		{"/v1/chat/groups/abc123/members", "/v1/chat/groups/:chatId/members"},
		{"/v1/chat/groups/abc123/access/eip155:0xAbc", "/v1/chat/groups/:chatId/access/:did"},
		{"/v1/chat/abc123/messages", "/v1/chat/:chatId/messages"},
		{"/v1/chat/request", "/v1/chat/request"},
	}
	for _, c := range cases {
		if got := normalizePath(c.in); got != c.want {
			t.Errorf("normalizePath(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRealIPHeaderPrecedence(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	if got := RealIP(r); got != "10.0.0.1" {
		t.Fatalf("RemoteAddr fallback = %q", got)
	}

	r.Header.Set("X-Real-IP", "3.3.3.3")
	if got := RealIP(r); got != "3.3.3.3" {
		t.Fatalf("X-Real-IP = %q", got)
	}

	r.Header.Set("X-Forwarded-For", "2.2.2.2, 9.9.9.9")
	if got := RealIP(r); got != "2.2.2.2" {
		t.Fatalf("X-Forwarded-For first hop = %q", got)
	}

	r.Header.Set("Fly-Client-IP", "1.1.1.1")
	if got := RealIP(r); got != "1.1.1.1" {
		t.Fatalf("Fly-Client-IP = %q", got)
	}
}

func TestCheckAndIncrementWindow(t *testing.T) {
	rl := NewRateLimiter(testClient(t), zerolog.Nop(), RateLimiterConfig{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, _ := rl.CheckAndIncrement(ctx, "ratelimit:test", 3, time.Minute)
		if !allowed {
			t.Fatalf("request %d denied under the limit", i+1)
		}
	}
	if allowed, remaining, _ := rl.CheckAndIncrement(ctx, "ratelimit:test", 3, time.Minute); allowed {
		t.Fatalf("request over the limit allowed, remaining=%d", remaining)
	}
}

func TestRateLimiterWhitelist(t *testing.T) {
	rl := NewRateLimiter(testClient(t), zerolog.Nop(), RateLimiterConfig{
		Whitelist: []string{"5.5.5.5", "192.168.0.0/16"},
	})

	if !rl.isWhitelisted("5.5.5.5") {
		t.Fatal("exact IP not whitelisted")
	}
	if !rl.isWhitelisted("192.168.3.4") {
		t.Fatal("CIDR member not whitelisted")
	}
	if rl.isWhitelisted("6.6.6.6") {
		t.Fatal("unlisted IP whitelisted")
	}
}

func TestIPBlocker(t *testing.T) {
	b := NewIPBlocker(testClient(t))
	ctx := context.Background()

	if b.IsBlocked(ctx, "7.7.7.7") {
		t.Fatal("fresh IP reported blocked")
	}
	b.Block(ctx, "7.7.7.7", time.Hour, "test")
	if !b.IsBlocked(ctx, "7.7.7.7") {
		t.Fatal("blocked IP reported clear")
	}
	b.Unblock(ctx, "7.7.7.7")
	if b.IsBlocked(ctx, "7.7.7.7") {
		t.Fatal("unblocked IP still blocked")
	}
}

func TestMaxBodySize(t *testing.T) {
	handler := MaxBodySize(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/", strings.NewReader(strings.Repeat("x", 64))))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/", strings.NewReader("ok")))
	if rec.Code != http.StatusOK {
		t.Fatalf("small body: status = %d", rec.Code)
	}
}

func TestValidateRequestContentType(t *testing.T) {
	handler := ValidateRequest(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest("POST", "/v1/chat/request", strings.NewReader(`{}`))
	r.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("wrong content type: status = %d", rec.Code)
	}

	r = httptest.NewRequest("POST", "/v1/chat/request", strings.NewReader(`{}`))
	r.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("json content type: status = %d", rec.Code)
	}
}

func TestSuspiciousPathRejected(t *testing.T) {
	handler := ValidateRequest(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest("GET", "/v1/users/x", nil)
	r.URL.Path = "/v1/users/../secrets"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("traversal path: status = %d", rec.Code)
	}
}
