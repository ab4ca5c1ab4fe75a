package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newJWKSServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "k1",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestJWKSCache_UnknownKidIsThrottled(t *testing.T) {
	var hits int32
	srv := newJWKSServer(t, &hits)
	now := time.Date(2024, time.July, 1, 12, 0, 0, 0, time.UTC)
	c := NewJWKSCache(srv.URL, time.Hour)
	c.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		if _, err := c.Key("unknown"); err == nil {
			t.Fatal("expected error for unknown kid")
		}
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("expected 1 fetch for repeated unknown kids, got %d", got)
	}
	if _, err := c.Key("k1"); err != nil {
		t.Errorf("expected cached k1, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("expected known kid to be served from cache, got %d fetches", got)
	}

	now = now.Add(minJWKSRefreshInterval + time.Second)
	c.Key("unknown")
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("expected a refetch after the interval, got %d", got)
	}
}

func TestJWKSCache_ExpiredKeySetRefetches(t *testing.T) {
	var hits int32
	srv := newJWKSServer(t, &hits)
	now := time.Date(2024, time.July, 1, 12, 0, 0, 0, time.UTC)
	c := NewJWKSCache(srv.URL, time.Minute)
	c.now = func() time.Time { return now }

	if _, err := c.Key("k1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := c.Key("k1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("expected 2 fetches, got %d", got)
	}
}
