package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultJWKSCacheTTL    = 5 * time.Minute
	// Unknown kids may trigger at most one fetch per interval.
	minJWKSRefreshInterval = 30 * time.Second
)

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSCache resolves RS256 verification keys from the identity provider's
// key set, refetching when a kid is unknown or the TTL has passed. Fetches
// are serialised and spaced at least minRefresh apart.
type JWKSCache struct {
	mu          sync.RWMutex
	refreshMu   sync.Mutex
	url         string
	ttl         time.Duration
	minRefresh  time.Duration
	keys        map[string]*rsa.PublicKey
	fetchedAt   time.Time
	lastAttempt time.Time
	client      *http.Client
	now         func() time.Time
}

func NewJWKSCache(url string, ttl time.Duration) *JWKSCache {
	return &JWKSCache{
		url:        url,
		ttl:        ttl,
		minRefresh: minJWKSRefreshInterval,
		keys:       make(map[string]*rsa.PublicKey),
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// KeyFunc satisfies jwt.Keyfunc.
func (c *JWKSCache) KeyFunc(token *jwt.Token) (interface{}, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("token has no kid header")
	}
	return c.Key(kid)
}

func (c *JWKSCache) Key(kid string) (*rsa.PublicKey, error) {
	if key, ok, fresh := c.lookup(kid); ok && fresh {
		return key, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have refreshed while we waited.
	key, ok, fresh := c.lookup(kid)
	if ok && fresh {
		return key, nil
	}
	if c.now().Sub(c.lastAttempt) < c.minRefresh {
		if ok {
			return key, nil
		}
		return nil, fmt.Errorf("kid %q not in key set", kid)
	}

	c.lastAttempt = c.now()
	if err := c.refresh(); err != nil {
		return nil, err
	}
	if key, ok, _ = c.lookup(kid); !ok {
		return nil, fmt.Errorf("kid %q not in key set", kid)
	}
	return key, nil
}

func (c *JWKSCache) lookup(kid string) (key *rsa.PublicKey, ok, fresh bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keys[kid]
	return key, ok, c.now().Sub(c.fetchedAt) <= c.ttl
}

func (c *JWKSCache) refresh() error {
	if c.url == "" {
		return errors.New("no JWKS url configured")
	}
	resp, err := c.client.Get(c.url)
	if err != nil {
		return fmt.Errorf("fetch JWKS: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch JWKS: status %d", resp.StatusCode)
	}

	var set struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("decode JWKS: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		if pub, err := k.rsaKey(); err == nil {
			keys[k.Kid] = pub
		}
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = c.now()
	c.mu.Unlock()
	return nil
}

func (k jwk) rsaKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(new(big.Int).SetBytes(e).Int64())}, nil
}
