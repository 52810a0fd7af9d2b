package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

var ErrKeyNotFound = errors.New("jwks key not found")

// minRefreshGap bounds how often an unknown kid can force a refetch.
const minRefreshGap = 10 * time.Second

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// JWKSClient caches the RSA signing keys published by the identity provider.
// Keys are refetched after ttl, or earlier when a token names an unknown kid.
type JWKSClient struct {
	url    string
	ttl    time.Duration
	client *http.Client
	now    func() time.Time

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	expires   time.Time
	lastFetch time.Time
}

func NewJWKSClient(url string, ttl time.Duration) *JWKSClient {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &JWKSClient{
		url:    url,
		ttl:    ttl,
		client: &http.Client{Timeout: 3 * time.Second},
		now:    time.Now,
		keys:   map[string]*rsa.PublicKey{},
	}
}

// Get returns the key for keyID. A failed refresh falls back to the keys
// already cached.
func (c *JWKSClient) Get(keyID string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	key, known := c.keys[keyID]
	if known && now.Before(c.expires) {
		return key, nil
	}
	if !known && now.Before(c.expires) && now.Sub(c.lastFetch) < minRefreshGap {
		return nil, ErrKeyNotFound
	}

	keys, err := c.fetch(context.Background())
	c.lastFetch = now
	if err != nil {
		if known {
			return key, nil
		}
		return nil, err
	}
	c.keys = keys
	c.expires = now.Add(c.ttl)

	if key, ok := c.keys[keyID]; ok {
		return key, nil
	}
	return nil, ErrKeyNotFound
}

func (c *JWKSClient) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if !k.usableForRS256() {
			continue
		}
		if pub, err := k.publicKey(); err == nil {
			keys[k.Kid] = pub
		}
	}
	return keys, nil
}

func (k jwk) usableForRS256() bool {
	if k.Kty != "RSA" || k.Kid == "" || k.N == "" || k.E == "" {
		return false
	}
	if k.Use != "" && k.Use != "sig" {
		return false
	}
	return k.Alg == "" || k.Alg == "RS256"
}

func (k jwk) publicKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() < 3 || exp.Int64() > 1<<31-1 {
		return nil, errors.New("invalid jwk exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
