package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
)

const defaultKeyTTL = 5 * time.Minute

type jsonWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksDocument struct {
	Keys []jsonWebKey `json:"keys"`
}

// Discovery is the part of an OpenID Connect discovery document the server uses.
type Discovery struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

func newHTTPClient() *resty.Client {
	return resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(1).
		SetRetryWaitTime(200*time.Millisecond).
		SetHeader("Accept", "application/json")
}

// Discover reads issuer/.well-known/openid-configuration.
func Discover(ctx context.Context, client *resty.Client, issuer string) (*Discovery, error) {
	url := strings.TrimRight(issuer, "/") + "/.well-known/openid-configuration"

	var doc Discovery
	resp, err := client.R().
		SetContext(ctx).
		SetResult(&doc).
		ForceContentType("application/json").
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch discovery document: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode())
	}
	if doc.JWKSURI == "" {
		return nil, fmt.Errorf("discovery document for %s has no jwks_uri", issuer)
	}
	return &doc, nil
}

// KeySet caches the RSA keys published at a JWKS endpoint. When only an
// issuer is known the endpoint is discovered on first use.
type KeySet struct {
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	jwksURL   string
	issuer    string
	ttl       time.Duration
	fetchedAt time.Time
	client    *resty.Client
}

func NewKeySet(jwksURL, issuer string, ttl time.Duration) *KeySet {
	if ttl <= 0 {
		ttl = defaultKeyTTL
	}
	return &KeySet{
		keys:    map[string]*rsa.PublicKey{},
		jwksURL: jwksURL,
		issuer:  issuer,
		ttl:     ttl,
		client:  newHTTPClient(),
	}
}

// Key returns the key for kid, refetching the set when it is stale or the
// kid is unknown (key rotation).
func (s *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.RLock()
	key, ok := s.keys[kid]
	fresh := time.Since(s.fetchedAt) <= s.ttl
	s.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}

	if err := s.refresh(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if key, ok = s.keys[kid]; !ok {
		return nil, fmt.Errorf("key %q not found in JWKS", kid)
	}
	return key, nil
}

// Keyfunc adapts the set to jwt parsing for one request.
func (s *KeySet) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return s.Key(ctx, kid)
	}
}

func (s *KeySet) endpoint(ctx context.Context) (string, error) {
	s.mu.RLock()
	url := s.jwksURL
	s.mu.RUnlock()
	if url != "" {
		return url, nil
	}
	if s.issuer == "" {
		return "", fmt.Errorf("no JWKS URL or issuer configured")
	}

	d, err := Discover(ctx, s.client, s.issuer)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.jwksURL = d.JWKSURI
	s.mu.Unlock()
	return d.JWKSURI, nil
}

func (s *KeySet) refresh(ctx context.Context) error {
	url, err := s.endpoint(ctx)
	if err != nil {
		return err
	}

	var doc jwksDocument
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&doc).
		ForceContentType("application/json").
		Get(url)
	if err != nil {
		return fmt.Errorf("fetch JWKS: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode())
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := rsaKey(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	s.mu.Lock()
	s.keys = keys
	s.fetchedAt = time.Now()
	s.mu.Unlock()
	return nil
}

func rsaKey(k jsonWebKey) (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	if len(n) == 0 || len(e) == 0 {
		return nil, fmt.Errorf("empty modulus or exponent")
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(new(big.Int).SetBytes(e).Int64()),
	}, nil
}
