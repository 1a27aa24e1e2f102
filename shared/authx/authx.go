// Package authx verifies operator bearer tokens against an OIDC issuer's JWKS.
package authx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"creator-sync/shared/config"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownKID   = errors.New("unknown kid")
)

// Principal is the verified caller of an admin endpoint.
type Principal struct {
	Subject string
	Roles   []string
}

func (p Principal) HasRole(role string) bool {
	role = strings.TrimSpace(role)
	for _, r := range p.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

type contextKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}

// Verifier turns a raw bearer token into a Principal.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (Principal, error)
}

type JWTVerifier struct {
	keys   *keySet
	parser *jwt.Parser
}

func NewJWTVerifier(cfg config.Config) (*JWTVerifier, error) {
	issuer := strings.TrimSpace(cfg.OIDCIssuer)
	audience := strings.TrimSpace(cfg.OIDCAudience)
	if issuer == "" || audience == "" {
		return nil, fmt.Errorf("%w: OIDC_ISSUER and OIDC_AUDIENCE are required", ErrInvalidToken)
	}
	jwksURL := strings.TrimSpace(cfg.OIDCJWKSURL)
	if jwksURL == "" {
		jwksURL = strings.TrimRight(issuer, "/") + "/.well-known/jwks.json"
	}
	ttl := time.Duration(cfg.JWKSTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	skew := time.Duration(cfg.JWTClockSkewSec) * time.Second
	if skew < 0 {
		skew = 0
	}
	return &JWTVerifier{
		keys: newKeySet(jwksURL, ttl, &http.Client{Timeout: 5 * time.Second}),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
			jwt.WithAudience(audience),
			jwt.WithIssuer(issuer),
			jwt.WithLeeway(skew),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

func (v *JWTVerifier) Verify(ctx context.Context, rawToken string) (Principal, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return Principal{}, ErrInvalidToken
	}
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		return v.keys.get(ctx, strings.TrimSpace(kid))
	})
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sub, _ := claims["sub"].(string)
	if strings.TrimSpace(sub) == "" {
		return Principal{}, ErrInvalidToken
	}
	return Principal{Subject: strings.TrimSpace(sub), Roles: parseRoles(claims)}, nil
}

// keySet caches the issuer's public keys by kid and refetches after ttl or on a kid miss.
type keySet struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu        sync.RWMutex
	byKID     map[string]any
	expiresAt time.Time
}

func newKeySet(url string, ttl time.Duration, client *http.Client) *keySet {
	return &keySet{url: url, ttl: ttl, client: client, byKID: map[string]any{}}
}

func (s *keySet) get(ctx context.Context, kid string) (any, error) {
	if kid == "" {
		return nil, ErrUnknownKID
	}
	now := time.Now()
	s.mu.RLock()
	key, fresh := s.byKID[kid], now.Before(s.expiresAt)
	s.mu.RUnlock()
	if key != nil && fresh {
		return key, nil
	}

	if err := s.refresh(ctx); err != nil {
		// serve a stale key rather than fail closed on a JWKS outage
		if key != nil {
			return key, nil
		}
		return nil, err
	}
	s.mu.RLock()
	key = s.byKID[kid]
	s.mu.RUnlock()
	if key == nil {
		return nil, ErrUnknownKID
	}
	return key, nil
}

func (s *keySet) refresh(ctx context.Context) error {
	set, err := jwk.Fetch(ctx, s.url, jwk.WithHTTPClient(s.client))
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	keys := make(map[string]any, set.Len())
	for i := 0; i < set.Len(); i++ {
		k, ok := set.Key(i)
		if !ok || strings.TrimSpace(k.KeyID()) == "" {
			continue
		}
		var raw any
		if err := k.Raw(&raw); err != nil {
			continue
		}
		keys[k.KeyID()] = raw
	}
	if len(keys) == 0 {
		return errors.New("no usable jwks keys")
	}
	s.mu.Lock()
	s.byKID = keys
	s.expiresAt = time.Now().Add(s.ttl)
	s.mu.Unlock()
	return nil
}

func parseRoles(claims jwt.MapClaims) []string {
	var roles []string
	add := func(role string) {
		role = strings.TrimSpace(role)
		if role == "" {
			return
		}
		for _, existing := range roles {
			if existing == role {
				return
			}
		}
		roles = append(roles, role)
	}
	for _, key := range []string{"roles", "role"} {
		switch t := claims[key].(type) {
		case []any:
			for _, r := range t {
				add(fmt.Sprint(r))
			}
		case string:
			for _, r := range strings.Fields(t) {
				add(r)
			}
		}
	}
	if realm, ok := claims["realm_access"].(map[string]any); ok {
		if rs, ok := realm["roles"].([]any); ok {
			for _, r := range rs {
				add(fmt.Sprint(r))
			}
		}
	}
	return roles
}
