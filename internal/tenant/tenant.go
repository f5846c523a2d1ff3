// Package tenant resolves ingest API keys to tenant identities and scopes
// requests. Keys are matched by sha256 hash so plaintext tokens never sit in
// memory longer than the comparison.
package tenant

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/textproto"
	"strings"
)

const defaultHeaderName = "X-Spanlight-Key"

var ErrMissingAPIKey = errors.New("missing api key")
var ErrInvalidAPIKey = errors.New("invalid api key")

// KeyConfig is one configured ingest key. Either the plaintext token or its
// sha256 hex digest may be supplied; hashes are preferred in checked-in
// config.
type KeyConfig struct {
	Token     string
	TokenHash string
	TenantID  string
	Name      string
}

// Identity is the resolved tenant for a request.
type Identity struct {
	TenantID string
	KeyName  string
}

// Resolver maps an API key token to a tenant identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*Identity, error)
}

// StaticResolver resolves against a fixed key set loaded from config.
type StaticResolver struct {
	keys map[string]*Identity
}

func NewStaticResolver(keys []KeyConfig) (*StaticResolver, error) {
	if len(keys) == 0 {
		return nil, errors.New("at least one ingest key must be configured")
	}

	resolver := &StaticResolver{keys: make(map[string]*Identity, len(keys))}
	for _, key := range keys {
		tenantID := strings.TrimSpace(key.TenantID)
		if tenantID == "" {
			return nil, errors.New("ingest key tenant id cannot be empty")
		}

		tokenHash := strings.ToLower(strings.TrimSpace(key.TokenHash))
		if tokenHash == "" {
			token := strings.TrimSpace(key.Token)
			if token == "" {
				return nil, errors.New("ingest key token cannot be empty")
			}
			tokenHash = HashToken(token)
		}
		if _, exists := resolver.keys[tokenHash]; exists {
			return nil, errors.New("duplicate ingest key token in config")
		}

		resolver.keys[tokenHash] = &Identity{
			TenantID: tenantID,
			KeyName:  strings.TrimSpace(key.Name),
		}
	}

	return resolver, nil
}

func (r *StaticResolver) Resolve(_ context.Context, token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingAPIKey
	}
	identity, ok := r.keys[HashToken(token)]
	if !ok {
		return nil, ErrInvalidAPIKey
	}
	clone := *identity
	return &clone, nil
}

// HashToken returns the lowercase hex sha256 digest of a token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NormalizeHeaderName canonicalizes a configured auth header name, falling
// back to the default when empty.
func NormalizeHeaderName(header string) string {
	value := strings.TrimSpace(header)
	if value == "" {
		return defaultHeaderName
	}
	return textproto.CanonicalMIMEHeaderKey(value)
}

type contextIdentityKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, contextIdentityKey{}, identity)
}

func FromContext(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	identity, ok := ctx.Value(contextIdentityKey{}).(*Identity)
	return identity, ok && identity != nil
}
