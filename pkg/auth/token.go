package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	// TokenPrefix identifies Warden tokens.
	TokenPrefix = "warden_"
	// TokenLength is the number of random bytes per token (256 bits).
	TokenLength = 32
)

// ErrInvalidToken is returned when a token is unknown, malformed, or expired.
var ErrInvalidToken = errors.New("invalid or expired token")

// Verifier resolves a bearer token to the actor it was issued to.
type Verifier interface {
	Verify(token string) (*Actor, error)
}

// TokenGenerator generates and validates API tokens.
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator.
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a new API token.
// Format: warden_<base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encodedToken := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullToken := TokenPrefix + encodedToken

	hash := sha256.Sum256([]byte(fullToken))
	hashStr := hex.EncodeToString(hash[:])

	// First 8 chars after the prefix are kept for identification.
	prefix := TokenPrefix
	if len(encodedToken) >= 8 {
		prefix = TokenPrefix + encodedToken[:8]
	}

	return fullToken, hashStr, prefix, nil
}

// HashToken computes the SHA256 hash of a token for lookup.
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks that a token has the correct shape.
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("token is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}

	return nil
}

// StaticVerifier verifies tokens against an in-memory table of hashes.
// Suitable for single-node deployments and tests; tokens are loaded from
// configuration at startup.
type StaticVerifier struct {
	generator *TokenGenerator
	clock     func() time.Time

	mu     sync.RWMutex
	tokens map[string]*APIToken // keyed by token hash
	actors map[string]*Actor
}

// NewStaticVerifier creates a verifier with no tokens registered.
func NewStaticVerifier() *StaticVerifier {
	return &StaticVerifier{
		generator: NewTokenGenerator(),
		clock:     time.Now,
		tokens:    make(map[string]*APIToken),
		actors:    make(map[string]*Actor),
	}
}

// RegisterActor makes an actor known to the verifier.
func (v *StaticVerifier) RegisterActor(actor *Actor) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.actors[actor.ID] = actor
}

// IssueToken creates a token bound to the actor and returns the plaintext
// token exactly once.
func (v *StaticVerifier) IssueToken(actorID, name string, expiresAt *time.Time) (string, error) {
	token, tokenHash, tokenPrefix, err := v.generator.GenerateToken()
	if err != nil {
		return "", err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens[tokenHash] = &APIToken{
		ActorID:     actorID,
		TokenHash:   tokenHash,
		TokenPrefix: tokenPrefix,
		Name:        name,
		ExpiresAt:   expiresAt,
		CreatedAt:   v.clock().UTC(),
	}
	return token, nil
}

// RegisterTokenHash registers a pre-computed token hash for an actor.
// Used when loading tokens from configuration.
func (v *StaticVerifier) RegisterTokenHash(tokenHash, actorID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens[tokenHash] = &APIToken{
		ActorID:   actorID,
		TokenHash: tokenHash,
		CreatedAt: v.clock().UTC(),
	}
}

// Verify resolves a plaintext token to its actor.
func (v *StaticVerifier) Verify(token string) (*Actor, error) {
	if err := v.generator.ValidateTokenFormat(token); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err)
	}

	tokenHash := v.generator.HashToken(token)

	v.mu.RLock()
	defer v.mu.RUnlock()

	record, ok := v.tokens[tokenHash]
	if !ok {
		return nil, ErrInvalidToken
	}
	if record.Expired(v.clock()) {
		return nil, ErrInvalidToken
	}

	if actor, ok := v.actors[record.ActorID]; ok {
		return actor, nil
	}
	return &Actor{ID: record.ActorID}, nil
}
