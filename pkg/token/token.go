// Package token mints and verifies the signed review links sent to
// evaluators. Each link carries a JWT whose jti matches a one-time
// token row in the database.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/zalando/go-keyring"

	"github.com/peergrade/peergrade/pkg/data"
)

const (
	keyringService = "peergrade"
	keyringUser    = "signing_secret"
	secretFileName = "signing_secret"
	secretEnvVar   = "PEERGRADE_SIGNING_SECRET"

	secretBytes = 32
)

// Claims is the review-link payload: who is evaluating, under which
// one-time token id.
type Claims struct {
	Evaluator string `json:"evaluator"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies review-link tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewIssuer returns an Issuer signing with the given secret. expiryDays
// bounds how long the links stay valid.
func NewIssuer(secret []byte, issuer string, expiryDays int) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty signing secret")
	}
	if expiryDays < 1 {
		return nil, fmt.Errorf("token expiry must be at least 1 day, got %d", expiryDays)
	}
	return &Issuer{
		secret: secret,
		issuer: issuer,
		ttl:    time.Duration(expiryDays) * 24 * time.Hour,
	}, nil
}

// Issue mints a signed link token for one evaluator and returns the
// matching database row to persist.
func (i *Issuer) Issue(evaluator string) (string, *data.TokenRecord, error) {
	if evaluator == "" {
		return "", nil, errors.New("empty evaluator id")
	}

	now := time.Now().UTC()
	rec := &data.TokenRecord{
		ID:        uuid.NewString(),
		Evaluator: evaluator,
		IssuedAt:  now,
		ExpiresAt: now.Add(i.ttl),
	}

	claims := &Claims{
		Evaluator: evaluator,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        rec.ID,
			Issuer:    i.issuer,
			Subject:   evaluator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(rec.ExpiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", nil, fmt.Errorf("signing token for %s: %w", evaluator, err)
	}
	rec.Signed = signed
	return signed, rec, nil
}

// Parse verifies a link token's signature, issuer and expiry.
func (i *Issuer) Parse(signed string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(signed, claims,
		func(t *jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if claims.ID == "" || claims.Evaluator == "" {
		return nil, errors.New("token missing required claims")
	}
	return claims, nil
}

// LoadOrCreateSecret resolves the signing secret: environment variable
// first, then OS keychain, then a file under homeDir. A fresh secret is
// generated and stored on first use.
func LoadOrCreateSecret(homeDir string) ([]byte, error) {
	if v := os.Getenv(secretEnvVar); v != "" {
		return []byte(v), nil
	}

	if s, err := keyring.Get(keyringService, keyringUser); err == nil && s != "" {
		return []byte(s), nil
	}

	secretPath := path.Join(homeDir, secretFileName)
	if b, err := os.ReadFile(secretPath); err == nil && len(b) > 0 {
		// Migrate to keychain
		if migrateErr := keyring.Set(keyringService, keyringUser, string(b)); migrateErr == nil {
			slog.Info("migrated signing secret from file to OS keychain")
			os.Remove(secretPath)
		}
		return b, nil
	}

	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generating signing secret: %w", err)
	}
	secret := hex.EncodeToString(raw)

	if err := keyring.Set(keyringService, keyringUser, secret); err != nil {
		slog.Warn("keychain unavailable, falling back to file", "error", err)
		if err := os.WriteFile(secretPath, []byte(secret), 0600); err != nil {
			return nil, fmt.Errorf("saving signing secret: %w", err)
		}
	}
	return []byte(secret), nil
}
