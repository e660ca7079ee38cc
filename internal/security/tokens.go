package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var (
	ErrInvalidToken    = errors.New("invalid or expired token")
	ErrWrongTokenType  = errors.New("invalid token type")
	ErrMissingSubject  = errors.New("token subject is missing")
	ErrMissingSession  = errors.New("token session is missing")
	ErrEmptyToken      = errors.New("token is required")
	ErrReservedClaim   = errors.New("extra claims cannot override reserved claims")
	reservedClaimNames = []string{"sub", "iat", "exp", "type"}
)

// TokenClaims is the decoded, validated payload of an access or refresh token.
type TokenClaims struct {
	UserID    int64
	SessionID int64
	Type      string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Raw       jwt.MapClaims
}

// Tokens mints and verifies HMAC-signed JWTs and refresh-token digests.
type Tokens struct {
	secret     []byte
	method     jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokens builds a Tokens for the given HMAC algorithm name (HS256, HS384
// or HS512).
func NewTokens(secret, alg string, accessTTL, refreshTTL time.Duration) (*Tokens, error) {
	method := jwt.GetSigningMethod(alg)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unsupported JWT algorithm %q", alg)
	}
	if secret == "" {
		return nil, errors.New("JWT secret is empty")
	}
	return &Tokens{
		secret:     []byte(secret),
		method:     method,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// RefreshTTL is how long refresh tokens (and their sessions) stay valid.
func (t *Tokens) RefreshTTL() time.Duration { return t.refreshTTL }

// CreateAccessToken signs an access token bound to a session.
func (t *Tokens) CreateAccessToken(userID, sessionID int64) (string, error) {
	return t.create(userID, TokenTypeAccess, t.accessTTL, map[string]any{"sid": sessionID})
}

// CreateRefreshToken signs a refresh token bound to a session.
func (t *Tokens) CreateRefreshToken(userID, sessionID int64) (string, error) {
	return t.create(userID, TokenTypeRefresh, t.refreshTTL, map[string]any{"sid": strconv.FormatInt(sessionID, 10)})
}

func (t *Tokens) create(userID int64, tokenType string, ttl time.Duration, extra map[string]any) (string, error) {
	now := t.now().UTC()
	claims := jwt.MapClaims{
		"sub":  strconv.FormatInt(userID, 10),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
		"type": tokenType,
	}
	for k, v := range extra {
		for _, reserved := range reservedClaimNames {
			if k == reserved {
				return "", fmt.Errorf("%w: %q", ErrReservedClaim, k)
			}
		}
		claims[k] = v
	}
	signed, err := jwt.NewWithClaims(t.method, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", tokenType, err)
	}
	return signed, nil
}

// DecodeAccessToken validates an access token and returns its claims.
func (t *Tokens) DecodeAccessToken(token string) (*TokenClaims, error) {
	return t.decode(token, TokenTypeAccess)
}

// DecodeRefreshToken validates a refresh token and returns its claims.
func (t *Tokens) DecodeRefreshToken(token string) (*TokenClaims, error) {
	return t.decode(token, TokenTypeRefresh)
}

func (t *Tokens) decode(token, expectedType string) (*TokenClaims, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{t.method.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if typ, _ := claims["type"].(string); typ != expectedType {
		return nil, ErrWrongTokenType
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrMissingSubject
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: subject %q is not numeric", ErrInvalidToken, sub)
	}

	sessionID, err := intClaim(claims["sid"])
	if err != nil {
		return nil, err
	}

	out := &TokenClaims{
		UserID:    userID,
		SessionID: sessionID,
		Type:      expectedType,
		Raw:       claims,
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

// intClaim accepts both numeric and string encodings of an integer claim.
func intClaim(v any) (int64, error) {
	switch val := v.(type) {
	case float64:
		if val != float64(int64(val)) {
			return 0, ErrMissingSession
		}
		return int64(val), nil
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, ErrMissingSession
		}
		return n, nil
	default:
		return 0, ErrMissingSession
	}
}

// HashRefreshToken returns the hex HMAC-SHA256 digest stored for a refresh token.
func (t *Tokens) HashRefreshToken(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyRefreshToken compares token against a stored digest in constant time.
func (t *Tokens) VerifyRefreshToken(token, digest string) bool {
	if token == "" || digest == "" {
		return false
	}
	expected, err := t.HashRefreshToken(token)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(digest))
}
