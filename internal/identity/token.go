package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// TokenLifetime bounds how long a session token is honored, measured from
// iat. The embedded exp is carried for clients but verification keys off iat
// alone.
const TokenLifetime = 5 * time.Minute

var (
	ErrNoSecret     = errors.New("failed to locate jwt key")
	ErrTokenInvalid = errors.New("failed to decode jwt")
	ErrTokenExpired = errors.New("jwt expired")
	ErrNoAuthHeader = errors.New("authorization header not found")
	ErrWrongSession = errors.New("invalid session id")
	ErrNotHost      = errors.New("permission denied")
)

// Claims is the session token payload. Timestamps are Unix milliseconds.
type Claims struct {
	Audience  string `json:"aud"`
	Subject   string `json:"sub"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	IsHost    bool   `json:"is_host"`
}

// Valid implements jwt.Claims. A token older than TokenLifetime is rejected
// regardless of the exp it carries.
func (c *Claims) Valid() error {
	if time.Now().UnixMilli()-c.IssuedAt > TokenLifetime.Milliseconds() {
		return ErrTokenExpired
	}
	return nil
}

// Caller is the authenticated identity extracted from a verified token.
type Caller struct {
	UID    string
	IsHost bool
}

// Tokens signs and verifies session tokens with a process-wide secret.
type Tokens struct {
	secret []byte
}

// NewTokens builds a token authority. The secret is required; it comes from
// JWT_KEY and its absence is a startup failure.
func NewTokens(secret string) (*Tokens, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Tokens{secret: []byte(secret)}, nil
}

// Mint issues a token binding uid to the session sid. Host tokens are minted
// once per session at creation; guests get theirs on a successful join.
func (t *Tokens) Mint(sid, uid string, isHost bool) (string, error) {
	now := time.Now().UnixMilli()
	claims := &Claims{
		Audience:  sid,
		Subject:   uid,
		IssuedAt:  now,
		ExpiresAt: now + TokenLifetime.Milliseconds(),
		IsHost:    isHost,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to create jwt: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and age of raw and returns its claims. The
// audience is NOT checked here; callers compare it to the session in scope.
func (t *Tokens) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return claims, nil
}

// TokenFromHeader extracts the token from an Authorization value; the last
// space-separated part is taken so both bare tokens and "Bearer x" work.
func TokenFromHeader(header string) (string, error) {
	if header == "" {
		return "", ErrNoAuthHeader
	}
	parts := strings.Split(header, " ")
	return parts[len(parts)-1], nil
}

// RequireMember verifies the Authorization header and requires the token's
// audience to be sid. Returns the caller identity.
func (t *Tokens) RequireMember(authorization, sid string) (Caller, error) {
	raw, err := TokenFromHeader(authorization)
	if err != nil {
		return Caller{}, err
	}
	claims, err := t.Verify(raw)
	if err != nil {
		return Caller{}, err
	}
	if claims.Audience != sid {
		return Caller{}, ErrWrongSession
	}
	return Caller{UID: claims.Subject, IsHost: claims.IsHost}, nil
}

// RequireHost is RequireMember plus the host capability check.
func (t *Tokens) RequireHost(authorization, sid string) (Caller, error) {
	caller, err := t.RequireMember(authorization, sid)
	if err != nil {
		return Caller{}, err
	}
	if !caller.IsHost {
		return Caller{}, ErrNotHost
	}
	return caller, nil
}
