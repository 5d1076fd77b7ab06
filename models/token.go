package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rohanthewiz/serr"
)

// Token lifetimes for sessions issued by the development record server.
const (
	AccessTokenTTL  = 2 * time.Hour
	RefreshTokenTTL = 24 * 7 * time.Hour

	// TokenIssuer identifies tokens minted by this application.
	TokenIssuer = "pdsnotes"

	// MinSecretLength is the minimum acceptable signing key length.
	MinSecretLength = 32

	scopeAccess  = "com.atproto.access"
	scopeRefresh = "com.atproto.refresh"
)

// TokenClaims carries the account identity in session tokens.
type TokenClaims struct {
	jwt.RegisteredClaims
	Handle string `json:"handle"`
	Scope  string `json:"scope"`
}

// TokenSigner issues and validates HS256 session tokens.
type TokenSigner struct {
	secret []byte
	now    func() time.Time
}

// NewTokenSigner returns a signer for secret.
func NewTokenSigner(secret string) (*TokenSigner, error) {
	if len(secret) < MinSecretLength {
		return nil, serr.New("token secret must be at least 32 characters")
	}
	return &TokenSigner{secret: []byte(secret), now: time.Now}, nil
}

// IssueSession mints an access/refresh pair for the account.
func (ts *TokenSigner) IssueSession(did, handle, pdsURL string) (*Session, error) {
	access, err := ts.sign(did, handle, scopeAccess, AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := ts.sign(did, handle, scopeRefresh, RefreshTokenTTL)
	if err != nil {
		return nil, err
	}
	return &Session{
		Handle:     handle,
		DID:        did,
		AccessJwt:  access,
		RefreshJwt: refresh,
		PDSURL:     pdsURL,
	}, nil
}

func (ts *TokenSigner) sign(did, handle, scope string, ttl time.Duration) (string, error) {
	now := ts.now()
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   did,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		Handle: handle,
		Scope:  scope,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secret)
	if err != nil {
		return "", serr.Wrap(err, "failed to sign token")
	}
	return signed, nil
}

// ValidateAccess parses an access token and returns its claims. Refresh
// tokens are rejected.
func (ts *TokenSigner) ValidateAccess(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, serr.New("unexpected signing method")
		}
		return ts.secret, nil
	}, jwt.WithTimeFunc(ts.now))
	if err != nil {
		return nil, serr.Wrap(err, "failed to parse token")
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, serr.New("invalid token claims")
	}
	if claims.Scope != scopeAccess {
		return nil, serr.New("token is not an access token")
	}
	return claims, nil
}
