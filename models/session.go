package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rohanthewiz/serr"
)

// Session is an authenticated connection to one personal data server.
// It is created at login, passed explicitly to the gateway, and discarded
// at logout.
type Session struct {
	Handle     string `json:"handle" msgpack:"handle"`
	DID        string `json:"did" msgpack:"did"`
	AccessJwt  string `json:"accessJwt" msgpack:"access_jwt"`
	RefreshJwt string `json:"refreshJwt" msgpack:"refresh_jwt"`
	PDSURL     string `json:"pdsUrl" msgpack:"pds_url"`
}

// Valid reports whether the session carries enough to make calls.
func (s *Session) Valid() bool {
	return s != nil && s.DID != "" && s.AccessJwt != ""
}

// AccessExpiry reads the exp claim of the access token without verifying
// its signature; only the server can verify it. A zero time means the
// token carries no expiry.
func (s *Session) AccessExpiry() (time.Time, error) {
	if s == nil || s.AccessJwt == "" {
		return time.Time{}, ErrNotAuthenticated
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessJwt, &claims); err != nil {
		return time.Time{}, serr.Wrap(err, "failed to parse access token")
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}

// AccessExpired reports whether the access token's exp claim is in the past.
// Tokens that cannot be parsed are treated as not expired so the server
// gets the final say.
func (s *Session) AccessExpired(now time.Time) bool {
	exp, err := s.AccessExpiry()
	if err != nil || exp.IsZero() {
		return false
	}
	return now.After(exp)
}
