package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"

	"pdsnotes/models"
	"pdsnotes/web/api"
)

// CorsMiddleware handles CORS headers for cross-origin requests
func CorsMiddleware(c rweb.Context) error {
	c.Response().SetHeader("Access-Control-Allow-Origin", "*")
	c.Response().SetHeader("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	c.Response().SetHeader("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if c.Request().Method() == "OPTIONS" {
		c.SetStatus(http.StatusOK)
		return nil
	}

	return c.Next()
}

// JWTAuthMiddleware validates Bearer access tokens and populates the
// account DID in the context. Requests without a valid token continue
// unauthenticated; record handlers reject them.
func JWTAuthMiddleware(signer *models.TokenSigner) rweb.Handler {
	return func(c rweb.Context) error {
		c.Set(api.CtxAuthenticated, false)
		c.Set(api.CtxDID, "")

		authHeader := c.Request().Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.Next()
		}

		claims, err := signer.ValidateAccess(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			logger.Debug("Rejected access token", "path", c.Request().Path(), "error", err)
			return c.Next()
		}

		c.Set(api.CtxDID, claims.Subject)
		c.Set(api.CtxHandle, claims.Handle)
		c.Set(api.CtxAuthenticated, true)
		return c.Next()
	}
}

// LoggingMiddleware logs each request at debug level
func LoggingMiddleware(c rweb.Context) error {
	start := time.Now()
	err := c.Next()

	logger.Debug("Request completed",
		"method", c.Request().Method(),
		"path", c.Request().Path(),
		"duration", time.Since(start),
		"error", err,
	)
	return err
}
