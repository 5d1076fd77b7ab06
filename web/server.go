// Package web runs a development record server speaking the subset of
// the XRPC record API the sync client needs.
package web

import (
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"

	"pdsnotes/web/api"
)

// NewServer creates an rweb server serving pds. Pass Address "localhost:"
// and a ReadyChan to get a dynamic port in tests.
func NewServer(opts rweb.ServerOptions, pds *api.PDS) *rweb.Server {
	s := rweb.NewServer(opts)

	s.Use(rweb.RequestInfo)
	s.Use(CorsMiddleware)
	s.Use(JWTAuthMiddleware(pds.Signer()))
	s.Use(LoggingMiddleware)

	setupRoutes(s, pds)
	return s
}

// Run starts the server and blocks
func Run(s *rweb.Server, address string) error {
	logger.Info("Development record server starting", "address", address)
	return s.Run()
}
