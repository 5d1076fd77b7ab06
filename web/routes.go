package web

import (
	"github.com/rohanthewiz/rweb"

	"pdsnotes/web/api"
	"pdsnotes/web/pages"
)

// setupRoutes registers the XRPC endpoints the sync client uses
func setupRoutes(s *rweb.Server, pds *api.PDS) {
	s.Get("/", func(ctx rweb.Context) error {
		ctx.Response().SetHeader("Content-Type", "text/html; charset=utf-8")
		return ctx.WriteHTML(pages.RenderStatus(pds.Summary()))
	})
	s.Get("/xrpc/_health", pds.Health)

	s.Post("/xrpc/com.atproto.server.createSession", pds.CreateSession)

	s.Post("/xrpc/com.atproto.repo.createRecord", pds.CreateRecord)
	s.Post("/xrpc/com.atproto.repo.putRecord", pds.PutRecord)
	s.Post("/xrpc/com.atproto.repo.deleteRecord", pds.DeleteRecord)
	s.Get("/xrpc/com.atproto.repo.listRecords", pds.ListRecords)
}
