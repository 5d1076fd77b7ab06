package api

import (
	"net/http"

	"github.com/rohanthewiz/rweb"
)

// XRPCError is the error body shape clients expect from an XRPC endpoint.
type XRPCError struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Error codes used by the development server.
const (
	ErrInvalidRequest  = "InvalidRequest"
	ErrAuthRequired    = "AuthenticationRequired"
	ErrInvalidToken    = "InvalidToken"
	ErrRecordNotFound  = "RecordNotFound"
	ErrInternal        = "InternalServerError"
	ErrRepoNotFound    = "RepoNotFound"
	ErrInjectedFailure = "InjectedFailure"
)

// writeJSON sends a JSON body with status.
func writeJSON(ctx rweb.Context, status int, data any) error {
	ctx.SetStatus(status)
	return ctx.WriteJSON(data)
}

// writeError sends an XRPC error body.
func writeError(ctx rweb.Context, status int, code, message string) error {
	ctx.SetStatus(status)
	return ctx.WriteJSON(XRPCError{Error: code, Message: message})
}

func badRequest(ctx rweb.Context, message string) error {
	return writeError(ctx, http.StatusBadRequest, ErrInvalidRequest, message)
}
