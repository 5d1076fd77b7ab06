package api

import (
	"encoding/json"
	"net/http"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"

	"pdsnotes/models"
)

type createSessionInput struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// CreateSession handles POST /xrpc/com.atproto.server.createSession.
// The identifier may be a handle or a DID.
func (p *PDS) CreateSession(ctx rweb.Context) error {
	if done, err := p.injected(ctx, models.OpSession); done {
		return err
	}

	var input createSessionInput
	if err := json.Unmarshal(ctx.Request().Body(), &input); err != nil {
		logger.LogErr(serr.Wrap(err, "failed to decode request body"), "invalid JSON")
		return badRequest(ctx, "invalid JSON body")
	}
	if input.Identifier == "" || input.Password == "" {
		return badRequest(ctx, "identifier and password are required")
	}

	acct := p.lookup(input.Identifier)
	if acct == nil || !acct.CheckPassword(input.Password) {
		logger.Info("Failed login attempt", "identifier", input.Identifier)
		return writeError(ctx, http.StatusUnauthorized, ErrAuthRequired, "Invalid identifier or password")
	}

	sess, err := p.signer.IssueSession(acct.DID, acct.Handle, "")
	if err != nil {
		logger.LogErr(err, "failed to issue session", "did", acct.DID)
		return writeError(ctx, http.StatusInternalServerError, ErrInternal, "failed to issue session")
	}

	logger.Info("Session issued", "handle", acct.Handle)
	return writeJSON(ctx, http.StatusOK, sess)
}
