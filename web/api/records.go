package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"

	"pdsnotes/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

type recordInput struct {
	Repo       string          `json:"repo"`
	Collection string          `json:"collection"`
	RKey       string          `json:"rkey"`
	Record     json.RawMessage `json:"record"`
}

type recordRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type listOutput struct {
	Records []models.Record `json:"records"`
	Cursor  string          `json:"cursor,omitempty"`
}

// authedDID returns the DID set by the auth middleware, answering 401 when
// the request carries no valid access token.
func authedDID(ctx rweb.Context) (string, bool, error) {
	authenticated, _ := ctx.Get(CtxAuthenticated).(bool)
	did, _ := ctx.Get(CtxDID).(string)
	if !authenticated || did == "" {
		return "", false, writeError(ctx, http.StatusUnauthorized, ErrAuthRequired, "Authentication Required")
	}
	return did, true, nil
}

// decodeRecordInput parses a write request and checks it targets the caller's repo.
func decodeRecordInput(ctx rweb.Context, did string, needKey, needRecord bool) (*recordInput, error) {
	var in recordInput
	if err := json.Unmarshal(ctx.Request().Body(), &in); err != nil {
		logger.LogErr(serr.Wrap(err, "failed to decode request body"), "invalid JSON")
		return nil, badRequest(ctx, "invalid JSON body")
	}
	if in.Repo != did {
		return nil, writeError(ctx, http.StatusForbidden, ErrInvalidRequest, "repo does not match session")
	}
	if in.Collection == "" {
		return nil, badRequest(ctx, "collection is required")
	}
	if needKey && in.RKey == "" {
		return nil, badRequest(ctx, "rkey is required")
	}
	if needRecord {
		if len(in.Record) == 0 || in.Record[0] != '{' {
			return nil, badRequest(ctx, "record must be an object")
		}
		if t := models.RecordType(in.Record); t != "" && t != in.Collection {
			return nil, badRequest(ctx, "record $type does not match collection")
		}
	}
	return &in, nil
}

// CreateRecord handles POST /xrpc/com.atproto.repo.createRecord.
// The server picks the record key.
func (p *PDS) CreateRecord(ctx rweb.Context) error {
	did, ok, err := authedDID(ctx)
	if !ok {
		return err
	}
	if done, err := p.injected(ctx, models.OpCreate); done {
		return err
	}

	in, err := decodeRecordInput(ctx, did, false, true)
	if in == nil {
		return err
	}

	rkey, cid := p.repo.Create(did, in.Collection, in.Record)
	logger.Debug("Record created", "collection", in.Collection, "rkey", rkey)
	return writeJSON(ctx, http.StatusOK, recordRef{URI: RecordURI(did, in.Collection, rkey), CID: cid})
}

// PutRecord handles POST /xrpc/com.atproto.repo.putRecord.
func (p *PDS) PutRecord(ctx rweb.Context) error {
	did, ok, err := authedDID(ctx)
	if !ok {
		return err
	}
	if done, err := p.injected(ctx, models.OpUpdate); done {
		return err
	}

	in, err := decodeRecordInput(ctx, did, true, true)
	if in == nil {
		return err
	}

	cid := p.repo.Put(did, in.Collection, in.RKey, in.Record)
	logger.Debug("Record put", "collection", in.Collection, "rkey", in.RKey)
	return writeJSON(ctx, http.StatusOK, recordRef{URI: RecordURI(did, in.Collection, in.RKey), CID: cid})
}

// DeleteRecord handles POST /xrpc/com.atproto.repo.deleteRecord.
func (p *PDS) DeleteRecord(ctx rweb.Context) error {
	did, ok, err := authedDID(ctx)
	if !ok {
		return err
	}
	if done, err := p.injected(ctx, models.OpDelete); done {
		return err
	}

	in, err := decodeRecordInput(ctx, did, true, false)
	if in == nil {
		return err
	}

	p.repo.Delete(did, in.Collection, in.RKey)
	logger.Debug("Record deleted", "collection", in.Collection, "rkey", in.RKey)
	return writeJSON(ctx, http.StatusOK, map[string]any{})
}

// queryParam returns a decoded query value. DIDs arrive percent-encoded.
func queryParam(ctx rweb.Context, name string) string {
	raw := ctx.Request().QueryParam(name)
	if v, err := url.QueryUnescape(raw); err == nil {
		return v
	}
	return raw
}

// ListRecords handles GET /xrpc/com.atproto.repo.listRecords.
// Records come back in ascending key order; cursor is the last key returned.
func (p *PDS) ListRecords(ctx rweb.Context) error {
	did, ok, err := authedDID(ctx)
	if !ok {
		return err
	}
	if done, err := p.injected(ctx, models.OpList); done {
		return err
	}

	repo := queryParam(ctx, "repo")
	collection := queryParam(ctx, "collection")
	if repo != did {
		return writeError(ctx, http.StatusForbidden, ErrInvalidRequest, "repo does not match session")
	}
	if collection == "" {
		return badRequest(ctx, "collection is required")
	}

	limit := defaultListLimit
	if s := strings.TrimSpace(queryParam(ctx, "limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return badRequest(ctx, "limit must be a positive integer")
		}
		limit = min(n, maxListLimit)
	}

	records, cursor := p.repo.List(did, collection, queryParam(ctx, "cursor"), limit)
	return writeJSON(ctx, http.StatusOK, listOutput{Records: records, Cursor: cursor})
}
