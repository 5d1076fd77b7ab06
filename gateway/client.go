// Package gateway is the authenticated client for a personal data server's
// record endpoints. It performs exactly the remote calls it is asked for:
// no retries, no caching.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"pdsnotes/models"
)

// ============================================================================
// Remote Record Gateway
//
// XRPC endpoints used:
//   POST /xrpc/com.atproto.server.createSession  -> session tokens
//   POST /xrpc/com.atproto.repo.createRecord     -> {uri, cid}
//   POST /xrpc/com.atproto.repo.putRecord        -> {uri, cid}
//   POST /xrpc/com.atproto.repo.deleteRecord
//   GET  /xrpc/com.atproto.repo.listRecords      -> {records, cursor}
//
// Every record call carries the session's access token as a Bearer header.
// Calls made without a session fail with models.ErrNotAuthenticated before
// touching the network. Non-2xx answers and transport failures become
// *models.RemoteOperationError.
// ============================================================================

const (
	DefaultTimeout  = 30 * time.Second
	DefaultPageSize = 100

	// maxErrorBody bounds how much of an error response is read.
	maxErrorBody = 64 << 10
)

// Options configures a Client.
type Options struct {
	BaseURL    string       // used for login and when the session carries no PDS URL
	HTTPClient *http.Client // optional; a client with Timeout is built if nil
	Timeout    time.Duration
	PageSize   int // listRecords page size, default 100
}

// Client talks to one personal data server on behalf of one session.
type Client struct {
	baseURL    string
	httpClient *http.Client
	pageSize   int

	mu      sync.RWMutex
	session *models.Session

	now func() time.Time
}

// New builds a Client. No network call is made.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: httpClient,
		pageSize:   pageSize,
		now:        time.Now,
	}
}

// xrpcError is the error body shape returned by the server.
type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type recordRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type listResponse struct {
	Records []models.Record `json:"records"`
	Cursor  string          `json:"cursor"`
}

// ============================================================================
// Session
// ============================================================================

// Login creates a session with identifier (handle or DID) and password and
// makes it the client's current session.
func (c *Client) Login(ctx context.Context, identifier, password string) (*models.Session, error) {
	if identifier == "" || password == "" {
		return nil, serr.New("identifier and password are required")
	}

	body, err := json.Marshal(map[string]string{
		"identifier": identifier,
		"password":   password,
	})
	if err != nil {
		return nil, serr.Wrap(err, "failed to marshal session request")
	}

	var sess models.Session
	if err := c.call(ctx, "", models.OpSession, http.MethodPost,
		c.baseURL+"/xrpc/com.atproto.server.createSession", "", body, &sess); err != nil {
		return nil, err
	}
	if !sess.Valid() {
		return nil, &models.RemoteOperationError{
			Operation: models.OpSession,
			Status:    http.StatusOK,
			Message:   "session response missing did or access token",
		}
	}
	if sess.PDSURL == "" {
		sess.PDSURL = c.baseURL
	}

	c.SetSession(&sess)
	logger.Info("Session created", "handle", sess.Handle, "did", sess.DID)
	return &sess, nil
}

// SetSession installs a previously persisted session. Passing nil logs out.
func (c *Client) SetSession(sess *models.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = sess
}

// Session returns the current session or nil.
func (c *Client) Session() *models.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// Logout forgets the current session. Tokens are not revoked remotely.
func (c *Client) Logout() {
	c.SetSession(nil)
}

// authed returns the session and the server base URL for record calls.
func (c *Client) authed() (*models.Session, string, error) {
	sess := c.Session()
	if !sess.Valid() {
		return nil, "", models.ErrNotAuthenticated
	}
	if sess.AccessExpired(c.now()) {
		// The server decides; this only makes the eventual 401 explainable.
		logger.Info("Access token appears expired", "did", sess.DID)
	}

	base := strings.TrimRight(sess.PDSURL, "/")
	if base == "" {
		base = c.baseURL
	}
	return sess, base, nil
}

// ============================================================================
// Record operations
// ============================================================================

// Create stores a new record and returns the server-assigned URI and CID.
// The record key is chosen by the server.
func (c *Client) Create(ctx context.Context, kind models.Kind, e models.Entity) (uri, cid string, err error) {
	sess, base, err := c.authed()
	if err != nil {
		return "", "", err
	}

	value, err := models.RecordValue(e)
	if err != nil {
		return "", "", err
	}
	body, err := json.Marshal(map[string]any{
		"repo":       sess.DID,
		"collection": kind.Collection(),
		"record":     value,
	})
	if err != nil {
		return "", "", serr.Wrap(err, "failed to marshal create request")
	}

	var ref recordRef
	if err := c.call(ctx, kind, models.OpCreate, http.MethodPost,
		base+"/xrpc/com.atproto.repo.createRecord", sess.AccessJwt, body, &ref); err != nil {
		return "", "", err
	}
	if ref.URI == "" {
		return "", "", &models.RemoteOperationError{
			Kind: kind, Operation: models.OpCreate, Status: http.StatusOK,
			Message: "create response missing uri",
		}
	}

	logger.Debug("Record created", "collection", kind.Collection(), "uri", ref.URI)
	return ref.URI, ref.CID, nil
}

// Update overwrites the record at key wholesale and returns its new CID.
func (c *Client) Update(ctx context.Context, kind models.Kind, key string, e models.Entity) (string, error) {
	sess, base, err := c.authed()
	if err != nil {
		return "", err
	}

	value, err := models.RecordValue(e)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(map[string]any{
		"repo":       sess.DID,
		"collection": kind.Collection(),
		"rkey":       key,
		"record":     value,
	})
	if err != nil {
		return "", serr.Wrap(err, "failed to marshal put request")
	}

	var ref recordRef
	if err := c.call(ctx, kind, models.OpUpdate, http.MethodPost,
		base+"/xrpc/com.atproto.repo.putRecord", sess.AccessJwt, body, &ref); err != nil {
		return "", err
	}

	logger.Debug("Record updated", "collection", kind.Collection(), "rkey", key)
	return ref.CID, nil
}

// Delete removes the record at key.
func (c *Client) Delete(ctx context.Context, kind models.Kind, key string) error {
	sess, base, err := c.authed()
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]any{
		"repo":       sess.DID,
		"collection": kind.Collection(),
		"rkey":       key,
	})
	if err != nil {
		return serr.Wrap(err, "failed to marshal delete request")
	}

	if err := c.call(ctx, kind, models.OpDelete, http.MethodPost,
		base+"/xrpc/com.atproto.repo.deleteRecord", sess.AccessJwt, body, nil); err != nil {
		return err
	}

	logger.Debug("Record deleted", "collection", kind.Collection(), "rkey", key)
	return nil
}

// ListAll returns every record in the kind's collection, following the
// cursor until the server stops returning one.
func (c *Client) ListAll(ctx context.Context, kind models.Kind) ([]models.Record, error) {
	sess, base, err := c.authed()
	if err != nil {
		return nil, err
	}

	var all []models.Record
	cursor := ""
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("repo", sess.DID)
		q.Set("collection", kind.Collection())
		q.Set("limit", strconv.Itoa(c.pageSize))
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var resp listResponse
		if err := c.call(ctx, kind, models.OpList, http.MethodGet,
			base+"/xrpc/com.atproto.repo.listRecords?"+q.Encode(), sess.AccessJwt, nil, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Records...)

		// A repeated cursor would loop forever
		if resp.Cursor == "" || resp.Cursor == cursor || len(resp.Records) == 0 {
			break
		}
		cursor = resp.Cursor
		logger.Debug("Fetching next record page", "collection", kind.Collection(), "page", page+1)
	}

	return all, nil
}

// ============================================================================
// Transport
// ============================================================================

// call performs one XRPC request and decodes a 2xx JSON body into out
// (when out is non-nil). Failures are returned as *models.RemoteOperationError
// unwrapped so callers can match them with errors.As.
func (c *Client) call(ctx context.Context, kind models.Kind, op, method, endpoint, token string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return &models.RemoteOperationError{Kind: kind, Operation: op, Message: "failed to create request: " + err.Error()}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &models.RemoteOperationError{Kind: kind, Operation: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(kind, op, resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &models.RemoteOperationError{
			Kind: kind, Operation: op, Status: resp.StatusCode,
			Message: "failed to decode response: " + err.Error(),
		}
	}
	return nil
}

// responseError prefers the server's message, then its error code, then the
// HTTP status text.
func responseError(kind models.Kind, op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg := ""
	var xe xrpcError
	if json.Unmarshal(raw, &xe) == nil {
		msg = xe.Message
		if msg == "" {
			msg = xe.Error
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	return &models.RemoteOperationError{
		Kind:      kind,
		Operation: op,
		Status:    resp.StatusCode,
		Message:   msg,
	}
}
