// Package api implements the XRPC handlers of the development record server.
package api

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"

	"pdsnotes/models"
)

// Context keys set by the auth middleware.
const (
	CtxDID           = "did"
	CtxHandle        = "handle"
	CtxAuthenticated = "authenticated"
)

// PDS holds the accounts, token signer and repository of a development
// record server. Handlers are methods so several servers can run in one
// process.
type PDS struct {
	signer *models.TokenSigner
	repo   *Repo

	mu       sync.RWMutex
	accounts map[string]*models.Account // by handle and by DID
	failNext map[string][]int           // op -> queued statuses
}

// NewPDS returns a server state whose tokens are signed with secret.
func NewPDS(secret string) (*PDS, error) {
	signer, err := models.NewTokenSigner(secret)
	if err != nil {
		return nil, err
	}
	return &PDS{
		signer:   signer,
		repo:     NewRepo(),
		accounts: make(map[string]*models.Account),
		failNext: make(map[string][]int),
	}, nil
}

// Signer exposes the token signer for the auth middleware.
func (p *PDS) Signer() *models.TokenSigner { return p.signer }

// Repo exposes the record store, mostly for tests.
func (p *PDS) Repo() *Repo { return p.repo }

// AddAccount registers a handle/password pair.
func (p *PDS) AddAccount(handle, password string) (*models.Account, error) {
	acct, err := models.NewAccount(handle, password)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.accounts[acct.Handle]; exists {
		return nil, serr.New("handle already registered", "handle", acct.Handle)
	}
	p.accounts[acct.Handle] = acct
	p.accounts[acct.DID] = acct

	logger.Info("Account registered", "handle", acct.Handle, "did", acct.DID)
	return acct, nil
}

// FailNext makes the next call of op (models.OpCreate, OpUpdate, OpDelete,
// OpList or OpSession) answer with status instead of doing its work.
// Calls queue up.
func (p *PDS) FailNext(op string, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext[op] = append(p.failNext[op], status)
}

// injected pops a queued failure for op and writes it. It reports whether
// the request was answered.
func (p *PDS) injected(ctx rweb.Context, op string) (bool, error) {
	p.mu.Lock()
	queue := p.failNext[op]
	if len(queue) == 0 {
		p.mu.Unlock()
		return false, nil
	}
	status := queue[0]
	p.failNext[op] = queue[1:]
	p.mu.Unlock()

	logger.Debug("Injected failure", "op", op, "status", status)
	return true, writeError(ctx, status, ErrInjectedFailure, "injected "+op+" failure")
}

func (p *PDS) lookup(identifier string) *models.Account {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.accounts[strings.ToLower(strings.TrimSpace(identifier))]
}

// AccountSummary describes one account's repository for the status page.
type AccountSummary struct {
	Handle      string
	DID         string
	Collections map[string]int
}

// Summary lists accounts by handle with their collection counts.
func (p *PDS) Summary() []AccountSummary {
	p.mu.RLock()
	var accts []*models.Account
	for key, acct := range p.accounts {
		if key == acct.Handle {
			accts = append(accts, acct)
		}
	}
	p.mu.RUnlock()

	sort.Slice(accts, func(i, j int) bool { return accts[i].Handle < accts[j].Handle })
	out := make([]AccountSummary, 0, len(accts))
	for _, a := range accts {
		out = append(out, AccountSummary{Handle: a.Handle, DID: a.DID, Collections: p.repo.Collections(a.DID)})
	}
	return out
}

// Health handles GET /xrpc/_health.
func (p *PDS) Health(ctx rweb.Context) error {
	return writeJSON(ctx, http.StatusOK, map[string]string{"version": "pdsnotes-dev"})
}
