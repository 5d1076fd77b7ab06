// Package reconciler keeps an in-memory view of notes, folders, tags and
// themes consistent with the local cache store and mirrors local intents to
// the remote record store.
//
// Every intent is applied in two phases. Phase one runs synchronously under
// the reconciler's lock and writes the view and the cache. Phase two runs in
// the background, calls the remote, and only ever touches an entity's sync
// fields (key, uri, cid, status) after checking the entity is still present
// under the key it expects.
package reconciler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"pdsnotes/models"
)

// Cache is the durable local store. *store.Store satisfies it.
type Cache interface {
	Put(ctx context.Context, e models.Entity) error
	GetAll(ctx context.Context, kind models.Kind) ([]models.Entity, error)
	Delete(ctx context.Context, kind models.Kind, key string) error
	ReplaceAll(ctx context.Context, kind models.Kind, entities []models.Entity) error
	Clear(ctx context.Context) error
}

// Remote is the record gateway. *gateway.Client satisfies it.
type Remote interface {
	Create(ctx context.Context, kind models.Kind, e models.Entity) (uri, cid string, err error)
	Update(ctx context.Context, kind models.Kind, key string, e models.Entity) (cid string, err error)
	Delete(ctx context.Context, kind models.Kind, key string) error
	ListAll(ctx context.Context, kind models.Kind) ([]models.Record, error)
}

// Severity grades a Report.
type Severity string

const (
	// SeverityWarning marks a remote failure that left local state intact.
	SeverityWarning Severity = "warning"
	// SeverityError marks a local cache failure during background work.
	SeverityError Severity = "error"
)

// Report is a non-fatal signal from background mirroring or refresh merging.
type Report struct {
	Kind     models.Kind
	Key      string
	Op       string
	Severity Severity
	Err      error
}

func (r Report) String() string {
	return fmt.Sprintf("%s %s %s %s: %v", r.Severity, r.Op, r.Kind, r.Key, r.Err)
}

// UnresolvedError is reported when an entity cannot be mirrored because it
// still references records that only have provisional keys.
type UnresolvedError struct {
	Refs []string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("references unsynced records %v", e.Refs)
}

// viewKey addresses one entity across kinds.
type viewKey struct {
	kind models.Kind
	key  string
}

// Reconciler owns the in-memory view. All methods are safe for concurrent use.
type Reconciler struct {
	cache  Cache
	remote Remote

	keys      models.KeyGenerator
	now       func() time.Time
	report    func(Report)
	onChange  func(models.Kind)
	pickColor func() string

	// mu guards the view and serializes every view+cache mutation so the two
	// never disagree.
	mu   sync.RWMutex
	view map[models.Kind]map[string]models.Entity

	// rev counts local mutations per entity. A completion whose revision is
	// stale must not mark the entity synced.
	rev map[viewKey]uint64
	// creating holds a done channel per provisional key with a create in flight.
	creating map[string]chan struct{}
	// rekeyed maps provisional keys to the durable keys they became.
	rekeyed map[string]string

	// seq orders local changes against refresh snapshots. touched holds the
	// seq of the last change per key, deletes included, and clearedAt the
	// seq of the last Reset.
	seq       uint64
	touched   map[viewKey]uint64
	clearedAt uint64

	wg sync.WaitGroup
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithKeyGenerator sets the provisional key strategy.
func WithKeyGenerator(g models.KeyGenerator) Option {
	return func(r *Reconciler) { r.keys = g }
}

// WithClock sets the time source used for created/updated stamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithReporter receives warnings and background errors. Reports are logged
// either way.
func WithReporter(fn func(Report)) Option {
	return func(r *Reconciler) { r.report = fn }
}

// WithChangeHook is called after the view of a kind changed.
// It runs outside the reconciler's lock and may call read methods.
func WithChangeHook(fn func(models.Kind)) Option {
	return func(r *Reconciler) { r.onChange = fn }
}

// WithColorPicker sets the color given to tags and folders created without one.
func WithColorPicker(fn func() string) Option {
	return func(r *Reconciler) { r.pickColor = fn }
}

// New builds a Reconciler over cache and remote. Call Hydrate before reading.
func New(cache Cache, remote Remote, opts ...Option) *Reconciler {
	r := &Reconciler{
		cache:     cache,
		remote:    remote,
		keys:      models.RandomKeys{},
		now:       time.Now,
		pickColor: randomColor,
		view:      emptyView(),
		rev:       make(map[viewKey]uint64),
		creating:  make(map[string]chan struct{}),
		rekeyed:   make(map[string]string),
		touched:   make(map[viewKey]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func emptyView() map[models.Kind]map[string]models.Entity {
	v := make(map[models.Kind]map[string]models.Entity, len(models.Kinds()))
	for _, kind := range models.Kinds() {
		v[kind] = make(map[string]models.Entity)
	}
	return v
}

func randomColor() string {
	return fmt.Sprintf("#%06x", rand.IntN(0x1000000))
}

// Hydrate loads every kind from the cache into the view. It never contacts
// the remote.
func (r *Reconciler) Hydrate(ctx context.Context) error {
	loaded := emptyView()
	for _, kind := range models.Kinds() {
		entities, err := r.cache.GetAll(ctx, kind)
		if err != nil {
			return serr.Wrap(err, "failed to hydrate from cache", "kind", string(kind))
		}
		for _, e := range entities {
			loaded[kind][e.Meta().RKey] = e
		}
	}

	r.mu.Lock()
	r.view = loaded
	r.mu.Unlock()

	for _, kind := range models.Kinds() {
		r.changed(kind)
	}
	logger.Info("View hydrated from cache",
		"notes", len(loaded[models.KindNote]), "folders", len(loaded[models.KindFolder]),
		"tags", len(loaded[models.KindTag]), "themes", len(loaded[models.KindTheme]))
	return nil
}

// Reset empties the view and the cache, including the stored session.
// In-flight completions find their entities gone and are dropped.
func (r *Reconciler) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.cache.Clear(ctx); err != nil {
		return serr.Wrap(err, "failed to clear cache")
	}
	r.view = emptyView()
	r.rev = make(map[viewKey]uint64)
	r.rekeyed = make(map[string]string)
	r.touched = make(map[viewKey]uint64)
	r.seq++
	r.clearedAt = r.seq
	logger.Info("Local state cleared")
	return nil
}

// Wait blocks until all background mirroring has finished.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

// ============================================================================
// Internal helpers
// ============================================================================

func (r *Reconciler) changed(kind models.Kind) {
	if r.onChange != nil {
		r.onChange(kind)
	}
}

func (r *Reconciler) emit(rep Report) {
	if rep.Severity == SeverityError {
		logger.LogErr(rep.Err, "background sync failed", "kind", string(rep.Kind), "rkey", rep.Key, "op", rep.Op)
	} else {
		logger.Info("Sync warning", "kind", string(rep.Kind), "rkey", rep.Key, "op", rep.Op, "error", rep.Err.Error())
	}
	if r.report != nil {
		r.report(rep)
	}
}

// reportFailure grades err: remote and reference failures leave local state
// intact and are warnings, anything else came from the cache.
func (r *Reconciler) reportFailure(kind models.Kind, key, op string, err error) {
	sev := SeverityError
	if _, ok := models.AsRemoteFailure(err); ok {
		sev = SeverityWarning
	} else if models.IsNotAuthenticated(err) {
		sev = SeverityWarning
	} else if _, ok := err.(*UnresolvedError); ok {
		sev = SeverityWarning
	}
	r.emit(Report{Kind: kind, Key: key, Op: op, Severity: sev, Err: err})
}

// snapshot returns a copy of the entity and its revision.
func (r *Reconciler) snapshot(kind models.Kind, key string) (models.Entity, uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.view[kind][key]
	if !ok {
		return nil, 0, false
	}
	return e.Clone(), r.rev[viewKey{kind, key}], true
}

// storeLocked writes e to cache and view and bumps its revision when bump is
// set. The caller holds r.mu.
func (r *Reconciler) storeLocked(ctx context.Context, e models.Entity, bump bool) error {
	if err := r.cache.Put(ctx, e); err != nil {
		return err
	}
	meta := e.Meta()
	r.view[e.Kind()][meta.RKey] = e
	if bump {
		r.rev[viewKey{e.Kind(), meta.RKey}]++
	}
	r.touchLocked(e.Kind(), meta.RKey)
	return nil
}

// touchLocked records a local change to key. The caller holds r.mu.
func (r *Reconciler) touchLocked(kind models.Kind, key string) {
	r.seq++
	r.touched[viewKey{kind, key}] = r.seq
}

// unresolvedRefs lists provisional keys an entity still points at.
func unresolvedRefs(e models.Entity) []string {
	var refs []string
	switch v := e.(type) {
	case *models.Note:
		for _, t := range v.Tags {
			if models.IsProvisional(t) {
				refs = append(refs, t)
			}
		}
		if models.IsProvisional(v.Folder) {
			refs = append(refs, v.Folder)
		}
	case *models.Folder:
		if models.IsProvisional(v.Parent) {
			refs = append(refs, v.Parent)
		}
	}
	return refs
}
