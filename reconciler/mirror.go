package reconciler

import (
	"context"
	"slices"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"pdsnotes/models"
)

// ============================================================================
// Mirroring (phase two)
//
// Background work uses a context detached from the caller's: there is no way
// to cancel a remote call once issued, and a completion always runs. Each
// completion re-reads the entity under the lock and gives up if it is gone.
// ============================================================================

// launchCreateLocked starts the remote create for a provisional key and
// returns a channel closed when it finishes. The caller holds r.mu.
func (r *Reconciler) launchCreateLocked(ctx context.Context, kind models.Kind, key string) chan struct{} {
	done := make(chan struct{})
	r.creating[key] = done
	bg := context.WithoutCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := r.mirrorCreate(bg, kind, key)
		r.finishCreate(key, done)
		if err != nil {
			r.reportFailure(kind, key, models.OpCreate, err)
		}
	}()
	return done
}

func (r *Reconciler) finishCreate(key string, done chan struct{}) {
	r.mu.Lock()
	if r.creating[key] == done {
		delete(r.creating, key)
	}
	r.mu.Unlock()
	close(done)
}

// launchUpdateLocked starts the remote update for a durable key.
// The caller holds r.mu.
func (r *Reconciler) launchUpdateLocked(ctx context.Context, kind models.Kind, key string) {
	bg := context.WithoutCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.mirrorUpdate(bg, kind, key); err != nil {
			r.reportFailure(kind, key, models.OpUpdate, err)
		}
	}()
}

// launchDeleteLocked starts the remote delete for a durable key.
// The caller holds r.mu.
func (r *Reconciler) launchDeleteLocked(ctx context.Context, kind models.Kind, key string) {
	bg := context.WithoutCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.remote.Delete(bg, kind, key); err != nil {
			r.reportFailure(kind, key, models.OpDelete, err)
			return
		}
		logger.Debug("Remote delete completed", "kind", string(kind), "rkey", key)
	}()
}

// mirrorCreate sends the entity at a provisional key to the remote and, on
// success, moves it to the durable key the remote assigned.
func (r *Reconciler) mirrorCreate(ctx context.Context, kind models.Kind, key string) error {
	e, rev, ok := r.snapshot(kind, key)
	if !ok {
		return nil
	}

	uri, cid, err := r.remote.Create(ctx, kind, e)
	if err != nil {
		return err
	}
	return r.applyCreated(ctx, kind, key, rev, uri, cid)
}

func (r *Reconciler) applyCreated(ctx context.Context, kind models.Kind, key string, rev uint64, uri, cid string) error {
	durable := models.RKeyFromURI(uri)
	if durable == "" || models.IsProvisional(durable) {
		return &models.RemoteOperationError{Kind: kind, Operation: models.OpCreate, Message: "server returned unusable uri " + uri}
	}

	r.mu.Lock()
	cur, ok := r.view[kind][key]
	if !ok {
		// Deleted while the create was in flight; remove the record it left.
		r.rekeyed[key] = durable
		r.launchDeleteLocked(ctx, kind, durable)
		r.mu.Unlock()
		logger.Info("Dropping create completion for deleted entity", "kind", string(kind), "rkey", key, "durable", durable)
		return nil
	}

	// Edits made while the create was in flight have not reached the remote.
	stale := r.rev[viewKey{kind, key}] != rev

	next := cur.Clone()
	meta := next.Meta()
	meta.RKey, meta.URI, meta.CID = durable, uri, cid
	meta.SyncStatus = models.StatusSynced
	if stale {
		meta.SyncStatus = models.StatusPending
	}

	if err := r.cache.Put(ctx, next); err != nil {
		r.mu.Unlock()
		return serr.Wrap(err, "failed to cache created entity", "kind", string(kind), "rkey", durable)
	}
	if err := r.cache.Delete(ctx, kind, key); err != nil {
		r.mu.Unlock()
		return serr.Wrap(err, "failed to remove provisional cache row", "kind", string(kind), "rkey", key)
	}

	delete(r.view[kind], key)
	r.view[kind][durable] = next
	r.rev[viewKey{kind, durable}] = r.rev[viewKey{kind, key}]
	delete(r.rev, viewKey{kind, key})
	r.rekeyed[key] = durable
	r.touchLocked(kind, key)
	r.touchLocked(kind, durable)

	touched, err := r.rewriteRefsLocked(ctx, kind, key, durable)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if stale {
		r.launchUpdateLocked(ctx, kind, durable)
	}
	for _, t := range touched {
		if !models.IsProvisional(t.key) {
			r.launchUpdateLocked(ctx, t.kind, t.key)
		}
	}
	r.mu.Unlock()

	r.changed(kind)
	for _, k := range touchedKinds(touched) {
		if k != kind {
			r.changed(k)
		}
	}
	logger.Debug("Remote create completed", "kind", string(kind), "provisional", key, "rkey", durable, "stale", stale)
	return nil
}

// rewriteRefsLocked points every reference to oldKey at newKey and marks the
// referencing entities pending. The caller holds r.mu.
func (r *Reconciler) rewriteRefsLocked(ctx context.Context, kind models.Kind, oldKey, newKey string) ([]viewKey, error) {
	var changed []models.Entity

	switch kind {
	case models.KindTag:
		for _, e := range r.view[models.KindNote] {
			n := e.(*models.Note)
			if !slices.Contains(n.Tags, oldKey) {
				continue
			}
			c := n.Clone().(*models.Note)
			for i, t := range c.Tags {
				if t == oldKey {
					c.Tags[i] = newKey
				}
			}
			changed = append(changed, c)
		}
	case models.KindFolder:
		for _, e := range r.view[models.KindNote] {
			if n := e.(*models.Note); n.Folder == oldKey {
				c := n.Clone().(*models.Note)
				c.Folder = newKey
				changed = append(changed, c)
			}
		}
		for _, e := range r.view[models.KindFolder] {
			if f := e.(*models.Folder); f.Parent == oldKey {
				c := f.Clone().(*models.Folder)
				c.Parent = newKey
				changed = append(changed, c)
			}
		}
	}

	var touched []viewKey
	for _, e := range changed {
		e.Meta().SyncStatus = models.StatusPending
		if err := r.storeLocked(ctx, e, true); err != nil {
			return nil, serr.Wrap(err, "failed to cache rewritten reference", "kind", string(e.Kind()), "rkey", e.Meta().RKey)
		}
		touched = append(touched, viewKey{e.Kind(), e.Meta().RKey})
	}
	return touched, nil
}

func touchedKinds(touched []viewKey) []models.Kind {
	var kinds []models.Kind
	for _, t := range touched {
		if !slices.Contains(kinds, t.kind) {
			kinds = append(kinds, t.kind)
		}
	}
	return kinds
}

// mirrorUpdate sends the current copy of a durable entity and marks it synced.
// If the entity was edited while the call was in flight, the newest copy is
// sent again.
func (r *Reconciler) mirrorUpdate(ctx context.Context, kind models.Kind, key string) error {
	if models.IsProvisional(key) {
		return nil
	}
	e, rev, ok := r.snapshot(kind, key)
	if !ok {
		return nil
	}
	if refs := unresolvedRefs(e); len(refs) > 0 {
		return &UnresolvedError{Refs: refs}
	}

	cid, err := r.remote.Update(ctx, kind, key, e)
	if err != nil {
		return err
	}

	r.mu.Lock()
	cur, ok := r.view[kind][key]
	if !ok {
		r.mu.Unlock()
		logger.Debug("Dropping update completion for removed entity", "kind", string(kind), "rkey", key)
		return nil
	}
	if r.rev[viewKey{kind, key}] != rev {
		// Edited meanwhile; the remote may hold either copy, so send the newest
		r.mu.Unlock()
		logger.Debug("Re-mirroring after stale update completion", "kind", string(kind), "rkey", key)
		return r.mirrorUpdate(ctx, kind, key)
	}

	next := cur.Clone()
	meta := next.Meta()
	meta.SyncStatus = models.StatusSynced
	if cid != "" {
		meta.CID = cid
	}
	if err := r.storeLocked(ctx, next, false); err != nil {
		r.mu.Unlock()
		return serr.Wrap(err, "failed to cache synced entity", "kind", string(kind), "rkey", key)
	}
	r.mu.Unlock()

	r.changed(kind)
	logger.Debug("Remote update completed", "kind", string(kind), "rkey", key)
	return nil
}
