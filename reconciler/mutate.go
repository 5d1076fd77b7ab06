package reconciler

import (
	"context"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"pdsnotes/models"
)

// CreateEntity inserts draft under a fresh provisional key as pending and
// returns it. The remote create runs in the background; its failure leaves
// the entity pending and is reported, never returned. Only cache failures
// are returned.
func (r *Reconciler) CreateEntity(ctx context.Context, draft models.Entity) (models.Entity, error) {
	e, _, err := r.create(ctx, draft)
	return e, err
}

// create is CreateEntity that also hands back the completion channel of the
// background create.
func (r *Reconciler) create(ctx context.Context, draft models.Entity) (models.Entity, <-chan struct{}, error) {
	if draft == nil {
		return nil, nil, serr.New("cannot create nil entity")
	}

	e := draft.Clone()
	key := r.keys.GenerateProvisionalKey()
	if !models.IsProvisional(key) {
		return nil, nil, serr.New("key generator returned a non-provisional key", "key", key)
	}
	*e.Meta() = models.SyncMeta{RKey: key, SyncStatus: models.StatusPending}
	models.StampCreated(e, r.now())

	switch v := e.(type) {
	case *models.Tag:
		if v.Color == "" {
			v.Color = r.pickColor()
		}
	case *models.Folder:
		if v.Color == "" {
			v.Color = r.pickColor()
		}
	}

	r.mu.Lock()
	if _, taken := r.view[e.Kind()][key]; taken {
		r.mu.Unlock()
		return nil, nil, serr.New("provisional key collision", "key", key)
	}
	if err := r.storeLocked(ctx, e, true); err != nil {
		r.mu.Unlock()
		return nil, nil, serr.Wrap(err, "failed to cache new entity", "kind", string(e.Kind()))
	}
	done := r.launchCreateLocked(ctx, e.Kind(), key)
	r.mu.Unlock()

	r.changed(e.Kind())
	logger.Debug("Entity created locally", "kind", string(e.Kind()), "rkey", key, "label", models.Label(e))
	return e.Clone(), done, nil
}

// UpdateEntity applies e over the entity with the same kind and key. Notes
// get their tag names resolved to tag keys first, creating tags that do not
// exist yet. The entity becomes pending and, when its key is durable and all
// its references are, the remote update runs in the background.
func (r *Reconciler) UpdateEntity(ctx context.Context, e models.Entity) (models.Entity, error) {
	if e == nil {
		return nil, serr.New("cannot update nil entity")
	}
	kind, key := e.Kind(), e.Meta().RKey

	key = r.liveKey(kind, key)
	if _, _, ok := r.snapshot(kind, key); !ok {
		return nil, serr.New("entity not found", "kind", string(kind), "rkey", key)
	}

	next := e.Clone()
	next.Meta().RKey = key
	if note, ok := next.(*models.Note); ok {
		tags, err := r.resolveTags(ctx, note.Tags)
		if err != nil {
			return nil, err
		}
		note.Tags = tags
	}

	r.mu.Lock()
	cur, ok := r.view[kind][key]
	if !ok {
		// Deleted while tags were being resolved
		r.mu.Unlock()
		return nil, serr.New("entity deleted during update", "kind", string(kind), "rkey", key)
	}

	r.rewriteFromRekeyedLocked(next)
	meta := next.Meta()
	curMeta := cur.Meta()
	meta.URI, meta.CID = curMeta.URI, curMeta.CID
	meta.SyncStatus = models.StatusPending
	models.StampUpdated(next, r.now())

	if err := r.storeLocked(ctx, next, true); err != nil {
		r.mu.Unlock()
		return nil, serr.Wrap(err, "failed to cache updated entity", "kind", string(kind), "rkey", key)
	}

	refs := unresolvedRefs(next)
	mirror := !models.IsProvisional(key) && len(refs) == 0
	if mirror {
		r.launchUpdateLocked(ctx, kind, key)
	}
	r.mu.Unlock()

	r.changed(kind)
	if len(refs) > 0 {
		r.emit(Report{Kind: kind, Key: key, Op: models.OpUpdate, Severity: SeverityWarning, Err: &UnresolvedError{Refs: refs}})
	}
	return next.Clone(), nil
}

// DeleteEntity removes the entity from view and cache at once. For durable
// keys the remote delete runs in the background and its failure is only
// reported; the local deletion stands.
func (r *Reconciler) DeleteEntity(ctx context.Context, kind models.Kind, key string) error {
	key = r.liveKey(kind, key)

	r.mu.Lock()
	if err := r.cache.Delete(ctx, kind, key); err != nil {
		r.mu.Unlock()
		return serr.Wrap(err, "failed to delete from cache", "kind", string(kind), "rkey", key)
	}
	delete(r.view[kind], key)
	delete(r.rev, viewKey{kind, key})
	r.touchLocked(kind, key)
	if !models.IsProvisional(key) {
		r.launchDeleteLocked(ctx, kind, key)
	}
	r.mu.Unlock()

	r.changed(kind)
	logger.Debug("Entity deleted locally", "kind", string(kind), "rkey", key)
	return nil
}

// Retry mirrors a pending or conflicting entity again and returns the remote
// outcome. Provisional keys are created, durable keys are updated; for a
// conflict this means the local copy wins.
func (r *Reconciler) Retry(ctx context.Context, kind models.Kind, key string) error {
	r.mu.Lock()
	cur, ok := r.view[kind][key]
	if !ok {
		r.mu.Unlock()
		return serr.New("entity not found", "kind", string(kind), "rkey", key)
	}
	if cur.Meta().SyncStatus == models.StatusSynced {
		r.mu.Unlock()
		return nil
	}

	if !models.IsProvisional(key) {
		r.mu.Unlock()
		return r.mirrorUpdate(ctx, kind, key)
	}

	if done, busy := r.creating[key]; busy {
		r.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if r.durableKeyFor(key) == "" {
			return serr.New("create did not complete", "kind", string(kind), "rkey", key)
		}
		return nil
	}

	done := make(chan struct{})
	r.creating[key] = done
	r.mu.Unlock()

	err := r.mirrorCreate(ctx, kind, key)
	r.finishCreate(key, done)
	return err
}

// Discard drops local unsynced changes. A provisional entity is removed; a
// durable one is replaced by the remote copy through a refresh of its kind.
// If the remote cannot be listed the entity is left as it was.
func (r *Reconciler) Discard(ctx context.Context, kind models.Kind, key string) error {
	if models.IsProvisional(key) {
		r.mu.Lock()
		if err := r.cache.Delete(ctx, kind, key); err != nil {
			r.mu.Unlock()
			return serr.Wrap(err, "failed to delete from cache", "kind", string(kind), "rkey", key)
		}
		delete(r.view[kind], key)
		delete(r.rev, viewKey{kind, key})
		r.touchLocked(kind, key)
		r.mu.Unlock()
		r.changed(kind)
		return nil
	}

	r.mu.RLock()
	_, ok := r.view[kind][key]
	r.mu.RUnlock()
	if !ok {
		return serr.New("entity not found", "kind", string(kind), "rkey", key)
	}

	// The local copy is only replaced once the remote copy was fetched
	return r.refreshKind(ctx, kind, key)
}

// rewriteFromRekeyedLocked replaces references to provisional keys whose
// create already completed. The caller holds r.mu.
func (r *Reconciler) rewriteFromRekeyedLocked(e models.Entity) {
	switch v := e.(type) {
	case *models.Note:
		for i, t := range v.Tags {
			if durable, ok := r.rekeyed[t]; ok {
				v.Tags[i] = durable
			}
		}
		if durable, ok := r.rekeyed[v.Folder]; ok {
			v.Folder = durable
		}
	case *models.Folder:
		if durable, ok := r.rekeyed[v.Parent]; ok {
			v.Parent = durable
		}
	}
}

// liveKey follows a provisional key to its durable key when the create
// completed after the caller read the entity.
func (r *Reconciler) liveKey(kind models.Kind, key string) string {
	if !models.IsProvisional(key) {
		return key
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.view[kind][key]; ok {
		return key
	}
	if durable, ok := r.rekeyed[key]; ok {
		return durable
	}
	return key
}

func (r *Reconciler) durableKeyFor(provisional string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rekeyed[provisional]
}
