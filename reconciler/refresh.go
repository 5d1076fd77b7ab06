package reconciler

import (
	"context"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
	"github.com/sergi/go-diff/diffmatchpatch"

	"pdsnotes/models"
)

// ============================================================================
// Full Refresh
//
// The remote snapshot is authoritative for everything the user has not
// changed locally. Unsynced local work is merged by sync status instead of
// being overwritten:
//
//   - provisional entities are kept (their create has not landed)
//   - durable pending entities still on the remote are kept; if the remote
//     CID moved since the local copy was based on it, they become conflict
//   - conflict entities stay conflict until retried or discarded
//   - durable pending/conflict entities gone from the remote are dropped:
//     a remote delete wins over a local edit
//   - synced entities are replaced by the snapshot
//
// Local changes made after the snapshot was requested win over it: an entity
// created, rekeyed or mirrored meanwhile is kept, and one deleted meanwhile
// is not brought back.
// ============================================================================

// Refresh replaces each kind's view and cache with the remote snapshot,
// merged with unsynced local work, in the order notes, folders, tags, themes.
// It stops at the first error. Concurrent calls are not serialized.
func (r *Reconciler) Refresh(ctx context.Context) error {
	for _, kind := range models.Kinds() {
		if err := r.refreshKind(ctx, kind, ""); err != nil {
			return err
		}
	}
	return nil
}

// refreshKind lists one kind and merges it. A non-empty discard key takes the
// remote copy regardless of its local status.
func (r *Reconciler) refreshKind(ctx context.Context, kind models.Kind, discard string) error {
	r.mu.Lock()
	r.seq++
	gen := r.seq
	r.mu.Unlock()

	records, err := r.remote.ListAll(ctx, kind)
	if err != nil {
		if models.IsNotAuthenticated(err) {
			return err
		}
		if _, ok := models.AsRemoteFailure(err); ok {
			return err
		}
		return serr.Wrap(err, "failed to list remote records", "kind", string(kind))
	}

	snapshot := make(map[string]models.Entity, len(records))
	for _, rec := range records {
		if t := models.RecordType(rec.Value); t != "" && t != kind.Collection() {
			logger.Info("Skipping record of foreign type", "uri", rec.URI, "type", t)
			continue
		}
		if key := models.RKeyFromURI(rec.URI); models.IsProvisional(key) {
			r.emit(Report{Kind: kind, Key: key, Op: models.OpList, Severity: SeverityWarning,
				Err: serr.New("skipping remote record with a provisional-style key", "uri", rec.URI)})
			continue
		}
		e, err := models.EntityFromRecord(kind, rec)
		if err != nil {
			r.emit(Report{Kind: kind, Key: models.RKeyFromURI(rec.URI), Op: models.OpList, Severity: SeverityWarning, Err: err})
			continue
		}
		snapshot[e.Meta().RKey] = e
	}

	r.mu.Lock()
	if gen < r.clearedAt {
		// Reset while listing; the snapshot belongs to the previous session
		r.mu.Unlock()
		logger.Info("Dropping refresh result after reset", "kind", string(kind))
		return nil
	}
	merged, reports := r.mergeLocked(kind, snapshot, gen, discard)

	list := make([]models.Entity, 0, len(merged))
	for _, e := range merged {
		list = append(list, e)
	}
	if err := r.cache.ReplaceAll(ctx, kind, list); err != nil {
		r.mu.Unlock()
		return serr.Wrap(err, "failed to replace cache from remote snapshot", "kind", string(kind))
	}

	// Entities whose state changed get a new revision so in-flight
	// completions based on the old copy do not mark them synced.
	for key, e := range merged {
		if prev, ok := r.view[kind][key]; !ok || prev.Meta().SyncStatus != e.Meta().SyncStatus {
			r.rev[viewKey{kind, key}]++
		}
	}
	for key := range r.view[kind] {
		if _, ok := merged[key]; !ok {
			delete(r.rev, viewKey{kind, key})
		}
	}
	r.view[kind] = merged
	r.mu.Unlock()

	for _, rep := range reports {
		r.emit(rep)
	}
	r.changed(kind)
	logger.Info("Refreshed from remote", "kind", string(kind), "remote", len(snapshot), "local", len(merged))
	return nil
}

// mergeLocked combines the remote snapshot with the current view. gen is the
// change sequence at which the snapshot was requested.
// The caller holds r.mu.
func (r *Reconciler) mergeLocked(kind models.Kind, snapshot map[string]models.Entity, gen uint64, discard string) (map[string]models.Entity, []Report) {
	changedSince := func(key string) bool {
		return key != discard && r.touched[viewKey{kind, key}] > gen
	}

	merged := make(map[string]models.Entity, len(snapshot))
	for key, e := range snapshot {
		if _, local := r.view[kind][key]; !local && changedSince(key) {
			continue // deleted locally after the listing started
		}
		merged[key] = e
	}

	var reports []Report
	for key, local := range r.view[kind] {
		if changedSince(key) {
			merged[key] = local
			continue
		}
		if key == discard {
			continue
		}
		meta := local.Meta()
		if meta.SyncStatus == models.StatusSynced {
			continue
		}

		if models.IsProvisional(key) {
			merged[key] = local
			continue
		}

		remote, onRemote := snapshot[key]
		if !onRemote {
			reports = append(reports, Report{
				Kind: kind, Key: key, Op: models.OpList, Severity: SeverityWarning,
				Err: serr.New("record deleted remotely; local changes dropped", "status", string(meta.SyncStatus)),
			})
			continue
		}

		kept := local.Clone()
		if meta.SyncStatus == models.StatusPending && meta.CID != "" && meta.CID != remote.Meta().CID {
			kept.Meta().SyncStatus = models.StatusConflict
			logConflict(local, remote)
			reports = append(reports, Report{
				Kind: kind, Key: key, Op: models.OpList, Severity: SeverityWarning,
				Err: serr.New("record changed remotely while local changes were pending",
					"local_cid", meta.CID, "remote_cid", remote.Meta().CID),
			})
		}
		merged[key] = kept
	}
	return merged, reports
}

// logConflict logs a readable diff of the diverging copies.
func logConflict(local, remote models.Entity) {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(conflictText(remote), conflictText(local), false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	logger.Info("Sync conflict detected",
		"kind", string(local.Kind()),
		"rkey", local.Meta().RKey,
		"diff", dmp.DiffPrettyText(diffs),
	)
}

func conflictText(e models.Entity) string {
	switch v := e.(type) {
	case *models.Note:
		return v.Title + "\n\n" + v.Content
	case *models.Folder:
		return v.Name + " " + v.Color + " " + v.Parent
	case *models.Tag:
		return v.Name + " " + v.Color
	case *models.Theme:
		return v.Name + " " + v.Mode + " " + v.Accent + " " + v.Background
	}
	return ""
}
