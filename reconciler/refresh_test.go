package reconciler_test

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"
	"time"

	"pdsnotes/models"
	"pdsnotes/reconciler"
)

func TestRefreshLoadsRemoteSnapshot(t *testing.T) {
	env, cleanup := setupTestReconciler(t)
	defer cleanup()

	for _, key := range []string{"3kaaa", "3kbbb", "3kccc"} {
		env.remote.seed(models.KindNote, key, &models.Note{Title: "note " + key, CreatedAt: time.Now(), UpdatedAt: time.Now()})
	}

	if err := env.rec.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	notes := env.rec.Notes()
	if len(notes) != 3 {
		t.Fatalf("expected 3 notes, got %d", len(notes))
	}
	for _, n := range notes {
		if n.SyncStatus != models.StatusSynced {
			t.Errorf("note %s not synced: %s", n.RKey, n.SyncStatus)
		}
	}

	keys := env.cache.keys(models.KindNote)
	if !reflect.DeepEqual(keys, []string{"3kaaa", "3kbbb", "3kccc"}) {
		t.Errorf("cache keys %v, want the three derived rkeys", keys)
	}

	// Refresh visits kinds in a fixed order
	var order []models.Kind
	for _, c := range env.remote.calls {
		if c.op == models.OpList {
			order = append(order, c.kind)
		}
	}
	if !reflect.DeepEqual(order, models.Kinds()) {
		t.Errorf("list order %v, want %v", order, models.Kinds())
	}
}

// viewState flattens the view for comparison.
func viewState(env *testEnv) []string {
	var out []string
	for _, kind := range models.Kinds() {
		for _, e := range env.rec.All(kind) {
			m := e.Meta()
			out = append(out, string(kind)+"|"+m.RKey+"|"+m.CID+"|"+string(m.SyncStatus)+"|"+models.Label(e))
		}
	}
	sort.Strings(out)
	return out
}

func cacheState(env *testEnv) []string {
	var out []string
	for _, kind := range models.Kinds() {
		for _, key := range env.cache.keys(kind) {
			e := env.cache.get(kind, key)
			out = append(out, string(kind)+"|"+key+"|"+e.Meta().CID+"|"+string(e.Meta().SyncStatus)+"|"+models.Label(e))
		}
	}
	sort.Strings(out)
	return out
}

func TestRefreshIsIdempotent(t *testing.T) {
	env, cleanup := setupTestReconciler(t)
	defer cleanup()
	ctx := context.Background()

	env.remote.seed(models.KindNote, "n1", &models.Note{Title: "one", Tags: []string{"t1"}})
	env.remote.seed(models.KindFolder, "f1", &models.Folder{Name: "Inbox"})
	env.remote.seed(models.KindTag, "t1", &models.Tag{Name: "work"})
	env.remote.seed(models.KindTheme, "th1", &models.Theme{Name: "Night", Mode: "dark"})

	if err := env.rec.Refresh(ctx); err != nil {
		t.Fatalf("first Refresh failed: %v", err)
	}
	view1, cache1 := viewState(env), cacheState(env)

	if err := env.rec.Refresh(ctx); err != nil {
		t.Fatalf("second Refresh failed: %v", err)
	}
	view2, cache2 := viewState(env), cacheState(env)

	if !reflect.DeepEqual(view1, view2) {
		t.Errorf("view changed between refreshes:\n%v\n%v", view1, view2)
	}
	if !reflect.DeepEqual(cache1, cache2) {
		t.Errorf("cache changed between refreshes:\n%v\n%v", cache1, cache2)
	}
	if !reflect.DeepEqual(view1, cache1) {
		t.Errorf("view and cache disagree:\n%v\n%v", view1, cache1)
	}
}

func TestRefreshReplacesSyncedEntities(t *testing.T) {
	env, cleanup := setupTestReconciler(t)
	defer cleanup()
	ctx := context.Background()

	env.remote.seed(models.KindTag, "t1", &models.Tag{Name: "old"})
	env.remote.seed(models.KindTag, "t2", &models.Tag{Name: "gone"})
	_ = env.rec.Refresh(ctx)

	env.remote.seed(models.KindTag, "t1", &models.Tag{Name: "renamed"})
	_ = env.remote.Delete(ctx, models.KindTag, "t2")
	if err := env.rec.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	tags := env.rec.Tags()
	if len(tags) != 1 || tags[0].Name != "renamed" {
		t.Errorf("expected only renamed t1, got %+v", tags)
	}
	if keys := env.cache.keys(models.KindTag); !reflect.DeepEqual(keys, []string{"t1"}) {
		t.Errorf("expected cache [t1], got %v", keys)
	}
}

func TestRefreshKeepsProvisionalEntities(t *testing.T) {
	env, cleanup := setupTestReconciler(t)
	defer cleanup()
	ctx := context.Background()

	env.remote.setFail(models.OpCreate, offlineErr(models.KindNote, models.OpCreate))
	created, _ := env.rec.CreateEntity(ctx, &models.Note{Title: "unsent"})
	env.rec.Wait()

	env.remote.seed(models.KindNote, "n1", &models.Note{Title: "remote"})
	if err := env.rec.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if _, ok := env.rec.Get(models.KindNote, created.Meta().RKey); !ok {
		t.Error("refresh dropped an unsent provisional note")
	}
	if len(env.rec.Notes()) != 2 {
		t.Errorf("expected remote note plus provisional note, got %d", len(env.rec.Notes()))
	}
	if env.cache.get(models.KindNote, created.Meta().RKey) == nil {
		t.Error("provisional note missing from cache after refresh")
	}
	assertNoSyncedProvisional(t, env)
}

func TestRefreshKeepsPendingEditAndDetectsConflict(t *testing.T) {
	env, cleanup := setupTestReconciler(t)
	defer cleanup()
	ctx := context.Background()

	env.remote.seed(models.KindNote, "n1", &models.Note{Title: "shared", Content: "base"})
	env.remote.seed(models.KindNote, "n2", &models.Note{Title: "quiet", Content: "base"})
	_ = env.rec.Refresh(ctx)

	// Local edits that cannot reach the remote yet
	env.remote.setFail(models.OpUpdate, offlineErr(models.KindNote, models.OpUpdate))
	for _, key := range []string{"n1", "n2"} {
		e, _ := env.rec.Get(models.KindNote, key)
		n := e.(*models.Note)
		n.Content = "local edit"
		if _, err := env.rec.UpdateEntity(ctx, n); err != nil {
			t.Fatalf("UpdateEntity failed: %v", err)
		}
	}
	env.rec.Wait()

	// Another device changes n1 only
	env.remote.seed(models.KindNote, "n1", &models.Note{Title: "shared", Content: "remote edit"})

	if err := env.rec.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	n1, _ := env.rec.Get(models.KindNote, "n1")
	if n1.Meta().SyncStatus != models.StatusConflict {
		t.Errorf("expected n1 conflict, got %s", n1.Meta().SyncStatus)
	}
	if n1.(*models.Note).Content != "local edit" {
		t.Errorf("local edit lost on conflict: %q", n1.(*models.Note).Content)
	}
	n2, _ := env.rec.Get(models.KindNote, "n2")
	if n2.Meta().SyncStatus != models.StatusPending || n2.(*models.Note).Content != "local edit" {
		t.Errorf("expected n2 pending with local edit, got %s %q", n2.Meta().SyncStatus, n2.(*models.Note).Content)
	}

	// Conflict survives another refresh
	_ = env.rec.Refresh(ctx)
	n1, _ = env.rec.Get(models.KindNote, "n1")
	if n1.Meta().SyncStatus != models.StatusConflict {
		t.Errorf("expected conflict to persist, got %s", n1.Meta().SyncStatus)
	}

	// Retrying pushes the local copy
	env.remote.setFail(models.OpUpdate, nil)
	if err := env.rec.Retry(ctx, models.KindNote, "n1"); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	n1, _ = env.rec.Get(models.KindNote, "n1")
	if n1.Meta().SyncStatus != models.StatusSynced {
		t.Errorf("expected n1 synced after retry, got %s", n1.Meta().SyncStatus)
	}
}

func TestDiscardTakesRemoteCopy(t *testing.T) {
	env, cleanup := setupTestReconciler(t)
	defer cleanup()
	ctx := context.Background()

	env.remote.seed(models.KindFolder, "f1", &models.Folder{Name: "Remote"})
	_ = env.rec.Refresh(ctx)

	env.remote.setFail(models.OpUpdate, offlineErr(models.KindFolder, models.OpUpdate))
	e, _ := env.rec.Get(models.KindFolder, "f1")
	f := e.(*models.Folder)
	f.Name = "Local"
	_, _ = env.rec.UpdateEntity(ctx, f)
	env.rec.Wait()

	if err := env.rec.Discard(ctx, models.KindFolder, "f1"); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	e, _ = env.rec.Get(models.KindFolder, "f1")
	if e.(*models.Folder).Name != "Remote" || e.Meta().SyncStatus != models.StatusSynced {
		t.Errorf("expected remote copy restored, got %+v", e)
	}
}

func TestRefreshDropsPendingDeletedRemotely(t *testing.T) {
	env, cleanup := setupTestReconciler(t)
	defer cleanup()
	ctx := context.Background()

	env.remote.seed(models.KindTag, "t1", &models.Tag{Name: "doomed"})
	_ = env.rec.Refresh(ctx)

	env.remote.setFail(models.OpUpdate, offlineErr(models.KindTag, models.OpUpdate))
	e, _ := env.rec.Get(models.KindTag, "t1")
	tag := e.(*models.Tag)
	tag.Color = "#000000"
	_, _ = env.rec.UpdateEntity(ctx, tag)
	env.rec.Wait()

	_ = env.remote.Delete(ctx, models.KindTag, "t1")
	if err := env.rec.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if _, ok := env.rec.Get(models.KindTag, "t1"); ok {
		t.Error("expected remote delete to win over pending local edit")
	}
	if env.reports.count(models.OpList, reconciler.SeverityWarning) == 0 {
		t.Error("expected a warning for dropped local changes")
	}
}

func TestRefreshSurfacesNotAuthenticated(t *testing.T) {
	env, cleanup := setupTestReconciler(t)
	defer cleanup()

	env.remote.setFail(models.OpList, models.ErrNotAuthenticated)

	err := env.rec.Refresh(context.Background())
	if !errors.Is(err, models.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if n := env.remote.countCalls(models.OpList, models.KindFolder); n != 0 {
		t.Errorf("refresh must stop at the first failure, listed folders %d times", n)
	}
}

func TestRefreshSkipsForeignRecords(t *testing.T) {
	env, cleanup := setupTestReconciler(t)
	defer cleanup()

	env.remote.seed(models.KindNote, "n1", &models.Note{Title: "ok"})
	env.remote.mu.Lock()
	env.remote.records[models.KindNote]["x1"] = models.Record{
		URI:   uriFor(models.KindNote, "x1"),
		CID:   "cid-x",
		Value: []byte(`{"$type":"app.bsky.feed.post","text":"hi"}`),
	}
	env.remote.mu.Unlock()

	if err := env.rec.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if notes := env.rec.Notes(); len(notes) != 1 || notes[0].RKey != "n1" {
		t.Errorf("expected only n1, got %+v", notes)
	}
}

func TestRefreshSkipsProvisionalStyleRemoteKeys(t *testing.T) {
	env, cleanup := setupTestReconciler(t)
	defer cleanup()
	ctx := context.Background()

	env.remote.seed(models.KindNote, "temp-99", &models.Note{Title: "odd key"})
	env.remote.seed(models.KindNote, "3kgood", &models.Note{Title: "normal"})

	if err := env.rec.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	assertNoSyncedProvisional(t, env)

	if _, ok := env.rec.Get(models.KindNote, "temp-99"); ok {
		t.Error("record with a provisional-style key entered the view")
	}
	if _, ok := env.rec.Get(models.KindNote, "3kgood"); !ok {
		t.Error("expected the normal record in the view")
	}
	if env.reports.count(models.OpList, reconciler.SeverityWarning) == 0 {
		t.Error("expected a warning for the skipped record")
	}
}

func TestDiscardWhileOfflineKeepsLocalChanges(t *testing.T) {
	env, cleanup := setupTestReconciler(t)
	defer cleanup()
	ctx := context.Background()

	env.remote.seed(models.KindNote, "n1", &models.Note{Title: "remote"})
	_ = env.rec.Refresh(ctx)

	env.remote.failAll()
	e, _ := env.rec.Get(models.KindNote, "n1")
	n := e.(*models.Note)
	n.Title = "local edit"
	_, _ = env.rec.UpdateEntity(ctx, n)
	env.rec.Wait()

	if err := env.rec.Discard(ctx, models.KindNote, "n1"); err == nil {
		t.Fatal("expected Discard to fail while the remote is unreachable")
	}
	e, _ = env.rec.Get(models.KindNote, "n1")
	if e.(*models.Note).Title != "local edit" || e.Meta().SyncStatus != models.StatusPending {
		t.Errorf("expected pending local edit kept, got %+v", e)
	}
	if got := env.cache.get(models.KindNote, "n1"); got.Meta().SyncStatus != models.StatusPending {
		t.Errorf("expected pending in cache, got %s", got.Meta().SyncStatus)
	}

	env.remote.setFail(models.OpList, nil)
	if err := env.rec.Discard(ctx, models.KindNote, "n1"); err != nil {
		t.Fatalf("Discard failed once online: %v", err)
	}
	e, _ = env.rec.Get(models.KindNote, "n1")
	if e.(*models.Note).Title != "remote" || e.Meta().SyncStatus != models.StatusSynced {
		t.Errorf("expected remote copy after discard, got %+v", e)
	}
}

func TestCreateCompletingDuringRefreshIsKept(t *testing.T) {
	env, cleanup := setupTestReconciler(t)
	defer cleanup()
	ctx := context.Background()

	creates := env.remote.gate(models.KindNote)
	if _, err := env.rec.CreateEntity(ctx, &models.Note{Title: "in flight"}); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}
	<-creates.entered

	lists := env.remote.gateLists()
	done := make(chan error, 1)
	go func() { done <- env.rec.Refresh(ctx) }()
	<-lists.entered // note snapshot taken without the new record

	close(creates.release)
	env.rec.Wait()
	close(lists.release)
	if err := <-done; err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	notes := env.rec.Notes()
	if len(notes) != 1 {
		t.Fatalf("expected the created note to survive the refresh, got %d notes", len(notes))
	}
	n := notes[0]
	if n.SyncStatus != models.StatusSynced || models.IsProvisional(n.RKey) {
		t.Errorf("expected synced durable note, got %+v", n)
	}
	if keys := env.cache.keys(models.KindNote); len(keys) != 1 || keys[0] != n.RKey {
		t.Errorf("expected cache row %s, got %v", n.RKey, keys)
	}
}

func TestDeleteDuringRefreshIsNotUndone(t *testing.T) {
	env, cleanup := setupTestReconciler(t)
	defer cleanup()
	ctx := context.Background()

	env.remote.seed(models.KindNote, "n1", &models.Note{Title: "short lived"})
	_ = env.rec.Refresh(ctx)

	lists := env.remote.gateLists()
	done := make(chan error, 1)
	go func() { done <- env.rec.Refresh(ctx) }()
	<-lists.entered // snapshot still holds n1

	if err := env.rec.DeleteEntity(ctx, models.KindNote, "n1"); err != nil {
		t.Fatalf("DeleteEntity failed: %v", err)
	}
	env.rec.Wait()
	close(lists.release)
	if err := <-done; err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if _, ok := env.rec.Get(models.KindNote, "n1"); ok {
		t.Error("refresh brought back a note deleted while it was listing")
	}
	if keys := env.cache.keys(models.KindNote); len(keys) != 0 {
		t.Errorf("expected no cached notes, got %v", keys)
	}
}
