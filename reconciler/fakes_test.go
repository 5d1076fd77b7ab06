package reconciler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"pdsnotes/models"
	"pdsnotes/reconciler"
)

// ============================================================================
// Fakes
// ============================================================================

// memCache is an in-memory Cache.
type memCache struct {
	mu   sync.Mutex
	rows map[models.Kind]map[string]models.Entity
}

func newMemCache() *memCache {
	c := &memCache{rows: make(map[models.Kind]map[string]models.Entity)}
	for _, k := range models.Kinds() {
		c.rows[k] = make(map[string]models.Entity)
	}
	return c
}

func (c *memCache) Put(_ context.Context, e models.Entity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows[e.Kind()][e.Meta().RKey] = e.Clone()
	return nil
}

func (c *memCache) GetAll(_ context.Context, kind models.Kind) ([]models.Entity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Entity
	for _, e := range c.rows[kind] {
		out = append(out, e.Clone())
	}
	return out, nil
}

func (c *memCache) Delete(_ context.Context, kind models.Kind, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rows[kind], key)
	return nil
}

func (c *memCache) ReplaceAll(_ context.Context, kind models.Kind, entities []models.Entity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows[kind] = make(map[string]models.Entity)
	for _, e := range entities {
		c.rows[kind][e.Meta().RKey] = e.Clone()
	}
	return nil
}

func (c *memCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range models.Kinds() {
		c.rows[k] = make(map[string]models.Entity)
	}
	return nil
}

func (c *memCache) keys(kind models.Kind) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	for k := range c.rows[kind] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *memCache) get(kind models.Kind, key string) models.Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.rows[kind][key]; ok {
		return e.Clone()
	}
	return nil
}

type remoteCall struct {
	op   string
	kind models.Kind
	key  string
}

// fakeRemote is an in-memory record store with failure and gating controls.
type fakeRemote struct {
	mu      sync.Mutex
	records map[models.Kind]map[string]models.Record
	calls   []remoteCall
	seq     int

	failOps map[string]error            // op -> error returned by every call
	gates   map[models.Kind]*createGate // creates of kind block until released
	updates *createGate                 // every update blocks until released
	lists   *createGate                 // every list blocks after reading its snapshot
}

// createGate holds creates of one kind. entered receives once per create
// that reached the gate.
type createGate struct {
	release chan struct{}
	entered chan struct{}
}

func newFakeRemote() *fakeRemote {
	f := &fakeRemote{
		records: make(map[models.Kind]map[string]models.Record),
		failOps: make(map[string]error),
		gates:   make(map[models.Kind]*createGate),
	}
	for _, k := range models.Kinds() {
		f.records[k] = make(map[string]models.Record)
	}
	return f
}

func offlineErr(kind models.Kind, op string) error {
	return &models.RemoteOperationError{Kind: kind, Operation: op, Message: "network unreachable"}
}

func (f *fakeRemote) failAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, op := range []string{models.OpCreate, models.OpUpdate, models.OpDelete, models.OpList} {
		f.failOps[op] = offlineErr("", op)
	}
}

func (f *fakeRemote) setFail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failOps, op)
		return
	}
	f.failOps[op] = err
}

func (f *fakeRemote) gate(kind models.Kind) *createGate {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := &createGate{release: make(chan struct{}), entered: make(chan struct{}, 16)}
	f.gates[kind] = g
	return g
}

func (f *fakeRemote) gateUpdates() *createGate {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = &createGate{release: make(chan struct{}), entered: make(chan struct{}, 16)}
	return f.updates
}

func (f *fakeRemote) gateLists() *createGate {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists = &createGate{release: make(chan struct{}), entered: make(chan struct{}, 16)}
	return f.lists
}

func uriFor(kind models.Kind, key string) string {
	return "at://did:plc:test/" + kind.Collection() + "/" + key
}

func (f *fakeRemote) put(kind models.Kind, key string, e models.Entity) models.Record {
	value, err := models.RecordValue(e)
	if err != nil {
		panic(err)
	}
	raw, _ := json.Marshal(value)
	f.seq++
	rec := models.Record{URI: uriFor(kind, key), CID: fmt.Sprintf("cid-%d", f.seq), Value: raw}
	f.records[kind][key] = rec
	return rec
}

// seed stores a record as if another client wrote it.
func (f *fakeRemote) seed(kind models.Kind, key string, e models.Entity) models.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.put(kind, key, e)
}

func (f *fakeRemote) Create(ctx context.Context, kind models.Kind, e models.Entity) (string, string, error) {
	f.mu.Lock()
	gate := f.gates[kind]
	f.mu.Unlock()
	if gate != nil {
		gate.entered <- struct{}{}
		<-gate.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, remoteCall{models.OpCreate, kind, e.Meta().RKey})
	if err := f.failOps[models.OpCreate]; err != nil {
		return "", "", err
	}
	key := fmt.Sprintf("3kdur%03d", f.seq+1)
	rec := f.put(kind, key, e)
	return rec.URI, rec.CID, nil
}

func (f *fakeRemote) Update(ctx context.Context, kind models.Kind, key string, e models.Entity) (string, error) {
	f.mu.Lock()
	gate := f.updates
	f.mu.Unlock()
	if gate != nil {
		gate.entered <- struct{}{}
		<-gate.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, remoteCall{models.OpUpdate, kind, key})
	if err := f.failOps[models.OpUpdate]; err != nil {
		return "", err
	}
	return f.put(kind, key, e).CID, nil
}

func (f *fakeRemote) Delete(ctx context.Context, kind models.Kind, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, remoteCall{models.OpDelete, kind, key})
	if err := f.failOps[models.OpDelete]; err != nil {
		return err
	}
	delete(f.records[kind], key)
	return nil
}

func (f *fakeRemote) ListAll(ctx context.Context, kind models.Kind) ([]models.Record, error) {
	f.mu.Lock()
	f.calls = append(f.calls, remoteCall{models.OpList, kind, ""})
	if err := f.failOps[models.OpList]; err != nil {
		f.mu.Unlock()
		return nil, err
	}
	var out []models.Record
	for _, rec := range f.records[kind] {
		out = append(out, rec)
	}
	gate := f.lists
	f.mu.Unlock()

	if gate != nil {
		gate.entered <- struct{}{}
		<-gate.release
	}
	return out, nil
}

func (f *fakeRemote) countCalls(op string, kind models.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.op == op && c.kind == kind {
			n++
		}
	}
	return n
}

func (f *fakeRemote) record(kind models.Kind, key string) (models.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[kind][key]
	return rec, ok
}

// reportLog collects reports from the reconciler.
type reportLog struct {
	mu      sync.Mutex
	reports []reconciler.Report
}

func (l *reportLog) add(r reconciler.Report) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reports = append(l.reports, r)
}

func (l *reportLog) count(op string, sev reconciler.Severity) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.reports {
		if r.Op == op && r.Severity == sev {
			n++
		}
	}
	return n
}

// ============================================================================
// Setup
// ============================================================================

type testEnv struct {
	rec     *reconciler.Reconciler
	cache   *memCache
	remote  *fakeRemote
	reports *reportLog
}

// fixedClock advances one second per call so update stamps are distinct.
func fixedClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

// setupTestReconciler wires a reconciler over fakes with deterministic keys.
func setupTestReconciler(t *testing.T) (*testEnv, func()) {
	t.Helper()

	env := &testEnv{
		cache:   newMemCache(),
		remote:  newFakeRemote(),
		reports: &reportLog{},
	}
	env.rec = reconciler.New(env.cache, env.remote,
		reconciler.WithKeyGenerator(&models.SequenceKeys{}),
		reconciler.WithClock(fixedClock()),
		reconciler.WithReporter(env.reports.add),
		reconciler.WithColorPicker(func() string { return "#336699" }),
	)
	if err := env.rec.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate failed: %v", err)
	}

	return env, func() { env.rec.Wait() }
}

// assertNoSyncedProvisional checks the provisional-key invariant in view and cache.
func assertNoSyncedProvisional(t *testing.T, env *testEnv) {
	t.Helper()
	for _, kind := range models.Kinds() {
		for _, e := range env.rec.All(kind) {
			m := e.Meta()
			if m.SyncStatus == models.StatusSynced && models.IsProvisional(m.RKey) {
				t.Errorf("view: synced %s with provisional key %s", kind, m.RKey)
			}
		}
		for _, key := range env.cache.keys(kind) {
			e := env.cache.get(kind, key)
			if e.Meta().SyncStatus == models.StatusSynced && models.IsProvisional(key) {
				t.Errorf("cache: synced %s with provisional key %s", kind, key)
			}
		}
	}
}
