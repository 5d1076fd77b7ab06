package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"pdsnotes/models"
)

// ============================================================================
// In-memory Repository
//
// Records are held per account DID and collection, keyed by rkey. Record keys
// are TID-like: 13 characters of sortable base32 derived from a microsecond
// clock plus a counter, so keys created later always sort after earlier ones.
// CIDs are the hex sha256 of the stored JSON value.
// ============================================================================

const tidAlphabet = "234567abcdefghijklmnopqrstuvwxyz"

type storedRecord struct {
	rkey  string
	cid   string
	value json.RawMessage
}

// Repo is a concurrency-safe record store for all accounts.
type Repo struct {
	mu      sync.RWMutex
	records map[string]map[string]map[string]storedRecord // did -> collection -> rkey
	lastTID uint64
	now     func() time.Time
}

// NewRepo returns an empty repository.
func NewRepo() *Repo {
	return &Repo{
		records: make(map[string]map[string]map[string]storedRecord),
		now:     time.Now,
	}
}

// nextTID returns a strictly increasing record key. Caller holds mu.
func (r *Repo) nextTID() string {
	ts := uint64(r.now().UnixMicro()) << 10
	if ts <= r.lastTID {
		ts = r.lastTID + 1
	}
	r.lastTID = ts

	var b [13]byte
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = tidAlphabet[ts&31]
		ts >>= 5
	}
	return string(b[:])
}

// computeCID hashes a record value.
func computeCID(value json.RawMessage) string {
	sum := sha256.Sum256(value)
	return "bafy" + hex.EncodeToString(sum[:])
}

// RecordURI builds the at:// URI of a record.
func RecordURI(did, collection, rkey string) string {
	return "at://" + did + "/" + collection + "/" + rkey
}

func (r *Repo) collection(did, collection string) map[string]storedRecord {
	byColl, ok := r.records[did]
	if !ok {
		byColl = make(map[string]map[string]storedRecord)
		r.records[did] = byColl
	}
	recs, ok := byColl[collection]
	if !ok {
		recs = make(map[string]storedRecord)
		byColl[collection] = recs
	}
	return recs
}

// Create stores value under a new key and returns the key and CID.
func (r *Repo) Create(did, collection string, value json.RawMessage) (rkey, cid string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rkey = r.nextTID()
	cid = computeCID(value)
	r.collection(did, collection)[rkey] = storedRecord{rkey: rkey, cid: cid, value: value}
	return rkey, cid
}

// Put stores value under rkey, replacing any existing record.
func (r *Repo) Put(did, collection, rkey string, value json.RawMessage) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cid := computeCID(value)
	r.collection(did, collection)[rkey] = storedRecord{rkey: rkey, cid: cid, value: value}
	return cid
}

// Delete removes a record. Deleting an absent record is not an error.
func (r *Repo) Delete(did, collection, rkey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records[did][collection], rkey)
}

// List returns up to limit records with keys after cursor in ascending key
// order, plus the cursor for the next page or "" when exhausted.
func (r *Repo) List(did, collection, cursor string, limit int) ([]models.Record, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recs := r.records[did][collection]
	keys := make([]string, 0, len(recs))
	for k := range recs {
		if cursor == "" || strings.Compare(k, cursor) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	next := ""
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
		next = keys[len(keys)-1]
	}

	out := make([]models.Record, 0, len(keys))
	for _, k := range keys {
		rec := recs[k]
		out = append(out, models.Record{
			URI:   RecordURI(did, collection, rec.rkey),
			CID:   rec.cid,
			Value: rec.value,
		})
	}
	return out, next
}

// Count returns the number of records in a collection.
func (r *Repo) Count(did, collection string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records[did][collection])
}

// Collections returns the record count of every collection in a repo.
func (r *Repo) Collections(did string) map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.records[did]))
	for coll, recs := range r.records[did] {
		out[coll] = len(recs)
	}
	return out
}
