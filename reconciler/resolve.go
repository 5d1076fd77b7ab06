package reconciler

import (
	"context"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"pdsnotes/models"
)

// resolveTags turns a note's tag list into tag keys, preserving order.
// An entry that is already a tag key is kept. Otherwise it is taken as a
// tag name and matched exactly against the current tags; unknown names get a
// new tag. New tags are awaited so their durable keys can be used; a tag
// whose create fails keeps its provisional key.
func (r *Reconciler) resolveTags(ctx context.Context, refs []string) ([]string, error) {
	if len(refs) == 0 {
		return refs, nil
	}

	out := make([]string, len(refs))
	var waits []<-chan struct{}

	for i, ref := range refs {
		if key, ok := r.lookupTag(ref); ok {
			out[i] = key
			continue
		}

		e, done, err := r.create(ctx, &models.Tag{Name: ref})
		if err != nil {
			return nil, serr.Wrap(err, "failed to create tag", "name", ref)
		}
		logger.Info("Created tag for note", "name", ref, "rkey", e.Meta().RKey)
		out[i] = e.Meta().RKey
		waits = append(waits, done)
	}

	for _, done := range waits {
		select {
		case <-done:
		case <-ctx.Done():
			// Keep provisional keys; the rekey completion rewrites them later.
			return r.mapRekeyed(out), nil
		}
	}
	return r.mapRekeyed(out), nil
}

// lookupTag matches ref as a tag key first, then as an exact tag name.
func (r *Reconciler) lookupTag(ref string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := r.view[models.KindTag]
	if _, ok := tags[ref]; ok {
		return ref, true
	}
	if durable, ok := r.rekeyed[ref]; ok {
		if _, live := tags[durable]; live {
			return durable, true
		}
	}
	// Duplicate names resolve to the smallest key so the choice is stable
	match := ""
	for key, e := range tags {
		if e.(*models.Tag).Name == ref && (match == "" || key < match) {
			match = key
		}
	}
	return match, match != ""
}

func (r *Reconciler) mapRekeyed(keys []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, k := range keys {
		if durable, ok := r.rekeyed[k]; ok {
			keys[i] = durable
		}
	}
	return keys
}
