package reconciler

import (
	"sort"
	"strings"

	"pdsnotes/models"
)

// Reads return copies sorted for display; callers may modify them freely
// and pass them back to UpdateEntity.

// Notes returns all notes, most recently updated first.
func (r *Reconciler) Notes() []*models.Note {
	r.mu.RLock()
	out := make([]*models.Note, 0, len(r.view[models.KindNote]))
	for _, e := range r.view[models.KindNote] {
		out = append(out, e.Clone().(*models.Note))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].RKey < out[j].RKey
	})
	return out
}

// Folders returns all folders by creation time, then name.
func (r *Reconciler) Folders() []*models.Folder {
	var out []*models.Folder
	for _, e := range r.All(models.KindFolder) {
		out = append(out, e.(*models.Folder))
	}
	return out
}

// Tags returns all tags by creation time, then name.
func (r *Reconciler) Tags() []*models.Tag {
	var out []*models.Tag
	for _, e := range r.All(models.KindTag) {
		out = append(out, e.(*models.Tag))
	}
	return out
}

// Themes returns all themes by creation time, then name.
func (r *Reconciler) Themes() []*models.Theme {
	var out []*models.Theme
	for _, e := range r.All(models.KindTheme) {
		out = append(out, e.(*models.Theme))
	}
	return out
}

// All returns every entity of a kind. Notes come newest first, other kinds
// in creation order with the label breaking ties.
func (r *Reconciler) All(kind models.Kind) []models.Entity {
	if kind == models.KindNote {
		notes := r.Notes()
		out := make([]models.Entity, len(notes))
		for i, n := range notes {
			out[i] = n
		}
		return out
	}

	r.mu.RLock()
	out := make([]models.Entity, 0, len(r.view[kind]))
	for _, e := range r.view[kind] {
		out = append(out, e.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ci, cj := out[i].Created(), out[j].Created()
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		li, lj := strings.ToLower(models.Label(out[i])), strings.ToLower(models.Label(out[j]))
		if li != lj {
			return li < lj
		}
		return out[i].Meta().RKey < out[j].Meta().RKey
	})
	return out
}

// Get returns a copy of one entity.
func (r *Reconciler) Get(kind models.Kind, key string) (models.Entity, bool) {
	e, _, ok := r.snapshot(kind, key)
	return e, ok
}

// NotesInFolder returns the notes filed directly in folderKey. An empty key
// selects notes outside any folder.
func (r *Reconciler) NotesInFolder(folderKey string) []*models.Note {
	var out []*models.Note
	for _, n := range r.Notes() {
		if n.Folder == folderKey {
			out = append(out, n)
		}
	}
	return out
}

// NotesWithTag returns the notes referencing tagKey.
func (r *Reconciler) NotesWithTag(tagKey string) []*models.Note {
	var out []*models.Note
	for _, n := range r.Notes() {
		for _, t := range n.Tags {
			if t == tagKey {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// SearchNotes returns notes whose title, content or tag names contain query,
// ignoring case, most recently updated first. An empty query matches all.
func (r *Reconciler) SearchNotes(query string) []*models.Note {
	q := strings.ToLower(query)
	var out []*models.Note
	for _, n := range r.Notes() {
		if q == "" || strings.Contains(strings.ToLower(n.Title), q) ||
			strings.Contains(strings.ToLower(n.Content), q) {
			out = append(out, n)
			continue
		}
		for _, name := range r.TagNames(n.Tags) {
			if strings.Contains(strings.ToLower(name), q) {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// TagNames maps tag keys to names for display. Unknown keys map to themselves.
func (r *Reconciler) TagNames(keys []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k
		if t, ok := r.view[models.KindTag][k]; ok {
			names[i] = t.(*models.Tag).Name
		}
	}
	return names
}

// Pending counts unsynced entities per kind, conflicts included.
func (r *Reconciler) Pending() map[models.Kind]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[models.Kind]int)
	for kind, entities := range r.view {
		for _, e := range entities {
			if e.Meta().SyncStatus != models.StatusSynced {
				counts[kind]++
			}
		}
	}
	return counts
}

// CurrentKey returns the key an entity lives under now: the durable key when
// key is provisional and its create has completed, otherwise key itself.
func (r *Reconciler) CurrentKey(kind models.Kind, key string) string {
	return r.liveKey(kind, key)
}
