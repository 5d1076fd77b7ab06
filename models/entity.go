package models

import (
	"time"

	"github.com/rohanthewiz/serr"
)

// Kind identifies one remote collection and its local cache table.
type Kind string

const (
	KindNote   Kind = "note"
	KindFolder Kind = "folder"
	KindTag    Kind = "tag"
	KindTheme  Kind = "theme"
)

// CollectionPrefix is the NSID namespace shared by all record collections.
const CollectionPrefix = "app.mbdio.uk."

// Kinds returns every kind in refresh order.
func Kinds() []Kind {
	return []Kind{KindNote, KindFolder, KindTag, KindTheme}
}

// ParseKind accepts the bare kind name or its plural.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "note", "notes":
		return KindNote, nil
	case "folder", "folders":
		return KindFolder, nil
	case "tag", "tags":
		return KindTag, nil
	case "theme", "themes":
		return KindTheme, nil
	}
	return "", serr.New("unknown entity kind", "kind", s)
}

// Collection returns the remote collection NSID for the kind.
func (k Kind) Collection() string {
	return CollectionPrefix + string(k)
}

// Table returns the local cache table name for the kind.
func (k Kind) Table() string {
	return string(k) + "s"
}

// SyncStatus tracks whether local state is confirmed equal to, ahead of,
// or divergent from the remote copy.
type SyncStatus string

const (
	StatusSynced   SyncStatus = "synced"
	StatusPending  SyncStatus = "pending"
	StatusConflict SyncStatus = "conflict"
)

// SyncMeta holds the identity and sync fields common to every entity.
// URI and CID stay empty while the key is provisional.
type SyncMeta struct {
	RKey       string     `json:"rkey" msgpack:"rkey"`
	URI        string     `json:"uri,omitempty" msgpack:"uri"`
	CID        string     `json:"cid,omitempty" msgpack:"cid"`
	SyncStatus SyncStatus `json:"sync_status" msgpack:"sync_status"`
}

// Entity is the closed set of cached record variants: *Note, *Folder, *Tag, *Theme.
type Entity interface {
	Kind() Kind
	Meta() *SyncMeta
	Clone() Entity
	// Created is the creation time, used for ordering.
	Created() time.Time
	// Updated is the last local mutation time; kinds without an
	// updatedAt field report their creation time.
	Updated() time.Time
}

// Note is a markdown note. Tags holds tag record keys once resolved;
// before resolution a caller may place raw tag names there.
type Note struct {
	SyncMeta
	Title     string    `json:"title" msgpack:"title"`
	Content   string    `json:"content" msgpack:"content"`
	Tags      []string  `json:"tags,omitempty" msgpack:"tags"`
	Folder    string    `json:"folder,omitempty" msgpack:"folder"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
	UpdatedAt time.Time `json:"updated_at" msgpack:"updated_at"`
}

// Folder groups notes and may nest under a parent folder.
type Folder struct {
	SyncMeta
	Name      string    `json:"name" msgpack:"name"`
	Color     string    `json:"color,omitempty" msgpack:"color"`
	Parent    string    `json:"parent,omitempty" msgpack:"parent"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
}

// Tag is a named, colored label referenced by notes.
type Tag struct {
	SyncMeta
	Name      string    `json:"name" msgpack:"name"`
	Color     string    `json:"color,omitempty" msgpack:"color"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
}

// Theme is a stored display preference.
type Theme struct {
	SyncMeta
	Name       string    `json:"name" msgpack:"name"`
	Mode       string    `json:"mode" msgpack:"mode"` // light or dark
	Accent     string    `json:"accent,omitempty" msgpack:"accent"`
	Background string    `json:"background,omitempty" msgpack:"background"`
	CreatedAt  time.Time `json:"created_at" msgpack:"created_at"`
}

func (n *Note) Kind() Kind { return KindNote }
func (n *Note) Meta() *SyncMeta { return &n.SyncMeta }
func (n *Note) Created() time.Time { return n.CreatedAt }
func (n *Note) Updated() time.Time { return n.UpdatedAt }
func (n *Note) Clone() Entity {
	c := *n
	if n.Tags != nil {
		c.Tags = append([]string(nil), n.Tags...)
	}
	return &c
}

func (f *Folder) Kind() Kind { return KindFolder }
func (f *Folder) Meta() *SyncMeta { return &f.SyncMeta }
func (f *Folder) Created() time.Time { return f.CreatedAt }
func (f *Folder) Updated() time.Time { return f.CreatedAt }
func (f *Folder) Clone() Entity { c := *f; return &c }

func (t *Tag) Kind() Kind { return KindTag }
func (t *Tag) Meta() *SyncMeta { return &t.SyncMeta }
func (t *Tag) Created() time.Time { return t.CreatedAt }
func (t *Tag) Updated() time.Time { return t.CreatedAt }
func (t *Tag) Clone() Entity { c := *t; return &c }

func (t *Theme) Kind() Kind { return KindTheme }
func (t *Theme) Meta() *SyncMeta { return &t.SyncMeta }
func (t *Theme) Created() time.Time { return t.CreatedAt }
func (t *Theme) Updated() time.Time { return t.CreatedAt }
func (t *Theme) Clone() Entity { c := *t; return &c }

// NewEntity returns an empty entity of the given kind, ready for decoding.
func NewEntity(kind Kind) (Entity, error) {
	switch kind {
	case KindNote:
		return &Note{}, nil
	case KindFolder:
		return &Folder{}, nil
	case KindTag:
		return &Tag{}, nil
	case KindTheme:
		return &Theme{}, nil
	}
	return nil, serr.New("unknown entity kind", "kind", string(kind))
}

// Label is a short human name for logs and listings.
func Label(e Entity) string {
	switch v := e.(type) {
	case *Note:
		return v.Title
	case *Folder:
		return v.Name
	case *Tag:
		return v.Name
	case *Theme:
		return v.Name
	}
	return ""
}

// StampCreated sets creation (and for notes, update) times on a fresh entity.
func StampCreated(e Entity, now time.Time) {
	switch v := e.(type) {
	case *Note:
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
		v.UpdatedAt = now
	case *Folder:
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
	case *Tag:
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
	case *Theme:
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
	}
}

// StampUpdated refreshes the updatedAt field on kinds that carry one.
func StampUpdated(e Entity, now time.Time) {
	if n, ok := e.(*Note); ok {
		n.UpdatedAt = now
	}
}
