package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Remote Record Mapping
//
// Records travel as JSON objects tagged with a "$type" discriminator equal to
// the collection NSID. Each kind has its own wire struct; conversion to and
// from cached entities is an exhaustive switch on Kind so a new kind cannot be
// added without a mapping.
// ============================================================================

// Record is one entry of a listRecords response.
type Record struct {
	URI   string          `json:"uri"`
	CID   string          `json:"cid"`
	Value json.RawMessage `json:"value"`
}

// NoteRecord is the wire value of a note.
type NoteRecord struct {
	Type      string   `json:"$type"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags,omitempty"`
	Folder    string   `json:"folder,omitempty"`
	CreatedAt string   `json:"createdAt"`
	UpdatedAt string   `json:"updatedAt"`
}

// FolderRecord is the wire value of a folder.
type FolderRecord struct {
	Type      string `json:"$type"`
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	Parent    string `json:"parent,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// TagRecord is the wire value of a tag.
type TagRecord struct {
	Type      string `json:"$type"`
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// ThemeRecord is the wire value of a theme.
type ThemeRecord struct {
	Type       string `json:"$type"`
	Name       string `json:"name"`
	Mode       string `json:"mode"`
	Accent     string `json:"accent,omitempty"`
	Background string `json:"background,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

// RKeyFromURI returns the final path segment of an at:// record URI.
func RKeyFromURI(uri string) string {
	uri = strings.TrimRight(uri, "/")
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

// RecordValue builds the wire value for an entity.
func RecordValue(e Entity) (any, error) {
	switch v := e.(type) {
	case *Note:
		return NoteRecord{
			Type:      KindNote.Collection(),
			Title:     v.Title,
			Content:   v.Content,
			Tags:      v.Tags,
			Folder:    v.Folder,
			CreatedAt: formatTime(v.CreatedAt),
			UpdatedAt: formatTime(v.UpdatedAt),
		}, nil
	case *Folder:
		return FolderRecord{
			Type:      KindFolder.Collection(),
			Name:      v.Name,
			Color:     v.Color,
			Parent:    v.Parent,
			CreatedAt: formatTime(v.CreatedAt),
		}, nil
	case *Tag:
		return TagRecord{
			Type:      KindTag.Collection(),
			Name:      v.Name,
			Color:     v.Color,
			CreatedAt: formatTime(v.CreatedAt),
		}, nil
	case *Theme:
		return ThemeRecord{
			Type:       KindTheme.Collection(),
			Name:       v.Name,
			Mode:       v.Mode,
			Accent:     v.Accent,
			Background: v.Background,
			CreatedAt:  formatTime(v.CreatedAt),
		}, nil
	}
	return nil, serr.New("unsupported entity type for record value")
}

// EntityFromRecord maps a remote record of the given kind into a synced
// cached entity keyed by the URI's trailing segment.
func EntityFromRecord(kind Kind, rec Record) (Entity, error) {
	meta := SyncMeta{
		RKey:       RKeyFromURI(rec.URI),
		URI:        rec.URI,
		CID:        rec.CID,
		SyncStatus: StatusSynced,
	}
	if meta.RKey == "" {
		return nil, serr.New("record uri has no rkey", "uri", rec.URI)
	}

	switch kind {
	case KindNote:
		var v NoteRecord
		if err := json.Unmarshal(rec.Value, &v); err != nil {
			return nil, serr.Wrap(err, "failed to decode note record", "uri", rec.URI)
		}
		return &Note{
			SyncMeta:  meta,
			Title:     v.Title,
			Content:   v.Content,
			Tags:      v.Tags,
			Folder:    v.Folder,
			CreatedAt: parseTime(v.CreatedAt),
			UpdatedAt: parseTime(v.UpdatedAt),
		}, nil
	case KindFolder:
		var v FolderRecord
		if err := json.Unmarshal(rec.Value, &v); err != nil {
			return nil, serr.Wrap(err, "failed to decode folder record", "uri", rec.URI)
		}
		return &Folder{
			SyncMeta:  meta,
			Name:      v.Name,
			Color:     v.Color,
			Parent:    v.Parent,
			CreatedAt: parseTime(v.CreatedAt),
		}, nil
	case KindTag:
		var v TagRecord
		if err := json.Unmarshal(rec.Value, &v); err != nil {
			return nil, serr.Wrap(err, "failed to decode tag record", "uri", rec.URI)
		}
		return &Tag{
			SyncMeta:  meta,
			Name:      v.Name,
			Color:     v.Color,
			CreatedAt: parseTime(v.CreatedAt),
		}, nil
	case KindTheme:
		var v ThemeRecord
		if err := json.Unmarshal(rec.Value, &v); err != nil {
			return nil, serr.Wrap(err, "failed to decode theme record", "uri", rec.URI)
		}
		return &Theme{
			SyncMeta:   meta,
			Name:       v.Name,
			Mode:       v.Mode,
			Accent:     v.Accent,
			Background: v.Background,
			CreatedAt:  parseTime(v.CreatedAt),
		}, nil
	}
	return nil, serr.New("unknown entity kind", "kind", string(kind))
}

// RecordType extracts the "$type" discriminator from a raw record value.
func RecordType(value json.RawMessage) string {
	var head struct {
		Type string `json:"$type"`
	}
	if err := json.Unmarshal(value, &head); err != nil {
		return ""
	}
	return head.Type
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime tolerates empty and malformed timestamps from foreign clients.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
