package store

import (
	"context"
	"database/sql"

	"github.com/rohanthewiz/serr"

	"pdsnotes/models"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Put inserts or overwrites an entity by record key. Repeating the same Put
// leaves the store unchanged.
func (s *Store) Put(ctx context.Context, e models.Entity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return serr.Wrap(err, "failed to begin cache transaction")
	}
	defer tx.Rollback()

	if err := putTx(ctx, tx, e); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return serr.Wrap(err, "failed to commit cache write", "rkey", e.Meta().RKey)
	}
	return nil
}

func putTx(ctx context.Context, tx execer, e models.Entity) error {
	meta := e.Meta()
	if meta.RKey == "" {
		return serr.New("cannot cache entity without record key", "kind", string(e.Kind()))
	}

	payload, err := encodeEntity(e)
	if err != nil {
		return err
	}

	table := e.Kind().Table()
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE rkey = ?`, meta.RKey); err != nil {
		return serr.Wrap(err, "failed to clear previous cache row", "table", table, "rkey", meta.RKey)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO `+table+` (rkey, uri, cid, sync_status, created_at, updated_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		meta.RKey, meta.URI, meta.CID, string(meta.SyncStatus),
		e.Created().UnixMilli(), e.Updated().UnixMilli(), payload,
	)
	if err != nil {
		return serr.Wrap(err, "failed to write cache row", "table", table, "rkey", meta.RKey)
	}

	if note, ok := e.(*models.Note); ok {
		if err := writeTagRefs(ctx, tx, note); err != nil {
			return err
		}
	}
	return nil
}

// writeTagRefs maintains the multi-valued tag index for one note.
func writeTagRefs(ctx context.Context, tx execer, note *models.Note) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM note_tag_refs WHERE rkey = ?`, note.RKey); err != nil {
		return serr.Wrap(err, "failed to clear tag refs", "rkey", note.RKey)
	}
	for i, tag := range note.Tags {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO note_tag_refs (rkey, tag_rkey, position) VALUES (?, ?, ?)`,
			note.RKey, tag, i)
		if err != nil {
			return serr.Wrap(err, "failed to write tag ref", "rkey", note.RKey, "tag", tag)
		}
	}
	return nil
}

// GetAll returns every cached entity of a kind. Order is unspecified.
func (s *Store) GetAll(ctx context.Context, kind models.Kind) ([]models.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM `+kind.Table())
	if err != nil {
		return nil, serr.Wrap(err, "failed to read cache", "table", kind.Table())
	}
	defer rows.Close()

	var out []models.Entity
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, serr.Wrap(err, "failed to scan cache row", "table", kind.Table())
		}
		e, err := decodeEntity(kind, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, serr.Wrap(err, "failed to iterate cache rows", "table", kind.Table())
	}
	return out, nil
}

// Get returns one cached entity, or nil when the key is absent.
func (s *Store) Get(ctx context.Context, kind models.Kind, key string) (models.Entity, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM `+kind.Table()+` WHERE rkey = ?`, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to read cache row", "table", kind.Table(), "rkey", key)
	}
	return decodeEntity(kind, payload)
}

// Delete removes an entity by key. Absent keys are not an error.
func (s *Store) Delete(ctx context.Context, kind models.Kind, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return serr.Wrap(err, "failed to begin cache transaction")
	}
	defer tx.Rollback()

	if err := deleteTx(ctx, tx, kind, key); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return serr.Wrap(err, "failed to commit cache delete", "rkey", key)
	}
	return nil
}

func deleteTx(ctx context.Context, tx execer, kind models.Kind, key string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+kind.Table()+` WHERE rkey = ?`, key); err != nil {
		return serr.Wrap(err, "failed to delete cache row", "table", kind.Table(), "rkey", key)
	}
	if kind == models.KindNote {
		if _, err := tx.ExecContext(ctx, `DELETE FROM note_tag_refs WHERE rkey = ?`, key); err != nil {
			return serr.Wrap(err, "failed to delete tag refs", "rkey", key)
		}
	}
	return nil
}

// ReplaceAll swaps the whole contents of one kind's table for entities in a
// single transaction, so a crash mid-refresh leaves the previous snapshot.
func (s *Store) ReplaceAll(ctx context.Context, kind models.Kind, entities []models.Entity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return serr.Wrap(err, "failed to begin cache transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+kind.Table()); err != nil {
		return serr.Wrap(err, "failed to clear cache table", "table", kind.Table())
	}
	if kind == models.KindNote {
		if _, err := tx.ExecContext(ctx, `DELETE FROM note_tag_refs`); err != nil {
			return serr.Wrap(err, "failed to clear tag refs")
		}
	}

	for _, e := range entities {
		if e.Kind() != kind {
			return serr.New("entity kind mismatch in replace", "want", string(kind), "got", string(e.Kind()))
		}
		if err := putTx(ctx, tx, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return serr.Wrap(err, "failed to commit cache replace", "table", kind.Table())
	}
	return nil
}

// Clear removes every entity of every kind and the stored session.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return serr.Wrap(err, "failed to begin cache transaction")
	}
	defer tx.Rollback()

	tables := []string{"note_tag_refs", "sessions"}
	for _, kind := range models.Kinds() {
		tables = append(tables, kind.Table())
	}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return serr.Wrap(err, "failed to clear cache table", "table", table)
		}
	}

	if err := tx.Commit(); err != nil {
		return serr.Wrap(err, "failed to commit cache clear")
	}
	return nil
}

// NotesByTag returns the keys of notes referencing tagKey, using the
// multi-valued tag index.
func (s *Store) NotesByTag(ctx context.Context, tagKey string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rkey FROM note_tag_refs WHERE tag_rkey = ? ORDER BY rkey`, tagKey)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query tag refs", "tag", tagKey)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, serr.Wrap(err, "failed to scan tag ref")
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Count returns the number of cached entities of a kind.
func (s *Store) Count(ctx context.Context, kind models.Kind) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+kind.Table()).Scan(&n); err != nil {
		return 0, serr.Wrap(err, "failed to count cache rows", "table", kind.Table())
	}
	return n, nil
}
