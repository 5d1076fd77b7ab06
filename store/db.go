// Package store is the durable local cache of entities, one table per kind,
// keyed by record key. It is the persistence of record for the reconciler's
// in-memory view: the view must always be rebuildable from here.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
	_ "modernc.org/sqlite"

	"pdsnotes/models"
)

// Options selects the database engine and file.
type Options struct {
	Driver string // "duckdb" (default) or "sqlite"
	Path   string // empty opens an in-memory database
}

// Store is a cache store backed by an embedded SQL database.
type Store struct {
	db     *sql.DB
	driver string
	path   string
}

// Open opens (creating if needed) the cache database and runs migrations.
func Open(ctx context.Context, opts Options) (*Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = "duckdb"
	}

	dsn := opts.Path
	switch driver {
	case "duckdb":
	case "sqlite":
		if dsn == "" {
			dsn = ":memory:"
		}
	default:
		return nil, serr.New("unsupported cache driver", "driver", driver)
	}

	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, serr.Wrap(err, "failed to create cache directory")
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, serr.Wrap(err, "failed to open cache database", "driver", driver)
	}
	if driver == "sqlite" {
		// One connection keeps an in-memory database shared and avoids
		// SQLITE_BUSY between our own writers.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, driver: driver, path: opts.Path}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, serr.Wrap(err, "failed to migrate cache database")
	}

	logger.Info("Cache store opened", "driver", driver, "path", opts.Path)
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// migrate creates one table per entity kind plus the tag reference index
// and the session table.
func (s *Store) migrate(ctx context.Context) error {
	for _, kind := range models.Kinds() {
		ddl := `CREATE TABLE IF NOT EXISTS ` + kind.Table() + ` (
			rkey        VARCHAR NOT NULL,
			uri         VARCHAR,
			cid         VARCHAR,
			sync_status VARCHAR NOT NULL,
			created_at  BIGINT,
			updated_at  BIGINT,
			payload     BLOB NOT NULL
		)`
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return serr.Wrap(err, "failed to create table", "table", kind.Table())
		}
	}

	tagRefsSQL := `CREATE TABLE IF NOT EXISTS note_tag_refs (
		rkey     VARCHAR NOT NULL,
		tag_rkey VARCHAR NOT NULL,
		position INTEGER NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, tagRefsSQL); err != nil {
		return serr.Wrap(err, "failed to create note_tag_refs table")
	}

	sessionsSQL := `CREATE TABLE IF NOT EXISTS sessions (
		id         VARCHAR NOT NULL,
		sealed     BLOB NOT NULL,
		updated_at BIGINT
	)`
	if _, err := s.db.ExecContext(ctx, sessionsSQL); err != nil {
		return serr.Wrap(err, "failed to create sessions table")
	}

	// Lookups by key, recency and tag. Uniqueness of rkey is kept by Put
	// replacing within a transaction rather than by a constraint.
	var indexes []string
	for _, kind := range models.Kinds() {
		t := kind.Table()
		indexes = append(indexes,
			"CREATE INDEX IF NOT EXISTS idx_"+t+"_rkey ON "+t+"(rkey)",
			"CREATE INDEX IF NOT EXISTS idx_"+t+"_updated ON "+t+"(updated_at)",
		)
	}
	indexes = append(indexes,
		"CREATE INDEX IF NOT EXISTS idx_note_tag_refs_tag ON note_tag_refs(tag_rkey)",
		"CREATE INDEX IF NOT EXISTS idx_note_tag_refs_note ON note_tag_refs(rkey)",
	)

	for _, indexSQL := range indexes {
		if _, err := s.db.ExecContext(ctx, indexSQL); err != nil {
			logger.LogErr(err, "failed to create index", "sql", indexSQL)
			// Indexes only serve lookups; keep going.
		}
	}

	logger.Debug("Cache migration completed", "driver", s.driver)
	return nil
}
