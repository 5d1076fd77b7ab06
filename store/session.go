package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rohanthewiz/serr"
	"github.com/vmihailenco/msgpack/v5"

	"pdsnotes/models"
)

// sessionRowID is the single row holding the current session. One cache
// database serves one signed-in account.
const sessionRowID = "current"

// SaveSession seals and stores the session, replacing any previous one.
func (s *Store) SaveSession(ctx context.Context, sealer *models.Sealer, sess *models.Session) error {
	plain, err := msgpack.Marshal(sess)
	if err != nil {
		return serr.Wrap(err, "failed to encode session")
	}
	sealed, err := sealer.Seal(plain)
	if err != nil {
		return serr.Wrap(err, "failed to seal session")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return serr.Wrap(err, "failed to begin cache transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionRowID); err != nil {
		return serr.Wrap(err, "failed to clear previous session")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, sealed, updated_at) VALUES (?, ?, ?)`,
		sessionRowID, sealed, time.Now().UnixMilli())
	if err != nil {
		return serr.Wrap(err, "failed to store session")
	}
	return serr.Wrap(tx.Commit(), "failed to commit session")
}

// LoadSession returns the stored session, or nil when none is stored.
func (s *Store) LoadSession(ctx context.Context, sealer *models.Sealer) (*models.Session, error) {
	var sealed []byte
	err := s.db.QueryRowContext(ctx, `SELECT sealed FROM sessions WHERE id = ?`, sessionRowID).Scan(&sealed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to read session")
	}

	plain, err := sealer.Open(sealed)
	if err != nil {
		return nil, err
	}
	var sess models.Session
	if err := msgpack.Unmarshal(plain, &sess); err != nil {
		return nil, serr.Wrap(err, "failed to decode session")
	}
	return &sess, nil
}

// DeleteSession removes the stored session.
func (s *Store) DeleteSession(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionRowID)
	return serr.Wrap(err, "failed to delete session")
}
