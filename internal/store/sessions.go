package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const sessionColumns = `id, user_id, refresh_token_hash, expires_at, revoked_at, created_at, updated_at`

// MintFunc produces the refresh token digest for a freshly inserted session.
type MintFunc func(sessionID int64) (refreshHash string, err error)

// GetSession loads a session by id.
func (s *Store) GetSession(ctx context.Context, id int64) (*AuthSession, error) {
	row := s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM auth_sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading session %d: %w", id, err)
	}
	return sess, nil
}

// RotateSession creates a new session for userID, optionally revoking
// revokeID in the same transaction. A revokeID of zero skips the revoke step.
//
// The session row needs an id before its refresh token can be signed, so the
// row is inserted with a unique placeholder digest, mint is called with the new
// id and the real digest is written back before commit.
func (s *Store) RotateSession(ctx context.Context, userID int64, expiresAt time.Time, revokeID int64, mint MintFunc) (int64, error) {
	var sessionID int64
	now := s.now()

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if revokeID != 0 {
			tag, err := tx.Exec(ctx, `
				UPDATE auth_sessions SET revoked_at = $1, updated_at = $1
				WHERE id = $2 AND user_id = $3 AND revoked_at IS NULL`,
				now, revokeID, userID)
			if err != nil {
				return fmt.Errorf("revoking session %d: %w", revokeID, err)
			}
			if tag.RowsAffected() == 0 {
				return ErrSessionRevoked
			}
		}

		placeholder := pendingHash()
		err := tx.QueryRow(ctx, `
			INSERT INTO auth_sessions (user_id, refresh_token_hash, expires_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			RETURNING id`,
			userID, placeholder, expiresAt.UTC(), now).Scan(&sessionID)
		if err != nil {
			return fmt.Errorf("inserting session: %w", err)
		}

		digest, err := mint(sessionID)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE auth_sessions SET refresh_token_hash = $1 WHERE id = $2`,
			digest, sessionID); err != nil {
			return fmt.Errorf("storing refresh digest: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return sessionID, nil
}

// RevokeSession marks a session revoked. Revoking an already revoked session
// is not an error.
func (s *Store) RevokeSession(ctx context.Context, id int64) error {
	now := s.now()
	_, err := s.db.Exec(ctx, `
		UPDATE auth_sessions SET revoked_at = $1, updated_at = $1
		WHERE id = $2 AND revoked_at IS NULL`, now, id)
	if err != nil {
		return fmt.Errorf("revoking session %d: %w", id, err)
	}
	return nil
}

// pendingHash fills the 64-char digest column until the real digest is known.
func pendingHash() string {
	a, b := uuid.New(), uuid.New()
	return fmt.Sprintf("%x%x", a[:], b[:])
}

func scanSession(row pgx.Row) (*AuthSession, error) {
	var sess AuthSession
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.RefreshTokenHash, &sess.ExpiresAt,
		&sess.RevokedAt, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	return &sess, nil
}
