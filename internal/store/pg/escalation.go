package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"lernia.org/internal/escalation"
)

func (s *Store) Replace(ctx context.Context, sess escalation.Session) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		insert into escalation_sessions (user_id, granted_at, expires_at)
		values ($1, $2, $3)
		on conflict (user_id) do update
		set granted_at = excluded.granted_at, expires_at = excluded.expires_at
	`, sess.UserID, sess.GrantedAt, sess.ExpiresAt)
	return err
}

func (s *Store) Session(ctx context.Context, userID string) (escalation.Session, error) {
	if s.db == nil {
		return escalation.Session{}, errors.New("database connection unavailable")
	}
	sess := escalation.Session{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		`select granted_at, expires_at from escalation_sessions where user_id = $1`, userID).
		Scan(&sess.GrantedAt, &sess.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return escalation.Session{}, fmt.Errorf("%w: no session for user %q", escalation.ErrNotFound, userID)
	}
	if err != nil {
		return escalation.Session{}, err
	}
	return sess, nil
}

func (s *Store) Delete(ctx context.Context, userID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `delete from escalation_sessions where user_id = $1`, userID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: no session for user %q", escalation.ErrNotFound, userID)
	}
	return nil
}

func (s *Store) CredentialHash(ctx context.Context, userID string) (string, error) {
	if s.db == nil {
		return "", errors.New("database connection unavailable")
	}
	var hash string
	err := s.db.QueryRowContext(ctx,
		`select credential_hash from admin_credentials where user_id = $1`, userID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: no credential for user %q", escalation.ErrNotFound, userID)
	}
	return hash, err
}

func (s *Store) SetCredentialHash(ctx context.Context, userID, hash string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		insert into admin_credentials (user_id, credential_hash)
		values ($1, $2)
		on conflict (user_id) do update set credential_hash = excluded.credential_hash
	`, userID, hash)
	return err
}
