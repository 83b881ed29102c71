package sqlite

import (
	"context"
	"fmt"
	"time"
)

// RevokeToken adds a token id to the revocation list. Revoking the same
// token twice is not an error.
func (r *Repository) RevokeToken(ctx context.Context, jti, userID string, expiresAt time.Time) error {
	const query = `
		INSERT INTO revoked_tokens (jti, user_id, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (jti) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query, jti, userID, formatTime(expiresAt))
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsTokenRevoked reports whether a token id is on the revocation list.
func (r *Repository) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = ?)`

	var revoked bool
	if err := r.db.QueryRowContext(ctx, query, jti).Scan(&revoked); err != nil {
		return false, fmt.Errorf("check token revocation: %w", err)
	}
	return revoked, nil
}

// PurgeExpiredTokens drops revocation rows whose tokens have expired on
// their own; they can never validate again regardless.
func (r *Repository) PurgeExpiredTokens(ctx context.Context, now time.Time) error {
	const query = `DELETE FROM revoked_tokens WHERE expires_at < ?`

	_, err := r.db.ExecContext(ctx, query, formatTime(now))
	if err != nil {
		return fmt.Errorf("purge expired tokens: %w", err)
	}
	return nil
}
