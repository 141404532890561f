package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/basket/boss/internal/cryptutil"
	"github.com/basket/boss/internal/taxonomy"
)

// OAuthToken mirrors SPEC §3.1. The ciphertext fields are the only at-rest
// representation; Get/Put here operate on plaintext and perform
// encrypt/decrypt at the boundary using the supplied Box.
type OAuthToken struct {
	Email        string
	Service      string
	RefreshToken string
	AccessToken  string
	ExpiresAt    *time.Time
}

// GetOAuthToken decrypts (or passes through legacy plaintext for) the
// stored token (SPEC §8 invariant 8).
func (s *Store) GetOAuthToken(ctx context.Context, box *cryptutil.Box, email, service string) (*OAuthToken, error) {
	row := s.db.QueryRowContext(ctx, `SELECT refresh_token_ct, access_token_ct, expires_at FROM oauth_tokens WHERE email = ? AND service = ?;`, email, service)
	var refreshCT, accessCT string
	var expiresAt sql.NullString
	if err := row.Scan(&refreshCT, &accessCT, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, &taxonomy.PersistenceError{Op: "GetOAuthToken", Err: err}
	}
	refresh, err := box.Decrypt(refreshCT)
	if err != nil {
		return nil, &taxonomy.PersistenceError{Op: "GetOAuthToken.decrypt_refresh", Err: err}
	}
	access, err := box.Decrypt(accessCT)
	if err != nil {
		return nil, &taxonomy.PersistenceError{Op: "GetOAuthToken.decrypt_access", Err: err}
	}
	tok := &OAuthToken{Email: email, Service: service, RefreshToken: refresh, AccessToken: access}
	if expiresAt.Valid && expiresAt.String != "" {
		t := parseTimeLenient(expiresAt.String)
		tok.ExpiresAt = &t
	}
	return tok, nil
}

// PutOAuthToken encrypts and upserts a token.
func (s *Store) PutOAuthToken(ctx context.Context, box *cryptutil.Box, tok OAuthToken) error {
	refreshCT, err := box.Encrypt(tok.RefreshToken)
	if err != nil {
		return &taxonomy.PersistenceError{Op: "PutOAuthToken.encrypt_refresh", Err: err}
	}
	accessCT, err := box.Encrypt(tok.AccessToken)
	if err != nil {
		return &taxonomy.PersistenceError{Op: "PutOAuthToken.encrypt_access", Err: err}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO oauth_tokens (email, service, refresh_token_ct, access_token_ct, expires_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(email, service) DO UPDATE SET
			refresh_token_ct=excluded.refresh_token_ct, access_token_ct=excluded.access_token_ct, expires_at=excluded.expires_at;
	`, tok.Email, tok.Service, refreshCT, accessCT, nullableTime(tok.ExpiresAt))
	if err != nil {
		return &taxonomy.PersistenceError{Op: "PutOAuthToken.upsert", Err: err}
	}
	return nil
}

// OAuthTokenBackupRow is the raw (still-encrypted) row shape returned by
// ListOAuthTokenRows, used by the /admin/backup-oauth-tokens operation —
// a backup dumps ciphertext, never plaintext.
type OAuthTokenBackupRow struct {
	Email            string
	Service          string
	RefreshTokenCT   string
	AccessTokenCT    string
	ExpiresAt        *time.Time
}

// ListOAuthTokenRows returns every stored token row without decrypting.
func (s *Store) ListOAuthTokenRows(ctx context.Context) ([]OAuthTokenBackupRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT email, service, refresh_token_ct, access_token_ct, expires_at FROM oauth_tokens;`)
	if err != nil {
		return nil, &taxonomy.PersistenceError{Op: "ListOAuthTokenRows", Err: err}
	}
	defer rows.Close()
	var out []OAuthTokenBackupRow
	for rows.Next() {
		var r OAuthTokenBackupRow
		var expiresAt sql.NullString
		if err := rows.Scan(&r.Email, &r.Service, &r.RefreshTokenCT, &r.AccessTokenCT, &expiresAt); err != nil {
			return nil, err
		}
		if expiresAt.Valid && expiresAt.String != "" {
			t := parseTimeLenient(expiresAt.String)
			r.ExpiresAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// VerifyOAuthEncryption attempts to decrypt every stored row with box,
// returning the count of rows that failed, used by
// /admin/verify-oauth-encryption.
func (s *Store) VerifyOAuthEncryption(ctx context.Context, box *cryptutil.Box) (total, failed int, err error) {
	rows, listErr := s.ListOAuthTokenRows(ctx)
	if listErr != nil {
		return 0, 0, listErr
	}
	for _, r := range rows {
		total++
		if _, decErr := box.Decrypt(r.RefreshTokenCT); decErr != nil {
			failed++
			continue
		}
		if _, decErr := box.Decrypt(r.AccessTokenCT); decErr != nil {
			failed++
		}
	}
	return total, failed, nil
}

// ReencryptAllOAuthTokens decrypts every row with `from` and re-encrypts
// with `to`. Used by the /admin/encrypt-oauth-tokens operation to migrate
// legacy plaintext rows once ENCRYPTION_KEY is first configured.
func (s *Store) ReencryptAllOAuthTokens(ctx context.Context, from, to *cryptutil.Box) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT email, service, refresh_token_ct, access_token_ct, expires_at FROM oauth_tokens;`)
	if err != nil {
		return 0, &taxonomy.PersistenceError{Op: "ReencryptAllOAuthTokens.select", Err: err}
	}
	type row struct {
		email, service, refreshCT, accessCT string
		expiresAt                           sql.NullString
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.email, &r.service, &r.refreshCT, &r.accessCT, &r.expiresAt); err != nil {
			rows.Close()
			return 0, err
		}
		all = append(all, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	count := 0
	for _, r := range all {
		refresh, err := from.Decrypt(r.refreshCT)
		if err != nil {
			return count, &taxonomy.PersistenceError{Op: "ReencryptAllOAuthTokens.decrypt", Err: err}
		}
		access, err := from.Decrypt(r.accessCT)
		if err != nil {
			return count, &taxonomy.PersistenceError{Op: "ReencryptAllOAuthTokens.decrypt", Err: err}
		}
		newRefresh, err := to.Encrypt(refresh)
		if err != nil {
			return count, err
		}
		newAccess, err := to.Encrypt(access)
		if err != nil {
			return count, err
		}
		if _, err := s.db.ExecContext(ctx, `UPDATE oauth_tokens SET refresh_token_ct=?, access_token_ct=? WHERE email=? AND service=?;`,
			newRefresh, newAccess, r.email, r.service); err != nil {
			return count, &taxonomy.PersistenceError{Op: "ReencryptAllOAuthTokens.update", Err: err}
		}
		count++
	}
	return count, nil
}
