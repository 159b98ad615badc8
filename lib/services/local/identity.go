/*
Copyright 2025 Pulse Technologies, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package local implements the services.Identity interface on top of
// sqlite and, for tests, process memory.
package local

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/pulsehq/pulse"
	"github.com/pulsehq/pulse/lib/services"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS profiles (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES users(id),
    slug TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    UNIQUE(user_id, slug)
);
CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    profile_id TEXT NOT NULL REFERENCES profiles(id),
    platform TEXT NOT NULL,
    platform_user_id TEXT NOT NULL,
    handle TEXT NOT NULL DEFAULT '',
    access_token TEXT NOT NULL,
    refresh_token TEXT NOT NULL DEFAULT '',
    token_expiry INTEGER,
    active INTEGER NOT NULL DEFAULT 1,
    last_fetched_at INTEGER,
    UNIQUE(profile_id, platform, platform_user_id)
);
CREATE TABLE IF NOT EXISTS profile_filters (
    id TEXT PRIMARY KEY,
    profile_id TEXT NOT NULL REFERENCES profiles(id),
    account_id TEXT NOT NULL DEFAULT '',
    filter_type TEXT NOT NULL,
    filter_key TEXT NOT NULL,
    filter_value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS api_keys (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES users(id),
    key_hash TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL DEFAULT '',
    last_used_at INTEGER
);
CREATE TABLE IF NOT EXISTS rate_limits (
    account_id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    remaining INTEGER NOT NULL DEFAULT -1,
    limit_total INTEGER NOT NULL DEFAULT -1,
    reset_at INTEGER NOT NULL DEFAULT 0,
    consecutive_failures INTEGER NOT NULL DEFAULT 0,
    last_failure_at INTEGER NOT NULL DEFAULT 0,
    circuit_open_until INTEGER NOT NULL DEFAULT 0
);
`

// SQLite is a sqlite-backed Identity implementation.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the identity database at path.
// Pass ":memory:" for an ephemeral database.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=10000&_fk=true")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY
	// churn under the scheduler's fan-out.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, trace.Wrap(err)
	}
	return &SQLite{db: db}, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error { return trace.Wrap(s.db.Close()) }

func (s *SQLite) inTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return trace.Wrap(err)
	}
	return trace.Wrap(tx.Commit())
}

// convertError maps sqlite constraint violations to trace errors.
func convertError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return trace.NotFound("not found")
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return trace.AlreadyExists("already exists: %v", err)
	}
	return trace.Wrap(err)
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Unix()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

// UpsertUser creates or updates a user.
func (s *SQLite) UpsertUser(ctx context.Context, user services.User) error {
	if user.ID == "" {
		return trace.BadParameter("missing parameter ID")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (id, email, display_name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET email=excluded.email, display_name=excluded.display_name, updated_at=excluded.updated_at`,
		user.ID, user.Email, user.DisplayName, user.CreatedAt.UTC().Unix(), user.UpdatedAt.UTC().Unix())
	return convertError(err)
}

// GetUser returns a user by id.
func (s *SQLite) GetUser(ctx context.Context, id string) (*services.User, error) {
	var user services.User
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, created_at, updated_at FROM users WHERE id = ?`, id).
		Scan(&user.ID, &user.Email, &user.DisplayName, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trace.NotFound("user %q is not found", id)
		}
		return nil, trace.Wrap(err)
	}
	user.CreatedAt = time.Unix(created, 0).UTC()
	user.UpdatedAt = time.Unix(updated, 0).UTC()
	return &user, nil
}

// UpsertProfile creates or updates a profile.
func (s *SQLite) UpsertProfile(ctx context.Context, profile services.Profile) (*services.Profile, error) {
	if err := profile.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO profiles (id, user_id, slug, name, description) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET slug=excluded.slug, name=excluded.name, description=excluded.description`,
		profile.ID, profile.UserID, profile.Slug, profile.Name, profile.Description)
	if err != nil {
		return nil, convertError(err)
	}
	return &profile, nil
}

// GetProfile returns a profile by id.
func (s *SQLite) GetProfile(ctx context.Context, id string) (*services.Profile, error) {
	var profile services.Profile
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, slug, name, description FROM profiles WHERE id = ?`, id).
		Scan(&profile.ID, &profile.UserID, &profile.Slug, &profile.Name, &profile.Description)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trace.NotFound("profile %q is not found", id)
		}
		return nil, trace.Wrap(err)
	}
	return &profile, nil
}

// ListProfiles returns all profiles owned by a user.
func (s *SQLite) ListProfiles(ctx context.Context, userID string) ([]services.Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, slug, name, description FROM profiles WHERE user_id = ? ORDER BY slug`, userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()
	var out []services.Profile
	for rows.Next() {
		var profile services.Profile
		if err := rows.Scan(&profile.ID, &profile.UserID, &profile.Slug, &profile.Name, &profile.Description); err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, profile)
	}
	return out, trace.Wrap(rows.Err())
}

// DeleteProfile removes a profile and its filters.
func (s *SQLite) DeleteProfile(ctx context.Context, id string) error {
	return s.inTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM profile_filters WHERE profile_id = ?`, id); err != nil {
			return trace.Wrap(err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
		if err != nil {
			return trace.Wrap(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return trace.Wrap(err)
		}
		if n == 0 {
			return trace.NotFound("profile %q is not found", id)
		}
		return nil
	})
}

// ListProfileFilters returns the filters bound to a profile.
func (s *SQLite) ListProfileFilters(ctx context.Context, profileID string) ([]services.ProfileFilter, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, profile_id, account_id, filter_type, filter_key, filter_value
FROM profile_filters WHERE profile_id = ? ORDER BY id`, profileID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()
	var out []services.ProfileFilter
	for rows.Next() {
		var filter services.ProfileFilter
		if err := rows.Scan(&filter.ID, &filter.ProfileID, &filter.AccountID, &filter.Type, &filter.Key, &filter.Value); err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, filter)
	}
	return out, trace.Wrap(rows.Err())
}

// UpsertProfileFilter creates or updates a filter.
func (s *SQLite) UpsertProfileFilter(ctx context.Context, filter services.ProfileFilter) (*services.ProfileFilter, error) {
	if filter.ProfileID == "" {
		return nil, trace.BadParameter("missing parameter ProfileID")
	}
	if filter.ID == "" {
		filter.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO profile_filters (id, profile_id, account_id, filter_type, filter_key, filter_value) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET filter_type=excluded.filter_type, filter_key=excluded.filter_key, filter_value=excluded.filter_value`,
		filter.ID, filter.ProfileID, filter.AccountID, filter.Type, filter.Key, filter.Value)
	if err != nil {
		return nil, convertError(err)
	}
	return &filter, nil
}

// UpsertAccount creates or updates an account keyed by
// (Platform, PlatformUserID) within the owning profile.
func (s *SQLite) UpsertAccount(ctx context.Context, account services.Account) (*services.Account, error) {
	if err := account.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO accounts (id, profile_id, platform, platform_user_id, handle, access_token, refresh_token, token_expiry, active, last_fetched_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(profile_id, platform, platform_user_id) DO UPDATE SET
    handle=excluded.handle,
    access_token=excluded.access_token,
    refresh_token=excluded.refresh_token,
    token_expiry=excluded.token_expiry,
    active=excluded.active`,
		account.ID, account.ProfileID, account.Platform, account.PlatformUserID, account.Handle,
		account.AccessToken, account.RefreshToken, unixOrNil(account.TokenExpiry), account.Active,
		unixOrNil(account.LastFetchedAt))
	if err != nil {
		return nil, convertError(err)
	}
	// the upsert may have kept a pre-existing row id; re-read by the
	// conflict key, two profiles can hold the same platform identity
	stored, err := scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE profile_id = ? AND platform = ? AND platform_user_id = ?`,
		account.ProfileID, account.Platform, account.PlatformUserID))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return stored, nil
}

func scanAccount(row interface{ Scan(...any) error }) (*services.Account, error) {
	var account services.Account
	var platform string
	var expiry, fetched sql.NullInt64
	err := row.Scan(&account.ID, &account.ProfileID, &platform, &account.PlatformUserID,
		&account.Handle, &account.AccessToken, &account.RefreshToken, &expiry, &account.Active, &fetched)
	if err != nil {
		return nil, err
	}
	account.Platform = pulse.Platform(platform)
	account.TokenExpiry = timePtr(expiry)
	account.LastFetchedAt = timePtr(fetched)
	return &account, nil
}

const accountColumns = `id, profile_id, platform, platform_user_id, handle, access_token, refresh_token, token_expiry, active, last_fetched_at`

// GetAccount returns an account by id.
func (s *SQLite) GetAccount(ctx context.Context, id string) (*services.Account, error) {
	account, err := scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trace.NotFound("account %q is not found", id)
		}
		return nil, trace.Wrap(err)
	}
	return account, nil
}

// GetAccountByPlatformUser returns the account matching a platform-side
// identity.
func (s *SQLite) GetAccountByPlatformUser(ctx context.Context, platform pulse.Platform, platformUserID string) (*services.Account, error) {
	account, err := scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE platform = ? AND platform_user_id = ?`,
		platform, platformUserID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trace.NotFound("no %v account for platform user %q", platform, platformUserID)
		}
		return nil, trace.Wrap(err)
	}
	return account, nil
}

func (s *SQLite) listAccounts(ctx context.Context, where string, args ...any) ([]services.ActiveAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT a.id, a.profile_id, a.platform, a.platform_user_id, a.handle, a.access_token,
       a.refresh_token, a.token_expiry, a.active, a.last_fetched_at, p.user_id
FROM accounts a JOIN profiles p ON a.profile_id = p.id `+where+` ORDER BY a.id`, args...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()
	var out []services.ActiveAccount
	for rows.Next() {
		var account services.Account
		var platform, userID string
		var expiry, fetched sql.NullInt64
		if err := rows.Scan(&account.ID, &account.ProfileID, &platform, &account.PlatformUserID,
			&account.Handle, &account.AccessToken, &account.RefreshToken, &expiry, &account.Active,
			&fetched, &userID); err != nil {
			return nil, trace.Wrap(err)
		}
		account.Platform = pulse.Platform(platform)
		account.TokenExpiry = timePtr(expiry)
		account.LastFetchedAt = timePtr(fetched)
		out = append(out, services.ActiveAccount{Account: account, UserID: userID})
	}
	return out, trace.Wrap(rows.Err())
}

// ListActiveAccounts enumerates every active account joined with its
// owning user id.
func (s *SQLite) ListActiveAccounts(ctx context.Context) ([]services.ActiveAccount, error) {
	return s.listAccounts(ctx, `WHERE a.active = 1`)
}

// ListUserAccounts enumerates the accounts owned by one user,
// inactive ones included. Materialization keeps reading the last raw
// snapshots of deactivated accounts.
func (s *SQLite) ListUserAccounts(ctx context.Context, userID string) ([]services.ActiveAccount, error) {
	return s.listAccounts(ctx, `WHERE p.user_id = ?`, userID)
}

// SetAccountActive flips the active flag.
func (s *SQLite) SetAccountActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return trace.Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return trace.Wrap(err)
	}
	if n == 0 {
		return trace.NotFound("account %q is not found", id)
	}
	return nil
}

// SetAccountFetched records a successful fetch time.
func (s *SQLite) SetAccountFetched(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET last_fetched_at = ? WHERE id = ?`, at.UTC().Unix(), id)
	if err != nil {
		return trace.Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return trace.Wrap(err)
	}
	if n == 0 {
		return trace.NotFound("account %q is not found", id)
	}
	return nil
}

// UpsertAPIKey stores a key hash.
func (s *SQLite) UpsertAPIKey(ctx context.Context, key services.APIKey) error {
	if key.KeyHash == "" {
		return trace.BadParameter("missing parameter KeyHash")
	}
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO api_keys (id, user_id, key_hash, name, last_used_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name`,
		key.ID, key.UserID, key.KeyHash, key.Name, unixOrNil(key.LastUsedAt))
	return convertError(err)
}

// GetAPIKeyByHash resolves a key hash to its record.
func (s *SQLite) GetAPIKeyByHash(ctx context.Context, hash string) (*services.APIKey, error) {
	var key services.APIKey
	var lastUsed sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, key_hash, name, last_used_at FROM api_keys WHERE key_hash = ?`, hash).
		Scan(&key.ID, &key.UserID, &key.KeyHash, &key.Name, &lastUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trace.NotFound("api key is not found")
		}
		return nil, trace.Wrap(err)
	}
	key.LastUsedAt = timePtr(lastUsed)
	return &key, nil
}

// TouchAPIKey records key usage.
func (s *SQLite) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, at.UTC().Unix(), id)
	return trace.Wrap(err)
}

// GetRateLimit returns gate state for an account.
func (s *SQLite) GetRateLimit(ctx context.Context, accountID string) (*services.RateLimitState, error) {
	var state services.RateLimitState
	var status string
	var resetAt, lastFailure, openUntil int64
	err := s.db.QueryRowContext(ctx, `
SELECT account_id, status, remaining, limit_total, reset_at, consecutive_failures, last_failure_at, circuit_open_until
FROM rate_limits WHERE account_id = ?`, accountID).
		Scan(&state.AccountID, &status, &state.Remaining, &state.LimitTotal, &resetAt,
			&state.ConsecutiveFailures, &lastFailure, &openUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trace.NotFound("no rate limit state for account %q", accountID)
		}
		return nil, trace.Wrap(err)
	}
	state.Status = services.GateStatus(status)
	state.ResetAt = time.Unix(resetAt, 0).UTC()
	state.LastFailureAt = time.Unix(lastFailure, 0).UTC()
	state.CircuitOpenUntil = time.Unix(openUntil, 0).UTC()
	return &state, nil
}

// UpsertRateLimit writes gate state for an account.
func (s *SQLite) UpsertRateLimit(ctx context.Context, state services.RateLimitState) error {
	if state.AccountID == "" {
		return trace.BadParameter("missing parameter AccountID")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO rate_limits (account_id, status, remaining, limit_total, reset_at, consecutive_failures, last_failure_at, circuit_open_until)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(account_id) DO UPDATE SET
    status=excluded.status,
    remaining=excluded.remaining,
    limit_total=excluded.limit_total,
    reset_at=excluded.reset_at,
    consecutive_failures=excluded.consecutive_failures,
    last_failure_at=excluded.last_failure_at,
    circuit_open_until=excluded.circuit_open_until`,
		state.AccountID, state.Status, state.Remaining, state.LimitTotal, state.ResetAt.UTC().Unix(),
		state.ConsecutiveFailures, state.LastFailureAt.UTC().Unix(), state.CircuitOpenUntil.UTC().Unix())
	return trace.Wrap(err)
}
