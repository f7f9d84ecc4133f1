package repository

import (
	"context"
	"database/sql"
	"time"
)

// AuthSessionRepo persists institutional authorization attempts. One row
// per session id; the stage column follows the attempt machine
// (PREPARING, AWAITING_AUTHORIZATION, SUCCESS, FAILED, CANCELLED,
// UNKNOWN). Only a SHA-256 hash of the backend auth token is stored.
type AuthSessionRepo struct{ DB *sql.DB }

// NewAuthSessionRepo returns a repo bound to the given database.
func NewAuthSessionRepo(db *sql.DB) *AuthSessionRepo { return &AuthSessionRepo{DB: db} }

// AuthSessionRecord mirrors the auth_sessions table.
type AuthSessionRecord struct {
	SessionID   string
	UserAddress string
	Stage       string
	RequestID   string
	Reason      string
	TokenHash   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Upsert inserts the session row or, when the session id already exists,
// refreshes its stage, request id, reason and token hash. Attempt stage
// changes arrive in order from the orchestrator's observer, so last write
// wins is correct here.
func (r *AuthSessionRepo) Upsert(ctx context.Context, rec AuthSessionRecord) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO auth_sessions (session_id, user_address, stage, request_id, reason, token_hash, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,NOW(),NOW())
		 ON DUPLICATE KEY UPDATE stage=VALUES(stage), request_id=VALUES(request_id),
		   reason=VALUES(reason), token_hash=VALUES(token_hash), updated_at=NOW()`,
		rec.SessionID, rec.UserAddress, rec.Stage, rec.RequestID, rec.Reason, rec.TokenHash)
	return err
}

// GetBySession returns the row for sessionID, or ErrNotFound.
func (r *AuthSessionRepo) GetBySession(ctx context.Context, sessionID string) (AuthSessionRecord, error) {
	var rec AuthSessionRecord
	err := r.DB.QueryRowContext(ctx,
		`SELECT session_id, user_address, stage, request_id, reason, token_hash, created_at, updated_at
		 FROM auth_sessions WHERE session_id=? LIMIT 1`, sessionID).
		Scan(&rec.SessionID, &rec.UserAddress, &rec.Stage, &rec.RequestID,
			&rec.Reason, &rec.TokenHash, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return AuthSessionRecord{}, ErrNotFound
	}
	if err != nil {
		return AuthSessionRecord{}, err
	}
	return rec, nil
}

// ListByUser returns the most recent sessions for a user address, newest
// first, capped at limit.
func (r *AuthSessionRepo) ListByUser(ctx context.Context, userAddress string, limit int) ([]AuthSessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT session_id, user_address, stage, request_id, reason, token_hash, created_at, updated_at
		 FROM auth_sessions WHERE user_address=? ORDER BY updated_at DESC LIMIT ?`,
		userAddress, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuthSessionRecord
	for rows.Next() {
		var rec AuthSessionRecord
		if err := rows.Scan(&rec.SessionID, &rec.UserAddress, &rec.Stage, &rec.RequestID,
			&rec.Reason, &rec.TokenHash, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
