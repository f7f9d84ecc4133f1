package repository

import (
	"context"
	"database/sql"
	"time"
)

// JournalRepo records terminal reservation outcomes observed from the
// chain. The journal is append-only audit data; the display path never
// reads it.
type JournalRepo struct{ DB *sql.DB }

// NewJournalRepo returns a repo bound to the given database.
func NewJournalRepo(db *sql.DB) *JournalRepo { return &JournalRepo{DB: db} }

// JournalEntry mirrors the reservation_journal table. All chain integers
// are stored as decimal strings, same as everywhere else in the engine.
type JournalEntry struct {
	ID             uint64
	ReservationKey string
	LabID          string
	UserAddress    string
	Status         string
	TxHash         string
	Note           string
	ObservedAt     time.Time
}

// Insert appends one journal entry.
func (r *JournalRepo) Insert(ctx context.Context, e JournalEntry) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO reservation_journal (reservation_key, lab_id, user_address, status, tx_hash, note, observed_at)
		 VALUES (?,?,?,?,?,?,?)`,
		e.ReservationKey, e.LabID, e.UserAddress, e.Status, e.TxHash, e.Note, e.ObservedAt.UTC())
	return err
}

// ListByUser returns a user's journal entries, newest first.
func (r *JournalRepo) ListByUser(ctx context.Context, userAddress string, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, reservation_key, lab_id, user_address, status, tx_hash, note, observed_at
		 FROM reservation_journal WHERE user_address=? ORDER BY observed_at DESC LIMIT ?`,
		userAddress, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.ID, &e.ReservationKey, &e.LabID, &e.UserAddress,
			&e.Status, &e.TxHash, &e.Note, &e.ObservedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastForKey returns the most recent entry for a reservation key, or
// ErrNotFound.
func (r *JournalRepo) LastForKey(ctx context.Context, reservationKey string) (JournalEntry, error) {
	var e JournalEntry
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, reservation_key, lab_id, user_address, status, tx_hash, note, observed_at
		 FROM reservation_journal WHERE reservation_key=? ORDER BY observed_at DESC LIMIT 1`,
		reservationKey).
		Scan(&e.ID, &e.ReservationKey, &e.LabID, &e.UserAddress, &e.Status, &e.TxHash, &e.Note, &e.ObservedAt)
	if err == sql.ErrNoRows {
		return JournalEntry{}, ErrNotFound
	}
	if err != nil {
		return JournalEntry{}, err
	}
	return e, nil
}
