// Package repository implements the durable mail store on PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Email repository errors
var (
	ErrEmailNotFound = errors.New("email not found")
)

// EmailRepositoryInterface defines the storage writer operations
type EmailRepositoryInterface interface {
	Create(ctx context.Context, msg NewEmail) (*Email, error)
	ListByInbox(ctx context.Context, inbox string) ([]Email, error)
	GetByID(ctx context.Context, id int64) (*Email, error)
	Delete(ctx context.Context, id int64) error
	DeleteOlderThan(ctx context.Context, ageInDays int) (int64, error)
}

// EmailRepo implements EmailRepositoryInterface using PostgreSQL
type EmailRepo struct {
	db *sqlx.DB
	// now is the clock used for received_at stamps and retention cutoffs.
	now func() time.Time
}

// NewEmailRepo creates a new EmailRepo instance
func NewEmailRepo(db *sqlx.DB) *EmailRepo {
	return &EmailRepo{db: db, now: time.Now}
}

// NormalizeInbox lowercases an inbox key. Case must never distinguish two
// inboxes, so every write and lookup path goes through this.
func NormalizeInbox(inbox string) string {
	return strings.ToLower(strings.TrimSpace(inbox))
}

// Create persists one message record. Identity is assigned by the emails
// sequence and received_at by the server clock; each call stands alone,
// there is no cross-call transaction.
func (r *EmailRepo) Create(ctx context.Context, msg NewEmail) (*Email, error) {
	query := `
		INSERT INTO emails (inbox, sender, subject, body_text, body_html, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, inbox, sender, subject, body_text, body_html, received_at
	`

	var email Email
	err := r.db.GetContext(ctx, &email, query,
		NormalizeInbox(msg.Inbox),
		msg.Sender,
		msg.Subject,
		msg.BodyText,
		msg.BodyHTML,
		r.now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create email: %w", err)
	}

	return &email, nil
}

// ListByInbox returns all records for an inbox, newest first
func (r *EmailRepo) ListByInbox(ctx context.Context, inbox string) ([]Email, error) {
	query := `
		SELECT id, inbox, sender, subject, body_text, body_html, received_at
		FROM emails
		WHERE inbox = $1
		ORDER BY received_at DESC, id DESC
	`

	emails := []Email{}
	err := r.db.SelectContext(ctx, &emails, query, NormalizeInbox(inbox))
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}

	return emails, nil
}

// GetByID retrieves one record by its identity
func (r *EmailRepo) GetByID(ctx context.Context, id int64) (*Email, error) {
	query := `
		SELECT id, inbox, sender, subject, body_text, body_html, received_at
		FROM emails
		WHERE id = $1
	`

	var email Email
	err := r.db.GetContext(ctx, &email, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrEmailNotFound
		}
		return nil, fmt.Errorf("failed to get email: %w", err)
	}

	return &email, nil
}

// Delete removes one record by its identity
func (r *EmailRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM emails WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete email: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrEmailNotFound
	}

	return nil
}

// DeleteOlderThan removes every record received strictly before
// now minus ageInDays and returns the number removed. Records exactly at
// the boundary are retained. Safe to run concurrently with Create: it only
// touches rows already older than the cutoff.
func (r *EmailRepo) DeleteOlderThan(ctx context.Context, ageInDays int) (int64, error) {
	return r.deleteOlderThanAt(ctx, r.retentionCutoff(ageInDays))
}

// retentionCutoff computes the purge boundary for a retention window
func (r *EmailRepo) retentionCutoff(ageInDays int) time.Time {
	return r.now().UTC().AddDate(0, 0, -ageInDays)
}

// deleteOlderThanAt removes every record received strictly before cutoff
func (r *EmailRepo) deleteOlderThanAt(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM emails WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old emails: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return deleted, nil
}
