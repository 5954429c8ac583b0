// internal/registry/postgres.go

// Package registry persists push subscriptions. The dispatch engine
// reads active subscribers through it at fan-out start and writes
// status and bookkeeping updates back through it afterwards.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	apperrors "push-dispatch/internal/common/errors"
	"push-dispatch/internal/common/logger"
	"push-dispatch/internal/models"
)

// Registration is the write-side shape of a subscription, produced by
// the subscribe handler after the keys have been sealed.
type Registration struct {
	Endpoint   string
	Keys       models.EncryptedBlob
	Origin     string
	UserAgent  string
	DeviceType string
	Tags       []string
}

// PostgresRegistry is the canonical subscription store.
type PostgresRegistry struct {
	db  *sql.DB
	log logger.Logger
}

func NewPostgres(db *sql.DB, log logger.Logger) *PostgresRegistry {
	return &PostgresRegistry{db: db, log: log}
}

const selectColumns = `id, endpoint, encrypted_keys, status, tags, last_notification_at`

// FindActiveBySelector returns a snapshot of the active subscribers the
// selector matches. An empty selector matches every active subscriber.
// Device ids and tags combine as AND; a subscriber matches the tag part
// when it carries at least one of the requested tags.
func (r *PostgresRegistry) FindActiveBySelector(ctx context.Context, sel models.Selector) ([]models.Subscriber, error) {
	query := `SELECT ` + selectColumns + ` FROM subscriptions WHERE status = $1`
	args := []interface{}{models.StatusActive}

	if len(sel.DeviceIDs) > 0 {
		args = append(args, pq.Array(sel.DeviceIDs))
		query += fmt.Sprintf(" AND id = ANY($%d)", len(args))
	}
	if len(sel.Tags) > 0 {
		args = append(args, pq.Array(sel.Tags))
		query += fmt.Sprintf(" AND tags && $%d", len(args))
	}
	query += " ORDER BY created_at"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewRegistryUnavailableError(err)
	}
	defer rows.Close()

	subscribers := []models.Subscriber{}
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, apperrors.NewRegistryUnavailableError(err)
		}
		subscribers = append(subscribers, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewRegistryUnavailableError(err)
	}
	return subscribers, nil
}

// FindActiveByID fetches one active subscriber for a single-device
// send.
func (r *PostgresRegistry) FindActiveByID(ctx context.Context, id string) (models.Subscriber, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM subscriptions WHERE id = $1 AND status = $2`,
		id, models.StatusActive,
	)
	sub, err := scanSubscriber(row)
	if err == sql.ErrNoRows {
		return models.Subscriber{}, apperrors.NewSubscriberNotFoundError(id)
	}
	if err != nil {
		return models.Subscriber{}, apperrors.NewRegistryUnavailableError(err)
	}
	return sub, nil
}

// SetStatus moves a subscriber to the given status. The update is
// idempotent; applying the same status twice is a no-op. Moving to
// unsubscribed also stamps unsubscribed_at.
func (r *PostgresRegistry) SetStatus(ctx context.Context, id, status string) error {
	query := `UPDATE subscriptions SET status = $2 WHERE id = $1`
	if status == models.StatusUnsubscribed {
		query = `UPDATE subscriptions SET status = $2, unsubscribed_at = CURRENT_TIMESTAMP WHERE id = $1`
	}
	if _, err := r.db.ExecContext(ctx, query, id, status); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// TouchLastNotified stamps last_notification_at after a confirmed
// delivery.
func (r *PostgresRegistry) TouchLastNotified(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET last_notification_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("touch last notified: %w", err)
	}
	return nil
}

// Upsert registers a subscription by endpoint. Re-registering a known
// endpoint replaces its sealed keys and reactivates it, clearing any
// earlier unsubscribe.
func (r *PostgresRegistry) Upsert(ctx context.Context, reg Registration) (string, error) {
	keys, err := json.Marshal(reg.Keys)
	if err != nil {
		return "", fmt.Errorf("marshal sealed keys: %w", err)
	}

	var id string
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO subscriptions (endpoint, encrypted_keys, origin, user_agent, device_type, tags, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (endpoint) DO UPDATE SET
			encrypted_keys = EXCLUDED.encrypted_keys,
			origin = EXCLUDED.origin,
			user_agent = EXCLUDED.user_agent,
			device_type = EXCLUDED.device_type,
			tags = EXCLUDED.tags,
			status = $7,
			last_seen_at = CURRENT_TIMESTAMP,
			unsubscribed_at = NULL
		RETURNING id`,
		reg.Endpoint, keys, reg.Origin, reg.UserAgent, reg.DeviceType,
		pq.Array(reg.Tags), models.StatusActive,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert subscription: %w", err)
	}
	return id, nil
}

// Unsubscribe marks the endpoint's subscription as unsubscribed. A
// missing endpoint is not an error; the browser may retry the call.
func (r *PostgresRegistry) Unsubscribe(ctx context.Context, endpoint string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = $2, unsubscribed_at = CURRENT_TIMESTAMP
		WHERE endpoint = $1`,
		endpoint, models.StatusUnsubscribed,
	)
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}

// StatusByEndpoint returns the stored status for an endpoint, or
// sql.ErrNoRows wrapped as a not-found error when unknown.
func (r *PostgresRegistry) StatusByEndpoint(ctx context.Context, endpoint string) (string, error) {
	var status string
	err := r.db.QueryRowContext(ctx,
		`SELECT status FROM subscriptions WHERE endpoint = $1`,
		endpoint,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return "", apperrors.NewSubscriberNotFoundError("")
	}
	if err != nil {
		return "", fmt.Errorf("status by endpoint: %w", err)
	}
	return status, nil
}

// CountByStatus returns subscriber counts grouped by status, for the
// admin stats view.
func (r *PostgresRegistry) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM subscriptions GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("count by status: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscriber(row rowScanner) (models.Subscriber, error) {
	var (
		sub  models.Subscriber
		keys []byte
		tags pq.StringArray
		last sql.NullTime
	)
	if err := row.Scan(&sub.ID, &sub.Endpoint, &keys, &sub.Status, &tags, &last); err != nil {
		return models.Subscriber{}, err
	}
	if err := json.Unmarshal(keys, &sub.EncryptedKeys); err != nil {
		return models.Subscriber{}, fmt.Errorf("decode sealed keys: %w", err)
	}
	sub.Tags = tags
	if last.Valid {
		t := last.Time
		sub.LastNotifiedAt = &t
	}
	return sub, nil
}
