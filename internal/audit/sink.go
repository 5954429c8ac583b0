// internal/audit/sink.go

// Package audit records what was sent and what the client did with it.
// Writes are append-only and best-effort; a failed audit insert never
// fails the dispatch that produced it.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"push-dispatch/internal/common/logger"
)

// SendRecord summarizes one completed dispatch.
type SendRecord struct {
	NotificationID string
	Title          string
	Body           string
	Targeted       int
	Sent           int
	Failed         int
	Actor          string
}

// SendSummary is a stored send row as read back for the admin stats
// view.
type SendSummary struct {
	NotificationID string    `json:"notificationId"`
	Title          string    `json:"title"`
	Targeted       int       `json:"targeted"`
	Sent           int       `json:"sent"`
	Failed         int       `json:"failed"`
	Actor          string    `json:"actor"`
	SentAt         time.Time `json:"sentAt"`
}

// PostgresSink writes audit rows to the notification_sends and
// notification_clicks tables.
type PostgresSink struct {
	db  *sql.DB
	log logger.Logger
}

func NewPostgres(db *sql.DB, log logger.Logger) *PostgresSink {
	return &PostgresSink{db: db, log: log}
}

// RecordSend appends one send summary.
func (s *PostgresSink) RecordSend(ctx context.Context, rec SendRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_sends (notification_id, title, body, sent_to_count, successful_sends, failed_sends, sent_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.NotificationID, rec.Title, rec.Body, rec.Targeted, rec.Sent, rec.Failed, rec.Actor,
	)
	if err != nil {
		return fmt.Errorf("record send: %w", err)
	}
	return nil
}

// RecordClick appends one client notification interaction.
func (s *PostgresSink) RecordClick(ctx context.Context, endpoint, notificationID, action string) error {
	if action == "" {
		action = "click"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_clicks (endpoint, notification_id, action)
		VALUES ($1, $2, $3)`,
		endpoint, notificationID, action,
	)
	if err != nil {
		return fmt.Errorf("record click: %w", err)
	}
	return nil
}

// RecentSends returns the latest send summaries, newest first.
func (s *PostgresSink) RecentSends(ctx context.Context, limit int) ([]SendSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT notification_id, title, sent_to_count, successful_sends, failed_sends, COALESCE(sent_by, ''), sent_at
		FROM notification_sends
		ORDER BY sent_at DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent sends: %w", err)
	}
	defer rows.Close()

	summaries := []SendSummary{}
	for rows.Next() {
		var sum SendSummary
		if err := rows.Scan(&sum.NotificationID, &sum.Title, &sum.Targeted, &sum.Sent, &sum.Failed, &sum.Actor, &sum.SentAt); err != nil {
			return nil, fmt.Errorf("recent sends: %w", err)
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}
