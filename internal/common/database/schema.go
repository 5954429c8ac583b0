// internal/common/database/schema.go
package database

import (
	"context"
	"fmt"
	"strings"
)

// initSchema is the bootstrap DDL for the service. Statements are
// idempotent so EnsureSchema is safe to run on every start.
const initSchema = `
CREATE EXTENSION IF NOT EXISTS "uuid-ossp";

CREATE TABLE IF NOT EXISTS subscriptions (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    endpoint TEXT UNIQUE NOT NULL,
    encrypted_keys JSONB NOT NULL,
    origin TEXT,
    user_agent TEXT,
    device_type VARCHAR(20),
    tags TEXT[] DEFAULT '{}',
    status VARCHAR(20) DEFAULT 'active',
    created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
    last_seen_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
    last_notification_at TIMESTAMP WITH TIME ZONE,
    unsubscribed_at TIMESTAMP WITH TIME ZONE
);

CREATE TABLE IF NOT EXISTS admin_users (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    username VARCHAR(100) UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    role VARCHAR(20) DEFAULT 'admin',
    created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
    last_login_at TIMESTAMP WITH TIME ZONE
);

CREATE TABLE IF NOT EXISTS notification_sends (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    notification_id VARCHAR(100) NOT NULL,
    title TEXT NOT NULL,
    body TEXT,
    sent_to_count INTEGER DEFAULT 0,
    successful_sends INTEGER DEFAULT 0,
    failed_sends INTEGER DEFAULT 0,
    sent_by VARCHAR(100),
    sent_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS notification_clicks (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    endpoint TEXT NOT NULL,
    notification_id VARCHAR(100),
    action VARCHAR(50) DEFAULT 'click',
    clicked_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_subscriptions_status ON subscriptions(status);
CREATE INDEX IF NOT EXISTS idx_subscriptions_endpoint ON subscriptions(endpoint);
CREATE INDEX IF NOT EXISTS idx_admin_users_username ON admin_users(username);
CREATE INDEX IF NOT EXISTS idx_notification_clicks_endpoint ON notification_clicks(endpoint);
CREATE INDEX IF NOT EXISTS idx_notification_sends_sent_at ON notification_sends(sent_at);
`

// EnsureSchema creates the service tables and indexes if they do not
// exist. Called explicitly from main, not from a hidden init path.
func (c *PostgresClient) EnsureSchema(ctx context.Context) error {
	statements := strings.Split(initSchema, ";")
	for i, statement := range statements {
		stmt := strings.TrimSpace(statement)
		if stmt == "" {
			continue
		}
		if _, err := c.DB.ExecContext(ctx, stmt); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("schema statement %d failed: %w", i+1, err)
		}
	}
	return nil
}

// AdminPasswordHash returns the stored bcrypt hash for an admin user.
// sql.ErrNoRows passes through for an unknown username.
func (c *PostgresClient) AdminPasswordHash(ctx context.Context, username string) (string, error) {
	var hash string
	err := c.DB.QueryRowContext(ctx,
		`SELECT password_hash FROM admin_users WHERE username = $1`,
		username,
	).Scan(&hash)
	return hash, err
}

// SyncAdminPassword upserts the admin user so the stored hash always
// matches the deployment's ADMIN_PASSWORD_HASH.
func (c *PostgresClient) SyncAdminPassword(ctx context.Context, username, passwordHash string) error {
	if passwordHash == "" {
		return nil
	}
	_, err := c.DB.ExecContext(ctx, `
		INSERT INTO admin_users (username, password_hash, role)
		VALUES ($1, $2, 'admin')
		ON CONFLICT (username) DO UPDATE SET password_hash = EXCLUDED.password_hash`,
		username, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("sync admin password: %w", err)
	}
	return nil
}
