package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/apex/log"
)

// InitSchema creates the necessary database tables if they don't exist
func InitSchema(ctx context.Context, db *sql.DB) error {
	log.Info("Initializing invasion-viewer database schema...")

	snapshotsTableSQL := `
	CREATE TABLE IF NOT EXISTS session_snapshots(
		session_id CHAR(36) NOT NULL,
		region_id VARCHAR(255) NOT NULL DEFAULT '',
		visible_layers JSON,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (session_id),
		INDEX updated_at_index (updated_at)
	)`

	if _, err := db.ExecContext(ctx, snapshotsTableSQL); err != nil {
		return fmt.Errorf("failed to create session_snapshots table: %w", err)
	}
	log.Info("Session_snapshots table created/verified")

	return nil
}
