package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"invasion-viewer/config"
	"invasion-viewer/models"

	"github.com/apex/log"
	_ "github.com/go-sql-driver/mysql"
)

func mysqlAddress(cfg *config.Config) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
}

// DBConnect opens the MySQL pool and checks it is reachable, retrying a few
// times while the database starts up.
func DBConnect(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("mysql", mysqlAddress(cfg))
	if err != nil {
		log.Errorf("Failed to connect to the database: %v", err)
		return nil, err
	}
	db.SetConnMaxLifetime(time.Minute * 3)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)

	for attempt := 1; ; attempt++ {
		err = db.PingContext(ctx)
		if err == nil {
			break
		}
		if attempt == 5 {
			db.Close()
			return nil, fmt.Errorf("database not reachable after %d attempts: %w", attempt, err)
		}
		log.Warnf("Database ping %d failed: %v", attempt, err)
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	log.Info("Established db connection.")
	return db, nil
}

// SnapshotService persists the restorable part of sessions.
type SnapshotService struct {
	db *sql.DB
}

func NewSnapshotService(db *sql.DB) *SnapshotService {
	return &SnapshotService{db: db}
}

func (s *SnapshotService) Save(ctx context.Context, snap *models.SessionSnapshot) error {
	layers := snap.VisibleLayers
	if layers == nil {
		layers = []string{}
	}
	layersJSON, err := json.Marshal(layers)
	if err != nil {
		return fmt.Errorf("failed to marshal visible layers: %w", err)
	}
	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `INSERT
		INTO session_snapshots (session_id, region_id, visible_layers, updated_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE region_id = ?, visible_layers = ?, updated_at = ?`,
		snap.SessionID, snap.RegionID, string(layersJSON), updatedAt,
		snap.RegionID, string(layersJSON), updatedAt)
	logResult("saveSnapshot", result, err)
	if err != nil {
		return fmt.Errorf("failed to save snapshot of session %s: %w", snap.SessionID, err)
	}
	return nil
}

// Load returns models.ErrNotFound when the session has no snapshot.
func (s *SnapshotService) Load(ctx context.Context, sessionID string) (*models.SessionSnapshot, error) {
	var (
		snap       = models.SessionSnapshot{SessionID: sessionID}
		layersJSON sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT region_id, visible_layers, updated_at FROM session_snapshots WHERE session_id = ?`,
		sessionID).Scan(&snap.RegionID, &layersJSON, &snap.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: snapshot of session %s", models.ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot of session %s: %w", sessionID, err)
	}

	snap.VisibleLayers = []string{}
	if layersJSON.Valid && layersJSON.String != "" {
		if err := json.Unmarshal([]byte(layersJSON.String), &snap.VisibleLayers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal visible layers: %w", err)
		}
	}
	return &snap, nil
}

func (s *SnapshotService) Delete(ctx context.Context, sessionID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM session_snapshots WHERE session_id = ?`, sessionID)
	logResult("deleteSnapshot", result, err)
	return err
}

// Expire removes snapshots not updated since before and returns how many.
func (s *SnapshotService) Expire(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM session_snapshots WHERE updated_at < ?`, before)
	logResult("expireSnapshots", result, err)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func logResult(operation string, result sql.Result, err error) {
	if err != nil {
		log.Errorf("Error in %s: %v", operation, err)
		return
	}
	rowsAffected, _ := result.RowsAffected()
	log.Debugf("%s: %d rows affected", operation, rowsAffected)
}
