package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/emirozbir/alertflow/internal/enrichment"
	"github.com/emirozbir/alertflow/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS alerts (
	tenant_id TEXT NOT NULL,
	event_id TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	provider_id TEXT NOT NULL DEFAULT '',
	provider_type TEXT NOT NULL,
	last_received DATETIME NOT NULL,
	alert_json TEXT NOT NULL,
	PRIMARY KEY (tenant_id, event_id)
);

CREATE INDEX IF NOT EXISTS idx_alerts_tenant_received ON alerts(tenant_id, last_received DESC);
CREATE INDEX IF NOT EXISTS idx_alerts_tenant_fingerprint ON alerts(tenant_id, fingerprint);

CREATE TABLE IF NOT EXISTS enrichments (
	tenant_id TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	enrichments_json TEXT NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (tenant_id, fingerprint)
);
`

// DB stores ingested alerts and their enrichments. It implements
// enrichment.Store.
type DB struct {
	conn *sql.DB
}

var _ enrichment.Store = (*DB)(nil)

// New creates a new database connection and initializes the schema
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would get its own empty database.
		conn.SetMaxOpenConns(1)
	}

	// Enable foreign keys and WAL mode for better performance
	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Create schema
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the connection is usable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// SaveAlert stores alert for tenantID, replacing an earlier copy of the same
// event of the same tenant.
func (db *DB) SaveAlert(ctx context.Context, tenantID, providerType string, alert *models.Alert) error {
	alertJSON, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	query := `
		INSERT INTO alerts (
			event_id, tenant_id, fingerprint, provider_id, provider_type,
			last_received, alert_json
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, event_id)
		DO UPDATE SET
			fingerprint = excluded.fingerprint,
			provider_id = excluded.provider_id,
			provider_type = excluded.provider_type,
			last_received = excluded.last_received,
			alert_json = excluded.alert_json
	`

	_, err = db.conn.ExecContext(ctx, query,
		alert.EventID,
		tenantID,
		alert.Fingerprint,
		alert.ProviderID,
		providerType,
		alert.LastReceived.UTC(),
		string(alertJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// ListAlerts returns the newest alerts of tenantID, newest first.
func (db *DB) ListAlerts(ctx context.Context, tenantID string, limit int) ([]*models.Alert, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `
		SELECT alert_json
		FROM alerts
		WHERE tenant_id = ?
		ORDER BY last_received DESC
		LIMIT ?
	`

	rows, err := db.conn.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		var alertJSON string
		if err := rows.Scan(&alertJSON); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		var alert models.Alert
		if err := json.Unmarshal([]byte(alertJSON), &alert); err != nil {
			return nil, fmt.Errorf("failed to unmarshal alert: %w", err)
		}
		alerts = append(alerts, &alert)
	}

	return alerts, rows.Err()
}

// CountAlerts returns the number of alerts stored for tenantID.
func (db *DB) CountAlerts(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts WHERE tenant_id = ?", tenantID).Scan(&count)
	return count, err
}

// EnrichAlert merges fields into the stored enrichments of fingerprint.
// Keys in fields replace existing keys; other keys are kept.
func (db *DB) EnrichAlert(ctx context.Context, tenantID, fingerprint string, fields map[string]any) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	merged := make(map[string]any, len(fields))
	var existing string
	err = tx.QueryRowContext(ctx,
		"SELECT enrichments_json FROM enrichments WHERE tenant_id = ? AND fingerprint = ?",
		tenantID, fingerprint,
	).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("failed to query enrichments: %w", err)
	default:
		if err := json.Unmarshal([]byte(existing), &merged); err != nil {
			return fmt.Errorf("failed to unmarshal enrichments: %w", err)
		}
	}
	for k, v := range fields {
		merged[k] = v
	}

	enrichmentsJSON, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to marshal enrichments: %w", err)
	}

	query := `
		INSERT INTO enrichments (tenant_id, fingerprint, enrichments_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, fingerprint)
		DO UPDATE SET
			enrichments_json = excluded.enrichments_json,
			updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, query, tenantID, fingerprint, string(enrichmentsJSON), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to upsert enrichments: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit enrichments: %w", err)
	}
	return nil
}

// GetEnrichments returns the records stored for fingerprints, ordered by
// fingerprint. Fingerprints without enrichments are absent.
func (db *DB) GetEnrichments(ctx context.Context, tenantID string, fingerprints []string) ([]enrichment.Record, error) {
	if len(fingerprints) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(fingerprints)+1)
	args = append(args, tenantID)
	for _, fp := range fingerprints {
		args = append(args, fp)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(fingerprints)), ",")

	query := `
		SELECT fingerprint, enrichments_json
		FROM enrichments
		WHERE tenant_id = ? AND fingerprint IN (` + placeholders + `)
		ORDER BY fingerprint
	`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrichments: %w", err)
	}
	defer rows.Close()

	var records []enrichment.Record
	for rows.Next() {
		var (
			rec             enrichment.Record
			enrichmentsJSON string
		)
		if err := rows.Scan(&rec.Fingerprint, &enrichmentsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(enrichmentsJSON), &rec.Enrichments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal enrichments: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}
