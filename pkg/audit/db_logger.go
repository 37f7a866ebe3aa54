package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// DBLogger implements audit logging to PostgreSQL
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger and ensures its table exists
func NewDBLogger(ctx context.Context, db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}
	if err := logger.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure authz_audit_log table: %w", err)
	}
	return logger, nil
}

// ensureTable creates the authz_audit_log table if it doesn't exist
func (l *DBLogger) ensureTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS authz_audit_log (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		kind VARCHAR(40) NOT NULL,
		severity VARCHAR(20) NOT NULL,
		tenant_id VARCHAR(64) NOT NULL DEFAULT '',
		user_id VARCHAR(255) NOT NULL DEFAULT '',
		permission VARCHAR(100) NOT NULL DEFAULT '',
		result VARCHAR(10) NOT NULL,
		reason VARCHAR(64) NOT NULL DEFAULT '',
		source VARCHAR(20) NOT NULL DEFAULT '',
		ip_address VARCHAR(45) NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		correlation_id VARCHAR(100) NOT NULL DEFAULT '',
		metadata JSONB
	);

	CREATE INDEX IF NOT EXISTS idx_authz_audit_log_tenant_time ON authz_audit_log(tenant_id, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_authz_audit_log_user ON authz_audit_log(tenant_id, user_id);
	CREATE INDEX IF NOT EXISTS idx_authz_audit_log_correlation ON authz_audit_log(correlation_id);
	`

	_, err := l.db.ExecContext(ctx, query)
	return err
}

// Log appends an event. The row is never updated afterwards.
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid audit event: %w", err)
	}
	event.normalize()

	var metadata []byte
	if len(event.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO authz_audit_log (
			timestamp, kind, severity,
			tenant_id, user_id, permission,
			result, reason, source,
			ip_address, user_agent, correlation_id,
			metadata
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8, $9,
			$10, $11, $12,
			$13
		) RETURNING id
	`

	err := l.db.QueryRowContext(ctx, query,
		event.Timestamp, string(event.Kind), string(event.Severity),
		event.TenantID, event.UserID, event.Permission,
		string(event.Result), event.Reason, event.Source,
		event.IPAddress, event.UserAgent, event.CorrelationID,
		metadata,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Search returns events of filter.TenantID, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	if filter.TenantID == "" {
		return nil, ErrTenantRequired
	}

	query := `
		SELECT
			id, timestamp, kind, severity,
			tenant_id, user_id, permission,
			result, reason, source,
			ip_address, user_agent, correlation_id,
			metadata
		FROM authz_audit_log
		WHERE tenant_id = $1
	`
	args := []interface{}{filter.TenantID}
	argCount := 2

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, filter.UserID)
		argCount++
	}

	if len(filter.Kinds) > 0 {
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = string(k)
		}
		query += fmt.Sprintf(" AND kind = ANY($%d)", argCount)
		args = append(args, pq.Array(kinds))
		argCount++
	}

	if filter.Result != "" {
		query += fmt.Sprintf(" AND result = $%d", argCount)
		args = append(args, string(filter.Result))
		argCount++
	}

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}

	query += fmt.Sprintf(" ORDER BY timestamp DESC, id DESC LIMIT $%d", argCount)
	args = append(args, filter.effectiveLimit())
	argCount++

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		event := &Event{}
		var kind, severity, result string
		var metadata []byte

		err := rows.Scan(
			&event.ID, &event.Timestamp, &kind, &severity,
			&event.TenantID, &event.UserID, &event.Permission,
			&result, &event.Reason, &event.Source,
			&event.IPAddress, &event.UserAgent, &event.CorrelationID,
			&metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.Kind = Kind(kind)
		event.Severity = Severity(severity)
		event.Result = Result(result)

		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}

	return events, nil
}

// Close is a no-op: the pool is shared with the store
func (l *DBLogger) Close() error {
	return nil
}
