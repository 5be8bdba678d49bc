package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DBLogger implements audit logging to PostgreSQL. The table is strictly
// append-only: the logger exposes no update or delete path.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{
		db: db,
	}

	// Ensure the audit_logs table exists
	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}

	return logger, nil
}

// ensureTable creates the audit_logs table if it doesn't exist
func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		actor_id UUID NOT NULL,
		target_id VARCHAR(255) NOT NULL,
		action_type VARCHAR(100) NOT NULL,
		old_value JSONB,
		new_value JSONB,
		blocked BOOLEAN NOT NULL DEFAULT FALSE,
		ip_address VARCHAR(45),
		user_agent TEXT,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	-- Create indexes for common query patterns
	CREATE INDEX IF NOT EXISTS idx_audit_logs_target_id ON audit_logs(target_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_actor_id ON audit_logs(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_action_type ON audit_logs(action_type);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_blocked ON audit_logs(blocked);
	`

	_, err := l.db.Exec(query)
	return err
}

// Record appends one audit event row.
func (l *DBLogger) Record(ctx context.Context, event *Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_logs (
			actor_id, target_id, action_type,
			old_value, new_value, blocked,
			ip_address, user_agent, created_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8, $9
		) RETURNING id
	`

	var oldValue, newValue interface{}
	if len(event.OldValue) > 0 {
		oldValue = []byte(event.OldValue)
	}
	if len(event.NewValue) > 0 {
		newValue = []byte(event.NewValue)
	}

	err := l.db.QueryRowContext(ctx, query,
		event.ActorID, event.TargetID, event.ActionType,
		oldValue, newValue, event.Blocked,
		event.IPAddress, event.UserAgent, event.CreatedAt,
	).Scan(&event.ID)

	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// Search retrieves audit events based on filters
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	query := `
		SELECT
			id, actor_id, target_id, action_type,
			old_value, new_value, blocked,
			ip_address, user_agent, created_at
		FROM audit_logs
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}

	if filter.ActorID != nil {
		query += fmt.Sprintf(" AND actor_id = $%d", argCount)
		args = append(args, *filter.ActorID)
		argCount++
	}

	if filter.TargetID != "" {
		query += fmt.Sprintf(" AND target_id = $%d", argCount)
		args = append(args, filter.TargetID)
		argCount++
	}

	if len(filter.ActionTypes) > 0 {
		query += fmt.Sprintf(" AND action_type = ANY($%d)", argCount)
		actionTypeStrs := make([]string, len(filter.ActionTypes))
		for i, at := range filter.ActionTypes {
			actionTypeStrs[i] = string(at)
		}
		args = append(args, pq.Array(actionTypeStrs))
		argCount++
	}

	if filter.Blocked != nil {
		query += fmt.Sprintf(" AND blocked = $%d", argCount)
		args = append(args, *filter.Blocked)
		argCount++
	}

	order := "DESC"
	if filter.SortOrder == "asc" {
		order = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY created_at %s", order)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		event := &Event{}

		var oldValue, newValue []byte
		var ipAddress, userAgent sql.NullString

		err := rows.Scan(
			&event.ID, &event.ActorID, &event.TargetID, &event.ActionType,
			&oldValue, &newValue, &event.Blocked,
			&ipAddress, &userAgent, &event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		event.OldValue = oldValue
		event.NewValue = newValue
		event.IPAddress = ipAddress.String
		event.UserAgent = userAgent.String

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return events, nil
}

// GetStats retrieves audit log statistics
func (l *DBLogger) GetStats(ctx context.Context, startTime, endTime *time.Time) (*Stats, error) {
	stats := &Stats{
		ByActionType: make(map[ActionType]int64),
	}

	whereClause := " WHERE 1=1"
	args := []interface{}{}
	argCount := 1

	if startTime != nil {
		whereClause += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *startTime)
		argCount++
	}
	if endTime != nil {
		whereClause += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *endTime)
	}

	totalsQuery := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE blocked)
		FROM audit_logs` + whereClause
	err := l.db.QueryRowContext(ctx, totalsQuery, args...).Scan(&stats.TotalEvents, &stats.BlockedEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit totals: %w", err)
	}

	byTypeQuery := `
		SELECT action_type, COUNT(*)
		FROM audit_logs` + whereClause + `
		GROUP BY action_type`
	rows, err := l.db.QueryContext(ctx, byTypeQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit stats by action type: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var actionType ActionType
		var count int64
		if err := rows.Scan(&actionType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan audit stats: %w", err)
		}
		stats.ByActionType[actionType] = count
	}

	return stats, rows.Err()
}
