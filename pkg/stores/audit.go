package stores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fleetrecon/fleetrecon/pkg/telemetry"
)

// AuditedEvents are the event types AuditSubscriber persists.
var AuditedEvents = []string{
	telemetry.EventTypeVMScheduledDeletion,
	telemetry.EventTypeInstanceRenamed,
	telemetry.EventTypePreparationCompleted,
	telemetry.EventTypePreparationFailed,
}

// CreateAuditEntry creates a new audit log entry
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO audit (action, actor, deployment, target_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		entry.Action,
		entry.Actor,
		entry.Deployment,
		entry.TargetID,
		entry.Details,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries with optional filters and pagination,
// newest first.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, deployment *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, actor, deployment, target_id, details, timestamp
		FROM audit
		WHERE (? IS NULL OR action = ?)
		  AND (? IS NULL OR deployment = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, action, action, deployment, deployment, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.Deployment,
			&entry.TargetID,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// AuditSubscriber returns an event subscriber that records reaps, renames and
// preparation outcomes of one deployment in the audit log. Write failures
// are logged.
func (s *SQLiteStore) AuditSubscriber(ctx context.Context, deployment, actor string, logger *telemetry.Logger) (telemetry.EventSubscriber, telemetry.EventFilter) {
	if logger == nil {
		logger = telemetry.NopLogger()
	}

	subscriber := func(event telemetry.Event) {
		entry := &AuditEntry{
			Action:     event.Type,
			Actor:      actor,
			Deployment: event.Deployment,
			Timestamp:  event.Timestamp,
		}
		if event.Resource != "" {
			target := event.Resource
			entry.TargetID = &target
		}
		if len(event.Data) > 0 {
			data, err := json.Marshal(event.Data)
			if err == nil {
				details := string(data)
				entry.Details = &details
			}
		}

		if err := s.CreateAuditEntry(ctx, entry); err != nil {
			logger.WithError(err).WithField("event_type", event.Type).Warn("Failed to write audit entry")
		}
	}

	return subscriber, telemetry.AllOf(
		telemetry.FilterByType(AuditedEvents...),
		telemetry.FilterByDeployment(deployment),
	)
}
