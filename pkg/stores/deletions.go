package stores

import (
	"context"
	"fmt"

	"github.com/fleetrecon/fleetrecon/pkg/engine"
)

// ScheduleForDeletion queues the VM for the asynchronous deleter. Scheduling
// a VM twice keeps the first entry.
func (s *SQLiteStore) ScheduleForDeletion(ctx context.Context, vm engine.VMRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vm_deletions (vm_id, cid, scheduled_at)
		VALUES (?, ?, ?)
		ON CONFLICT (vm_id) DO NOTHING
	`, vm.ID, vm.CID, s.now())
	if err != nil {
		return fmt.Errorf("failed to schedule vm %s for deletion: %w", vm.CID, err)
	}

	return nil
}

// ListDeletions returns the VMs waiting for deletion, oldest first.
func (s *SQLiteStore) ListDeletions(ctx context.Context) ([]Deletion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, vm_id, cid, scheduled_at
		FROM vm_deletions
		ORDER BY scheduled_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list deletions: %w", err)
	}
	defer rows.Close()

	deletions := []Deletion{}
	for rows.Next() {
		var d Deletion
		if err := rows.Scan(&d.ID, &d.VMID, &d.CID, &d.ScheduledAt); err != nil {
			return nil, fmt.Errorf("failed to scan deletion: %w", err)
		}
		deletions = append(deletions, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deletions: %w", err)
	}

	return deletions, nil
}

// CompleteDeletion removes a VM from the deletion queue.
func (s *SQLiteStore) CompleteDeletion(ctx context.Context, vmID engine.VMID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM vm_deletions WHERE vm_id = ?`, vmID)
	if err != nil {
		return fmt.Errorf("failed to complete deletion: %w", err)
	}

	return expectRow(result, "deletion of vm", int64(vmID))
}
