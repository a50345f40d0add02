package stores

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fleetrecon/fleetrecon/pkg/engine"
)

// WithLock acquires the named lock for at most ttl, runs fn and releases the
// lock. Expired locks are taken over. A live lock held by another owner
// yields a conflict error with code LOCK_HELD.
func (s *SQLiteStore) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(context.Context) error) error {
	owner := uuid.NewString()

	if err := s.acquireLock(ctx, name, owner, ttl); err != nil {
		return err
	}

	defer func() {
		// Release even when ctx was cancelled by fn's caller.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = s.releaseLock(releaseCtx, name, owner)
	}()

	return fn(ctx)
}

// GetLock returns the current holder of a lock.
func (s *SQLiteStore) GetLock(ctx context.Context, name string) (*LockInfo, error) {
	var (
		info      LockInfo
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT name, owner, expires_at FROM locks WHERE name = ?
	`, name).Scan(&info.Name, &info.Owner, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("lock %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lock: %w", err)
	}

	info.ExpiresAt = time.UnixMilli(expiresAt)
	return &info, nil
}

func (s *SQLiteStore) acquireLock(ctx context.Context, name, owner string, ttl time.Duration) error {
	now := s.now()

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin lock transaction: %w", err)
	}
	defer func() { _ = s.RollbackTx(tx) }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM locks WHERE name = ? AND expires_at <= ?
	`, name, now.UnixMilli()); err != nil {
		return fmt.Errorf("failed to expire lock: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO locks (name, owner, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO NOTHING
	`, name, owner, now.UnixMilli(), now.Add(ttl).UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		var holder string
		var expiresAt int64
		if err := tx.QueryRowContext(ctx, `
			SELECT owner, expires_at FROM locks WHERE name = ?
		`, name).Scan(&holder, &expiresAt); err != nil {
			return fmt.Errorf("failed to read lock holder: %w", err)
		}
		return engine.NewConflictError(fmt.Sprintf("lock %s is held", name), nil).
			WithCode(engine.ErrCodeLockHeld).
			WithResource(name).
			WithOperation("acquire_lock").
			WithDetail("owner", holder).
			WithDetail("expires_at", time.UnixMilli(expiresAt).UTC().Format(time.RFC3339))
	}

	if err := s.CommitTx(tx); err != nil {
		return fmt.Errorf("failed to commit lock: %w", err)
	}

	return nil
}

func (s *SQLiteStore) releaseLock(ctx context.Context, name, owner string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM locks WHERE name = ? AND owner = ?
	`, name, owner); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
