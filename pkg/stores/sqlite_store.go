package stores

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/fleetrecon/fleetrecon/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const memoryPath = ":memory:"

// SQLiteStore implements engine.RecordStore, engine.DeletionScheduler and
// engine.LockManager on top of SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config

	// now is replaced in tests.
	now func() time.Time
}

var (
	_ engine.RecordStore       = (*SQLiteStore)(nil)
	_ engine.DeletionScheduler = (*SQLiteStore)(nil)
	_ engine.LockManager       = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens a separate database.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg: cfg,
		now: time.Now,
	}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// CreateDeployment inserts a deployment and returns it with its identifier.
func (s *SQLiteStore) CreateDeployment(ctx context.Context, name string) (*engine.Deployment, error) {
	result, err := s.db.ExecContext(ctx, `INSERT INTO deployments (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create deployment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment ID: %w", err)
	}

	return &engine.Deployment{ID: engine.DeploymentID(id), Name: name}, nil
}

// GetDeploymentByName looks a deployment up by its unique name.
func (s *SQLiteStore) GetDeploymentByName(ctx context.Context, name string) (*engine.Deployment, error) {
	d := &engine.Deployment{}
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM deployments WHERE name = ?`, name).Scan(&d.ID, &d.Name)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("deployment %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}

	return d, nil
}

// CreateVM inserts a VM record. The instance binding lives on the instance.
func (s *SQLiteStore) CreateVM(ctx context.Context, vm *engine.VMRecord) error {
	spec, err := encodeApplySpec(vm.ApplySpec)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO vms (deployment_id, cid, agent_id, address, apply_spec)
		VALUES (?, ?, ?, ?, ?)
	`, vm.DeploymentID, vm.CID, vm.AgentID, vm.Address, spec)
	if err != nil {
		return fmt.Errorf("failed to create vm: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get vm ID: %w", err)
	}

	vm.ID = engine.VMID(id)
	return nil
}

// CreateInstance inserts an instance record, bound to inst.VMID if set.
func (s *SQLiteStore) CreateInstance(ctx context.Context, inst *engine.InstanceRecord) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (deployment_id, job, idx, vm_id)
		VALUES (?, ?, ?, ?)
	`, inst.DeploymentID, inst.Job, inst.Index, nullableID(inst.VMID))
	if err != nil {
		return fmt.Errorf("failed to create instance: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get instance ID: %w", err)
	}

	inst.ID = engine.InstanceID(id)
	return nil
}

// CreateDisk inserts a persistent disk record.
func (s *SQLiteStore) CreateDisk(ctx context.Context, disk *engine.PersistentDisk) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO persistent_disks (instance_id, disk_cid, size, active)
		VALUES (?, ?, ?, ?)
	`, disk.InstanceID, disk.DiskCID, disk.Size, disk.Active)
	if err != nil {
		return fmt.Errorf("failed to create persistent disk: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get persistent disk ID: %w", err)
	}

	disk.ID = engine.DiskID(id)
	return nil
}

const instanceColumns = `
	i.id, i.deployment_id, i.job, i.idx, i.vm_id,
	(SELECT d.id FROM persistent_disks d
	  WHERE d.instance_id = i.id AND d.active = 1
	  ORDER BY d.id DESC LIMIT 1)
`

// ListInstances returns every instance of the deployment ordered by ID.
func (s *SQLiteStore) ListInstances(ctx context.Context, deployment engine.DeploymentID) ([]engine.InstanceRecord, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances i WHERE i.deployment_id = ? ORDER BY i.id`

	rows, err := s.db.QueryContext(ctx, query, deployment)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	instances := []engine.InstanceRecord{}
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, *inst)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}

// GetInstance retrieves an instance by ID
func (s *SQLiteStore) GetInstance(ctx context.Context, id engine.InstanceID) (*engine.InstanceRecord, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances i WHERE i.id = ?`

	inst, err := scanInstance(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("instance %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	return inst, nil
}

// UpdateInstanceJob sets the job name of an instance.
func (s *SQLiteStore) UpdateInstanceJob(ctx context.Context, id engine.InstanceID, job string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE instances SET job = ?, updated_at = ? WHERE id = ?
	`, job, s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to update instance job: %w", err)
	}

	return expectRow(result, "instance", int64(id))
}

const vmColumns = `v.id, v.deployment_id, v.cid, v.agent_id, v.address, v.apply_spec, i.id`

// ListVMs returns every VM of the deployment ordered by ID. The owning
// instance is resolved through instances.vm_id.
func (s *SQLiteStore) ListVMs(ctx context.Context, deployment engine.DeploymentID) ([]engine.VMRecord, error) {
	query := `
		SELECT ` + vmColumns + `
		FROM vms v LEFT JOIN instances i ON i.vm_id = v.id
		WHERE v.deployment_id = ?
		ORDER BY v.id
	`

	rows, err := s.db.QueryContext(ctx, query, deployment)
	if err != nil {
		return nil, fmt.Errorf("failed to list vms: %w", err)
	}
	defer rows.Close()

	vms := []engine.VMRecord{}
	for rows.Next() {
		vm, err := scanVM(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vm: %w", err)
		}
		vms = append(vms, *vm)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vms: %w", err)
	}

	return vms, nil
}

// GetVM retrieves a VM by ID
func (s *SQLiteStore) GetVM(ctx context.Context, id engine.VMID) (*engine.VMRecord, error) {
	query := `
		SELECT ` + vmColumns + `
		FROM vms v LEFT JOIN instances i ON i.vm_id = v.id
		WHERE v.id = ?
	`

	vm, err := scanVM(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("vm %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vm: %w", err)
	}

	return vm, nil
}

// UpdateVMApplySpec persists spec as the VM's apply spec.
func (s *SQLiteStore) UpdateVMApplySpec(ctx context.Context, id engine.VMID, spec engine.ReportedState) error {
	encoded, err := encodeApplySpec(spec)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE vms SET apply_spec = ?, updated_at = ? WHERE id = ?
	`, encoded, s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to update vm apply spec: %w", err)
	}

	return expectRow(result, "vm", int64(id))
}

// GetDisk retrieves a persistent disk by ID
func (s *SQLiteStore) GetDisk(ctx context.Context, id engine.DiskID) (*engine.PersistentDisk, error) {
	disk := &engine.PersistentDisk{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, instance_id, disk_cid, size, active
		FROM persistent_disks
		WHERE id = ?
	`, id).Scan(&disk.ID, &disk.InstanceID, &disk.DiskCID, &disk.Size, &disk.Active)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("persistent disk %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get persistent disk: %w", err)
	}

	return disk, nil
}

// BackfillDiskSize sets the disk size only while the recorded size is zero,
// so a concurrent or repeated backfill never overwrites a real size.
func (s *SQLiteStore) BackfillDiskSize(ctx context.Context, id engine.DiskID, size int) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE persistent_disks SET size = ? WHERE id = ? AND size = 0
	`, size, id)
	if err != nil {
		return false, fmt.Errorf("failed to backfill disk size: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return true, nil
	}

	// Distinguish a missing disk from one that already has a size.
	if _, err := s.GetDisk(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*engine.InstanceRecord, error) {
	var (
		inst   engine.InstanceRecord
		vmID   sql.NullInt64
		diskID sql.NullInt64
	)
	if err := row.Scan(&inst.ID, &inst.DeploymentID, &inst.Job, &inst.Index, &vmID, &diskID); err != nil {
		return nil, err
	}
	if vmID.Valid {
		id := engine.VMID(vmID.Int64)
		inst.VMID = &id
	}
	if diskID.Valid {
		id := engine.DiskID(diskID.Int64)
		inst.DiskID = &id
	}
	return &inst, nil
}

func scanVM(row rowScanner) (*engine.VMRecord, error) {
	var (
		vm         engine.VMRecord
		applySpec  sql.NullString
		instanceID sql.NullInt64
	)
	if err := row.Scan(&vm.ID, &vm.DeploymentID, &vm.CID, &vm.AgentID, &vm.Address, &applySpec, &instanceID); err != nil {
		return nil, err
	}
	if applySpec.Valid {
		spec, err := decodeApplySpec(applySpec.String)
		if err != nil {
			return nil, fmt.Errorf("vm %s: %w", vm.CID, err)
		}
		vm.ApplySpec = spec
	}
	if instanceID.Valid {
		id := engine.InstanceID(instanceID.Int64)
		vm.InstanceID = &id
	}
	return &vm, nil
}

func encodeApplySpec(spec engine.ReportedState) (*string, error) {
	if spec == nil {
		return nil, nil
	}
	data, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode apply spec: %w", err)
	}
	encoded := string(data)
	return &encoded, nil
}

// decodeApplySpec keeps numbers as json.Number, the way agent replies are
// decoded.
func decodeApplySpec(data string) (engine.ReportedState, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()

	var spec map[string]any
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("failed to decode apply spec: %w", err)
	}
	return engine.ReportedState(spec), nil
}

func nullableID[T ~int64](id *T) any {
	if id == nil {
		return nil
	}
	return int64(*id)
}

func expectRow(result sql.Result, kind string, id int64) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}

	return nil
}
