// Package stores provides the SQLite persistence layer for fleetrecon.
// It holds deployments, VMs, instances and persistent disks, the queue of
// VMs scheduled for deletion, named locks and the audit log. SQLiteStore
// implements engine.RecordStore, engine.DeletionScheduler and
// engine.LockManager.
package stores
