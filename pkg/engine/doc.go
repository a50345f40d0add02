// Package engine is the reconciliation core of fleetrecon.
//
// # Overview
//
// Before a deployment is changed, the engine establishes what is actually
// running on every VM and checks it against the database:
//
//  1. Rename recovery - finish an operator-requested job rename (RenameCoordinator)
//  2. Release binding - delegated, run under the deployment's release lock
//  3. Orphan reaping - schedule VMs no instance owns for deletion (Reaper)
//  4. State collection - fetch, verify and migrate each VM's live state (Collector)
//  5. Remaining bind steps - delegated (templates, properties, stemcells, DNS, links)
//
// The Assembler runs these steps in order and stops at the first error.
//
// # State Collection
//
// The Collector fans out over a bounded pool of Plan.MaxThreads workers. Each
// worker runs the pipeline for one VM:
//
//	AgentGateway.FetchState -> Verifier.Verify -> Migrator.MigrateLegacyState
//
// Workers hand their outcome to the calling goroutine over a channel, so the
// result map has exactly one writer. Failed instances are left out of the
// result, or fail the whole collection under FailurePolicyAbort.
//
// # Verification
//
// Verification is an ordered list of named checks; the first failing check
// decides the error:
//
//	instance_vm_in_sync  -> OUT_OF_SYNC_INSTANCE_VM
//	state_is_mapping     -> INVALID_AGENT_STATE_FORMAT
//	deployment_matches   -> WRONG_DEPLOYMENT
//	no_unexpected_job    -> UNEXPECTED_JOB
//	job_matches          -> JOB_MISMATCH or RENAME_IN_PROGRESS
//
// Inconsistencies are permanent EngineErrors and match the Err* sentinels
// with errors.Is. Agent transport failures are transient (AGENT_TRANSPORT).
//
// # Collaborators
//
// Agent transport, persistence, deletion scheduling and locking are consumed
// through the AgentGateway, RecordStore, DeletionScheduler and LockManager
// interfaces. Records reference each other by identifier only.
package engine
