// Package engine orchestrates provider syncs for one project.
//
// # Overview
//
// A sync runs four steps:
//
//  1. Select - load the provider from the registry and validate its config
//  2. Discover - query the cluster or read the state document
//  3. Reconcile - merge the discovered entities into a copy of project state
//  4. Commit - write state and the provider's last sync time in one transaction
//
// Every sync is recorded as a sync run with its report as summary, and in
// the audit trail. Errors are returned as *SyncError with a class
// (connectivity, validation, conflict, internal) so callers can tell a bad
// config from an unreachable backend.
//
// # Usage
//
//	syncer, err := engine.NewSyncer(engine.Options{
//	    Project:        "demo",
//	    Store:          store,
//	    ClusterClients: engine.KubectlFactory(runner.New(0, 0), "kubectl"),
//	    StateLoader:    statebackend.NewBackendLoader(32<<20, time.Minute),
//	})
//	report, err := syncer.Sync(ctx, "k8s-prod")
//
// Curator covers the manual side: hosts, services, instances and groups an
// operator adds by hand, all tagged "manual" so no sync ever touches them.
package engine
