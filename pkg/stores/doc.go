// Package stores provides the persistence layer for fleetdeck.
//
// The SQLite store keeps every inventory entity as a JSON record addressed by
// (namespace, key), plus an append-only history of sync runs and an audit
// trail. Batches apply several record mutations in one transaction so a sync
// either commits completely or not at all.
package stores
