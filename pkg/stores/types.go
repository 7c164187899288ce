package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record, sync run or audit entry does not exist.
var ErrNotFound = errors.New("not found")

// SyncStatus represents the status of a sync run
type SyncStatus string

const (
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

// Record is a single key-value entry. Value is a JSON blob.
type Record struct {
	Namespace string    `json:"namespace"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SyncRun records one invocation of a provider sync.
type SyncRun struct {
	ID          string     `json:"id"`
	Project     string     `json:"project"`
	Provider    string     `json:"provider"`
	Status      SyncStatus `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Summary     string     `json:"summary"` // JSON blob
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"` // e.g. "provider.sync", "provider.assign"
	Actor     string    `json:"actor"`
	TargetID  *string   `json:"target_id,omitempty"`
	Details   *string   `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

type batchOpKind int

const (
	opPut batchOpKind = iota
	opDelete
	opReplace
)

type batchOp struct {
	kind      batchOpKind
	namespace string
	key       string
	value     string
	records   map[string]string
}

// Batch collects record mutations that are applied atomically by Store.Apply.
// Operations run in the order they were added.
type Batch struct {
	ops []batchOp
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Put upserts a record.
func (b *Batch) Put(namespace, key, value string) *Batch {
	b.ops = append(b.ops, batchOp{kind: opPut, namespace: namespace, key: key, value: value})
	return b
}

// Delete removes a record if it exists.
func (b *Batch) Delete(namespace, key string) *Batch {
	b.ops = append(b.ops, batchOp{kind: opDelete, namespace: namespace, key: key})
	return b
}

// ReplaceNamespace makes the namespace contain exactly the given key/value
// pairs. Records that survive keep their created_at timestamp.
func (b *Batch) ReplaceNamespace(namespace string, records map[string]string) *Batch {
	copied := make(map[string]string, len(records))
	for k, v := range records {
		copied[k] = v
	}
	b.ops = append(b.ops, batchOp{kind: opReplace, namespace: namespace, records: copied})
	return b
}

// Len returns the number of queued operations.
func (b *Batch) Len() int {
	return len(b.ops)
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Record operations
	GetRecord(ctx context.Context, namespace, key string) (*Record, error)
	ListRecords(ctx context.Context, namespace string) ([]*Record, error)
	PutRecord(ctx context.Context, namespace, key, value string) error
	DeleteRecord(ctx context.Context, namespace, key string) error
	Apply(ctx context.Context, batch *Batch) error

	// Sync run operations
	CreateSyncRun(ctx context.Context, run *SyncRun) error
	CompleteSyncRun(ctx context.Context, id string, status SyncStatus, errMsg *string, summary string) error
	ListSyncRuns(ctx context.Context, project, provider string, limit int) ([]*SyncRun, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
