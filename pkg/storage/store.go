package storage

import "errors"

// DataType partitions tenant data by kind; one bolt bucket per type
type DataType string

const (
	DataTypeMonitoring    DataType = "MONITORING_DATA"
	DataTypeConfiguration DataType = "CONFIGURATION"
	DataTypeSLA           DataType = "SLA_DATA"
	DataTypeFailover      DataType = "FAILOVER_DATA"
)

// SystemNest is the reserved namespace for platform-owned rows such as
// failover endpoints. It is never exposed to tenant reads.
const SystemNest = "system"

var (
	// ErrStoreUnavailable signals a transient store failure; callers decide retry
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound signals a missing row where presence was required
	ErrNotFound = errors.New("not found")
)

// Store is the tenant data store: a namespaced, typed key/value interface.
// Every row is addressed by (nestID, dataType, key); values are JSON.
// All persistence in the core flows through this interface.
type Store interface {
	// Put upserts a value. The write is durable before return.
	Put(nestID string, dataType DataType, key string, value any) error

	// Get unmarshals the value for key into out and reports whether it existed.
	Get(nestID string, dataType DataType, key string, out any) (bool, error)

	// Delete removes the value for key. Deleting a missing key is not an error.
	Delete(nestID string, dataType DataType, key string) error

	// ListByType returns the raw JSON values for every key in the namespace,
	// unordered, keyed by logical key.
	ListByType(nestID string, dataType DataType) (map[string][]byte, error)

	// ListKeys returns the logical keys in the namespace with the given prefix.
	ListKeys(nestID string, dataType DataType, prefix string) ([]string, error)

	// Close releases the underlying database
	Close() error
}
