// Package storage implements the relational backend abstraction described
// in spec §4.2: schema, per-user shard selection, collection-id interning,
// batch upsert, range queries with stable ordering, and TTL filtering.
//
// Two concrete backends are provided: MySQL (mysql.go) for production, and
// an embedded cznic/ql database (ql.go) for local development and tests —
// the same split bendo draws between server/db_mysql.go and
// server/db_ql.go.
package storage

import (
	"errors"

	"github.com/weaveserver/syncstorage/bso"
	"github.com/weaveserver/syncstorage/clock"
)

// Sort orders supported by Query, per spec §4.1's filter-set table.
const (
	SortNone   = ""
	SortOldest = "oldest"
	SortNewest = "newest"
	SortIndex  = "index"
)

// Query is the filter set accepted by GetBSOs/DeleteItems (spec §4.1).
type Query struct {
	IDs    []string
	Newer  *clock.Timestamp // strictly greater than
	Older  *clock.Timestamp // strictly less than
	Sort   string
	Limit  int
	Offset string // opaque continuation token, see offset.go
	Full   bool
}

// Precondition carries an optional If-Unmodified-Since check that must be
// evaluated inside the same transaction as the write it guards (spec §4.1
// "the precondition read MUST see the same value that the subsequent
// write will mutate"). For writes, QuotaKB additionally bounds the user's
// total payload size (0 means unlimited); the check happens inside the
// same transaction as the upsert, per spec §4.5 ("BEFORE any rows are
// written").
type Precondition struct {
	IfUnmodifiedSince *clock.Timestamp
	QuotaKB           int64
}

// BatchResult is the outcome of an upsert batch (PUT or POST).
type BatchResult struct {
	Success      []string
	Failed       map[string][]string
	LastModified clock.Timestamp
	Count        int64
	Changed      bool // true iff at least one row was inserted or updated
}

// DeleteResult is the outcome of a delete-by-id or delete-by-query
// operation.
type DeleteResult struct {
	Deleted      []string
	LastModified clock.Timestamp
	Count        int64 // remaining rows in the collection after the delete
}

// ErrPreconditionFailed is returned by ApplyBatch/DeleteItems/DeleteItem
// when the caller's Precondition does not hold. The server layer maps
// this to HTTP 412.
var ErrPreconditionFailed = errors.New("precondition failed")

// ErrNotFound is returned by GetBSO when no row matches.
var ErrNotFound = errors.New("bso not found")

// ErrOverQuota is returned by ApplyBatch when applying the batch would
// push the user's total payload size over their configured quota.
var ErrOverQuota = errors.New("over quota")

// Backend is the storage abstraction every component above it (the
// collection cache, the request pipeline) talks to. The reference
// implementations are MySQLBackend and QLBackend.
type Backend interface {
	// CollectionID interns name for userID, creating it if create is true
	// and it doesn't already exist. Reserved names never need a lookup;
	// see bso.StandardCollections.
	CollectionID(userID int64, name string, create bool) (int64, bool, error)

	// CollectionTimestamps returns {name: last_modified} for every
	// collection the user has a recorded last_modified for, per
	// info/collections. A collection emptied by a delete stays listed
	// with the delete's timestamp.
	CollectionTimestamps(userID int64) (map[string]clock.Timestamp, error)

	// CollectionCounts returns {name: count} per info/collection_counts.
	CollectionCounts(userID int64) (map[string]int64, error)

	// CollectionUsage returns {name: kilobytes} per info/collection_usage
	// (payload bytes divided by 1024, rounded down).
	CollectionUsage(userID int64) (map[string]int64, error)

	// TotalUsage returns the sum of payload_size across all of the
	// user's BSOs, in bytes, for quota accounting.
	TotalUsage(userID int64) (int64, error)

	// CollectionLastModified reports the collection's last_modified and
	// whether the collection (or its tombstone) exists at all.
	CollectionLastModified(userID int64, collection string) (clock.Timestamp, bool, error)

	// GetBSO returns a single BSO, or ErrNotFound.
	GetBSO(userID int64, collection string, id string) (*bso.BSO, error)

	// GetBSOs returns the BSOs (or bare ids, if !q.Full — callers drive
	// that via Query.Full and read only .ID from the result) matching q,
	// and the next-offset token to resume from ("" on the last page).
	GetBSOs(userID int64, collection string, q Query) ([]*bso.BSO, string, error)

	// ApplyBatch upserts items in order inside a single transaction,
	// after checking precondition against the collection's current
	// last_modified. On success, every item's Modified is timestamp
	// (unless the write was metadata-only and did not change anything,
	// per spec §4.2 upsert rules).
	ApplyBatch(userID int64, collection string, items []*bso.BSO, timestamp clock.Timestamp, precondition Precondition, limits bso.Limits) (*BatchResult, error)

	// DeleteItem removes one BSO. Returns ErrNotFound if it doesn't
	// exist, ErrPreconditionFailed if precondition does not hold.
	DeleteItem(userID int64, collection string, id string, timestamp clock.Timestamp, precondition Precondition) (*DeleteResult, error)

	// DeleteItems removes every BSO matching q (minus q.Full, which is
	// meaningless for a delete) inside a single transaction.
	DeleteItems(userID int64, collection string, q Query, timestamp clock.Timestamp, precondition Precondition) (*DeleteResult, error)

	// DeleteCollection removes every BSO in collection and records the
	// delete's timestamp as the collection's last_modified tombstone.
	DeleteCollection(userID int64, collection string, timestamp clock.Timestamp) (clock.Timestamp, error)

	// DeleteUser removes all of a user's BSOs and collection mappings in
	// a single transaction.
	DeleteUser(userID int64) error

	// Close releases backend resources (connection pools, etc).
	Close() error
}
