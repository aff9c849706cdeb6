// Package cache wraps a storage.Backend with the decorations spec §4.3
// calls for: an in-memory LRU of per-user collection metadata so
// info/collections doesn't hit the database on every poll, collapsing of
// duplicate concurrent reads via singleflight, fully in-memory "ephemeral"
// collections that never reach the backend, and a per-user daily write-byte
// cap. Grounded on bendo's server/cache.go (cache the expensive-to-compute
// metadata, not the payloads) and blobcache (LRU shape), generalized from a
// byte-addressed blob cache to a struct cache.
package cache

import (
	"fmt"

	"github.com/golang/groupcache/singleflight"

	"github.com/weaveserver/syncstorage/bso"
	"github.com/weaveserver/syncstorage/clock"
	"github.com/weaveserver/syncstorage/storage"
)

// Backend decorates a storage.Backend with caching and ephemeral-collection
// support. It implements storage.Backend itself so the request pipeline
// can use either one interchangeably.
type Backend struct {
	inner storage.Backend

	ephemeralNames []string
	ephemeral      *ephemeralStore

	info  *infoLRU
	group singleflight.Group

	writes *writeCap
}

// New wraps inner. ephemeralNames lists collection names that are served
// entirely from memory (config.Config.EphemeralCollections).
// collectionCacheSize bounds the metadata LRU; dailyWriteCapBytes bounds
// per-user daily write volume (0 disables the cap).
func New(inner storage.Backend, ephemeralNames []string, collectionCacheSize int, dailyWriteCapBytes int64) *Backend {
	return &Backend{
		inner:          inner,
		ephemeralNames: ephemeralNames,
		ephemeral:      newEphemeralStore(),
		info:           newInfoLRU(collectionCacheSize),
		writes:         newWriteCap(dailyWriteCapBytes),
	}
}

// Close stops background goroutines and closes the wrapped backend.
func (b *Backend) Close() error {
	b.writes.Stop()
	return b.inner.Close()
}

func (b *Backend) isEphemeral(name string) bool {
	for _, n := range b.ephemeralNames {
		if n == name {
			return true
		}
	}
	return false
}

func (b *Backend) CollectionID(userID int64, name string, create bool) (int64, bool, error) {
	if b.isEphemeral(name) {
		// ephemeral collections never get a durable id; callers that
		// need one (none in this package) would be a programming error.
		return 0, false, nil
	}
	return b.inner.CollectionID(userID, name, create)
}

// collectionInfo fetches (and caches) the full metadata snapshot for
// userID, deduplicating concurrent callers with singleflight so a thundering
// herd of polling clients triggers at most one backend round trip.
func (b *Backend) collectionInfo(userID int64) (collectionInfo, error) {
	if info, ok := b.info.get(userID); ok {
		return info, nil
	}
	key := fmt.Sprintf("%d", userID)
	v, err := b.group.Do(key, func() (interface{}, error) {
		timestamps, err := b.inner.CollectionTimestamps(userID)
		if err != nil {
			return nil, err
		}
		counts, err := b.inner.CollectionCounts(userID)
		if err != nil {
			return nil, err
		}
		usage, err := b.inner.CollectionUsage(userID)
		if err != nil {
			return nil, err
		}
		info := collectionInfo{timestamps: timestamps, counts: counts, usage: usage}
		b.info.set(userID, info)
		return info, nil
	})
	if err != nil {
		return collectionInfo{}, err
	}
	return v.(collectionInfo), nil
}

func (b *Backend) CollectionTimestamps(userID int64) (map[string]clock.Timestamp, error) {
	info, err := b.collectionInfo(userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]clock.Timestamp, len(info.timestamps))
	for k, v := range info.timestamps {
		out[k] = v
	}
	for k, v := range b.ephemeral.timestamps(userID) {
		out[k] = v
	}
	return out, nil
}

func (b *Backend) CollectionCounts(userID int64) (map[string]int64, error) {
	info, err := b.collectionInfo(userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(info.counts))
	for k, v := range info.counts {
		out[k] = v
	}
	for k, v := range b.ephemeral.counts(userID) {
		out[k] = v
	}
	return out, nil
}

func (b *Backend) CollectionUsage(userID int64) (map[string]int64, error) {
	info, err := b.collectionInfo(userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(info.usage))
	for k, v := range info.usage {
		out[k] = v
	}
	return out, nil
}

// TotalUsage does not count ephemeral collections against quota; they are
// never persisted, so there is nothing to bill for.
func (b *Backend) TotalUsage(userID int64) (int64, error) {
	return b.inner.TotalUsage(userID)
}

func (b *Backend) CollectionLastModified(userID int64, collection string) (clock.Timestamp, bool, error) {
	if b.isEphemeral(collection) {
		ts, ok := b.ephemeral.lastModified(userID, collection)
		return ts, ok, nil
	}
	return b.inner.CollectionLastModified(userID, collection)
}

func (b *Backend) GetBSO(userID int64, collection string, id string) (*bso.BSO, error) {
	if b.isEphemeral(collection) {
		return b.ephemeral.getBSO(userID, collection, id)
	}
	return b.inner.GetBSO(userID, collection, id)
}

func (b *Backend) GetBSOs(userID int64, collection string, q storage.Query) ([]*bso.BSO, string, error) {
	if b.isEphemeral(collection) {
		items, err := b.ephemeral.getBSOs(userID, collection, q)
		return items, "", err
	}
	return b.inner.GetBSOs(userID, collection, q)
}

func (b *Backend) ApplyBatch(userID int64, collection string, items []*bso.BSO, timestamp clock.Timestamp, precondition storage.Precondition, limits bso.Limits) (*storage.BatchResult, error) {
	var payloadBytes int64
	for _, item := range items {
		if item.Payload != nil {
			payloadBytes += int64(item.PayloadSize())
		}
	}
	if !b.writes.Allow(userID, payloadBytes) {
		return nil, storage.ErrOverQuota
	}

	if b.isEphemeral(collection) {
		return b.ephemeral.apply(userID, collection, items, timestamp, limits)
	}
	result, err := b.inner.ApplyBatch(userID, collection, items, timestamp, precondition, limits)
	if err == nil && result.Changed {
		b.info.invalidate(userID)
	}
	return result, err
}

func (b *Backend) DeleteItem(userID int64, collection string, id string, timestamp clock.Timestamp, precondition storage.Precondition) (*storage.DeleteResult, error) {
	if b.isEphemeral(collection) {
		result := b.ephemeral.deleteItems(userID, collection, storage.Query{IDs: []string{id}}, timestamp)
		if len(result.Deleted) == 0 {
			return nil, storage.ErrNotFound
		}
		return result, nil
	}
	result, err := b.inner.DeleteItem(userID, collection, id, timestamp, precondition)
	if err == nil {
		b.info.invalidate(userID)
	}
	return result, err
}

func (b *Backend) DeleteItems(userID int64, collection string, q storage.Query, timestamp clock.Timestamp, precondition storage.Precondition) (*storage.DeleteResult, error) {
	if b.isEphemeral(collection) {
		return b.ephemeral.deleteItems(userID, collection, q, timestamp), nil
	}
	result, err := b.inner.DeleteItems(userID, collection, q, timestamp, precondition)
	if err == nil {
		b.info.invalidate(userID)
	}
	return result, err
}

func (b *Backend) DeleteCollection(userID int64, collection string, timestamp clock.Timestamp) (clock.Timestamp, error) {
	if b.isEphemeral(collection) {
		b.ephemeral.deleteCollection(userID, collection, timestamp)
		return timestamp, nil
	}
	ts, err := b.inner.DeleteCollection(userID, collection, timestamp)
	if err == nil {
		b.info.invalidate(userID)
	}
	return ts, err
}

func (b *Backend) DeleteUser(userID int64) error {
	b.ephemeral.deleteUser(userID)
	b.info.invalidate(userID)
	return b.inner.DeleteUser(userID)
}

var _ storage.Backend = (*Backend)(nil)
