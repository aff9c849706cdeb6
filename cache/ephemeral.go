package cache

import (
	"sort"
	"sync"

	"github.com/weaveserver/syncstorage/bso"
	"github.com/weaveserver/syncstorage/clock"
	"github.com/weaveserver/syncstorage/storage"
)

// ephemeralStore holds collections that are configured to never touch the
// durable backend (spec's supplemented "tabs" feature: open-tab lists churn
// constantly and are worthless after a client restart, so paying for a
// database round trip on every write is pure waste). Contents are lost on
// restart; that's the point.
//
// It implements just the operations the request pipeline needs for these
// collections, keyed by (userID, collection name) rather than by
// interned collection id, since ephemeral names never get one.
type ephemeralStore struct {
	mu   sync.Mutex
	data map[int64]map[string]*ephemeralCollection
}

type ephemeralCollection struct {
	items    map[string]*bso.BSO
	modified clock.Timestamp
}

func newEphemeralStore() *ephemeralStore {
	return &ephemeralStore{data: make(map[int64]map[string]*ephemeralCollection)}
}

func (s *ephemeralStore) collection(userID int64, name string, create bool) *ephemeralCollection {
	s.mu.Lock()
	defer s.mu.Unlock()
	byName := s.data[userID]
	if byName == nil {
		if !create {
			return nil
		}
		byName = make(map[string]*ephemeralCollection)
		s.data[userID] = byName
	}
	c := byName[name]
	if c == nil && create {
		c = &ephemeralCollection{items: make(map[string]*bso.BSO)}
		byName[name] = c
	}
	return c
}

func (s *ephemeralStore) lastModified(userID int64, name string) (clock.Timestamp, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byName := s.data[userID]
	if byName == nil {
		return 0, false
	}
	c, ok := byName[name]
	if !ok || len(c.items) == 0 {
		return 0, false
	}
	return c.modified, true
}

func (s *ephemeralStore) timestamps(userID int64) map[string]clock.Timestamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]clock.Timestamp)
	for name, c := range s.data[userID] {
		if len(c.items) > 0 {
			out[name] = c.modified
		}
	}
	return out
}

func (s *ephemeralStore) counts(userID int64) map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64)
	for name, c := range s.data[userID] {
		if len(c.items) > 0 {
			out[name] = int64(len(c.items))
		}
	}
	return out
}

func (s *ephemeralStore) getBSO(userID int64, name, id string) (*bso.BSO, error) {
	c := s.collection(userID, name, false)
	if c == nil {
		return nil, storage.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := c.items[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return item, nil
}

func (s *ephemeralStore) getBSOs(userID int64, name string, q storage.Query) ([]*bso.BSO, error) {
	c := s.collection(userID, name, false)
	if c == nil {
		return nil, nil
	}
	s.mu.Lock()
	items := make([]*bso.BSO, 0, len(c.items))
	wanted := map[string]bool{}
	for _, id := range q.IDs {
		wanted[id] = true
	}
	for id, item := range c.items {
		if len(wanted) > 0 && !wanted[id] {
			continue
		}
		if q.Newer != nil && clock.Timestamp(item.Modified*100) <= *q.Newer {
			continue
		}
		if q.Older != nil && clock.Timestamp(item.Modified*100) >= *q.Older {
			continue
		}
		items = append(items, item)
	}
	s.mu.Unlock()

	switch q.Sort {
	case storage.SortOldest:
		sort.Slice(items, func(i, j int) bool { return items[i].Modified < items[j].Modified })
	case storage.SortIndex:
		sort.Slice(items, func(i, j int) bool { return sortIndexOf(items[i]) > sortIndexOf(items[j]) })
	default:
		sort.Slice(items, func(i, j int) bool { return items[i].Modified > items[j].Modified })
	}
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return items, nil
}

func sortIndexOf(item *bso.BSO) int64 {
	if item.SortIndex == nil {
		return 0
	}
	return *item.SortIndex
}

func (s *ephemeralStore) apply(userID int64, name string, items []*bso.BSO, timestamp clock.Timestamp, limits bso.Limits) (*storage.BatchResult, error) {
	c := s.collection(userID, name, true)
	result := &storage.BatchResult{Failed: make(map[string][]string)}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		if err := item.Validate(limits); err != nil {
			result.Failed[item.ID] = append(result.Failed[item.ID], err.Error())
			continue
		}
		stored := *item
		stored.Modified = timestamp.Seconds()
		c.items[item.ID] = &stored
		result.Success = append(result.Success, item.ID)
		result.Changed = true
	}
	if result.Changed {
		c.modified = timestamp
	}
	result.LastModified = c.modified
	result.Count = int64(len(c.items))
	return result, nil
}

func (s *ephemeralStore) deleteItems(userID int64, name string, q storage.Query, timestamp clock.Timestamp) *storage.DeleteResult {
	c := s.collection(userID, name, false)
	if c == nil {
		return &storage.DeleteResult{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted []string
	if len(q.IDs) == 0 && q.Newer == nil && q.Older == nil {
		for id := range c.items {
			deleted = append(deleted, id)
		}
		c.items = make(map[string]*bso.BSO)
	} else {
		wanted := map[string]bool{}
		for _, id := range q.IDs {
			wanted[id] = true
		}
		for id, item := range c.items {
			if len(wanted) > 0 && !wanted[id] {
				continue
			}
			if q.Newer != nil && clock.Timestamp(item.Modified*100) <= *q.Newer {
				continue
			}
			if q.Older != nil && clock.Timestamp(item.Modified*100) >= *q.Older {
				continue
			}
			delete(c.items, id)
			deleted = append(deleted, id)
		}
	}
	if len(deleted) > 0 {
		c.modified = timestamp
	}
	return &storage.DeleteResult{Deleted: deleted, LastModified: c.modified, Count: int64(len(c.items))}
}

func (s *ephemeralStore) deleteCollection(userID int64, name string, timestamp clock.Timestamp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byName := s.data[userID]
	if byName == nil {
		return
	}
	delete(byName, name)
}

func (s *ephemeralStore) deleteUser(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, userID)
}
