package cache

import (
	"container/list"
	"sync"

	"github.com/weaveserver/syncstorage/clock"
)

// collectionInfo is what the LRU caches per user: the last snapshot of
// info/collections, since it is by far the most frequently polled endpoint
// (every sync client checks it before deciding what to fetch) and the
// storage backend's computation of it touches every row the user owns.
type collectionInfo struct {
	timestamps map[string]clock.Timestamp
	counts     map[string]int64
	usage      map[string]int64
}

type entry struct {
	userID int64
	info   collectionInfo
}

// infoLRU is an in-memory, size-bounded cache of per-user collection
// metadata. Adapted from blobcache.T's container/list LRU list, generalized
// from byte-sized blobs to a fixed maximum entry count, since collection
// info structs are small and roughly uniform in size.
type infoLRU struct {
	mu       sync.Mutex
	maxItems int
	lru      *list.List
	index    map[int64]*list.Element
}

func newInfoLRU(maxItems int) *infoLRU {
	if maxItems <= 0 {
		maxItems = 1
	}
	return &infoLRU{
		maxItems: maxItems,
		lru:      list.New(),
		index:    make(map[int64]*list.Element),
	}
}

func (c *infoLRU) get(userID int64) (collectionInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.index[userID]
	if !ok {
		return collectionInfo{}, false
	}
	c.lru.MoveToFront(e)
	return e.Value.(*entry).info, true
}

func (c *infoLRU) set(userID int64, info collectionInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.index[userID]; ok {
		e.Value.(*entry).info = info
		c.lru.MoveToFront(e)
		return
	}
	e := c.lru.PushFront(&entry{userID: userID, info: info})
	c.index[userID] = e
	for c.lru.Len() > c.maxItems {
		back := c.lru.Back()
		if back == nil {
			break
		}
		c.lru.Remove(back)
		delete(c.index, back.Value.(*entry).userID)
	}
}

func (c *infoLRU) invalidate(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.index[userID]; ok {
		c.lru.Remove(e)
		delete(c.index, userID)
	}
}
