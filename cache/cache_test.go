package cache

import (
	"testing"

	"github.com/weaveserver/syncstorage/bso"
	"github.com/weaveserver/syncstorage/clock"
	"github.com/weaveserver/syncstorage/storage"
)

func strptr(s string) *string { return &s }

func newTestCache(t *testing.T, ephemeralNames []string) *Backend {
	t.Helper()
	inner, err := storage.NewQLBackend("memory")
	if err != nil {
		t.Fatalf("NewQLBackend: %s", err)
	}
	b := New(inner, ephemeralNames, 100, 0)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestEphemeralWritesNeverReachBackend(t *testing.T) {
	c := newTestCache(t, []string{"tabs"})

	items := []*bso.BSO{{ID: "tab1", Payload: strptr("x")}}
	if _, err := c.ApplyBatch(1, "tabs", items, clock.Timestamp(100), storage.Precondition{}, bso.DefaultLimits); err != nil {
		t.Fatalf("ApplyBatch: %s", err)
	}

	got, err := c.GetBSO(1, "tabs", "tab1")
	if err != nil {
		t.Fatalf("GetBSO: %s", err)
	}
	if got.Payload == nil || *got.Payload != "x" {
		t.Errorf("got payload %v, want x", got.Payload)
	}

	// the wrapped backend must never have seen this write.
	id, _, err := c.CollectionID(1, "tabs", false)
	if err != nil {
		t.Fatalf("CollectionID: %s", err)
	}
	if id != 0 {
		t.Errorf("ephemeral collection got a durable id %d, want 0", id)
	}
}

func TestEphemeralNeverCountsAgainstQuota(t *testing.T) {
	c := newTestCache(t, []string{"tabs"})

	big := make([]byte, 4096)
	items := []*bso.BSO{{ID: "tab1", Payload: strptr(string(big))}}
	if _, err := c.ApplyBatch(1, "tabs", items, clock.Timestamp(100), storage.Precondition{}, bso.DefaultLimits); err != nil {
		t.Fatalf("ApplyBatch: %s", err)
	}

	usage, err := c.TotalUsage(1)
	if err != nil {
		t.Fatalf("TotalUsage: %s", err)
	}
	if usage != 0 {
		t.Errorf("TotalUsage = %d, want 0 (ephemeral never billed)", usage)
	}
}

func TestNonEphemeralDelegatesToBackend(t *testing.T) {
	c := newTestCache(t, []string{"tabs"})

	items := []*bso.BSO{{ID: "item1", Payload: strptr("hello")}}
	result, err := c.ApplyBatch(1, "bookmarks", items, clock.Timestamp(100), storage.Precondition{}, bso.DefaultLimits)
	if err != nil {
		t.Fatalf("ApplyBatch: %s", err)
	}
	if !result.Changed {
		t.Error("expected the write to be reported as a change")
	}

	got, err := c.GetBSO(1, "bookmarks", "item1")
	if err != nil {
		t.Fatalf("GetBSO: %s", err)
	}
	if got.Payload == nil || *got.Payload != "hello" {
		t.Errorf("got payload %v, want hello", got.Payload)
	}
}

func TestCollectionInfoCachedUntilInvalidated(t *testing.T) {
	c := newTestCache(t, nil)

	items := []*bso.BSO{{ID: "item1", Payload: strptr("hello")}}
	if _, err := c.ApplyBatch(1, "bookmarks", items, clock.Timestamp(100), storage.Precondition{}, bso.DefaultLimits); err != nil {
		t.Fatalf("ApplyBatch: %s", err)
	}

	ts1, err := c.CollectionTimestamps(1)
	if err != nil {
		t.Fatalf("CollectionTimestamps: %s", err)
	}
	if ts1["bookmarks"] != 100 {
		t.Errorf("bookmarks timestamp = %d, want 100", ts1["bookmarks"])
	}

	more := []*bso.BSO{{ID: "item2", Payload: strptr("world")}}
	if _, err := c.ApplyBatch(1, "bookmarks", more, clock.Timestamp(200), storage.Precondition{}, bso.DefaultLimits); err != nil {
		t.Fatalf("second ApplyBatch: %s", err)
	}

	ts2, err := c.CollectionTimestamps(1)
	if err != nil {
		t.Fatalf("CollectionTimestamps after write: %s", err)
	}
	if ts2["bookmarks"] != 200 {
		t.Errorf("bookmarks timestamp after invalidation = %d, want 200", ts2["bookmarks"])
	}
}

func TestWriteCapRejectsOversizeWrites(t *testing.T) {
	inner, err := storage.NewQLBackend("memory")
	if err != nil {
		t.Fatalf("NewQLBackend: %s", err)
	}
	c := New(inner, nil, 100, 10) // 10 bytes/day
	t.Cleanup(func() { c.Close() })

	items := []*bso.BSO{{ID: "item1", Payload: strptr("this payload exceeds the daily cap")}}
	_, err = c.ApplyBatch(1, "bookmarks", items, clock.Timestamp(100), storage.Precondition{}, bso.DefaultLimits)
	if err != storage.ErrOverQuota {
		t.Errorf("got err=%v, want ErrOverQuota", err)
	}
}

func TestDeleteUserClearsEphemeralAndCache(t *testing.T) {
	c := newTestCache(t, []string{"tabs"})

	items := []*bso.BSO{{ID: "tab1", Payload: strptr("x")}}
	if _, err := c.ApplyBatch(1, "tabs", items, clock.Timestamp(100), storage.Precondition{}, bso.DefaultLimits); err != nil {
		t.Fatalf("ApplyBatch: %s", err)
	}

	if err := c.DeleteUser(1); err != nil {
		t.Fatalf("DeleteUser: %s", err)
	}

	_, err := c.GetBSO(1, "tabs", "tab1")
	if err != storage.ErrNotFound {
		t.Errorf("got err=%v, want ErrNotFound after DeleteUser", err)
	}
}
