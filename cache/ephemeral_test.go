package cache

import (
	"testing"

	"github.com/weaveserver/syncstorage/bso"
	"github.com/weaveserver/syncstorage/clock"
	"github.com/weaveserver/syncstorage/storage"
)

func TestEphemeralStoreApplyAndGetBSOs(t *testing.T) {
	s := newEphemeralStore()

	items := []*bso.BSO{
		{ID: "a", Payload: strptr("1"), SortIndex: i64p(3)},
		{ID: "b", Payload: strptr("2"), SortIndex: i64p(1)},
		{ID: "c", Payload: strptr("3"), SortIndex: i64p(2)},
	}
	if _, err := s.apply(1, "tabs", items, clock.Timestamp(100), bso.DefaultLimits); err != nil {
		t.Fatalf("apply: %s", err)
	}

	got, err := s.getBSOs(1, "tabs", storage.Query{Sort: storage.SortIndex})
	if err != nil {
		t.Fatalf("getBSOs: %s", err)
	}
	want := []string{"a", "c", "b"}
	if len(got) != len(want) {
		t.Fatalf("got %d items, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: got %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestEphemeralStoreDeleteAllVsFiltered(t *testing.T) {
	s := newEphemeralStore()

	items := []*bso.BSO{
		{ID: "a", Payload: strptr("1")},
		{ID: "b", Payload: strptr("2")},
	}
	if _, err := s.apply(1, "tabs", items, clock.Timestamp(100), bso.DefaultLimits); err != nil {
		t.Fatalf("apply: %s", err)
	}

	result := s.deleteItems(1, "tabs", storage.Query{IDs: []string{"a"}}, clock.Timestamp(200))
	if len(result.Deleted) != 1 || result.Deleted[0] != "a" {
		t.Errorf("Deleted = %v, want [a]", result.Deleted)
	}
	if result.Count != 1 {
		t.Errorf("Count = %d, want 1", result.Count)
	}

	all := s.deleteItems(1, "tabs", storage.Query{}, clock.Timestamp(300))
	if len(all.Deleted) != 1 || all.Deleted[0] != "b" {
		t.Errorf("Deleted = %v, want [b]", all.Deleted)
	}
	if all.Count != 0 {
		t.Errorf("Count = %d, want 0", all.Count)
	}
}

func TestEphemeralStoreLastModifiedUnsetUntilWritten(t *testing.T) {
	s := newEphemeralStore()
	if _, ok := s.lastModified(1, "tabs"); ok {
		t.Error("expected no last-modified for a collection never written to")
	}

	items := []*bso.BSO{{ID: "a", Payload: strptr("1")}}
	if _, err := s.apply(1, "tabs", items, clock.Timestamp(150), bso.DefaultLimits); err != nil {
		t.Fatalf("apply: %s", err)
	}
	ts, ok := s.lastModified(1, "tabs")
	if !ok || ts != 150 {
		t.Errorf("lastModified = (%d, %v), want (150, true)", ts, ok)
	}
}

func i64p(n int64) *int64 { return &n }
