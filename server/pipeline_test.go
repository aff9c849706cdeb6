package server

import (
	"net/http/httptest"
	"testing"

	"github.com/weaveserver/syncstorage/clock"
	"github.com/weaveserver/syncstorage/storage"
)

func TestParseQueryDefaults(t *testing.T) {
	req := httptest.NewRequest("GET", "/1.5/1/storage/bookmarks", nil)
	q, err := parseQuery(req)
	if err != nil {
		t.Fatalf("parseQuery: %s", err)
	}
	if q.Sort != storage.SortNewest {
		t.Errorf("default sort = %q, want %q", q.Sort, storage.SortNewest)
	}
	if q.Full {
		t.Error("default full = true, want false")
	}
}

func TestParseQueryFilters(t *testing.T) {
	req := httptest.NewRequest("GET", "/1.5/1/storage/bookmarks?ids=a,b,c&sort=index&limit=5&offset=tok&full=1", nil)
	q, err := parseQuery(req)
	if err != nil {
		t.Fatalf("parseQuery: %s", err)
	}
	if len(q.IDs) != 3 || q.IDs[0] != "a" || q.IDs[2] != "c" {
		t.Errorf("IDs = %v, want [a b c]", q.IDs)
	}
	if q.Sort != storage.SortIndex {
		t.Errorf("Sort = %q, want index", q.Sort)
	}
	if q.Limit != 5 {
		t.Errorf("Limit = %d, want 5", q.Limit)
	}
	if q.Offset != "tok" {
		t.Errorf("Offset = %q, want tok", q.Offset)
	}
	if !q.Full {
		t.Error("Full = false, want true")
	}
}

func TestParseQueryTooManyIDs(t *testing.T) {
	ids := ""
	for i := 0; i < maxFilterIDs+1; i++ {
		if i > 0 {
			ids += ","
		}
		ids += "x"
	}
	req := httptest.NewRequest("GET", "/1.5/1/storage/bookmarks?ids="+ids, nil)
	if _, err := parseQuery(req); err == nil {
		t.Error("expected an error for more than maxFilterIDs ids")
	}
}

func TestParseQueryInvalidSort(t *testing.T) {
	req := httptest.NewRequest("GET", "/1.5/1/storage/bookmarks?sort=bogus", nil)
	if _, err := parseQuery(req); err == nil {
		t.Error("expected an error for an unrecognized sort value")
	}
}

func TestParseQueryInvalidLimit(t *testing.T) {
	for _, v := range []string{"0", "-1", "abc"} {
		req := httptest.NewRequest("GET", "/1.5/1/storage/bookmarks?limit="+v, nil)
		if _, err := parseQuery(req); err == nil {
			t.Errorf("limit=%q: expected an error", v)
		}
	}
}

func TestParsePrecondition(t *testing.T) {
	req := httptest.NewRequest("PUT", "/1.5/1/storage/bookmarks/item1", nil)
	req.Header.Set("X-If-Unmodified-Since", "5.00")
	pre, err := parsePrecondition(req, 100)
	if err != nil {
		t.Fatalf("parsePrecondition: %s", err)
	}
	if pre.QuotaKB != 100 {
		t.Errorf("QuotaKB = %d, want 100", pre.QuotaKB)
	}
	if pre.IfUnmodifiedSince == nil || *pre.IfUnmodifiedSince != clock.Timestamp(500) {
		t.Errorf("IfUnmodifiedSince = %v, want 500", pre.IfUnmodifiedSince)
	}
}

func TestParsePreconditionMalformedHeader(t *testing.T) {
	req := httptest.NewRequest("PUT", "/1.5/1/storage/bookmarks/item1", nil)
	req.Header.Set("X-If-Unmodified-Since", "not-a-number")
	if _, err := parsePrecondition(req, 0); err == nil {
		t.Error("expected an error for a malformed X-If-Unmodified-Since header")
	}
}

func TestCheckIfModifiedSince(t *testing.T) {
	req := httptest.NewRequest("GET", "/1.5/1/storage/bookmarks/item1", nil)
	req.Header.Set("X-If-Modified-Since", "10.00")

	notModified, err := checkIfModifiedSince(req, clock.Timestamp(900))
	if err != nil {
		t.Fatalf("checkIfModifiedSince: %s", err)
	}
	if !notModified {
		t.Error("resource modified at or before the header value should report not-modified")
	}

	notModified2, err := checkIfModifiedSince(req, clock.Timestamp(1100))
	if err != nil {
		t.Fatalf("checkIfModifiedSince: %s", err)
	}
	if notModified2 {
		t.Error("resource modified after the header value should not report not-modified")
	}
}

func TestCheckIfModifiedSinceAbsent(t *testing.T) {
	req := httptest.NewRequest("GET", "/1.5/1/storage/bookmarks/item1", nil)
	notModified, err := checkIfModifiedSince(req, clock.Timestamp(100))
	if err != nil {
		t.Fatalf("checkIfModifiedSince: %s", err)
	}
	if notModified {
		t.Error("no header present should never report not-modified")
	}
}
