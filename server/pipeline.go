package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/weaveserver/syncstorage/apierror"
	"github.com/weaveserver/syncstorage/clock"
	"github.com/weaveserver/syncstorage/storage"
)

const maxFilterIDs = 100

// parseQuery builds a storage.Query from the filter-set query parameters
// documented in spec §4.1 (ids, newer, older, sort, limit, offset, full).
func parseQuery(r *http.Request) (storage.Query, error) {
	var q storage.Query
	vals := r.URL.Query()

	if ids := vals.Get("ids"); ids != "" {
		q.IDs = strings.Split(ids, ",")
		if len(q.IDs) > maxFilterIDs {
			return storage.Query{}, apierror.ErrInvalidProtocol
		}
	}
	if v := vals.Get("newer"); v != "" {
		ts, err := clock.ParseSeconds(v)
		if err != nil {
			return storage.Query{}, apierror.ErrInvalidProtocol
		}
		q.Newer = &ts
	}
	if v := vals.Get("older"); v != "" {
		ts, err := clock.ParseSeconds(v)
		if err != nil {
			return storage.Query{}, apierror.ErrInvalidProtocol
		}
		q.Older = &ts
	}
	switch vals.Get("sort") {
	case "oldest":
		q.Sort = storage.SortOldest
	case "index":
		q.Sort = storage.SortIndex
	case "newest", "":
		q.Sort = storage.SortNewest
	default:
		return storage.Query{}, apierror.ErrInvalidProtocol
	}
	if v := vals.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return storage.Query{}, apierror.ErrInvalidProtocol
		}
		q.Limit = n
	}
	q.Offset = vals.Get("offset")
	q.Full = vals.Get("full") == "1" || vals.Get("full") == "true"
	return q, nil
}

// parsePrecondition reads X-If-Unmodified-Since into a storage.Precondition
// carrying the caller's quota, per spec §4.1/§4.5.
func parsePrecondition(r *http.Request, quotaKB int64) (storage.Precondition, error) {
	var pre storage.Precondition
	pre.QuotaKB = quotaKB
	if v := r.Header.Get("X-If-Unmodified-Since"); v != "" {
		ts, err := clock.ParseSeconds(v)
		if err != nil {
			return storage.Precondition{}, apierror.ErrInvalidProtocol
		}
		pre.IfUnmodifiedSince = &ts
	}
	return pre, nil
}

// checkIfModifiedSince returns true if the request carries a satisfied
// X-If-Modified-Since precondition, meaning the caller should receive a
// bare 304.
func checkIfModifiedSince(r *http.Request, resourceModified clock.Timestamp) (bool, error) {
	v := r.Header.Get("X-If-Modified-Since")
	if v == "" {
		return false, nil
	}
	ts, err := clock.ParseSeconds(v)
	if err != nil {
		return false, apierror.ErrInvalidProtocol
	}
	return resourceModified <= ts, nil
}
