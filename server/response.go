package server

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/weaveserver/syncstorage/apierror"
	"github.com/weaveserver/syncstorage/clock"
)

// modifiedAsTimestamp converts a BSO's wire-format seconds.hundredths
// modified value back into the internal centisecond representation.
func modifiedAsTimestamp(seconds float64) clock.Timestamp {
	return clock.Timestamp(math.Round(seconds * 100))
}

// writeJSON encodes val as the response body with the given status, and
// sets Content-Type the way every handler in this package expects.
func writeJSON(w http.ResponseWriter, status int, val interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(val)
}

// writeTimestampHeaders sets the two headers every successful response
// carries: the request-wide timestamp, and the addressed resource's
// last_modified (which may be the same value, or an older one for a
// metadata-only write that didn't bump it).
func writeTimestampHeaders(w http.ResponseWriter, requestTS clock.Timestamp, resourceTS clock.Timestamp) {
	w.Header().Set("X-Weave-Timestamp", requestTS.String())
	w.Header().Set("X-Last-Modified", resourceTS.String())
}

// writeError maps err to the HTTP status/body contract in spec §7. Anything
// that isn't an *apierror.Error is treated as an infrastructure failure:
// reported with a correlation id and surfaced as a 503 whose body carries
// only code 0 and a generic message.
func writeError(w http.ResponseWriter, err error) {
	if apiErr, ok := err.(*apierror.Error); ok {
		writeJSON(w, apiErr.Status, errorBody{Code: int(apiErr.Code), Message: apiErr.Message})
		return
	}
	id := apierror.Report(err, nil)
	w.Header().Set("X-Error-Id", id)
	writeJSON(w, http.StatusServiceUnavailable, errorBody{Code: 0, Message: "internal error"})
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

func writeRecordsHeader(w http.ResponseWriter, count int) {
	w.Header().Set("X-Weave-Records", strconv.Itoa(count))
}

func writeNextOffsetHeader(w http.ResponseWriter, offset string) {
	if offset != "" {
		w.Header().Set("X-Weave-Next-Offset", offset)
	}
}
