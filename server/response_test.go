package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/weaveserver/syncstorage/apierror"
	"github.com/weaveserver/syncstorage/clock"
)

func TestWriteErrorAPIError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, apierror.ErrInvalidID)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if !strings.Contains(w.Body.String(), "invalid id") {
		t.Errorf("body = %s, want it to mention invalid id", w.Body.String())
	}
}

func TestWriteErrorGenericIsReportedAndGeneric(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, errors.New("connection refused"))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if strings.Contains(w.Body.String(), "connection refused") {
		t.Error("internal error details must never leak onto the wire")
	}
	if w.Header().Get("X-Error-Id") == "" {
		t.Error("expected an X-Error-Id header for a reported internal error")
	}
}

func TestWriteTimestampHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	writeTimestampHeaders(w, clock.Timestamp(100), clock.Timestamp(200))
	if got := w.Header().Get("X-Weave-Timestamp"); got != "1.00" {
		t.Errorf("X-Weave-Timestamp = %q, want 1.00", got)
	}
	if got := w.Header().Get("X-Last-Modified"); got != "2.00" {
		t.Errorf("X-Last-Modified = %q, want 2.00", got)
	}
}

func TestModifiedAsTimestamp(t *testing.T) {
	if got := modifiedAsTimestamp(1.23); got != clock.Timestamp(123) {
		t.Errorf("modifiedAsTimestamp(1.23) = %d, want 123", got)
	}
}

func TestWriteNextOffsetHeaderOmittedWhenEmpty(t *testing.T) {
	w := httptest.NewRecorder()
	writeNextOffsetHeader(w, "")
	if w.Header().Get("X-Weave-Next-Offset") != "" {
		t.Error("expected no X-Weave-Next-Offset header for an empty token")
	}
}
