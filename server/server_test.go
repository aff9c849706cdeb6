package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/weaveserver/syncstorage/auth"
	"github.com/weaveserver/syncstorage/bso"
	"github.com/weaveserver/syncstorage/cache"
	"github.com/weaveserver/syncstorage/clock"
	"github.com/weaveserver/syncstorage/storage"
)

// newTestServer builds a Server backed by an in-memory QL store, wired the
// way cmd/syncstored wires one, but without binding a real listener.
func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	backend, err := storage.NewQLBackend("memory")
	if err != nil {
		t.Fatalf("NewQLBackend: %s", err)
	}
	t.Cleanup(func() { backend.Close() })

	cached := cache.New(backend, nil, 1000, 0)
	s := &Server{
		Storage: cached,
		Clock:   clock.New(clock.RealSource{}),
		Auth:    auth.Nobody{UserID: 1},
		Quotas:  StaticQuota(0),
		Limits:  bso.DefaultLimits,
		backoff: newBackoffTracker(60, 20),
	}
	return s, s.addRoutes()
}

func TestPutThenGetRoundTrip(t *testing.T) {
	_, handler := newTestServer(t)

	req := httptest.NewRequest("PUT", "/1.5/1/storage/bookmarks/item1", strings.NewReader(`{"payload":"hello"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, body = %s", w.Code, w.Body.String())
	}
	putModified := strings.TrimSpace(w.Body.String())

	req2 := httptest.NewRequest("GET", "/1.5/1/storage/bookmarks/item1", nil)
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Fatalf("GET status = %d, body = %s", w2.Code, w2.Body.String())
	}
	if !strings.Contains(w2.Body.String(), `"payload":"hello"`) {
		t.Errorf("GET body = %s, want it to contain the stored payload", w2.Body.String())
	}
	lastModified := w2.Header().Get("X-Last-Modified")
	if lastModified == "" {
		t.Fatal("GET response missing X-Last-Modified")
	}
	if putModified != lastModified {
		t.Errorf("PUT echoed modified %q, GET reports X-Last-Modified %q, want equal", putModified, lastModified)
	}
}

func TestPostPartialFailure(t *testing.T) {
	_, handler := newTestServer(t)

	body := `[{"id":"good","payload":"1"},{"id":"","payload":"2"}]`
	req := httptest.NewRequest("POST", "/1.5/1/storage/bookmarks", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("POST status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"good"`) {
		t.Errorf("expected the valid record to appear in success: %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "invalid id") {
		t.Errorf("expected the empty-id record to fail with 'invalid id': %s", w.Body.String())
	}
}

func TestIfUnmodifiedSincePreconditionFailure(t *testing.T) {
	_, handler := newTestServer(t)

	put := func(body string, header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("PUT", "/1.5/1/storage/bookmarks/item1", strings.NewReader(body))
		if header != "" {
			req.Header.Set("X-If-Unmodified-Since", header)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	w1 := put(`{"payload":"first"}`, "")
	if w1.Code != http.StatusOK {
		t.Fatalf("initial PUT status = %d", w1.Code)
	}

	w2 := put(`{"payload":"second"}`, "0")
	if w2.Code != http.StatusPreconditionFailed {
		t.Errorf("stale X-If-Unmodified-Since: status = %d, want 412", w2.Code)
	}
}

func TestDeleteUserRequiresConfirmation(t *testing.T) {
	_, handler := newTestServer(t)

	req := httptest.NewRequest("DELETE", "/1.5/1/storage", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("DELETE user without confirmation: status = %d, want 400", w.Code)
	}

	req2 := httptest.NewRequest("DELETE", "/1.5/1/storage", nil)
	req2.Header.Set("X-Confirm-Delete", "1")
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Errorf("DELETE user with confirmation: status = %d, want 200", w2.Code)
	}
}

func TestPostBodyTooLargeIs413(t *testing.T) {
	_, handler := newTestServer(t)

	req := httptest.NewRequest("POST", "/1.5/1/storage/bookmarks", strings.NewReader(`[{"id":"a","payload":"`+strings.Repeat("x", 2*1024*1024)+`"}]`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversize POST body: status = %d, want 413", w.Code)
	}
}

func TestPutPayloadExactlyAtLimitIsAccepted(t *testing.T) {
	_, handler := newTestServer(t)

	payload := strings.Repeat("x", bso.DefaultLimits.MaxPayloadBytes)
	req := httptest.NewRequest("PUT", "/1.5/1/storage/bookmarks/item1", strings.NewReader(`{"payload":"`+payload+`"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("PUT with payload exactly at max_payload_bytes: status = %d, want 200", w.Code)
	}
}

func TestPutPayloadOneByteOverLimitIs413(t *testing.T) {
	_, handler := newTestServer(t)

	payload := strings.Repeat("x", bso.DefaultLimits.MaxPayloadBytes+1)
	req := httptest.NewRequest("PUT", "/1.5/1/storage/bookmarks/item1", strings.NewReader(`{"payload":"`+payload+`"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("PUT with payload one byte over max_payload_bytes: status = %d, want 413", w.Code)
	}
}

func TestGetWithIfModifiedSinceReturns304(t *testing.T) {
	_, handler := newTestServer(t)

	putReq := httptest.NewRequest("PUT", "/1.5/1/storage/bookmarks/item1", strings.NewReader(`{"payload":"hello"}`))
	putW := httptest.NewRecorder()
	handler.ServeHTTP(putW, putReq)
	modified := strings.TrimSpace(putW.Body.String())

	req := httptest.NewRequest("GET", "/1.5/1/storage/bookmarks/item1", nil)
	req.Header.Set("X-If-Modified-Since", modified)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotModified {
		t.Errorf("GET with a satisfied X-If-Modified-Since: status = %d, want 304", w.Code)
	}
}

func TestAuthWrapperRejectsMismatchedUser(t *testing.T) {
	_, handler := newTestServer(t)

	// the fixed Nobody identity always resolves to user 1; asking for user 2's
	// data must fail even though no real credential checking is configured.
	req := httptest.NewRequest("GET", "/1.5/2/info/collections", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("GET for a different uid than the authenticated identity: status = %d, want 401", w.Code)
	}
}

func TestInfoConfigurationReportsLimits(t *testing.T) {
	_, handler := newTestServer(t)

	req := httptest.NewRequest("GET", "/1.5/1/info/configuration", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"max_post_records"`) {
		t.Errorf("body = %s, want max_post_records key", w.Body.String())
	}
}

func TestDeleteBSONotFound(t *testing.T) {
	_, handler := newTestServer(t)

	req := httptest.NewRequest("DELETE", "/1.5/1/storage/bookmarks/missing", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("DELETE of a nonexistent bso: status = %d, want 404", w.Code)
	}
}
