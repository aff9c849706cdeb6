package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/weaveserver/syncstorage/apierror"
	"github.com/weaveserver/syncstorage/bso"
	"github.com/weaveserver/syncstorage/storage"
)

func (s *Server) getCollectionHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	uid := identityFrom(ps)
	collection := ps.ByName("collection")

	q, err := parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	lastModified, exists, err := s.Storage.CollectionLastModified(uid, collection)
	if err != nil {
		s.reportTransientFailure(w, err)
		return
	}
	if exists {
		notModified, err := checkIfModifiedSince(r, lastModified)
		if err != nil {
			writeError(w, err)
			return
		}
		if notModified {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	items, next, err := s.Storage.GetBSOs(uid, collection, q)
	if err != nil {
		s.reportTransientFailure(w, err)
		return
	}

	writeRecordsHeader(w, len(items))
	writeNextOffsetHeader(w, next)
	if exists {
		w.Header().Set("X-Last-Modified", lastModified.String())
	}
	s.withBackoff(w)

	if q.Full {
		writeJSON(w, http.StatusOK, items)
		return
	}
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) postCollectionHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	uid := identityFrom(ps)
	collection := ps.ByName("collection")

	raw, err := io.ReadAll(io.LimitReader(r.Body, int64(s.Limits.MaxPostBytes)+1))
	if err != nil {
		writeError(w, apierror.ErrBodyParse)
		return
	}
	if len(raw) > s.Limits.MaxPostBytes {
		writeError(w, apierror.ErrTooLarge)
		return
	}

	var items []*bso.BSO
	if err := json.Unmarshal(raw, &items); err != nil {
		writeError(w, apierror.ErrBodyParse)
		return
	}
	if len(items) > s.Limits.MaxPostRecords {
		writeError(w, apierror.ErrTooLarge)
		return
	}

	pre, err := parsePrecondition(r, s.Quotas.QuotaKB(uid))
	if err != nil {
		writeError(w, err)
		return
	}

	ts := s.Clock.Freeze(uid)
	result, err := s.Storage.ApplyBatch(uid, collection, items, ts, pre, s.Limits)
	if err != nil {
		s.handleWriteError(w, err)
		return
	}
	s.Clock.Observe(uid, result.LastModified)

	writeTimestampHeaders(w, ts, result.LastModified)
	s.withBackoff(w)
	writeJSON(w, http.StatusOK, postResult{Success: result.Success, Failed: result.Failed})
}

type postResult struct {
	Success []string            `json:"success"`
	Failed  map[string][]string `json:"failed"`
}

func (s *Server) deleteCollectionHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	uid := identityFrom(ps)
	collection := ps.ByName("collection")

	q, err := parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	pre, err := parsePrecondition(r, 0)
	if err != nil {
		writeError(w, err)
		return
	}

	ts := s.Clock.Freeze(uid)
	result, err := s.Storage.DeleteItems(uid, collection, q, ts, pre)
	if err != nil {
		s.handleWriteError(w, err)
		return
	}
	s.Clock.Observe(uid, result.LastModified)

	writeTimestampHeaders(w, ts, result.LastModified)
	s.withBackoff(w)
	writeJSON(w, http.StatusOK, json.Number(result.LastModified.String()))
}

func (s *Server) getBSOHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	uid := identityFrom(ps)
	collection := ps.ByName("collection")
	id := ps.ByName("bsoid")

	item, err := s.Storage.GetBSO(uid, collection, id)
	if err == storage.ErrNotFound {
		writeError(w, apierror.ErrNotFound)
		return
	}
	if err != nil {
		s.reportTransientFailure(w, err)
		return
	}

	notModified, err := checkIfModifiedSince(r, modifiedAsTimestamp(item.Modified))
	if err != nil {
		writeError(w, err)
		return
	}
	if notModified {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("X-Last-Modified", modifiedAsTimestamp(item.Modified).String())
	s.withBackoff(w)
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) putBSOHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	uid := identityFrom(ps)
	collection := ps.ByName("collection")
	id := ps.ByName("bsoid")

	var item bso.BSO
	body := http.MaxBytesReader(w, r.Body, int64(s.Limits.MaxPayloadBytes)+4096)
	if err := json.NewDecoder(body).Decode(&item); err != nil {
		writeError(w, apierror.ErrBodyParse)
		return
	}
	if item.ID == "" {
		item.ID = id
	} else if item.ID != id {
		writeError(w, apierror.ErrInvalidID)
		return
	}
	if item.PayloadSize() > s.Limits.MaxPayloadBytes {
		writeError(w, apierror.ErrTooLarge)
		return
	}

	pre, err := parsePrecondition(r, s.Quotas.QuotaKB(uid))
	if err != nil {
		writeError(w, err)
		return
	}

	ts := s.Clock.Freeze(uid)
	result, err := s.Storage.ApplyBatch(uid, collection, []*bso.BSO{&item}, ts, pre, s.Limits)
	if err != nil {
		s.handleWriteError(w, err)
		return
	}
	if len(result.Failed[item.ID]) > 0 {
		writeError(w, apierror.New(http.StatusBadRequest, apierror.CodeInvalidBSO, result.Failed[item.ID][0]))
		return
	}
	s.Clock.Observe(uid, result.LastModified)

	writeTimestampHeaders(w, ts, result.LastModified)
	s.withBackoff(w)
	writeJSON(w, http.StatusOK, json.Number(result.LastModified.String()))
}

func (s *Server) deleteBSOHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	uid := identityFrom(ps)
	collection := ps.ByName("collection")
	id := ps.ByName("bsoid")

	pre, err := parsePrecondition(r, 0)
	if err != nil {
		writeError(w, err)
		return
	}

	ts := s.Clock.Freeze(uid)
	result, err := s.Storage.DeleteItem(uid, collection, id, ts, pre)
	if err == storage.ErrNotFound {
		writeError(w, apierror.ErrNotFound)
		return
	}
	if err != nil {
		s.handleWriteError(w, err)
		return
	}
	s.Clock.Observe(uid, result.LastModified)

	writeTimestampHeaders(w, ts, result.LastModified)
	s.withBackoff(w)
	writeJSON(w, http.StatusOK, json.Number(result.LastModified.String()))
}

// handleWriteError maps the storage-layer sentinels that every write path
// can return onto the wire error contract.
func (s *Server) handleWriteError(w http.ResponseWriter, err error) {
	switch err {
	case storage.ErrPreconditionFailed:
		writeError(w, apierror.ErrPreconditionFailed)
	case storage.ErrOverQuota:
		writeError(w, apierror.ErrOverQuota)
	default:
		s.reportTransientFailure(w, err)
	}
}
