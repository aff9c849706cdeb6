package server

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

func (s *Server) infoCollectionsHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	uid := identityFrom(ps)
	out, err := s.Storage.CollectionTimestamps(uid)
	if err != nil {
		s.reportTransientFailure(w, err)
		return
	}
	seconds := make(map[string]float64, len(out))
	for name, ts := range out {
		seconds[name] = ts.Seconds()
	}
	writeJSON(w, http.StatusOK, seconds)
}

func (s *Server) infoCollectionCountsHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	uid := identityFrom(ps)
	out, err := s.Storage.CollectionCounts(uid)
	if err != nil {
		s.reportTransientFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) infoCollectionUsageHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	uid := identityFrom(ps)
	out, err := s.Storage.CollectionUsage(uid)
	if err != nil {
		s.reportTransientFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) infoQuotaHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	uid := identityFrom(ps)
	used, err := s.Storage.TotalUsage(uid)
	if err != nil {
		s.reportTransientFailure(w, err)
		return
	}
	quotaKB := s.Quotas.QuotaKB(uid)
	usedKB := used / 1024
	var quota interface{}
	if quotaKB > 0 {
		quota = quotaKB
	}
	writeJSON(w, http.StatusOK, []interface{}{usedKB, quota})
}

func (s *Server) infoConfigurationHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]int{
		"max_post_records":   s.Limits.MaxPostRecords,
		"max_post_bytes":     s.Limits.MaxPostBytes,
		"max_payload_bytes":  s.Limits.MaxPayloadBytes,
		"max_record_id_size": s.Limits.MaxRecordIDSize,
		"max_total_records":  s.Limits.MaxTotalRecords,
		"max_total_bytes":    s.Limits.MaxTotalBytes,
	})
}
