// Package server implements the HTTP surface described in spec §6: route
// table, authentication wrapper, request pipeline glue, and response
// encoding. Grounded on bendo's server/routes.go (RESTServer struct,
// httprouter + httpdown lifecycle, the logWrapper/authzWrapper chain).
package server

import (
	"net/http"
	"time"

	"github.com/facebookgo/httpdown"
	"github.com/julienschmidt/httprouter"

	"github.com/weaveserver/syncstorage/apierror"
	"github.com/weaveserver/syncstorage/auth"
	"github.com/weaveserver/syncstorage/bso"
	"github.com/weaveserver/syncstorage/clock"
	"github.com/weaveserver/syncstorage/storage"
)

// Quotas resolves a per-user quota in kilobytes. The reference
// implementation (cmd/syncstored) always returns the configured default;
// it is an interface so a deployment could wire in per-user overrides
// without changing this package.
type Quotas interface {
	QuotaKB(userID int64) int64
}

// StaticQuota implements Quotas with a single value for every user.
type StaticQuota int64

func (q StaticQuota) QuotaKB(int64) int64 { return int64(q) }

// Server holds everything addRoutes needs to build the request pipeline.
// Set the public fields and call Run.
type Server struct {
	PortNumber string

	Storage storage.Backend
	Clock   *clock.Service
	Auth    auth.Authenticator
	Quotas  Quotas
	Limits  bso.Limits

	backoff *backoffTracker
	httpSrv httpdown.Server
}

// Run starts the HTTP listener and blocks until it is stopped or fails.
func (s *Server) Run() error {
	if s.Auth == nil {
		s.Auth = auth.Nobody{}
	}
	if s.Quotas == nil {
		s.Quotas = StaticQuota(0)
	}
	s.backoff = newBackoffTracker(60*time.Second, 20)

	h := httpdown.HTTP{}
	srv, err := h.ListenAndServe(&http.Server{
		Addr:    ":" + s.PortNumber,
		Handler: s.addRoutes(),
	})
	if err != nil {
		return err
	}
	s.httpSrv = srv
	return s.httpSrv.Wait()
}

// Stop closes the listener and waits for in-flight requests to finish.
func (s *Server) Stop() error {
	return s.httpSrv.Stop()
}

func (s *Server) addRoutes() http.Handler {
	var routes = []struct {
		method  string
		route   string
		handler httprouter.Handle
	}{
		{"GET", "/1.5/:uid/info/collections", s.infoCollectionsHandler},
		{"GET", "/1.5/:uid/info/collection_counts", s.infoCollectionCountsHandler},
		{"GET", "/1.5/:uid/info/collection_usage", s.infoCollectionUsageHandler},
		{"GET", "/1.5/:uid/info/quota", s.infoQuotaHandler},
		{"GET", "/1.5/:uid/info/configuration", s.infoConfigurationHandler},

		{"GET", "/1.5/:uid/storage/:collection", s.getCollectionHandler},
		{"POST", "/1.5/:uid/storage/:collection", s.postCollectionHandler},
		{"DELETE", "/1.5/:uid/storage/:collection", s.deleteCollectionHandler},
		{"GET", "/1.5/:uid/storage/:collection/:bsoid", s.getBSOHandler},
		{"PUT", "/1.5/:uid/storage/:collection/:bsoid", s.putBSOHandler},
		{"DELETE", "/1.5/:uid/storage/:collection/:bsoid", s.deleteBSOHandler},

		{"DELETE", "/1.5/:uid/storage", s.deleteUserHandler},
	}

	r := httprouter.New()
	for _, route := range routes {
		r.Handle(route.method, route.route, logWrapper(s.authWrapper(route.handler)))
	}
	return r
}

// withBackoff sets a soft X-Weave-Backoff hint on a successful response
// once the server's recent-failure rate trips the threshold. Error
// responses do not carry it.
func (s *Server) withBackoff(w http.ResponseWriter) {
	writeBackoffHeader(w, s.backoff.backoffSeconds())
}

func (s *Server) reportTransientFailure(w http.ResponseWriter, err error) {
	s.backoff.noteFailure()
	id := apierror.Report(err, nil)
	w.Header().Set("X-Error-Id", id)
	writeRetryAfter(w, 5)
	writeError(w, apierror.ErrBusy)
}
