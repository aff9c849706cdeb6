package server

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/weaveserver/syncstorage/apierror"
)

func (s *Server) deleteUserHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if r.Header.Get("X-Confirm-Delete") != "1" {
		writeError(w, apierror.ErrForbiddenDelete)
		return
	}
	uid := identityFrom(ps)
	if err := s.Storage.DeleteUser(uid); err != nil {
		s.reportTransientFailure(w, err)
		return
	}
	s.Clock.Forget(uid)
	writeJSON(w, http.StatusOK, true)
}
