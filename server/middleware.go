package server

import (
	"log"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/weaveserver/syncstorage/apierror"
)

// authWrapper verifies the caller's credentials and that the authenticated
// user_id matches the {uid} path component, per spec §6 ("{uid} is the
// authenticated numeric user-id and must equal the URL path component or
// the request fails"). Adapted from bendo's authzWrapper, generalized from
// a role check to an identity-match check since this protocol has no roles.
func (s *Server) authWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		credentials := r.Header.Get("Authorization")
		identity, err := s.Auth.Authenticate(credentials)
		if err != nil {
			writeError(w, apierror.Wrap(err, http.StatusUnauthorized, apierror.CodeInvalidUser, "authentication failed"))
			return
		}

		uidParam := ps.ByName("uid")
		uid, convErr := strconv.ParseInt(uidParam, 10, 64)
		if convErr != nil || uid != identity.UserID {
			writeError(w, apierror.ErrInvalidUser)
			return
		}

		handler(w, r, ps)
	}
}

// logWrapper logs the request line before invoking handler, same shape as
// bendo's logWrapper.
func logWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		log.Println(r.Method, r.URL.Path)
		handler(w, r, ps)
	}
}

// identityFrom re-derives the authenticated user_id from the path, which
// authWrapper has already verified matches the credentials.
func identityFrom(ps httprouter.Params) int64 {
	uid, _ := strconv.ParseInt(ps.ByName("uid"), 10, 64)
	return uid
}
