package web

import (
	"crypto/subtle"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// requireAdmin wraps next with HTTP basic auth checked against the
// configured bcrypt hash.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminHash == "" {
			writeError(w, http.StatusForbidden, "admin access is not configured")
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || !s.checkAdmin(user, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="course-board admin"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkAdmin(user, pass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.AdminUser)) == 1
	// Always run bcrypt so a wrong user name costs the same as a wrong password.
	err := bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminHash), []byte(pass))
	if err != nil && !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		log.Errorf("web: admin hash: %v", err)
	}
	return userOK && err == nil
}
