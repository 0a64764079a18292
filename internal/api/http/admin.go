// internal/api/http/admin.go
package http

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// requireAdmin guards the operator surface with basic auth checked against
// the configured bcrypt hash.
func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != a.AdminUser ||
			bcrypt.CompareHashAndPassword([]byte(a.AdminPassHash), []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
			writeErr(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// listPlatforms returns every registered platform (no private key material).
func (a *API) listPlatforms(w http.ResponseWriter, r *http.Request) {
	platforms, err := a.Registry.List(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, platforms)
}

// deletePlatform removes a registration and its key pair. The kid is
// retired with it and never reused.
func (a *API) deletePlatform(w http.ResponseWriter, r *http.Request) {
	issuer := r.URL.Query().Get("url")
	clientID := r.URL.Query().Get("client_id")
	if issuer == "" || clientID == "" {
		writeErr(w, http.StatusBadRequest, "url and client_id are required")
		return
	}
	if err := a.Registry.Delete(r.Context(), issuer, clientID); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
