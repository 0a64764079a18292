// internal/api/http/keys.go
package http

import "net/http"

// keys publishes the tool's JWKS: one RS256 key per registered platform.
func (a *API) keys(w http.ResponseWriter, r *http.Request) {
	set, err := a.Keys.PublicKeySet(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}
