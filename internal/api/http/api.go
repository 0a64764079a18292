// internal/api/http/api.go
package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quezzio/lti-tool/internal/lti"
)

/*
Package http is the tool's web surface. It parses requests, calls the lti
components, and maps their sentinel errors onto HTTP statuses. No protocol
logic lives here.

Route map:

	GET/POST /login               OIDC third-party login initiation
	POST     /launch              resource-link launch callback
	POST     /deep-link-launch    deep-linking launch callback
	GET      /keys                tool JWKS
	GET/POST /registration        LTI dynamic registration
	GET      /membership          NRPS roster proxy (bearer session token)
	POST     /deep-link-resource  signed deep-linking response (bearer session token)
	/admin/platforms              operator CRUD (basic auth)
*/

// API bundles the components the handlers delegate to.
type API struct {
	Registry   *lti.Registry
	Keys       *lti.KeyManager
	Replay     *lti.ReplayGuard
	Validator  *lti.Validator
	Sessions   *lti.SessionService
	Identities *lti.IdentityRecords
	Membership *lti.MembershipClient
	DeepLinks  *lti.DeepLinkSigner

	// UIURL is the frontend base the launch handlers redirect into.
	UIURL    string
	ToolName string

	// Admin surface credentials (basic auth; hash is bcrypt).
	AdminUser     string
	AdminPassHash string
}

// Routes returns the tool's router. Mount it at the server root.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/login", a.login)
	r.Post("/login", a.login)
	r.Post("/launch", a.launch)
	r.Post("/deep-link-launch", a.deepLinkLaunch)
	r.Get("/keys", a.keys)
	r.Get("/registration", a.registration)
	r.Post("/registration", a.registration)
	r.Get("/membership", a.membership)
	r.Post("/deep-link-resource", a.deepLinkResource)

	r.Route("/admin", func(ar chi.Router) {
		ar.Use(a.requireAdmin)
		ar.Get("/platforms", a.listPlatforms)
		ar.Delete("/platforms", a.deletePlatform)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// respondErr maps a component error onto the HTTP taxonomy. Unknown errors
// become a bare 500 so internals never leak.
func respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lti.ErrInvalidRecord):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, lti.ErrPlatformNotFound),
		errors.Is(err, lti.ErrKeyNotFound),
		errors.Is(err, lti.ErrRecordNotFound),
		errors.Is(err, lti.ErrStateNotFound):
		writeErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, lti.ErrNonceAlreadyUsed),
		errors.Is(err, lti.ErrInvalidToken),
		errors.Is(err, lti.ErrExpiredToken):
		writeErr(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, lti.ErrConflict):
		writeErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, lti.ErrUpstream):
		writeErr(w, http.StatusBadGateway, err.Error())
	default:
		log.Printf("http: unhandled error: %v", err)
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}

// sessionFromRequest verifies the Authorization bearer token and returns the
// session claims.
func (a *API) sessionFromRequest(r *http.Request) (*lti.SessionClaims, error) {
	token, err := lti.BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}
	return a.Sessions.Verify(token)
}
