// internal/api/http/launch.go
package http

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/quezzio/lti-tool/internal/lti"
)

// launch handles the platform's form POST back after authentication for a
// resource-link launch, then redirects into the frontend with a tool
// session token and the launched resource id.
func (a *API) launch(w http.ResponseWriter, r *http.Request) {
	claims, ok := a.completeLaunch(w, r)
	if !ok {
		return
	}

	resourceID := claims.Custom("resource_id")
	if resourceID == "" {
		writeErr(w, http.StatusBadRequest, "resource id not found")
		return
	}

	token, err := a.Sessions.Issue(claims)
	if err != nil {
		respondErr(w, err)
		return
	}

	path := "assignmentLaunch"
	role := lti.HighestPriorityRole(claims.Roles())
	if role == lti.RoleAdministrator || role == lti.RoleInstructor {
		path = "ltiLaunch"
	}
	http.Redirect(w, r, a.uiRedirect(path, url.Values{"lti": {token}, "id": {resourceID}}), http.StatusFound)
}

// deepLinkLaunch handles the callback for an LtiDeepLinkingRequest and
// redirects into the frontend's content picker.
func (a *API) deepLinkLaunch(w http.ResponseWriter, r *http.Request) {
	claims, ok := a.completeLaunch(w, r)
	if !ok {
		return
	}

	token, err := a.Sessions.Issue(claims)
	if err != nil {
		respondErr(w, err)
		return
	}
	http.Redirect(w, r, a.uiRedirect("deep-link-select", url.Values{"lti": {token}}), http.StatusFound)
}

// completeLaunch runs the shared callback checks: id_token validation,
// single-use state consumption, and the state-cookie issuer binding. On
// success the validated claim bag has been persisted to the identity store.
// Writes the error response itself when ok is false.
func (a *API) completeLaunch(w http.ResponseWriter, r *http.Request) (lti.Claims, bool) {
	if err := r.ParseForm(); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request")
		return nil, false
	}
	idToken := r.PostForm.Get("id_token")
	state := r.PostForm.Get("state")
	if idToken == "" || state == "" {
		writeErr(w, http.StatusBadRequest, "id_token and state are required")
		return nil, false
	}

	claims, err := a.Validator.Validate(r.Context(), idToken)
	if err != nil {
		respondErr(w, err)
		return nil, false
	}

	boundIssuer, err := a.Replay.ConsumeState(r.Context(), state)
	if err != nil {
		respondErr(w, err)
		return nil, false
	}

	cookieName := lti.StateCookieName(state)
	cookie, cookieErr := r.Cookie(cookieName)
	// Expire the cookie regardless of outcome; it has done its job.
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
	if cookieErr != nil || cookie.Value != claims.Issuer() || boundIssuer != claims.Issuer() {
		writeErr(w, http.StatusUnauthorized, "invalid state")
		return nil, false
	}

	if err := a.Identities.Put(r.Context(), claims); err != nil {
		respondErr(w, err)
		return nil, false
	}
	return claims, true
}

func (a *API) uiRedirect(path string, q url.Values) string {
	u := strings.TrimRight(a.UIURL, "/") + "/" + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}
