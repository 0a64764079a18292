// internal/api/http/login.go
package http

import (
	"net/http"

	"github.com/quezzio/lti-tool/internal/lti"
)

// login handles OIDC third-party login initiation. Platforms send it as a
// GET or a form POST; the parameter set is the same either way.
func (a *API) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request")
		return
	}
	iss := r.Form.Get("iss")
	targetLinkURI := r.Form.Get("target_link_uri")
	loginHint := r.Form.Get("login_hint")
	messageHint := r.Form.Get("lti_message_hint")
	clientID := r.Form.Get("client_id")
	deploymentID := r.Form.Get("lti_deployment_id")
	if iss == "" || targetLinkURI == "" || clientID == "" {
		writeErr(w, http.StatusBadRequest, "iss, target_link_uri and client_id are required")
		return
	}

	platform, err := a.Registry.Lookup(r.Context(), iss, clientID)
	if err != nil {
		respondErr(w, err)
		return
	}

	state, err := a.Replay.BeginState(r.Context(), iss)
	if err != nil {
		respondErr(w, err)
		return
	}

	// The cookie carries the initiating issuer back to the callback. Its name
	// is derived from the state so concurrent logins in one browser don't
	// clobber each other. SameSite=None because the POST back arrives from
	// the platform's origin.
	http.SetCookie(w, &http.Cookie{
		Name:     lti.StateCookieName(state),
		Value:    iss,
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})

	nonce := lti.NewNonce()
	redirect := lti.AuthRequestURL(platform, clientID, targetLinkURI, loginHint, messageHint, deploymentID, state, nonce)
	http.Redirect(w, r, redirect, http.StatusFound)
}
