// internal/api/http/registration.go
package http

import (
	"log"
	"net/http"
)

// closeScript tells the platform's registration window that the flow is
// finished (IMS dynamic registration close protocol).
const closeScript = `<script>(window.opener || window.parent).postMessage({subject:"org.imsglobal.lti.close"}, "*");</script>`

// registration runs LTI dynamic registration. Platforms open this endpoint
// with the openid_configuration URL (and usually a one-time
// registration_token) in the query.
func (a *API) registration(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request")
		return
	}
	configurationURL := r.Form.Get("openid_configuration")
	registrationToken := r.Form.Get("registration_token")
	if configurationURL == "" {
		writeErr(w, http.StatusBadRequest, "openid_configuration is required")
		return
	}

	platform, err := a.Registry.Register(r.Context(), configurationURL, registrationToken)
	if err != nil {
		respondErr(w, err)
		return
	}
	log.Printf("registration: platform registered issuer=%s client_id=%s kid=%s", platform.URL, platform.ClientID, platform.KID)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(closeScript))
}
