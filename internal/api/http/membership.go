// internal/api/http/membership.go
package http

import (
	"net/http"
)

// membership proxies the platform's NRPS roster for the launch identified by
// the bearer session token. The platform access token is acquired per call
// with a private_key_jwt client assertion.
func (a *API) membership(w http.ResponseWriter, r *http.Request) {
	session, err := a.sessionFromRequest(r)
	if err != nil {
		respondErr(w, err)
		return
	}

	platform, err := a.Registry.Lookup(r.Context(), session.PlatformURL, session.ClientID)
	if err != nil {
		respondErr(w, err)
		return
	}

	claims, err := a.Identities.Get(r.Context(), session.PlatformURL, session.ClientID, session.DeploymentID, session.UserID)
	if err != nil {
		respondErr(w, err)
		return
	}
	membershipURL := claims.MembershipURL()
	if membershipURL == "" {
		writeErr(w, http.StatusBadRequest, "launch carried no membership service")
		return
	}

	roster, err := a.Membership.FetchMemberships(r.Context(), platform, membershipURL)
	if err != nil {
		respondErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.ims.lti-nrps.v2.membershipcontainer+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(roster)
}
