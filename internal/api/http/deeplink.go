// internal/api/http/deeplink.go
package http

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"

	"github.com/quezzio/lti-tool/internal/lti"
)

type deepLinkResourceReq struct {
	ResourceID json.Number `json:"resourceId"`
}

// deepLinkResource answers a content selection made in the frontend: it
// signs an LtiDeepLinkingResponse for the chosen resource and returns an
// auto-submitting form that POSTs it to the platform's return URL.
func (a *API) deepLinkResource(w http.ResponseWriter, r *http.Request) {
	var req deepLinkResourceReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	resourceID := req.ResourceID.String()
	if resourceID == "" {
		writeErr(w, http.StatusBadRequest, "resourceId is required")
		return
	}

	session, err := a.sessionFromRequest(r)
	if err != nil {
		respondErr(w, err)
		return
	}

	claims, err := a.Identities.Get(r.Context(), session.PlatformURL, session.ClientID, session.DeploymentID, session.UserID)
	if err != nil {
		respondErr(w, err)
		return
	}
	returnURL := claims.DeepLinkReturnURL()
	if returnURL == "" {
		writeErr(w, http.StatusBadRequest, "launch carried no deep link return url")
		return
	}

	item := lti.ContentItem{
		Type:   "ltiResourceLink",
		Title:  a.ToolName,
		Custom: map[string]any{"resource_id": resourceID},
		LineItem: &lti.LineItemHint{
			ScoreMaximum: 100,
			ResourceID:   resourceID,
		},
	}
	message, err := a.DeepLinks.Sign(r.Context(), session.PlatformURL, session.ClientID, session.DeploymentID, []lti.ContentItem{item})
	if err != nil {
		respondErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<form id="dl_submit" style="display: none;" action="%s" method="POST">
  <input type="hidden" name="JWT" value="%s" />
</form>
<script>document.getElementById("dl_submit").submit()</script>`,
		html.EscapeString(returnURL), html.EscapeString(message))
}
