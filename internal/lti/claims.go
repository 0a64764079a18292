package lti

import "strings"

// IMS claim URIs used by launches and deep linking.
const (
	ClaimMessageType         = "https://purl.imsglobal.org/spec/lti/claim/message_type"
	ClaimVersion             = "https://purl.imsglobal.org/spec/lti/claim/version"
	ClaimDeploymentID        = "https://purl.imsglobal.org/spec/lti/claim/deployment_id"
	ClaimRoles               = "https://purl.imsglobal.org/spec/lti/claim/roles"
	ClaimCustom              = "https://purl.imsglobal.org/spec/lti/claim/custom"
	ClaimContentItems        = "https://purl.imsglobal.org/spec/lti-dl/claim/content_items"
	ClaimDeepLinkingSettings = "https://purl.imsglobal.org/spec/lti-dl/claim/deep_linking_settings"
	ClaimNamesRoleService    = "https://purl.imsglobal.org/spec/lti-nrps/claim/namesroleservice"
)

const (
	MessageTypeResourceLink        = "LtiResourceLinkRequest"
	MessageTypeDeepLinkingRequest  = "LtiDeepLinkingRequest"
	MessageTypeDeepLinkingResponse = "LtiDeepLinkingResponse"
	LTIVersion                     = "1.3.0"
)

// ScopeMembershipReadonly is the NRPS scope requested for roster calls.
const ScopeMembershipReadonly = "https://purl.imsglobal.org/spec/lti-nrps/scope/contextmembership.readonly"

// RegistrationScopes is the full scope set requested during dynamic registration.
var RegistrationScopes = []string{
	"https://purl.imsglobal.org/spec/lti-ags/scope/lineitem.readonly",
	"https://purl.imsglobal.org/spec/lti-ags/scope/lineitem",
	"https://purl.imsglobal.org/spec/lti-ags/scope/score",
	"https://purl.imsglobal.org/spec/lti-ags/scope/result.readonly",
	ScopeMembershipReadonly,
}

// Claims is the validated claim bag from a platform id_token.
type Claims map[string]any

// Issuer returns the iss claim.
func (c Claims) Issuer() string { return asString(c["iss"]) }

// Subject returns the sub claim.
func (c Claims) Subject() string { return asString(c["sub"]) }

// Audience returns the first audience. LTI id_tokens carry the tool's
// client_id here, either as a string or a one-element array.
func (c Claims) Audience() string { return asString(c["aud"]) }

// DeploymentID returns the LTI deployment_id claim.
func (c Claims) DeploymentID() string { return asString(c[ClaimDeploymentID]) }

// Roles returns the LTI roles claim as a string slice.
func (c Claims) Roles() []string {
	raw, ok := c[ClaimRoles].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s := asString(r); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Custom returns a value from the LTI custom claim object.
func (c Claims) Custom(key string) string {
	obj, ok := c[ClaimCustom].(map[string]any)
	if !ok {
		return ""
	}
	return asString(obj[key])
}

// DeepLinkReturnURL returns the deep_link_return_url from the deep linking
// settings claim, or "" when the launch was not a deep-linking request.
func (c Claims) DeepLinkReturnURL() string {
	obj, ok := c[ClaimDeepLinkingSettings].(map[string]any)
	if !ok {
		return ""
	}
	return asString(obj["deep_link_return_url"])
}

// MembershipURL returns the NRPS context_memberships_url, or "".
func (c Claims) MembershipURL() string {
	obj, ok := c[ClaimNamesRoleService].(map[string]any)
	if !ok {
		return ""
	}
	return asString(obj["context_memberships_url"])
}

// Role name order is the resolution priority for session tokens.
const (
	RoleAdministrator = "Administrator"
	RoleInstructor    = "Instructor"
	RoleLearner       = "Learner"
)

var rolePriority = []string{RoleAdministrator, RoleInstructor, RoleLearner}

// HighestPriorityRole picks the most privileged recognized role from an LTI
// roles claim. Roles arrive either as bare names or as IMS vocabulary URIs
// ending in "#<Name>". Unknown or empty role lists resolve to Learner.
func HighestPriorityRole(roles []string) string {
	for _, want := range rolePriority {
		for _, r := range roles {
			if r == want || strings.HasSuffix(r, "#"+want) {
				return want
			}
		}
	}
	return RoleLearner
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		if len(t) > 0 {
			return asString(t[0])
		}
	case []string:
		if len(t) > 0 {
			return t[0]
		}
	}
	return ""
}
