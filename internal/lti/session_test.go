package lti

import (
	"errors"
	"testing"
	"time"
)

func launchClaims() Claims {
	return Claims{
		"iss":             "https://platform.example",
		"aud":             "client-1",
		"sub":             "user-9",
		ClaimDeploymentID: "dep-1",
		ClaimRoles: []any{
			"http://purl.imsglobal.org/vocab/lis/v2/membership#Instructor",
			"http://purl.imsglobal.org/vocab/lis/v2/membership#Learner",
		},
	}
}

func TestSessionRoundTrip(t *testing.T) {
	svc := NewSessionService("test-secret", time.Minute)

	token, err := svc.Issue(launchClaims())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	got, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.PlatformURL != "https://platform.example" ||
		got.ClientID != "client-1" ||
		got.DeploymentID != "dep-1" ||
		got.UserID != "user-9" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Role != RoleInstructor {
		t.Fatalf("role = %q, want Instructor", got.Role)
	}
}

func TestSessionExpired(t *testing.T) {
	svc := NewSessionService("test-secret", time.Minute)
	token, err := svc.Issue(launchClaims())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	svc.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }
	if _, err := svc.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("got %v, want ErrExpiredToken", err)
	}
}

func TestSessionBadSignature(t *testing.T) {
	token, err := NewSessionService("secret-a", time.Minute).Issue(launchClaims())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := NewSessionService("secret-b", time.Minute).Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}

func TestIssueRequiresIdentityFields(t *testing.T) {
	c := launchClaims()
	delete(c, ClaimDeploymentID)
	if _, err := NewSessionService("test-secret", time.Minute).Issue(c); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("got %v, want ErrInvalidRecord", err)
	}
}

func TestHighestPriorityRole(t *testing.T) {
	cases := []struct {
		name  string
		roles []string
		want  string
	}{
		{"empty", nil, RoleLearner},
		{"unknown only", []string{"http://purl.imsglobal.org/vocab/lis/v2/membership#Mentor"}, RoleLearner},
		{"bare name", []string{"Instructor"}, RoleInstructor},
		{"uri form", []string{"http://purl.imsglobal.org/vocab/lis/v2/membership#Learner"}, RoleLearner},
		{"admin beats instructor", []string{
			"http://purl.imsglobal.org/vocab/lis/v2/membership#Instructor",
			"http://purl.imsglobal.org/vocab/lis/v2/system/person#Administrator",
		}, RoleAdministrator},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HighestPriorityRole(tc.roles); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	if tok, err := BearerToken("Bearer abc.def.ghi"); err != nil || tok != "abc.def.ghi" {
		t.Fatalf("got (%q, %v)", tok, err)
	}
	for _, h := range []string{"", "abc", "Basic abc", "bearer abc", "Bearer "} {
		if _, err := BearerToken(h); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("header %q: got %v, want ErrInvalidToken", h, err)
		}
	}
}
