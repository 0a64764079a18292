package lti

import (
	"context"
	"fmt"
)

// IdentityRecords persists the last validated identity assertion per
// (issuer, client, deployment, user) so later calls that only carry the
// tool's own session token can recover platform-granted URLs and scopes.
type IdentityRecords struct {
	Store IdentityStore
}

// Put upserts the claim bag under its canonical key. Last write wins on
// re-launch by the same user.
func (s *IdentityRecords) Put(ctx context.Context, c Claims) error {
	rec := IdentityRecord{
		Issuer:       c.Issuer(),
		ClientID:     c.Audience(),
		DeploymentID: c.DeploymentID(),
		UserID:       c.Subject(),
		Claims:       c,
	}
	if rec.Issuer == "" || rec.ClientID == "" || rec.DeploymentID == "" || rec.UserID == "" {
		return fmt.Errorf("%w: identity key fields", ErrInvalidRecord)
	}
	return s.Store.PutIdentity(ctx, rec)
}

// Get returns the stored claim bag or ErrRecordNotFound.
func (s *IdentityRecords) Get(ctx context.Context, issuer, clientID, deploymentID, userID string) (Claims, error) {
	rec, err := s.Store.GetIdentity(ctx, issuer, clientID, deploymentID, userID)
	if err != nil {
		return nil, err
	}
	return rec.Claims, nil
}
