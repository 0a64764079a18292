package lti

import (
	"context"
	"sync"
	"time"
)

// MemStore is a process-local implementation of every storage interface in
// this package, for dev and tests. Safe for concurrent use.
type MemStore struct {
	mu         sync.Mutex
	platforms  map[string]Platform // issuer|clientID
	keys       map[string]KeyPair
	states     map[string]memState
	nonces     map[string]time.Time // platformKey|nonce
	identities map[string]IdentityRecord
}

type memState struct {
	issuer    string
	expiresAt time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		platforms:  make(map[string]Platform),
		keys:       make(map[string]KeyPair),
		states:     make(map[string]memState),
		nonces:     make(map[string]time.Time),
		identities: make(map[string]IdentityRecord),
	}
}

func pkey(issuer, clientID string) string { return issuer + "|" + clientID }

func (m *MemStore) GetPlatform(_ context.Context, issuer, clientID string) (Platform, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.platforms[pkey(issuer, clientID)]
	if !ok {
		return Platform{}, ErrPlatformNotFound
	}
	return p, nil
}

func (m *MemStore) PutPlatform(_ context.Context, p Platform) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pkey(p.URL, p.ClientID)
	if _, exists := m.platforms[k]; exists {
		return ErrConflict
	}
	m.platforms[k] = p
	return nil
}

func (m *MemStore) DeletePlatform(_ context.Context, issuer, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pkey(issuer, clientID)
	if _, ok := m.platforms[k]; !ok {
		return ErrPlatformNotFound
	}
	delete(m.platforms, k)
	return nil
}

func (m *MemStore) ListPlatforms(_ context.Context) ([]Platform, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Platform, 0, len(m.platforms))
	for _, p := range m.platforms {
		out = append(out, p)
	}
	return out, nil
}

func (m *MemStore) SaveKeyPair(_ context.Context, kp KeyPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[kp.KID] = kp
	return nil
}

func (m *MemStore) GetKeyPair(_ context.Context, kid string) (KeyPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kp, ok := m.keys[kid]
	if !ok {
		return KeyPair{}, ErrKeyNotFound
	}
	return kp, nil
}

func (m *MemStore) ListKeyPairs(_ context.Context) ([]KeyPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]KeyPair, 0, len(m.keys))
	for _, kp := range m.keys {
		out = append(out, kp)
	}
	return out, nil
}

func (m *MemStore) DeleteKeyPair(_ context.Context, kid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[kid]; !ok {
		return ErrKeyNotFound
	}
	delete(m.keys, kid)
	return nil
}

func (m *MemStore) PutState(_ context.Context, state, issuer string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state] = memState{issuer: issuer, expiresAt: expiresAt}
	return nil
}

func (m *MemStore) TakeState(_ context.Context, state string, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[state]
	if !ok {
		return "", ErrStateNotFound
	}
	delete(m.states, state)
	if !now.Before(st.expiresAt) {
		return "", ErrStateNotFound
	}
	return st.issuer, nil
}

func (m *MemStore) MarkNonce(_ context.Context, platformKey, nonce string, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := platformKey + "|" + nonce
	if until, ok := m.nonces[k]; ok && time.Now().Before(until) {
		return false, nil
	}
	m.nonces[k] = expiresAt
	return true, nil
}

func (m *MemStore) PutIdentity(_ context.Context, rec IdentityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := rec.Issuer + "|" + rec.ClientID + "|" + rec.DeploymentID + "|" + rec.UserID
	m.identities[k] = rec
	return nil
}

func (m *MemStore) GetIdentity(_ context.Context, issuer, clientID, deploymentID, userID string) (IdentityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.identities[issuer+"|"+clientID+"|"+deploymentID+"|"+userID]
	if !ok {
		return IdentityRecord{}, ErrRecordNotFound
	}
	return rec, nil
}
