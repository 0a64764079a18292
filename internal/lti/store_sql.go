package lti

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLStore implements every storage interface of this package on top of
// database/sql. Placeholders use the $N form, which both drivers we ship
// (modernc sqlite, pgx stdlib) accept. Single-row upsert/delete semantics
// of the underlying database provide the atomicity the replay guard needs.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

/* ------------------------------ Platforms ---------------------------------- */

func (s *SQLStore) GetPlatform(ctx context.Context, issuer, clientID string) (Platform, error) {
	row := s.db.QueryRowContext(ctx, `SELECT url,name,client_id,authentication_endpoint,accesstoken_endpoint,auth_method,auth_key,kid
		FROM platforms WHERE url=$1 AND client_id=$2`, issuer, clientID)
	var p Platform
	err := row.Scan(&p.URL, &p.Name, &p.ClientID, &p.AuthenticationEndpoint, &p.AccessTokenEndpoint, &p.AuthMethod, &p.AuthKey, &p.KID)
	if errors.Is(err, sql.ErrNoRows) {
		return Platform{}, ErrPlatformNotFound
	}
	if err != nil {
		return Platform{}, fmt.Errorf("store: get platform: %w", err)
	}
	return p, nil
}

func (s *SQLStore) PutPlatform(ctx context.Context, p Platform) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO platforms
		(url,name,client_id,authentication_endpoint,accesstoken_endpoint,auth_method,auth_key,kid)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (url, client_id) DO NOTHING`,
		p.URL, p.Name, p.ClientID, p.AuthenticationEndpoint, p.AccessTokenEndpoint, p.AuthMethod, p.AuthKey, p.KID)
	if err != nil {
		return fmt.Errorf("store: put platform: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: put platform: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *SQLStore) DeletePlatform(ctx context.Context, issuer, clientID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM platforms WHERE url=$1 AND client_id=$2`, issuer, clientID)
	if err != nil {
		return fmt.Errorf("store: delete platform: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPlatformNotFound
	}
	return nil
}

func (s *SQLStore) ListPlatforms(ctx context.Context) ([]Platform, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url,name,client_id,authentication_endpoint,accesstoken_endpoint,auth_method,auth_key,kid
		FROM platforms ORDER BY url, client_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list platforms: %w", err)
	}
	defer rows.Close()
	var out []Platform
	for rows.Next() {
		var p Platform
		if err := rows.Scan(&p.URL, &p.Name, &p.ClientID, &p.AuthenticationEndpoint, &p.AccessTokenEndpoint, &p.AuthMethod, &p.AuthKey, &p.KID); err != nil {
			return nil, fmt.Errorf("store: list platforms: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

/* -------------------------------- Keys ------------------------------------- */

func (s *SQLStore) SaveKeyPair(ctx context.Context, kp KeyPair) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO platform_keys (kid,public_pem,private_pem) VALUES ($1,$2,$3)`,
		kp.KID, kp.PublicPEM, kp.PrivatePEM)
	if err != nil {
		return fmt.Errorf("store: save key pair: %w", err)
	}
	return nil
}

func (s *SQLStore) GetKeyPair(ctx context.Context, kid string) (KeyPair, error) {
	row := s.db.QueryRowContext(ctx, `SELECT kid,public_pem,private_pem FROM platform_keys WHERE kid=$1`, kid)
	var kp KeyPair
	err := row.Scan(&kp.KID, &kp.PublicPEM, &kp.PrivatePEM)
	if errors.Is(err, sql.ErrNoRows) {
		return KeyPair{}, ErrKeyNotFound
	}
	if err != nil {
		return KeyPair{}, fmt.Errorf("store: get key pair: %w", err)
	}
	return kp, nil
}

func (s *SQLStore) ListKeyPairs(ctx context.Context) ([]KeyPair, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kid,public_pem,private_pem FROM platform_keys ORDER BY kid`)
	if err != nil {
		return nil, fmt.Errorf("store: list key pairs: %w", err)
	}
	defer rows.Close()
	var out []KeyPair
	for rows.Next() {
		var kp KeyPair
		if err := rows.Scan(&kp.KID, &kp.PublicPEM, &kp.PrivatePEM); err != nil {
			return nil, fmt.Errorf("store: list key pairs: %w", err)
		}
		out = append(out, kp)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteKeyPair(ctx context.Context, kid string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM platform_keys WHERE kid=$1`, kid)
	if err != nil {
		return fmt.Errorf("store: delete key pair: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrKeyNotFound
	}
	return nil
}

/* ------------------------------- States ------------------------------------ */

func (s *SQLStore) PutState(ctx context.Context, state, issuer string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO launch_states (state,issuer,expires_at) VALUES ($1,$2,$3)`,
		state, issuer, expiresAt.Unix())
	if err != nil {
		return fmt.Errorf("store: put state: %w", err)
	}
	return nil
}

// TakeState deletes the row and returns its issuer in one statement, so two
// concurrent callers cannot both consume the same state.
func (s *SQLStore) TakeState(ctx context.Context, state string, now time.Time) (string, error) {
	row := s.db.QueryRowContext(ctx, `DELETE FROM launch_states WHERE state=$1 AND expires_at>$2 RETURNING issuer`,
		state, now.Unix())
	var issuer string
	err := row.Scan(&issuer)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrStateNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: take state: %w", err)
	}
	return issuer, nil
}

/* ------------------------------- Nonces ------------------------------------ */

func (s *SQLStore) MarkNonce(ctx context.Context, platformKey, nonce string, expiresAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO nonces (platform_key,nonce,expires_at) VALUES ($1,$2,$3)
		ON CONFLICT (platform_key, nonce) DO NOTHING`, platformKey, nonce, expiresAt.Unix())
	if err != nil {
		return false, fmt.Errorf("store: mark nonce: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: mark nonce: %w", err)
	}
	return n == 1, nil
}

/* --------------------------- Identity records ------------------------------ */

func (s *SQLStore) PutIdentity(ctx context.Context, rec IdentityRecord) error {
	payload, err := json.Marshal(rec.Claims)
	if err != nil {
		return fmt.Errorf("store: marshal identity: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO id_tokens (issuer,client_id,deployment_id,user_id,payload,created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (issuer,client_id,deployment_id,user_id)
		DO UPDATE SET payload=EXCLUDED.payload, created_at=EXCLUDED.created_at`,
		rec.Issuer, rec.ClientID, rec.DeploymentID, rec.UserID, string(payload), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: put identity: %w", err)
	}
	return nil
}

func (s *SQLStore) GetIdentity(ctx context.Context, issuer, clientID, deploymentID, userID string) (IdentityRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM id_tokens
		WHERE issuer=$1 AND client_id=$2 AND deployment_id=$3 AND user_id=$4`,
		issuer, clientID, deploymentID, userID)
	var payload string
	err := row.Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return IdentityRecord{}, ErrRecordNotFound
	}
	if err != nil {
		return IdentityRecord{}, fmt.Errorf("store: get identity: %w", err)
	}
	rec := IdentityRecord{Issuer: issuer, ClientID: clientID, DeploymentID: deploymentID, UserID: userID}
	if err := json.Unmarshal([]byte(payload), &rec.Claims); err != nil {
		return IdentityRecord{}, fmt.Errorf("store: decode identity: %w", err)
	}
	return rec, nil
}

/* -------------------------------- Purge ------------------------------------ */

// PurgeExpired drops expired states and nonces. Called opportunistically
// from the server; losing a race here is harmless.
func (s *SQLStore) PurgeExpired(ctx context.Context, now time.Time) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM launch_states WHERE expires_at<=$1`, now.Unix()); err != nil {
		return fmt.Errorf("store: purge states: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM nonces WHERE expires_at<=$1`, now.Unix()); err != nil {
		return fmt.Errorf("store: purge nonces: %w", err)
	}
	return nil
}
