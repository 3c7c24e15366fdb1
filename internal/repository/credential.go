package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/loopreach/social-sync/internal/model"
)

type CredentialRepository interface {
	FindByProviderAndUser(ctx context.Context, provider model.Provider, userID string) (*model.SocialCredential, error)
	FindByUser(ctx context.Context, userID string) ([]*model.SocialCredential, error)
	ListConnected(ctx context.Context, provider model.Provider) ([]*model.SocialCredential, error)
	Upsert(ctx context.Context, params model.UpsertCredentialParams) (*model.SocialCredential, error)
	UpdateTokens(ctx context.Context, params model.UpdateTokensParams) error
	UpdateMetrics(ctx context.Context, id string, metrics json.RawMessage) error
	SetDisconnected(ctx context.Context, id string) error
	IncrementRefreshFailures(ctx context.Context, id string) (int, error)
	ResetRefreshFailures(ctx context.Context, id string) error
}

type credentialRepo struct {
	db *sqlx.DB
}

func NewCredentialRepository(db *sqlx.DB) CredentialRepository {
	return &credentialRepo{db: db}
}

func (r *credentialRepo) FindByProviderAndUser(ctx context.Context, provider model.Provider, userID string) (*model.SocialCredential, error) {
	var cred model.SocialCredential
	err := r.db.GetContext(ctx, &cred, `
		SELECT * FROM social_credentials
		WHERE provider = $1 AND user_id = $2
	`, provider, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (r *credentialRepo) FindByUser(ctx context.Context, userID string) ([]*model.SocialCredential, error) {
	var creds []*model.SocialCredential
	err := r.db.SelectContext(ctx, &creds, `
		SELECT * FROM social_credentials
		WHERE user_id = $1
		ORDER BY provider ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	return creds, nil
}

func (r *credentialRepo) ListConnected(ctx context.Context, provider model.Provider) ([]*model.SocialCredential, error) {
	var creds []*model.SocialCredential
	err := r.db.SelectContext(ctx, &creds, `
		SELECT * FROM social_credentials
		WHERE provider = $1 AND connected = TRUE
		ORDER BY created_at ASC
	`, provider)
	if err != nil {
		return nil, err
	}
	return creds, nil
}

// Upsert inserts or replaces the credential for (provider, user_id). On
// conflict the token fields are overwritten and last_connected_at refreshed,
// but the connected flag is left as-is so a re-auth of a disconnected account
// is an explicit reconnect only on first insert.
func (r *credentialRepo) Upsert(ctx context.Context, params model.UpsertCredentialParams) (*model.SocialCredential, error) {
	var cred model.SocialCredential
	err := r.db.GetContext(ctx, &cred, `
		INSERT INTO social_credentials
			(user_id, provider, external_id, access_token, refresh_token, page_id, page_token, expires_at, connected, last_connected_at, refresh_failures)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, NOW(), 0)
		ON CONFLICT (provider, user_id) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			page_id = EXCLUDED.page_id,
			page_token = EXCLUDED.page_token,
			expires_at = EXCLUDED.expires_at,
			last_connected_at = NOW(),
			refresh_failures = 0,
			updated_at = NOW()
		RETURNING *
	`, params.UserID, params.Provider, params.ExternalID, params.AccessToken,
		params.RefreshToken, params.PageID, params.PageToken, params.ExpiresAt.UTC())
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (r *credentialRepo) UpdateTokens(ctx context.Context, params model.UpdateTokensParams) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE social_credentials
		SET access_token = $2,
			refresh_token = COALESCE($3, refresh_token),
			page_token = COALESCE($4, page_token),
			expires_at = $5,
			last_connected_at = NOW(),
			updated_at = NOW()
		WHERE id = $1
	`, params.ID, params.AccessToken, params.RefreshToken, params.PageToken, params.ExpiresAt.UTC())
	return err
}

func (r *credentialRepo) UpdateMetrics(ctx context.Context, id string, metrics json.RawMessage) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE social_credentials
		SET metrics = $2, updated_at = NOW()
		WHERE id = $1
	`, id, metrics)
	return err
}

func (r *credentialRepo) SetDisconnected(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE social_credentials
		SET connected = FALSE, updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

func (r *credentialRepo) IncrementRefreshFailures(ctx context.Context, id string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		UPDATE social_credentials
		SET refresh_failures = refresh_failures + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING refresh_failures
	`, id)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *credentialRepo) ResetRefreshFailures(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE social_credentials
		SET refresh_failures = 0, updated_at = NOW()
		WHERE id = $1 AND refresh_failures <> 0
	`, id)
	return err
}
