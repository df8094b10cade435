package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/savezy/internal/model"
)

// PostgresAPIKeyRepo はPostgreSQLを使用したAPIキーリポジトリ。
type PostgresAPIKeyRepo struct {
	db *sql.DB
}

// NewPostgresAPIKeyRepo はPostgresAPIKeyRepoを生成する。
func NewPostgresAPIKeyRepo(db *sql.DB) *PostgresAPIKeyRepo {
	return &PostgresAPIKeyRepo{db: db}
}

// Create はAPIキーを作成する。
func (r *PostgresAPIKeyRepo) Create(ctx context.Context, key *model.APIKey) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO api_keys (user_id, key_hash, key_prefix, is_active)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		key.UserID, key.KeyHash, key.KeyPrefix, key.IsActive,
	).Scan(&key.ID, &key.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

// FindByHash はハッシュでAPIキーを取得する。見つからない場合はnilを返す。
func (r *PostgresAPIKeyRepo) FindByHash(ctx context.Context, keyHash string) (*model.APIKey, error) {
	key := &model.APIKey{}
	var lastUsed sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, key_hash, key_prefix, is_active, created_at, last_used_at
		 FROM api_keys WHERE key_hash = $1`,
		keyHash,
	).Scan(&key.ID, &key.UserID, &key.KeyHash, &key.KeyPrefix, &key.IsActive, &key.CreatedAt, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find api key: %w", err)
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		key.LastUsedAt = &t
	}
	return key, nil
}

// TouchLastUsed は最終利用日時を更新する。
func (r *PostgresAPIKeyRepo) TouchLastUsed(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return nil
}

// SetActive はハッシュで指定したキーの有効/無効を切り替える。
func (r *PostgresAPIKeyRepo) SetActive(ctx context.Context, keyHash string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET is_active = $2 WHERE key_hash = $1`,
		keyHash, active,
	)
	if err != nil {
		return fmt.Errorf("failed to update api key: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// compile-time interface check
var _ APIKeyRepository = (*PostgresAPIKeyRepo)(nil)
