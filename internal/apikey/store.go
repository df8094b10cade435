// Package apikey はAPIキーの発行・照合・無効化を行う。
//
// 平文のキーは発行時に一度だけ呼び出し側へ返し、永続化するのはSHA-256ハッシュと
// 識別用の先頭8文字のみ。照合成功したキーはハッシュをキーにしてLRUに保持し、
// 以降のリクエストではデータベースを参照しない。
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hitoshi/savezy/internal/model"
	"github.com/hitoshi/savezy/internal/repository"
)

const (
	// KeyPrefix は発行するキーの先頭に付く識別子。
	KeyPrefix = "sk_"

	keyEntropyBytes  = 32
	displayPrefixLen = 8
)

// ErrInvalidKey はキーが存在しない、または無効化されていることを表す。
var ErrInvalidKey = errors.New("apikey: invalid key")

// Store はAPIキーストア。
type Store struct {
	repo  repository.APIKeyRepository
	cache *expirable.LRU[string, int64]
	now   func() time.Time
}

// NewStore はStoreを生成する。
// cacheSizeが0以下の場合はキャッシュを無効にする。
func NewStore(repo repository.APIKeyRepository, cacheSize int, cacheTTL time.Duration) *Store {
	s := &Store{
		repo: repo,
		now:  time.Now,
	}
	if cacheSize > 0 && cacheTTL > 0 {
		s.cache = expirable.NewLRU[string, int64](cacheSize, nil, cacheTTL)
	}
	return s
}

// HashKey は生のキーのSHA-256ハッシュを16進文字列で返す。
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix はログや管理画面で表示してよいキーの先頭部分を返す。
func DisplayPrefix(raw string) string {
	if len(raw) <= displayPrefixLen {
		return raw
	}
	return raw[:displayPrefixLen]
}

// Issue は新しいキーを生成して永続化し、生のキーとメタデータを返す。
// 生のキーはこの戻り値以外から取得する手段がない。
func (s *Store) Issue(ctx context.Context, userID int64) (string, *model.APIKey, error) {
	buf := make([]byte, keyEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("apikey: generate: %w", err)
	}
	raw := KeyPrefix + base64.RawURLEncoding.EncodeToString(buf)

	key := &model.APIKey{
		UserID:    userID,
		KeyHash:   HashKey(raw),
		KeyPrefix: DisplayPrefix(raw),
		IsActive:  true,
	}
	if err := s.repo.Create(ctx, key); err != nil {
		return "", nil, fmt.Errorf("apikey: issue: %w", err)
	}

	slog.Info("api key issued",
		slog.Int64("user_id", userID),
		slog.String("key_prefix", key.KeyPrefix),
	)
	return raw, key, nil
}

// Authenticate は提示されたキーを照合し、所有者のユーザーIDを返す。
// 存在しないキー・無効化されたキーはErrInvalidKeyを返す。
func (s *Store) Authenticate(ctx context.Context, raw string) (int64, error) {
	if !strings.HasPrefix(raw, KeyPrefix) || len(raw) == len(KeyPrefix) {
		return 0, ErrInvalidKey
	}
	hash := HashKey(raw)

	if s.cache != nil {
		if userID, ok := s.cache.Get(hash); ok {
			return userID, nil
		}
	}

	key, err := s.repo.FindByHash(ctx, hash)
	if err != nil {
		return 0, fmt.Errorf("apikey: lookup: %w", err)
	}
	if key == nil || !key.IsActive {
		return 0, ErrInvalidKey
	}
	if subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 {
		return 0, ErrInvalidKey
	}

	if s.cache != nil {
		s.cache.Add(hash, key.UserID)
	}

	// 最終利用日時の更新失敗は認証結果に影響させない
	if err := s.repo.TouchLastUsed(ctx, key.ID, s.now()); err != nil {
		slog.Warn("failed to update api key last_used_at",
			slog.String("key_prefix", key.KeyPrefix),
			slog.String("error", err.Error()),
		)
	}

	return key.UserID, nil
}

// Deactivate はキーを無効化し、キャッシュからも取り除く。
func (s *Store) Deactivate(ctx context.Context, raw string) error {
	hash := HashKey(raw)

	err := s.repo.SetActive(ctx, hash, false)
	if s.cache != nil {
		s.cache.Remove(hash)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return ErrInvalidKey
	}
	if err != nil {
		return fmt.Errorf("apikey: deactivate: %w", err)
	}

	slog.Info("api key deactivated", slog.String("key_prefix", DisplayPrefix(raw)))
	return nil
}
