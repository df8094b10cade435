package oauthstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/savezy/internal/model"
)

// KeyPrefix はRedis上のstateキーの接頭辞。
const KeyPrefix = "savezy:oauth_state:"

// RedisStore はRedisで状態を保持するStore。
// 有効期限はRedisのキーTTLに任せ、取得と削除はGETDELで不可分に行う。
type RedisStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisStore はRedisStoreを生成する。
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// Put はエントリをJSONで保存する。
func (s *RedisStore) Put(ctx context.Context, token, redirectURI string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("oauthstate: ttl must be positive")
	}

	now := s.now()
	payload, err := json.Marshal(model.OAuthState{
		Token:       token,
		RedirectURI: redirectURI,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("oauthstate: marshal state: %w", err)
	}
	if err := s.client.Set(ctx, KeyPrefix+token, payload, ttl).Err(); err != nil {
		return fmt.Errorf("oauthstate: persist state: %w", err)
	}
	return nil
}

// Take はGETDELでエントリを取得と同時に削除する。
func (s *RedisStore) Take(ctx context.Context, token string) (string, error) {
	raw, err := s.client.GetDel(ctx, KeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", ErrStateNotFound
	}
	if err != nil {
		return "", fmt.Errorf("oauthstate: load state: %w", err)
	}

	var entry model.OAuthState
	if err := json.Unmarshal(raw, &entry); err != nil {
		return "", fmt.Errorf("oauthstate: decode state: %w", err)
	}
	// キーTTLとの時計ずれに備えてペイロード側の期限も確認する
	if entry.Expired(s.now()) {
		return "", ErrStateNotFound
	}
	return entry.RedirectURI, nil
}

// compile-time interface check
var _ Store = (*RedisStore)(nil)
