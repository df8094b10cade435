package oauthstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hitoshi/savezy/internal/model"
)

// MemoryStore はプロセス内のmapで状態を保持するStore。
// 単一インスタンス構成向け。複数インスタンスで動かす場合はRedisStoreを使う。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]model.OAuthState
	now     func() time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryStore はMemoryStoreを生成する。
// sweepIntervalが正の場合、期限切れエントリを定期的に削除するgoroutineを起動する。
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]model.OAuthState),
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if sweepInterval > 0 {
		go s.sweepLoop(sweepInterval)
	} else {
		close(s.done)
	}
	return s
}

// Put はtokenとredirectURIの対応を保持する。
func (s *MemoryStore) Put(_ context.Context, token, redirectURI string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("oauthstate: ttl must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.entries[token] = model.OAuthState{
		Token:       token,
		RedirectURI: redirectURI,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	return nil
}

// Take はエントリを取得して削除する。ロック内で両方を行う。
func (s *MemoryStore) Take(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[token]
	if !ok {
		return "", ErrStateNotFound
	}
	delete(s.entries, token)

	if entry.Expired(s.now()) {
		return "", ErrStateNotFound
	}
	return entry.RedirectURI, nil
}

// Sweep は期限切れエントリを削除し、削除件数を返す。
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for token, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, token)
			removed++
		}
	}
	return removed
}

// Len は保持しているエントリ数を返す。期限切れで未削除のものも含む。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close は掃除用goroutineを停止する。複数回呼んでも安全。
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
	return nil
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// compile-time interface check
var _ Store = (*MemoryStore)(nil)
