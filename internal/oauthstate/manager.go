package oauthstate

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

const stateEntropyBytes = 32

// Manager はコールバック先の許可リスト検証とstateの発行・照合を行う。
type Manager struct {
	store   Store
	allowed map[string]struct{}
	ttl     time.Duration
}

// NewManager はManagerを生成する。
// allowListの各要素は完全一致で比較する。空の場合はどのコールバック先も許可しない。
func NewManager(store Store, allowList []string, ttl time.Duration) *Manager {
	allowed := make(map[string]struct{}, len(allowList))
	for _, uri := range allowList {
		if uri != "" {
			allowed[uri] = struct{}{}
		}
	}
	return &Manager{store: store, allowed: allowed, ttl: ttl}
}

// Allowed はredirectURIが許可リストに含まれるかを返す。
func (m *Manager) Allowed(redirectURI string) bool {
	_, ok := m.allowed[redirectURI]
	return ok
}

// Begin は新しいstateを発行し、redirectURIと対応付けて保存する。
// 許可リストにないredirectURIはストアに書き込む前に拒否する。
func (m *Manager) Begin(ctx context.Context, redirectURI string) (string, error) {
	if !m.Allowed(redirectURI) {
		return "", ErrRedirectNotAllowed
	}

	buf := make([]byte, stateEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("oauthstate: generate state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(buf)

	if err := m.store.Put(ctx, state, redirectURI, m.ttl); err != nil {
		return "", err
	}
	return state, nil
}

// Redeem はstateを消費し、保存されたコールバック先とredirectURIが一致するかを確認する。
// エントリは比較の前に削除されるため、不一致の場合も同じstateは二度と使えない。
func (m *Manager) Redeem(ctx context.Context, state, redirectURI string) error {
	if state == "" {
		return fmt.Errorf("%w: %w", ErrStateMismatch, ErrStateNotFound)
	}

	stored, err := m.store.Take(ctx, state)
	if errors.Is(err, ErrStateNotFound) {
		return fmt.Errorf("%w: %w", ErrStateMismatch, err)
	}
	if err != nil {
		return err
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(redirectURI)) != 1 {
		return fmt.Errorf("%w: redirect uri differs from the one used at begin", ErrStateMismatch)
	}
	return nil
}
