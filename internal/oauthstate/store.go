// Package oauthstate はフェデレーション開始時に発行するstateトークンを管理する。
//
// stateトークンはクライアント指定のコールバック先と1対1に対応し、最初の照合で
// 必ず消費される（単一使用）。照合はStore.Takeによる取得と削除の不可分操作で行う。
package oauthstate

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStateNotFound はstateが未発行・使用済み・期限切れのいずれかであることを表す。
	ErrStateNotFound = errors.New("oauthstate: state not found")

	// ErrRedirectNotAllowed はコールバック先が許可リストに含まれないことを表す。
	ErrRedirectNotAllowed = errors.New("oauthstate: redirect uri not allowed")

	// ErrStateMismatch はstateの照合に失敗したことを表す。
	// 未知のstate、再利用、コールバック先の不一致を区別しない。
	ErrStateMismatch = errors.New("oauthstate: state mismatch")
)

// Store はstateトークンとコールバック先の対応を保持するキーバリューストア。
type Store interface {
	// Put はtokenとredirectURIの対応をttlの間保持する。
	Put(ctx context.Context, token, redirectURI string, ttl time.Duration) error

	// Take はtokenに対応するredirectURIを取得し、同時にエントリを削除する。
	// 取得と削除は不可分であり、同じtokenで並行に呼ばれても成功するのは1回のみ。
	// 存在しない・期限切れの場合はErrStateNotFoundを返す。
	Take(ctx context.Context, token string) (string, error)
}
