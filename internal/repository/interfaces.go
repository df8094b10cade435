// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/savezy/internal/model"
)

// ErrDuplicateEmail は同一emailのユーザーが既に存在する場合に返される。
// 初回作成が並行した場合に発生しうるため、呼び出し側は再取得で回復する。
var ErrDuplicateEmail = errors.New("repository: duplicate email")

// ErrNotFound は更新対象の行が存在しない場合に返される。
var ErrNotFound = errors.New("repository: not found")

// UserRepository はユーザー（プリンシパル）の永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByEmail はemailでユーザーを取得する。見つからない場合はnilを返す。
	// emailは大文字小文字を区別して比較する。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// UpsertByEmail はemailをキーにユーザーを作成または更新する。
	// 既存ユーザーの場合はnameとpictureのみ更新し、emailとIDは変更しない。
	UpsertByEmail(ctx context.Context, email, name, picture string) (*model.User, error)

	// CreateIfAbsent はユーザーが存在しない場合のみ作成する。
	// 既存ユーザーは一切変更せずにそのまま返す。
	CreateIfAbsent(ctx context.Context, email, name string) (*model.User, error)
}

// APIKeyRepository はAPIキーの永続化インターフェース。
// 平文のキーは保持せず、SHA-256ハッシュのみを扱う。
type APIKeyRepository interface {
	// Create はAPIキーを作成し、採番されたIDと作成日時をkeyに設定する。
	Create(ctx context.Context, key *model.APIKey) error

	// FindByHash はハッシュでAPIキーを取得する。見つからない場合はnilを返す。
	// 無効化されたキーも返すため、呼び出し側でIsActiveを確認すること。
	FindByHash(ctx context.Context, keyHash string) (*model.APIKey, error)

	// TouchLastUsed は最終利用日時を更新する。
	TouchLastUsed(ctx context.Context, id int64, at time.Time) error

	// SetActive はハッシュで指定したキーの有効/無効を切り替える。
	// 該当キーが存在しない場合はErrNotFoundを返す。
	SetActive(ctx context.Context, keyHash string, active bool) error
}
