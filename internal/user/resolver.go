// Package user はプリンシパル（利用者）の取得・作成を提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/savezy/internal/model"
	"github.com/hitoshi/savezy/internal/repository"
)

// Resolver はemailをキーにプリンシパルを解決する。
type Resolver struct {
	repo repository.UserRepository
}

// NewResolver はResolverを生成する。
func NewResolver(repo repository.UserRepository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve はemailに対応するプリンシパルを返す。存在しなければ作成し、存在すればnameとpictureを更新する。
// 初回作成が並行して一意制約違反となった場合は、既存行を確認したうえで更新を1回だけやり直す。
// 永続化に失敗した場合はPersistenceErrorを返す。
func (r *Resolver) Resolve(ctx context.Context, email, name, picture string) (*model.User, error) {
	if email == "" {
		return nil, model.NewValidationError("email is required")
	}

	user, err := r.repo.UpsertByEmail(ctx, email, name, picture)
	if errors.Is(err, repository.ErrDuplicateEmail) {
		slog.Warn("concurrent principal creation detected, retrying", slog.String("email", email))
		user, err = r.retryAfterConflict(ctx, email, name, picture)
	}
	if err != nil {
		slog.Error("failed to resolve principal",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
		return nil, model.NewPersistenceError(err)
	}
	return user, nil
}

func (r *Resolver) retryAfterConflict(ctx context.Context, email, name, picture string) (*model.User, error) {
	existing, err := r.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("principal %q not found after unique violation", email)
	}
	return r.repo.UpsertByEmail(ctx, email, name, picture)
}

// EnsureByEmail はemailのプリンシパルが無ければ作成して返す。既存のプリンシパルは変更しない。
// 新規作成時のnameはemailのローカル部とする。
func (r *Resolver) EnsureByEmail(ctx context.Context, email string) (*model.User, error) {
	if email == "" || !strings.Contains(email, "@") {
		return nil, model.NewValidationError("a valid email is required")
	}

	user, err := r.repo.CreateIfAbsent(ctx, email, localPart(email))
	if err != nil {
		return nil, model.NewPersistenceError(err)
	}
	return user, nil
}

// FindByID はIDでプリンシパルを取得する。存在しない場合はnilを返す。
func (r *Resolver) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := r.repo.FindByID(ctx, id)
	if err != nil {
		return nil, model.NewPersistenceError(err)
	}
	return user, nil
}

func localPart(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}
