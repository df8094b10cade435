// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/hitoshi/savezy/internal/gate"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

const (
	principalContextKey = contextKey("principal")
	requestIDContextKey = contextKey("request_id")
)

// ErrNoPrincipal はコンテキストに認証済みプリンシパルが無いことを表す。
var ErrNoPrincipal = errors.New("principal not found in context")

// Authenticator はリクエストを認証するインターフェース。gate.Gateが実装する。
type Authenticator interface {
	Authenticate(r *http.Request) (*gate.Principal, error)
}

// NewAuthMiddleware はリクエストを認証し、プリンシパルをコンテキストに注入するミドルウェアを返す。
// 認証に失敗した場合は統一エラーフォーマットで401を返し、後続のハンドラーは呼ばない。
func NewAuthMiddleware(authn Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := authn.Authenticate(r)
			if err != nil {
				WriteError(w, r, err)
				return
			}
			recordPrincipal(r.Context(), principal.UserID)
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// PrincipalFromContext はリクエストコンテキストから認証済みプリンシパルを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (*gate.Principal, error) {
	p, ok := ctx.Value(principalContextKey).(*gate.Principal)
	if !ok || p == nil {
		return nil, ErrNoPrincipal
	}
	return p, nil
}

// UserIDFromContext はリクエストコンテキストから認証済みユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (int64, error) {
	p, err := PrincipalFromContext(ctx)
	if err != nil {
		return 0, err
	}
	return p.UserID, nil
}

// ContextWithPrincipal はコンテキストにプリンシパルを注入する。
func ContextWithPrincipal(ctx context.Context, p *gate.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}
