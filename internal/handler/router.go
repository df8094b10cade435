package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/savezy/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger             *slog.Logger
	Authenticator      middleware.Authenticator
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	Users       UserFinder

	// 運用
	DB             Pinger
	MetricsHandler http.Handler

	// Protected は認証済みルートを登録する。カード・カテゴリ・支出などのリソースAPIをここに載せる。
	Protected func(r chi.Router)
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Logging → Recovery → SecurityHeaders → CORS
//	  /api/auth/*      : RateLimit(Auth, IP単位)
//	  保護されたルート : Auth → RateLimit(General, プリンシパル単位)
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))

	authHandler := NewAuthHandler(deps.AuthService, deps.Users)

	// --- 認証不要のルート ---
	r.Get("/check", Check)
	r.Get("/health", NewHealthHandler(deps.DB))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.AuthMiddleware())
			}
			r.Get("/google/init", authHandler.GoogleInit)
			r.Post("/google/callback", authHandler.GoogleCallback)
			r.Post("/google/verify", authHandler.GoogleVerify)
			r.Post("/token/verify", authHandler.VerifyToken)
			r.Post("/token/refresh", authHandler.RefreshToken)
		})

		// GET /api/auth/me はAPIキーとBearerのどちらでも呼べる
		r.Group(func(r chi.Router) {
			protect(r, deps)
			r.Get("/me", authHandler.Me)
		})
	})

	// --- 認証が必要なルート ---
	if deps.Protected != nil {
		r.Group(func(r chi.Router) {
			protect(r, deps)
			deps.Protected(r)
		})
	}

	return r
}

// protect は認証ミドルウェアとプリンシパル単位のレート制限を適用する。
func protect(r chi.Router, deps *RouterDeps) {
	r.Use(middleware.NewAuthMiddleware(deps.Authenticator))
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.GeneralMiddleware())
	}
}
