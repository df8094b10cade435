package middleware

import (
	"net/http"
	"slices"

	"github.com/go-chi/cors"

	"github.com/hitoshi/savezy/internal/gate"
)

// NewCORSMiddleware は許可オリジンのリストに対するCORSミドルウェアを返す。
// "*" を含む場合は全オリジンを許可し、credentialsは送らせない。
// モバイルアプリはCORSの対象外のため、主にWebクライアント向けの設定となる。
func NewCORSMiddleware(allowedOrigins []string) func(next http.Handler) http.Handler {
	wildcard := slices.Contains(allowedOrigins, "*")
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", gate.APIKeyHeader, RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader, "Retry-After"},
		AllowCredentials: !wildcard,
		MaxAge:           86400,
	})
}
