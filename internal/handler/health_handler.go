package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/savezy/internal/middleware"
)

// Pinger は依存先（データベース）への疎通確認インターフェース。
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc は関数をPingerとして扱うアダプター。
type PingerFunc func(ctx context.Context) error

// Ping はf(ctx)を呼ぶ。
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Check はプロセスの稼働確認に使う。依存先には問い合わせない。
// GET /check
func Check(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"message": "Savezy API is running",
	})
}

// NewHealthHandler はデータベースへの疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func NewHealthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		if err := db.Ping(r.Context()); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":   "unhealthy",
				"database": "unreachable",
			})
			return
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"database": "ok",
		})
	}
}
