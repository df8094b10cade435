// Package app はsavezyの起動処理（設定読み込み・依存関係のワイヤリング・サブコマンド）を提供する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/savezy/internal/apikey"
	"github.com/hitoshi/savezy/internal/auth"
	"github.com/hitoshi/savezy/internal/config"
	"github.com/hitoshi/savezy/internal/database"
	"github.com/hitoshi/savezy/internal/gate"
	"github.com/hitoshi/savezy/internal/handler"
	"github.com/hitoshi/savezy/internal/logger"
	"github.com/hitoshi/savezy/internal/metrics"
	"github.com/hitoshi/savezy/internal/middleware"
	"github.com/hitoshi/savezy/internal/oauthstate"
	"github.com/hitoshi/savezy/internal/repository"
	"github.com/hitoshi/savezy/internal/token"
	"github.com/hitoshi/savezy/internal/user"
)

const (
	// dbPingTimeout は起動時・ヘルスチェック時のDB疎通確認のタイムアウト。
	dbPingTimeout = 2 * time.Second
	// shutdownTimeout はグレースフルシャットダウンの待ち時間の上限。
	shutdownTimeout = 30 * time.Second
	// stateSweepInterval はインメモリstateストアの期限切れエントリ掃除の間隔。
	stateSweepInterval = time.Minute
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルで再セットアップ
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Server はワイヤリング済みのHTTPハンドラーと、終了時に解放すべきリソースを保持する。
type Server struct {
	Handler http.Handler

	closers []func() error
}

// Close は確保したリソースを生成と逆順に解放する。
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) onClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// BuildServer はConfigとDB接続から全依存関係を組み立て、ルーターを構築する。
// 呼び出し側は不要になったらServer.Closeを呼ぶこと。
func BuildServer(ctx context.Context, cfg *config.Config, db *sql.DB) (*Server, error) {
	srv := &Server{}

	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	apiKeyRepo := repository.NewPostgresAPIKeyRepo(db)

	// 3. stateストア（REDIS_URLがあればRedis、無ければインメモリ）
	store, closeStore, err := newStateStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	srv.onClose(closeStore)
	states := oauthstate.NewManager(store, cfg.AllowedRedirectURIs, cfg.OAuthStateTTL)

	// 4. セッショントークン
	codec, err := token.NewCodec([]byte(cfg.JWTSecret), cfg.TokenTTL, cfg.TokenRefreshGrace)
	if err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("failed to create token codec: %w", err)
	}

	// 5. Googleフェデレーション
	httpClient := &http.Client{Timeout: cfg.GoogleHTTPTimeout}
	provider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURI,
		HTTPClient:   httpClient,
		Metrics:      collector,
	})

	resolver := user.NewResolver(userRepo)
	deps := auth.ServiceDeps{
		Provider: provider,
		States:   states,
		Resolver: resolver,
		Codec:    codec,
		Metrics:  collector,
	}

	// JWKSが取得できない場合もサーバーは起動し、IDトークンフローのみ無効にする
	jwks, err := auth.NewGoogleJWKS(ctx, cfg.GoogleJWKSURL)
	if err != nil {
		slog.Warn("id token verification disabled",
			slog.String("error", err.Error()),
		)
	} else {
		srv.onClose(func() error {
			jwks.EndBackground()
			return nil
		})
		deps.IDTokens = auth.NewGoogleIDTokenVerifier(cfg.GoogleClientID, jwks.Keyfunc)
	}
	authService := auth.NewService(deps)

	// 6. 認証ゲート（APIキー → Bearerの順）
	keys := apikey.NewStore(apiKeyRepo, cfg.APIKeyCacheSize, cfg.APIKeyCacheTTL)
	authGate := gate.New(collector,
		gate.NewAPIKeyStrategy(keys),
		gate.NewBearerStrategy(codec),
	)

	// 7. レート制限
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth),
	)
	srv.onClose(func() error {
		rateLimiter.Stop()
		return nil
	})

	// 8. ルーター
	srv.Handler = handler.NewRouter(&handler.RouterDeps{
		Logger:             slog.Default(),
		Authenticator:      authGate,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        rateLimiter,
		AuthService:        authService,
		Users:              resolver,
		DB: handler.PingerFunc(func(ctx context.Context) error {
			return database.Ping(ctx, db, dbPingTimeout)
		}),
		MetricsHandler: metrics.Handler(registry),
	})

	return srv, nil
}

// newStateStore はOAuth stateの保存先を生成する。
func newStateStore(ctx context.Context, cfg *config.Config) (oauthstate.Store, func() error, error) {
	if cfg.RedisURL == "" {
		store := oauthstate.NewMemoryStore(stateSweepInterval)
		slog.Info("oauth state store: memory")
		return store, store.Close, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, dbPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("oauth state store: redis", slog.String("addr", opts.Addr))
	return oauthstate.NewRedisStore(client), client.Close, nil
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	srv, err := BuildServer(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			slog.Error("failed to release resources", slog.String("error", err.Error()))
		}
	}()

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// healthcheckPort はSERVER_PORTを読む。設定読み込みを伴わない。
func healthcheckPort() string {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		return port
	}
	return config.DefaultServerPort
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
