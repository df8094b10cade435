// Package gate は保護されたリソースへのリクエストを認証する。
// 認証方式（チャネル）ごとのStrategyを順に評価し、最初に資格情報が提示されたStrategyの結果で判定する。
package gate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/savezy/internal/apikey"
	"github.com/hitoshi/savezy/internal/metrics"
	"github.com/hitoshi/savezy/internal/model"
	"github.com/hitoshi/savezy/internal/token"
)

// 認証チャネル
const (
	ChannelAPIKey = "api_key"
	ChannelBearer = "bearer"
)

// APIKeyHeader はAPIキーを提示するヘッダー名。
const APIKeyHeader = "X-Api-Key"

// Principal は認証済みのリクエスト主体を表す。
// APIキー経由の場合Emailは空。
type Principal struct {
	UserID  int64
	Email   string
	Channel string
}

// Strategy は1つの認証チャネルを表す。
type Strategy interface {
	Name() string
	// Resolve はリクエストから資格情報を取り出して検証する。
	// presentは資格情報が提示されていたかどうか。falseの場合、次のStrategyが評価される。
	Resolve(ctx context.Context, r *http.Request) (p *Principal, present bool, err error)
}

// Gate は登録順にStrategyを評価する。
type Gate struct {
	strategies []Strategy
	metrics    metrics.MetricsCollector
}

// New はGateを生成する。mがnilの場合はメトリクスを記録しない。
func New(m metrics.MetricsCollector, strategies ...Strategy) *Gate {
	if m == nil {
		m = metrics.NopCollector{}
	}
	return &Gate{strategies: strategies, metrics: m}
}

// Authenticate はリクエストを認証してPrincipalを返す。
// どのチャネルの資格情報も無い場合はMissingCredential、
// 提示された資格情報が不正な場合はAuthFailedの*model.APIErrorを返す。
// 資格情報が提示されたチャネルで判定が確定し、後続のチャネルは評価しない。
func (g *Gate) Authenticate(r *http.Request) (*Principal, error) {
	for _, s := range g.strategies {
		p, present, err := s.Resolve(r.Context(), r)
		if !present {
			continue
		}
		if err != nil {
			apiErr := model.AsAPIError(err)
			if apiErr.Kind == model.KindAuthFailed {
				g.metrics.RecordAuthAttempt(s.Name(), metrics.OutcomeRejected)
			} else {
				g.metrics.RecordAuthAttempt(s.Name(), metrics.OutcomeError)
			}
			return nil, apiErr
		}
		g.metrics.RecordAuthAttempt(s.Name(), metrics.OutcomeSuccess)
		return p, nil
	}

	g.metrics.RecordAuthAttempt("none", metrics.OutcomeMissing)
	return nil, model.NewMissingCredentialError()
}

// KeyAuthenticator はAPIキーを照合するインターフェース。
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, raw string) (int64, error)
}

// APIKeyStrategy はX-Api-Keyヘッダーで認証する。
type APIKeyStrategy struct {
	keys KeyAuthenticator
}

// NewAPIKeyStrategy はAPIKeyStrategyを生成する。
func NewAPIKeyStrategy(keys KeyAuthenticator) *APIKeyStrategy {
	return &APIKeyStrategy{keys: keys}
}

// Name はチャネル名を返す。
func (s *APIKeyStrategy) Name() string { return ChannelAPIKey }

// Resolve はAPIキーを照合する。
func (s *APIKeyStrategy) Resolve(ctx context.Context, r *http.Request) (*Principal, bool, error) {
	raw := r.Header.Get(APIKeyHeader)
	if raw == "" {
		return nil, false, nil
	}

	userID, err := s.keys.Authenticate(ctx, raw)
	if err != nil {
		if errors.Is(err, apikey.ErrInvalidKey) {
			slog.Warn("api key rejected", slog.String("key_prefix", apikey.DisplayPrefix(raw)))
			return nil, true, model.NewAuthFailedError(err)
		}
		return nil, true, model.NewInternalError(err)
	}
	return &Principal{UserID: userID, Channel: ChannelAPIKey}, true, nil
}

// TokenVerifier はセッショントークンを検証するインターフェース。
type TokenVerifier interface {
	Verify(tokenString string) (*token.Claims, error)
}

// BearerStrategy はAuthorization: Bearerヘッダーのセッショントークンで認証する。
type BearerStrategy struct {
	tokens TokenVerifier
}

// NewBearerStrategy はBearerStrategyを生成する。
func NewBearerStrategy(tokens TokenVerifier) *BearerStrategy {
	return &BearerStrategy{tokens: tokens}
}

// Name はチャネル名を返す。
func (s *BearerStrategy) Name() string { return ChannelBearer }

// Resolve はセッショントークンを検証する。
// Bearer以外のスキームのAuthorizationヘッダーは提示済みかつ不正として扱う。
func (s *BearerStrategy) Resolve(_ context.Context, r *http.Request) (*Principal, bool, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, false, nil
	}

	raw, ok := BearerToken(header)
	if !ok {
		return nil, true, model.NewAuthFailedError(errors.New("unsupported authorization scheme"))
	}

	claims, err := s.tokens.Verify(raw)
	if err != nil {
		return nil, true, model.NewAuthFailedError(err)
	}
	return &Principal{UserID: claims.UserID, Email: claims.Email, Channel: ChannelBearer}, true, nil
}

// BearerToken はAuthorizationヘッダーの値からBearerトークンを取り出す。スキーム名は大文字小文字を区別しない。
func BearerToken(header string) (string, bool) {
	scheme, tok, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", false
	}
	return tok, true
}
