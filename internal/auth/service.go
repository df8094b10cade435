// Package auth はIdPフェデレーション（認可コードフローとIDトークン検証）と
// セッショントークンの発行・検証・更新を提供する。
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/url"

	"github.com/hitoshi/savezy/internal/metrics"
	"github.com/hitoshi/savezy/internal/model"
	"github.com/hitoshi/savezy/internal/oauthstate"
	"github.com/hitoshi/savezy/internal/token"
)

// フェデレーションのフロー名。メトリクスのラベルに使う。
const (
	FlowCode    = "code"
	FlowIDToken = "id_token"
)

// CodeExchanger は認可コードフローを提供するIdPクライアントのインターフェース。
type CodeExchanger interface {
	// AuthCodeURL はIdPの認可画面のURLを生成する。
	AuthCodeURL(state string) string
	// ExchangeCode は認可コードを交換し、利用者情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*Identity, error)
}

// IDTokenVerifier はIdPが発行したIDトークンの検証インターフェース。
type IDTokenVerifier interface {
	Verify(ctx context.Context, raw string) (*Identity, error)
}

// StateManager はstateトークンの発行と照合のインターフェース。
type StateManager interface {
	Allowed(redirectURI string) bool
	Begin(ctx context.Context, redirectURI string) (string, error)
	Redeem(ctx context.Context, state, redirectURI string) error
}

// PrincipalResolver はemailをキーにプリンシパルを取得・作成するインターフェース。
type PrincipalResolver interface {
	Resolve(ctx context.Context, email, name, picture string) (*model.User, error)
}

// SessionCodec はセッショントークンの発行・検証・更新のインターフェース。
type SessionCodec interface {
	Mint(userID int64, email string) (string, error)
	Verify(tokenString string) (*token.Claims, error)
	Refresh(tokenString string) (string, *token.Claims, error)
}

// Result はフェデレーション完了時に返すセッショントークンとプリンシパル。
type Result struct {
	Token string
	User  *model.User
}

// ServiceDeps はServiceの依存関係。
type ServiceDeps struct {
	Provider CodeExchanger
	// IDTokens がnilの場合、IDトークンフローは利用できない。
	IDTokens IDTokenVerifier
	States   StateManager
	Resolver PrincipalResolver
	Codec    SessionCodec
	Metrics  metrics.MetricsCollector
}

// Service はフェデレーションの状態遷移を管理する。
//
// 認可コードフローは INIT → AWAITING_CALLBACK → TOKEN_EXCHANGE → PROFILE_FETCH →
// PRINCIPAL_UPSERT → SESSION_MINTED の順に進み、どの段階で失敗しても
// 種別付きの*model.APIErrorを返して終了する。フロー内での再試行は行わない。
type Service struct {
	provider CodeExchanger
	idTokens IDTokenVerifier
	states   StateManager
	resolver PrincipalResolver
	codec    SessionCodec
	metrics  metrics.MetricsCollector
}

// NewService はServiceを生成する。
func NewService(deps ServiceDeps) *Service {
	m := deps.Metrics
	if m == nil {
		m = metrics.NopCollector{}
	}
	return &Service{
		provider: deps.Provider,
		idTokens: deps.IDTokens,
		states:   deps.States,
		resolver: deps.Resolver,
		codec:    deps.Codec,
		metrics:  m,
	}
}

// BeginFederation はstateを発行し、IdPの認可画面URLを返す（INIT → AWAITING_CALLBACK）。
func (s *Service) BeginFederation(ctx context.Context, redirectURI string) (string, error) {
	if redirectURI == "" {
		return "", model.NewValidationError("redirect_uri is required")
	}

	state, err := s.states.Begin(ctx, redirectURI)
	if err != nil {
		s.metrics.RecordOAuthState("begin", metrics.OutcomeRejected)
		if errors.Is(err, oauthstate.ErrRedirectNotAllowed) {
			slog.Warn("federation rejected: redirect_uri not allowed", slog.String("redirect_uri", redirectURI))
			return "", model.NewValidationError("Invalid redirect_uri")
		}
		return "", model.NewInternalError(err)
	}
	s.metrics.RecordOAuthState("begin", metrics.OutcomeSuccess)

	return s.provider.AuthCodeURL(state), nil
}

// CompleteCodeFlow はコールバックで受け取った認可コードとstateからセッションを発行する。
func (s *Service) CompleteCodeFlow(ctx context.Context, code, state, redirectURI string) (*Result, error) {
	result, err := s.completeCodeFlow(ctx, code, state, redirectURI)
	s.recordFederation(FlowCode, err)
	return result, err
}

func (s *Service) completeCodeFlow(ctx context.Context, code, state, redirectURI string) (*Result, error) {
	if code == "" {
		return nil, model.NewValidationError("Authorization code is required")
	}
	if redirectURI == "" {
		return nil, model.NewValidationError("redirect_uri is required")
	}
	if state == "" {
		return nil, model.NewCSRFMismatchError(oauthstate.ErrStateNotFound)
	}
	if !s.states.Allowed(redirectURI) {
		return nil, model.NewValidationError("Invalid redirect_uri")
	}

	// モバイルアプリがURLエンコードしたまま送ってくるため1回だけデコードする
	if decoded, err := url.PathUnescape(code); err == nil {
		code = decoded
	}

	// 1. AWAITING_CALLBACK → TOKEN_EXCHANGE: stateを消費して照合
	if err := s.states.Redeem(ctx, state, redirectURI); err != nil {
		if errors.Is(err, oauthstate.ErrStateMismatch) {
			s.metrics.RecordOAuthState("redeem", metrics.OutcomeRejected)
			slog.Warn("federation rejected: state mismatch", slog.String("error", err.Error()))
			return nil, model.NewCSRFMismatchError(err)
		}
		s.metrics.RecordOAuthState("redeem", metrics.OutcomeError)
		return nil, model.NewInternalError(err)
	}
	s.metrics.RecordOAuthState("redeem", metrics.OutcomeSuccess)

	// 2. TOKEN_EXCHANGE → PROFILE_FETCH
	identity, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, mapUpstreamError(err)
	}

	// 3. PRINCIPAL_UPSERT → SESSION_MINTED
	return s.mintFor(ctx, identity)
}

// CompleteIDToken はクライアントが取得したIDトークンを検証してセッションを発行する。
func (s *Service) CompleteIDToken(ctx context.Context, idToken string) (*Result, error) {
	result, err := s.completeIDToken(ctx, idToken)
	s.recordFederation(FlowIDToken, err)
	return result, err
}

func (s *Service) completeIDToken(ctx context.Context, idToken string) (*Result, error) {
	if idToken == "" {
		return nil, model.NewValidationError("id_token is required")
	}
	if s.idTokens == nil {
		return nil, model.NewInternalError(errors.New("id token verification is not configured"))
	}

	identity, err := s.idTokens.Verify(ctx, idToken)
	if err != nil {
		if errors.Is(err, ErrInvalidIDToken) {
			return nil, model.NewAuthFailedError(err)
		}
		return nil, mapUpstreamError(err)
	}

	return s.mintFor(ctx, identity)
}

// VerifySession はセッショントークンを検証してクレームを返す。
func (s *Service) VerifySession(tokenString string) (*token.Claims, error) {
	if tokenString == "" {
		return nil, model.NewValidationError("Token is required")
	}
	claims, err := s.codec.Verify(tokenString)
	if err != nil {
		return nil, model.NewAuthFailedError(err)
	}
	return claims, nil
}

// RefreshSession は期限切れを許容してセッショントークンを再発行する。
// 猶予期間を超えたトークンや署名不正のトークンはAuthFailedとなる。
func (s *Service) RefreshSession(tokenString string) (string, *token.Claims, error) {
	if tokenString == "" {
		return "", nil, model.NewValidationError("Token is required")
	}
	fresh, claims, err := s.codec.Refresh(tokenString)
	if err != nil {
		return "", nil, model.NewAuthFailedError(err)
	}
	slog.Info("session refreshed", slog.Int64("user_id", claims.UserID))
	return fresh, claims, nil
}

// mintFor はプリンシパルを解決してセッショントークンを発行する。
func (s *Service) mintFor(ctx context.Context, identity *Identity) (*Result, error) {
	user, err := s.resolver.Resolve(ctx, identity.Email, identity.Name, identity.Picture)
	if err != nil {
		return nil, model.AsAPIError(err)
	}

	tok, err := s.codec.Mint(user.ID, user.Email)
	if err != nil {
		return nil, model.NewInternalError(err)
	}

	slog.Info("session minted",
		slog.Int64("user_id", user.ID),
		slog.String("subject", identity.Subject),
	)
	return &Result{Token: tok, User: user}, nil
}

func (s *Service) recordFederation(flow string, err error) {
	switch {
	case err == nil:
		s.metrics.RecordFederation(flow, metrics.OutcomeSuccess)
	case model.IsKind(err, model.KindInternal),
		model.IsKind(err, model.KindPersistence),
		model.IsKind(err, model.KindUpstreamUnreachable):
		s.metrics.RecordFederation(flow, metrics.OutcomeError)
	default:
		s.metrics.RecordFederation(flow, metrics.OutcomeRejected)
	}
}

// mapUpstreamError はIdPクライアントのエラーを種別付きエラーに変換する。
func mapUpstreamError(err error) *model.APIError {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		slog.Warn("identity provider rejected request",
			slog.String("call", upstream.Call),
			slog.Int("status", upstream.StatusCode),
		)
		return model.NewUpstreamRejectedError(upstream.Message, upstream.Body, upstream)
	}

	var network *NetworkError
	if errors.As(err, &network) {
		slog.Error("identity provider unreachable",
			slog.String("call", network.Call),
			slog.String("error", network.Err.Error()),
		)
		return model.NewUpstreamUnreachableError(network)
	}

	return model.NewInternalError(err)
}
