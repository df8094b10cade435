package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/savezy/internal/metrics"
)

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	defaultHTTPTimeout       = 10 * time.Second

	// maxUpstreamBody はIdPレスポンスとして読み込む最大バイト数。
	maxUpstreamBody = 1 << 20
)

// Identity はIdPから取得した利用者情報を表す。
type Identity struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	// RedirectURL はバックエンド側のコールバックURL（GOOGLE_REDIRECT_URI）。
	RedirectURL string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	// HTTPClient が未指定の場合は10秒タイムアウトのクライアントを使う。
	HTTPClient *http.Client
	Metrics    metrics.MetricsCollector
}

// GoogleOAuthProvider はGoogle OAuth 2.0の認可コードフローを扱う。
type GoogleOAuthProvider struct {
	config GoogleOAuthConfig
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NopCollector{}
	}
	return &GoogleOAuthProvider{config: config}
}

// AuthCodeURL はGoogleの認可画面のURLを生成する。
// redirect_uriにはバックエンドのコールバックURLを指定する。
func (p *GoogleOAuthProvider) AuthCodeURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {"openid email profile"},
		"state":         {state},
		"access_type":   {"offline"},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// googleTokenResponse はGoogleのトークンエンドポイントのレスポンス。
type googleTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	IDToken     string `json:"id_token"`
}

// googleUserInfo はGoogleのユーザー情報エンドポイントのレスポンス。
// v2はid、v3はsubで利用者を識別する。
type googleUserInfo struct {
	ID      string `json:"id"`
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、利用者情報を取得する。
// IdPが非成功を返した場合は*UpstreamError、通信に失敗した場合は*NetworkErrorを返す。
func (p *GoogleOAuthProvider) ExchangeCode(ctx context.Context, code string) (*Identity, error) {
	// 1. 認可コードをアクセストークンに交換
	tokenResp, err := p.exchangeToken(ctx, code)
	if err != nil {
		return nil, err
	}

	// 2. アクセストークンで利用者情報を取得
	info, err := p.fetchUserInfo(ctx, tokenResp.AccessToken)
	if err != nil {
		return nil, err
	}

	subject := info.ID
	if subject == "" {
		subject = info.Sub
	}
	if subject == "" || info.Email == "" {
		return nil, &UpstreamError{
			Call:       CallUserInfo,
			StatusCode: http.StatusOK,
			Message:    "Invalid user information from Google",
		}
	}

	return &Identity{
		Subject: subject,
		Email:   info.Email,
		Name:    info.Name,
		Picture: info.Picture,
	}, nil
}

// exchangeToken は認可コードをアクセストークンに交換する。
func (p *GoogleOAuthProvider) exchangeToken(ctx context.Context, code string) (*googleTokenResponse, error) {
	data := url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"redirect_uri":  {p.config.RedirectURL},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	status, body, err := p.do(req, CallToken)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		return nil, &UpstreamError{
			Call:       CallToken,
			StatusCode: status,
			Message:    "Failed to exchange authorization code",
			Body:       decodeBody(body),
		}
	}

	var tokenResp googleTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil || tokenResp.AccessToken == "" {
		return nil, &UpstreamError{
			Call:       CallToken,
			StatusCode: status,
			Message:    "No access token received from Google",
		}
	}

	return &tokenResp, nil
}

// fetchUserInfo はアクセストークンでGoogleの利用者情報を取得する。
func (p *GoogleOAuthProvider) fetchUserInfo(ctx context.Context, accessToken string) (*googleUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	status, body, err := p.do(req, CallUserInfo)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		return nil, &UpstreamError{
			Call:       CallUserInfo,
			StatusCode: status,
			Message:    "Failed to fetch user information",
			Body:       decodeBody(body),
		}
	}

	var info googleUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, &UpstreamError{
			Call:       CallUserInfo,
			StatusCode: status,
			Message:    "Invalid user information from Google",
			Body:       decodeBody(body),
		}
	}

	return &info, nil
}

// do はリクエストを送信し、ステータスとボディを返す。
// 送信・受信に失敗した場合は*NetworkErrorを返す。
func (p *GoogleOAuthProvider) do(req *http.Request, call string) (int, []byte, error) {
	start := time.Now()
	resp, err := p.config.HTTPClient.Do(req)
	p.config.Metrics.RecordUpstreamLatency(call, time.Since(start))
	if err != nil {
		return 0, nil, &NetworkError{Call: call, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return 0, nil, &NetworkError{Call: call, Err: err}
	}
	return resp.StatusCode, body, nil
}

// decodeBody はレスポンスボディをJSONとして解釈する。解釈できない場合は文字列として返す。
func decodeBody(body []byte) any {
	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		return v
	}
	return strings.TrimSpace(string(body))
}
