package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

// GoogleJWKSURL はGoogleのIDトークン署名鍵の公開エンドポイント。
const GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

// googleIssuers はGoogleが発行するIDトークンのiss値。
var googleIssuers = map[string]struct{}{
	"accounts.google.com":         {},
	"https://accounts.google.com": {},
}

// googleIDClaims はGoogle IDトークンのクレーム。
// email_verifiedは真偽値または文字列で届く。
type googleIDClaims struct {
	Email         string `json:"email"`
	EmailVerified any    `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	jwt.RegisteredClaims
}

// GoogleIDTokenVerifier はモバイルSDKなどで取得したGoogle IDトークンを検証する。
type GoogleIDTokenVerifier struct {
	clientID string
	keyfunc  jwt.Keyfunc
	now      func() time.Time
}

// NewGoogleIDTokenVerifier はGoogleIDTokenVerifierを生成する。
// kfは署名鍵の解決関数で、本番ではNewGoogleJWKSが返すJWKSのKeyfuncを渡す。
func NewGoogleIDTokenVerifier(clientID string, kf jwt.Keyfunc) *GoogleIDTokenVerifier {
	return &GoogleIDTokenVerifier{
		clientID: clientID,
		keyfunc:  kf,
		now:      time.Now,
	}
}

// NewGoogleJWKS はGoogleの署名鍵を取得し、バックグラウンドで定期更新するJWKSを返す。
// 不要になったらEndBackgroundを呼ぶこと。
func NewGoogleJWKS(ctx context.Context, jwksURL string) (*keyfunc.JWKS, error) {
	if jwksURL == "" {
		jwksURL = GoogleJWKSURL
	}
	options := keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			slog.Error("jwks refresh error", slog.String("error", err.Error()))
		},
	}

	jwks, err := keyfunc.Get(jwksURL, options)
	if err != nil {
		return nil, &NetworkError{Call: CallJWKS, Err: err}
	}
	return jwks, nil
}

// Verify はIDトークンの署名（RS256のみ）、audience、発行者、有効期限を検証し、利用者情報を返す。
// email_verifiedがfalseのトークンは拒否する。
func (v *GoogleIDTokenVerifier) Verify(_ context.Context, raw string) (*Identity, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)

	claims := &googleIDClaims{}
	tok, err := parser.ParseWithClaims(raw, claims, v.keyfunc)
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}

	if _, ok := googleIssuers[claims.Issuer]; !ok {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidIDToken, claims.Issuer)
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("%w: missing email", ErrInvalidIDToken)
	}
	if !emailVerified(claims.EmailVerified) {
		return nil, fmt.Errorf("%w: email not verified", ErrInvalidIDToken)
	}

	return &Identity{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Picture: claims.Picture,
	}, nil
}

// emailVerified はemail_verifiedクレームを解釈する。未指定の場合は検証済みとみなす。
func emailVerified(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case bool:
		return val
	case string:
		return val == "true"
	default:
		return false
	}
}
