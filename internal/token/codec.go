// Package token はセッショントークン（HS256署名のJWT）の発行と検証を行う。
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength は署名鍵として受け付ける最小バイト長。
const MinSecretLength = 32

var (
	// ErrInvalidToken は形式不正・署名不一致・期限切れのいずれかを表す。
	// 呼び出し側に失敗理由を区別させない。
	ErrInvalidToken = errors.New("token: invalid or expired")

	// ErrRefreshWindowExceeded は期限切れから猶予期間を超えたトークンの更新要求を表す。
	ErrRefreshWindowExceeded = errors.New("token: refresh window exceeded")
)

// Claims はセッショントークンのペイロード。
// subにはuser_idを文字列化した値が入る。
type Claims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Codec はセッショントークンの発行・検証・更新を行う。
// 生成後は不変であり、複数のgoroutineから安全に利用できる。
type Codec struct {
	secret       []byte
	ttl          time.Duration
	refreshGrace time.Duration
	now          func() time.Time
}

// Option はCodecの生成オプション。
type Option func(*Codec)

// WithClock は現在時刻の取得関数を差し替える。テスト用。
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec はCodecを生成する。
// refreshGraceは期限切れ後に更新を許可する期間で、0の場合は無制限。
func NewCodec(secret []byte, ttl, refreshGrace time.Duration, opts ...Option) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("token: secret must be at least %d bytes", MinSecretLength)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token: ttl must be positive")
	}
	if refreshGrace < 0 {
		return nil, fmt.Errorf("token: refresh grace must not be negative")
	}

	c := &Codec{
		secret:       append([]byte(nil), secret...),
		ttl:          ttl,
		refreshGrace: refreshGrace,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL はトークンの有効期間を返す。
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Mint はuserIDとemailを埋め込んだトークンを発行する。
// iatは現在時刻、expはiat+TTL。
func (c *Codec) Mint(userID int64, email string) (string, error) {
	tok, _, err := c.mint(userID, email)
	return tok, err
}

func (c *Codec) mint(userID int64, email string) (string, *Claims, error) {
	if userID <= 0 {
		return "", nil, fmt.Errorf("token: user id must be positive")
	}

	now := c.now().UTC().Truncate(time.Second)
	claims := &Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", nil, fmt.Errorf("token: sign: %w", err)
	}
	return signed, claims, nil
}

// Verify は署名と有効期限を検証し、クレームを返す。
// HS256以外のアルゴリズムは拒否する。
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	claims, err := c.parse(tokenString,
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Refresh は期限切れを許容して署名を検証し、同じuser_id/emailで新しいトークンを発行する。
// 期限切れから猶予期間を超えている場合はErrRefreshWindowExceededを返す。
func (c *Codec) Refresh(tokenString string) (string, *Claims, error) {
	old, err := c.parse(tokenString, jwt.WithoutClaimsValidation())
	if err != nil {
		return "", nil, err
	}
	if old.ExpiresAt == nil {
		return "", nil, ErrInvalidToken
	}

	if c.refreshGrace > 0 {
		deadline := old.ExpiresAt.Time.Add(c.refreshGrace)
		if c.now().After(deadline) {
			return "", nil, ErrRefreshWindowExceeded
		}
	}

	return c.mint(old.UserID, old.Email)
}

func (c *Codec) parse(tokenString string, opts ...jwt.ParserOption) (*Claims, error) {
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parser := jwt.NewParser(opts...)

	claims := &Claims{}
	tok, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	return claims, nil
}
