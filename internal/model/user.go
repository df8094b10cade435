// Package model はドメインモデルを定義する。
package model

import "time"

// User は認証済みの利用者（プリンシパル）を表す。
// Emailが同一性のキーであり、一度設定されたら変更されない。
type User struct {
	ID        int64
	Email     string
	Name      string
	Picture   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// APIKey はユーザーに紐付く長期間有効なAPIキーを表す。
// 生のキーは発行時に一度だけ返し、永続化するのはSHA-256ハッシュと先頭8文字のみ。
type APIKey struct {
	ID         int64
	UserID     int64
	KeyHash    string
	KeyPrefix  string
	IsActive   bool
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// OAuthState はフェデレーション開始時に発行する相関トークンと、
// クライアントが指定したコールバック先の対応を表す。
type OAuthState struct {
	Token       string
	RedirectURI string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired は指定時刻においてエントリが期限切れかどうかを返す。
func (s *OAuthState) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
