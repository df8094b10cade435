package auth

import (
	"errors"
	"fmt"
)

// IdP呼び出しの識別子。エラーとメトリクスのラベルに使う。
const (
	CallToken    = "token"
	CallUserInfo = "userinfo"
	CallJWKS     = "jwks"
)

// ErrInvalidIDToken はIDトークンの署名・発行者・audience・有効期限のいずれかが不正であることを表す。
var ErrInvalidIDToken = errors.New("auth: invalid id token")

// UpstreamError はIdPが非成功レスポンスを返した、または必要な値を含まないレスポンスを返したことを表す。
// Bodyはレスポンスボディ（JSONとして解釈できればその値、できなければ文字列）。
type UpstreamError struct {
	Call       string
	StatusCode int
	Message    string
	Body       any
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("auth: %s call rejected (status %d): %s", e.Call, e.StatusCode, e.Message)
}

// NetworkError はIdPとの通信自体に失敗したことを表す。タイムアウトを含む。
type NetworkError struct {
	Call string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("auth: %s call failed: %v", e.Call, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
