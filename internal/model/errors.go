// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind は認証コアが返すエラーの種別を表す。
// 種別ごとにHTTPステータスとレスポンスの方針が一意に決まる。
type ErrorKind string

// 定義済みエラー種別
const (
	KindMissingCredential   ErrorKind = "MISSING_CREDENTIAL"
	KindAuthFailed          ErrorKind = "AUTH_FAILED"
	KindCSRFMismatch        ErrorKind = "CSRF_MISMATCH"
	KindUpstreamRejected    ErrorKind = "UPSTREAM_REJECTED"
	KindUpstreamUnreachable ErrorKind = "UPSTREAM_UNREACHABLE"
	KindPersistence         ErrorKind = "PERSISTENCE_ERROR"
	KindValidation          ErrorKind = "VALIDATION_ERROR"
	KindInternal            ErrorKind = "INTERNAL_ERROR"
)

// HTTPStatus は種別に対応するHTTPステータスコードを返す。
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindMissingCredential, KindAuthFailed:
		return http.StatusUnauthorized
	case KindCSRFMismatch, KindUpstreamRejected, KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ExposesDetail は内部の詳細情報をクライアントへ返してよい種別かどうかを返す。
// 上流が拒否した場合のみ、診断用に上流のペイロードを添付する。
func (k ErrorKind) ExposesDetail() bool {
	return k == KindUpstreamRejected
}

// APIError は統一エラーフォーマットを表す。
// Kindでステータスを決定し、Messageはそのままクライアントに返す。
// Errは原因となった内部エラーで、ログにのみ出力する。
type APIError struct {
	Kind    ErrorKind
	Message string
	Details any
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// StatusCode はHTTPステータスコードを返す。
func (e *APIError) StatusCode() int {
	return e.Kind.HTTPStatus()
}

// AsAPIError はerrからAPIErrorを取り出す。
// 種別が付与されていないエラーはKindInternalとして包む。
func AsAPIError(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewInternalError(err)
}

// IsKind はerrが指定種別のAPIErrorかどうかを返す。
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// NewMissingCredentialError は認証情報が提示されなかった場合のエラーを生成する。
func NewMissingCredentialError() *APIError {
	return &APIError{
		Kind:    KindMissingCredential,
		Message: "Authentication credentials are missing",
	}
}

// NewAuthFailedError は署名・キー不正、期限切れの場合のエラーを生成する。
// 失敗理由は区別せず同じメッセージを返す。
func NewAuthFailedError(err error) *APIError {
	return &APIError{
		Kind:    KindAuthFailed,
		Message: "Token is invalid or expired",
		Err:     err,
	}
}

// NewCSRFMismatchError はstateトークンが未知・再利用・コールバック先不一致の場合のエラーを生成する。
func NewCSRFMismatchError(err error) *APIError {
	return &APIError{
		Kind:    KindCSRFMismatch,
		Message: "Invalid or expired state parameter",
		Err:     err,
	}
}

// NewUpstreamRejectedError はIdPが非成功レスポンスを返した場合のエラーを生成する。
// detailsには上流のレスポンスボディを格納する。
func NewUpstreamRejectedError(message string, details any, err error) *APIError {
	return &APIError{
		Kind:    KindUpstreamRejected,
		Message: message,
		Details: details,
		Err:     err,
	}
}

// NewUpstreamUnreachableError はIdPとの通信に失敗した場合のエラーを生成する。
func NewUpstreamUnreachableError(err error) *APIError {
	return &APIError{
		Kind:    KindUpstreamUnreachable,
		Message: "Network error occurred",
		Err:     err,
	}
}

// NewPersistenceError はプリンシパルの永続化に失敗した場合のエラーを生成する。
func NewPersistenceError(err error) *APIError {
	return &APIError{
		Kind:    KindPersistence,
		Message: "Database error occurred",
		Err:     err,
	}
}

// NewValidationError はリクエストが不正な場合のエラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Kind:    KindValidation,
		Message: message,
	}
}

// NewInternalError は想定外のエラーを生成する。詳細はクライアントに返さない。
func NewInternalError(err error) *APIError {
	return &APIError{
		Kind:    KindInternal,
		Message: "Internal server error",
		Err:     err,
	}
}
