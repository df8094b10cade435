// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/hitoshi/savezy/internal/auth"
	"github.com/hitoshi/savezy/internal/gate"
	"github.com/hitoshi/savezy/internal/middleware"
	"github.com/hitoshi/savezy/internal/model"
	"github.com/hitoshi/savezy/internal/token"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	BeginFederation(ctx context.Context, redirectURI string) (string, error)
	CompleteCodeFlow(ctx context.Context, code, state, redirectURI string) (*auth.Result, error)
	CompleteIDToken(ctx context.Context, idToken string) (*auth.Result, error)
	VerifySession(tokenString string) (*token.Claims, error)
	RefreshSession(tokenString string) (string, *token.Claims, error)
}

// UserFinder はIDでプリンシパルを取得するインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	users   UserFinder
	decoder *requestDecoder
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, users UserFinder) *AuthHandler {
	return &AuthHandler{
		service: service,
		users:   users,
		decoder: newRequestDecoder(),
	}
}

type userResponse struct {
	ID      int64  `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

func newUserResponse(u *model.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name, Picture: u.Picture}
}

type sessionResponse struct {
	Success bool         `json:"success"`
	Token   string       `json:"token"`
	User    userResponse `json:"user"`
}

func writeSession(w http.ResponseWriter, result *auth.Result) {
	middleware.WriteJSON(w, http.StatusOK, sessionResponse{
		Success: true,
		Token:   result.Token,
		User:    newUserResponse(result.User),
	})
}

// GoogleInit はフェデレーションを開始し、Googleの認可画面URLを返す。
// GET /api/auth/google/init?redirect_uri=xxx
func (h *AuthHandler) GoogleInit(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.service.BeginFederation(r.Context(), r.URL.Query().Get("redirect_uri"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"auth_url": authURL})
}

type callbackRequest struct {
	Code        string `json:"code" validate:"required"`
	RedirectURI string `json:"redirect_uri" validate:"required"`
	State       string `json:"state"`
}

// GoogleCallback は認可コードを交換してセッショントークンを発行する。
// POST /api/auth/google/callback {"code", "state", "redirect_uri"}
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := h.decoder.decode(r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	result, err := h.service.CompleteCodeFlow(r.Context(), req.Code, req.State, req.RedirectURI)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeSession(w, result)
}

type idTokenRequest struct {
	IDToken string `json:"id_token" validate:"required"`
}

// GoogleVerify はモバイルSDKで取得したIDトークンを検証してセッショントークンを発行する。
// POST /api/auth/google/verify {"id_token"}
func (h *AuthHandler) GoogleVerify(w http.ResponseWriter, r *http.Request) {
	var req idTokenRequest
	if err := h.decoder.decode(r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	result, err := h.service.CompleteIDToken(r.Context(), req.IDToken)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeSession(w, result)
}

type tokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// tokenFromRequest はボディのtoken、無ければAuthorization: Bearerヘッダーからトークンを取り出す。
func (h *AuthHandler) tokenFromRequest(r *http.Request) (string, error) {
	var req tokenRequest
	err := h.decoder.readJSON(r, &req)
	if err != nil && !errors.Is(err, errEmptyBody) {
		return "", err
	}
	if req.Token == "" {
		if bearer, ok := gate.BearerToken(r.Header.Get("Authorization")); ok {
			req.Token = bearer
		}
	}
	if err := h.decoder.check(&req); err != nil {
		return "", err
	}
	return req.Token, nil
}

type tokenPayload struct {
	UserID    int64  `json:"user_id"`
	Email     string `json:"email"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// verifyResponse はuser_idとemailをトップレベルとpayloadの両方に載せる。
type verifyResponse struct {
	Success bool          `json:"success"`
	Valid   bool          `json:"valid"`
	UserID  int64         `json:"user_id,omitempty"`
	Email   string        `json:"email,omitempty"`
	Payload *tokenPayload `json:"payload,omitempty"`
	Error   string        `json:"error,omitempty"`
	Code    string        `json:"code,omitempty"`
}

// VerifyToken はセッショントークンの有効性を返す。
// POST /api/auth/token/verify {"token"} または Authorization: Bearer
func (h *AuthHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	raw, err := h.tokenFromRequest(r)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	claims, err := h.service.VerifySession(raw)
	if err != nil {
		apiErr := model.AsAPIError(err)
		if apiErr.Kind != model.KindAuthFailed {
			middleware.WriteError(w, r, err)
			return
		}
		middleware.WriteJSON(w, apiErr.StatusCode(), verifyResponse{
			Valid: false,
			Error: apiErr.Message,
			Code:  string(apiErr.Kind),
		})
		return
	}

	payload := &tokenPayload{UserID: claims.UserID, Email: claims.Email}
	if claims.IssuedAt != nil {
		payload.IssuedAt = claims.IssuedAt.Unix()
	}
	if claims.ExpiresAt != nil {
		payload.ExpiresAt = claims.ExpiresAt.Unix()
	}
	middleware.WriteJSON(w, http.StatusOK, verifyResponse{
		Success: true,
		Valid:   true,
		UserID:  claims.UserID,
		Email:   claims.Email,
		Payload: payload,
	})
}

// RefreshToken は期限切れ後の猶予期間内のトークンを再発行する。
// POST /api/auth/token/refresh {"token"} または Authorization: Bearer
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	raw, err := h.tokenFromRequest(r)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	fresh, claims, err := h.service.RefreshSession(raw)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	resp := map[string]any{"success": true, "token": fresh}
	if claims.ExpiresAt != nil {
		resp["exp"] = claims.ExpiresAt.Unix()
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

type meResponse struct {
	Success    bool         `json:"success"`
	AuthMethod string       `json:"auth_method"`
	User       userResponse `json:"user"`
}

// Me は認証済みプリンシパルの情報を返す。
// APIキー経由の場合はemailを持たないため、ユーザーを再取得して補う。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, r, model.NewMissingCredentialError())
		return
	}

	user := &model.User{ID: principal.UserID, Email: principal.Email}
	if principal.Channel == gate.ChannelAPIKey && h.users != nil {
		found, err := h.users.FindByID(r.Context(), principal.UserID)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		if found == nil {
			middleware.WriteError(w, r, model.NewAuthFailedError(nil))
			return
		}
		user = found
	}

	middleware.WriteJSON(w, http.StatusOK, meResponse{
		Success:    true,
		AuthMethod: principal.Channel,
		User:       newUserResponse(user),
	})
}
