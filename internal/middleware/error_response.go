package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/savezy/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// WriteJSON はステータスコードとJSONボディを書き込む。
func WriteJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// WriteError はerrを統一エラーフォーマットで書き込む。
// 種別が付与されていないエラーは500として扱い、原因はログにのみ出力する。
// detailsは上流が拒否した場合のみ返す。
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := model.AsAPIError(err)
	status := apiErr.StatusCode()

	if status >= http.StatusInternalServerError {
		attrs := []any{
			slog.String("code", string(apiErr.Kind)),
			slog.String("path", r.URL.Path),
		}
		if apiErr.Err != nil {
			attrs = append(attrs, slog.String("error", apiErr.Err.Error()))
		}
		if id := RequestIDFromContext(r.Context()); id != "" {
			attrs = append(attrs, slog.String("request_id", id))
		}
		slog.Error("request failed", attrs...)
	}

	body := ErrorResponseBody{
		Success: false,
		Error:   apiErr.Message,
		Code:    string(apiErr.Kind),
	}
	if apiErr.Kind.ExposesDetail() {
		body.Details = apiErr.Details
	}
	WriteJSON(w, status, body)
}
