package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/savezy/internal/model"
)

// maxRequestBody はリクエストボディとして読み込む最大バイト数。
const maxRequestBody = 64 << 10

// requiredMessages はフィールドごとの必須エラーメッセージ。未登録のフィールドは "<field> is required" とする。
var requiredMessages = map[string]string{
	"code":     "Authorization code is required",
	"token":    "Token is required",
	"id_token": "id_token is required",
}

var errEmptyBody = errors.New("empty request body")

// requestDecoder はJSONリクエストボディの読み込みと検証を行う。
type requestDecoder struct {
	validate *validator.Validate
}

func newRequestDecoder() *requestDecoder {
	v := validator.New(validator.WithRequiredStructEnabled())
	// エラーメッセージにはGoのフィールド名ではなくJSONのキー名を使う
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestDecoder{validate: v}
}

// readJSON はボディをdstにデコードする。ボディが空の場合はerrEmptyBodyを返す。
func (d *requestDecoder) readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return model.NewValidationError("Invalid JSON body")
	}
	return nil
}

// decode はボディをdstにデコードして検証する。
// 空のボディ、不正なJSON、検証エラーはいずれもValidationErrorとなる。
func (d *requestDecoder) decode(r *http.Request, dst any) error {
	if err := d.readJSON(r, dst); err != nil {
		if errors.Is(err, errEmptyBody) {
			return model.NewValidationError("Request body is required")
		}
		return err
	}
	return d.check(dst)
}

// check はvalidateタグに従ってdstを検証し、最初のエラーをValidationErrorに変換する。
func (d *requestDecoder) check(dst any) error {
	err := d.validate.Struct(dst)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return model.NewInternalError(err)
	}

	fe := verrs[0]
	if fe.Tag() == "required" {
		if msg, ok := requiredMessages[fe.Field()]; ok {
			return model.NewValidationError(msg)
		}
		return model.NewValidationError(fe.Field() + " is required")
	}
	return model.NewValidationError("Invalid " + fe.Field())
}
