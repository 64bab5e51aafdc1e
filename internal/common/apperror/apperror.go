package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind はエラーの分類です
type Kind string

const (
	KindUnauthorized        Kind = "Unauthorized"
	KindMisconfigured       Kind = "Misconfigured"
	KindPreconditionFailed  Kind = "PreconditionFailed"
	KindValidationFailed    Kind = "ValidationFailed"
	KindCapacityExceeded    Kind = "CapacityExceeded"
	KindNotFound            Kind = "NotFound"
	KindTransientJobFailure Kind = "TransientJobFailure"
	KindInternal            Kind = "Internal"
)

// Error は分類付きのアプリケーションエラーです
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New は分類とメッセージからエラーを作成します
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap は原因となるエラーを保持したまま分類を付与します
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Unauthorized(format string, args ...any) *Error {
	return New(KindUnauthorized, format, args...)
}

func PreconditionFailed(format string, args ...any) *Error {
	return New(KindPreconditionFailed, format, args...)
}

func ValidationFailed(format string, args ...any) *Error {
	return New(KindValidationFailed, format, args...)
}

func CapacityExceeded(format string, args ...any) *Error {
	return New(KindCapacityExceeded, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// KindOf はエラーチェーンから分類を取り出します
// 分類のないエラーはKindInternalとして扱います
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is はエラーが指定した分類かを返します
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus は分類に対応するHTTPステータスを返します
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case KindValidationFailed:
		return http.StatusBadRequest
	case KindCapacityExceeded:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage はクライアントへ返しても良いメッセージを返します
// 内部エラーの詳細は隠します
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != KindInternal {
		return appErr.Message
	}
	return "internal error"
}
