// internal/api/error_codes.go
package api

import apperrors "github.com/Corphon/StoryTeller/internal/errors"

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"

	// 请求相关错误
	ErrorMessageInvalid = "MESSAGE_INVALID"

	// 生成相关错误
	ErrorProviderFailed  = "PROVIDER_FAILED"
	ErrorGenerationTimed = "GENERATION_TIMEOUT"
	ErrorClientCanceled  = "CLIENT_CANCELED"

	// LLM服务相关错误
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"

	// 会话相关错误
	ErrorUnknownAction = "UNKNOWN_ACTION"
)

// errorCodeFor 错误类型到 API 错误代码
func errorCodeFor(err error) string {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeValidation:
		return ErrorBadRequest
	case apperrors.ErrorTypeNotFound:
		return ErrorNotFound
	case apperrors.ErrorTypeConflict:
		return ErrorConflict
	case apperrors.ErrorTypeProvider:
		return ErrorProviderFailed
	case apperrors.ErrorTypeTimeout:
		return ErrorGenerationTimed
	case apperrors.ErrorTypeCanceled:
		return ErrorClientCanceled
	default:
		return ErrorInternalError
	}
}
