// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorValidation    = "VALIDATION_ERROR"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorRateLimited   = "RATE_LIMITED"

	// 记录相关错误
	ErrorWorldNotFound = "WORLD_NOT_FOUND"
	ErrorSaveNotFound  = "SAVE_NOT_FOUND"
	ErrorRecordLoad    = "RECORD_LOAD_FAILED"

	// 会话相关错误
	ErrorSessionNotFound = "SESSION_NOT_FOUND"
	ErrorSessionBusy     = "SESSION_BUSY"
	ErrorInvalidTurn     = "INVALID_TURN_INDEX"

	// LLM服务相关错误
	ErrorProviderFailed         = "PROVIDER_FAILED"
	ErrorLLMServiceUnavailable  = "LLM_SERVICE_UNAVAILABLE"
	ErrorLLMProviderUnknown     = "LLM_PROVIDER_UNKNOWN"
	ErrorConfigUpdatedLLMFailed = "CONFIG_UPDATED_LLM_FAILED"
	ErrorConfigUpdateFailed     = "CONFIG_UPDATE_FAILED"
)
