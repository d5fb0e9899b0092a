// internal/api/response_helpers.go
package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	appErrors "github.com/Corphon/SekaiHub/internal/errors"
	"github.com/Corphon/SekaiHub/internal/utils"
	"github.com/gin-gonic/gin"
)

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"` // 用于调试和追踪
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseHelper 响应助手类
type ResponseHelper struct{}

// NewResponseHelper 创建响应助手
func NewResponseHelper() *ResponseHelper {
	return &ResponseHelper{}
}

// Success 成功响应
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	rh.respond(c, http.StatusOK, data, message, "")
}

// Created 创建成功响应
func (rh *ResponseHelper) Created(c *gin.Context, data interface{}, message ...string) {
	rh.respond(c, http.StatusCreated, data, message, "资源创建成功")
}

func (rh *ResponseHelper) respond(c *gin.Context, status int, data interface{}, message []string, fallback string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Message:   fallback,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}
	if len(message) > 0 {
		response.Message = message[0]
	}
	c.JSON(status, response)
}

// sanitizeErrorMessage 隐藏可能含有密钥的上游错误信息
func sanitizeErrorMessage(message string) string {
	lower := strings.ToLower(message)
	for _, pattern := range []string{"api_key", "apikey", "secret", "token", "authorization", "bearer "} {
		if strings.Contains(lower, pattern) {
			return "An internal error occurred"
		}
	}
	return message
}

// Error 错误响应
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	rh.ErrorWithData(c, statusCode, errorCode, nil, message, details...)
}

// ErrorWithData 错误响应，同时携带仍然有效的数据
func (rh *ResponseHelper) ErrorWithData(c *gin.Context, statusCode int, errorCode string, data interface{}, message string, details ...string) {
	apiError := &APIError{
		Code:    errorCode,
		Message: sanitizeErrorMessage(message),
	}

	if len(details) > 0 {
		apiError.Details = sanitizeErrorMessage(details[0])
	}

	response := &APIResponse{
		Success:   false,
		Data:      data,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	c.JSON(statusCode, response)
}

// BadRequest 400错误响应
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, details...)
}

// NotFound 404错误响应
func (rh *ResponseHelper) NotFound(c *gin.Context, resource string, details ...string) {
	rh.Error(c, http.StatusNotFound, rh.getResourceNotFoundCode(resource), resource+"不存在", details...)
}

// InternalError 500错误响应
func (rh *ResponseHelper) InternalError(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message, details...)
}

// Conflict 409错误响应
func (rh *ResponseHelper) Conflict(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusConflict, ErrorConflict, message, details...)
}

// StatusForError 将应用错误类型映射为HTTP状态码与错误代码
func StatusForError(err error) (int, string) {
	switch appErrors.TypeOf(err) {
	case appErrors.ErrorTypeValidation:
		return http.StatusBadRequest, ErrorValidation
	case appErrors.ErrorTypeNotFound:
		return http.StatusNotFound, ErrorNotFound
	case appErrors.ErrorTypeConflict:
		return http.StatusConflict, ErrorSessionBusy
	case appErrors.ErrorTypeProvider:
		return http.StatusBadGateway, ErrorProviderFailed
	case appErrors.ErrorTypeRecordLoad:
		return http.StatusUnprocessableEntity, ErrorRecordLoad
	default:
		return http.StatusInternalServerError, ErrorInternalError
	}
}

// FromError 根据错误类型生成错误响应
func (rh *ResponseHelper) FromError(c *gin.Context, err error) {
	rh.FromErrorWithData(c, err, nil)
}

// FromErrorWithData 根据错误类型生成错误响应，并附带数据
func (rh *ResponseHelper) FromErrorWithData(c *gin.Context, err error, data interface{}) {
	status, code := StatusForError(err)
	if status >= http.StatusInternalServerError {
		utils.GetLogger().Error("request failed", map[string]interface{}{
			"path":       c.FullPath(),
			"request_id": rh.getRequestID(c),
			"error":      err.Error(),
		})
	}

	message := err.Error()
	var appErr *appErrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	rh.ErrorWithData(c, status, code, data, message, err.Error())
}

// getRequestID 获取请求ID
func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// getResourceNotFoundCode 根据资源类型生成错误代码
func (rh *ResponseHelper) getResourceNotFoundCode(resource string) string {
	switch resource {
	case "会话", "session":
		return ErrorSessionNotFound
	case "世界", "world":
		return ErrorWorldNotFound
	case "存档", "save":
		return ErrorSaveNotFound
	default:
		return ErrorNotFound
	}
}
