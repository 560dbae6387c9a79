package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// 错误代码常量
const (
	// 通用错误
	ErrCodeInternalServerError = http.StatusInternalServerError // 服务器内部错误
	ErrCodeBadRequest          = http.StatusBadRequest          // 请求参数错误

	// 规则相关错误
	ErrCodeRuleNotFound      = http.StatusNotFound   // 规则不存在
	ErrCodeRuleAlreadyExists = http.StatusConflict   // 规则已存在
	ErrCodeInvalidRuleFormat = http.StatusBadRequest // 规则格式无效
)

// RuleError 自定义规则错误类型
type RuleError struct {
	Code    int    // HTTP 状态码
	Message string // 错误消息
	Err     error  // 原始错误
}

// Error 实现 error 接口
func (e *RuleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// NewRuleError 创建新的规则错误
func NewRuleError(code int, message string, err error) *RuleError {
	return &RuleError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewBadRequestError 创建请求参数错误
func NewBadRequestError(message string, err error) *RuleError {
	return NewRuleError(ErrCodeBadRequest, message, err)
}

// NewRuleNotFoundError 创建规则不存在错误
func NewRuleNotFoundError(ruleID string) *RuleError {
	return &RuleError{
		Code:    ErrCodeRuleNotFound,
		Message: fmt.Sprintf("规则 %s 不存在", ruleID),
	}
}

// NewRuleAlreadyExistsError 创建规则已存在错误
func NewRuleAlreadyExistsError(err error) *RuleError {
	return &RuleError{
		Code:    ErrCodeRuleAlreadyExists,
		Message: "规则已存在",
		Err:     err,
	}
}

// NewInvalidRuleFormatError 创建规则格式无效错误
func NewInvalidRuleFormatError(err error) *RuleError {
	return &RuleError{
		Code:    ErrCodeInvalidRuleFormat,
		Message: "规则格式无效",
		Err:     err,
	}
}

// NewInternalServerError 创建服务器内部错误
func NewInternalServerError(err error) *RuleError {
	return &RuleError{
		Code:    ErrCodeInternalServerError,
		Message: "服务器内部错误",
		Err:     err,
	}
}

// HandleError 统一错误处理函数
func HandleError(c echo.Context, err error) error {
	// 记录错误日志
	logrus.WithFields(logrus.Fields{
		"error":      err.Error(),
		"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
		"path":       c.Request().URL.Path,
		"method":     c.Request().Method,
	}).Error("API 错误")

	// 处理自定义错误
	var ruleErr *RuleError
	if errors.As(err, &ruleErr) {
		resp := Response{
			Code:    ruleErr.Code,
			Message: ruleErr.Message,
		}
		// 客户端错误附带原因，方便修正请求；服务端错误不暴露细节
		if ruleErr.Err != nil && (ruleErr.Code < http.StatusInternalServerError || IsDebugMode()) {
			resp.Data = map[string]string{
				"error_detail": ruleErr.Err.Error(),
			}
		}
		return c.JSON(ruleErr.Code, resp)
	}

	// 处理未知错误
	return c.JSON(http.StatusInternalServerError, Response{
		Code:    http.StatusInternalServerError,
		Message: "服务器内部错误",
	})
}

// IsDebugMode 日志级别为DEBUG时返回服务端错误详情
func IsDebugMode() bool {
	return logrus.IsLevelEnabled(logrus.DebugLevel)
}
