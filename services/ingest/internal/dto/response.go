package dto

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	res "meetinggenius/packages/response"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

func SuccessResponse(c *gin.Context, data any) {
	c.JSON(http.StatusOK, res.SuccessResponse(data))
}

// AcceptedResponse 异步任务已受理，返回 202
func AcceptedResponse(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, res.AcceptedResponse(data))
}

func ErrorResponse(c *gin.Context, err *res.BusinessError) {
	c.JSON(err.HTTPStatus(), res.ErrorResponse(err.Code, err.Msg))
}

// ValidationErrorResponse 处理验证错误，返回友好的 JSON 字段名
func ValidationErrorResponse(c *gin.Context, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		ErrorResponse(c, res.NewBusinessError(
			res.WithErrorCode(res.ParseError),
			res.WithErrorMessage(ValidationMessage(validationErrs[0])),
		))
		return
	}

	ErrorResponse(c, res.NewBusinessError(
		res.WithErrorCode(res.ParseError),
		res.WithErrorMessage("参数错误: "+err.Error()),
	))
}

// ValidationMessage 单个字段校验失败的提示
func ValidationMessage(fe validator.FieldError) string {
	field := lowerCamel(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("字段 '%s' 是必填项", field)
	case "max", "lte":
		return fmt.Sprintf("字段 '%s' 不能超过 %s", field, fe.Param())
	case "min", "gte", "gt":
		return fmt.Sprintf("字段 '%s' 必须大于等于 %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("字段 '%s' 必须是以下值之一: %s", field, fe.Param())
	case "base64":
		return fmt.Sprintf("字段 '%s' 必须是 base64 编码", field)
	default:
		return fmt.Sprintf("字段 '%s' 验证失败: %s", field, fe.Tag())
	}
}

// lowerCamel JobID -> jobId, MimeType -> mimeType
func lowerCamel(s string) string {
	if s == "" {
		return s
	}
	if strings.HasSuffix(s, "ID") {
		s = strings.TrimSuffix(s, "ID") + "Id"
	}
	return strings.ToLower(s[:1]) + s[1:]
}
