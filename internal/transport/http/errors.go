package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dropwin/backend/internal/domain"
)

type errorMapping struct {
	err    error
	status int
	msg    string
}

// 业务错误 -> HTTP 状态码与中文消息，按顺序匹配
var errorMappings = []errorMapping{
	{domain.ErrMalformedAddress, http.StatusBadRequest, "邮箱地址格式错误"},
	{domain.ErrInvalidMessageID, http.StatusBadRequest, "邮件ID无效"},
	{domain.ErrMailboxNotFound, http.StatusNotFound, "邮箱不存在"},
	{domain.ErrMessageNotFound, http.StatusNotFound, "邮件不存在"},
	{domain.ErrNotPolling, http.StatusConflict, "当前没有选中的邮箱"},
	{domain.ErrAddressExhausted, http.StatusConflict, "无法生成唯一的邮箱地址，请重试"},
	{domain.ErrReadFetch, http.StatusInternalServerError, "读取邮件失败"},
}

// MsgInternalError 未归类错误的通用消息
const MsgInternalError = "服务器内部错误"

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	_, msg := classify(err)
	return msg
}

// classify 返回错误对应的 HTTP 状态码与消息
func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.msg
		}
	}
	return http.StatusInternalServerError, MsgInternalError
}

// respondError 按业务错误类型返回统一格式的错误响应
func respondError(c *gin.Context, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	Error(c, status, msg)
}
