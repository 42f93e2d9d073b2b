package httptransport

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dropwin/backend/internal/domain"
	"dropwin/backend/internal/provider"
	"dropwin/backend/internal/service"
)

// 注意：/api 接口保持旧格式（{success, ...}），前端直接依赖这些字段

// Version 服务版本，/api/test 返回
const Version = "2.1.0"

// Provider 远端邮件服务商
type Provider interface {
	ListMessages(ctx context.Context, email string) provider.ListResult
	ReadMessage(ctx context.Context, email string, id int64) (*domain.Message, error)
}

// APIHandler /api 接口处理器
type APIHandler struct {
	store     *service.MailboxStore
	generator *service.AddressGenerator
	provider  Provider
	logger    *zap.Logger
	now       func() time.Time
}

// NewAPIHandler 创建 /api 接口处理器
func NewAPIHandler(store *service.MailboxStore, generator *service.AddressGenerator, p Provider, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{
		store:     store,
		generator: generator,
		provider:  p,
		logger:    logger,
		now:       time.Now,
	}
}

// ========== 响应结构体 ==========

type generateEmailResponse struct {
	Success  bool   `json:"success"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Domain   string `json:"domain"`
}

type messageSummary struct {
	ID       int64  `json:"id"`
	From     string `json:"from"`
	Subject  string `json:"subject"`
	Date     string `json:"date"`
	Body     string `json:"body"`
	TextBody string `json:"textBody"`
}

type messageListResponse struct {
	Success  bool             `json:"success"`
	Messages []messageSummary `json:"messages"`
	Count    int              `json:"count"`
	Error    string           `json:"error,omitempty"`
}

type messageDetail struct {
	ID          int64               `json:"id"`
	From        string              `json:"from"`
	Subject     string              `json:"subject"`
	Date        string              `json:"date"`
	HTMLBody    string              `json:"htmlBody"`
	TextBody    string              `json:"textBody"`
	Attachments []domain.Attachment `json:"attachments"`
}

type messageDetailResponse struct {
	Success bool          `json:"success"`
	Message messageDetail `json:"message"`
}

type domainsResponse struct {
	Success bool     `json:"success"`
	Domains []string `json:"domains"`
}

type testResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// GenerateEmail 创建新的临时邮箱
//
// 无法生成唯一地址时回退到默认域名上的一个地址，依然返回 success:true。
func (h *APIHandler) GenerateEmail(c *gin.Context) {
	// 客户端断开不应中断持久化
	mailbox, err := h.store.Create(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		fallback := h.generator.Fallback()
		h.logger.Warn("mailbox creation failed, returning fallback address",
			zap.String("email", fallback.Email),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, generateEmailResponse{
			Success:  true,
			Email:    fallback.Email,
			Username: fallback.Username,
			Domain:   fallback.Domain,
		})
		return
	}

	addr, _ := domain.ParseAddress(mailbox.Address)
	c.JSON(http.StatusOK, generateEmailResponse{
		Success:  true,
		Email:    addr.Email,
		Username: addr.Username,
		Domain:   addr.Domain,
	})
}

// GetMessages 获取邮件列表
//
// 服务商失败时返回空列表和 success:true，并附带 error 字段。
func (h *APIHandler) GetMessages(c *gin.Context) {
	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		LegacyError(c, http.StatusBadRequest, "email address is required")
		return
	}
	if _, err := domain.ParseAddress(email); err != nil {
		LegacyError(c, http.StatusBadRequest, "invalid email format")
		return
	}

	result := h.provider.ListMessages(c.Request.Context(), email)

	resp := messageListResponse{
		Success:  true,
		Messages: make([]messageSummary, 0, len(result.Messages)),
	}
	for _, m := range result.Messages {
		resp.Messages = append(resp.Messages, messageSummary{
			ID:       m.ID,
			From:     m.From,
			Subject:  m.Subject,
			Date:     provider.FormatDate(m.Date),
			Body:     m.TextBody,
			TextBody: m.TextBody,
		})
	}
	resp.Count = len(resp.Messages)
	if result.Failure != nil {
		resp.Error = "could not fetch messages, please try again later"
	}

	c.JSON(http.StatusOK, resp)
}

// ReadMessage 读取单封邮件
func (h *APIHandler) ReadMessage(c *gin.Context) {
	email := strings.TrimSpace(c.Query("email"))
	rawID := strings.TrimSpace(c.Query("id"))
	if email == "" || rawID == "" {
		LegacyError(c, http.StatusBadRequest, "email and message id are required")
		return
	}

	id, err := domain.ParseMessageID(rawID)
	if err != nil {
		LegacyError(c, http.StatusBadRequest, "invalid message id")
		return
	}
	if _, err := domain.ParseAddress(email); err != nil {
		LegacyError(c, http.StatusBadRequest, "invalid email format")
		return
	}

	msg, err := h.provider.ReadMessage(c.Request.Context(), email, id)
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			LegacyError(c, http.StatusNotFound, "message not found")
			return
		}
		LegacyError(c, http.StatusInternalServerError, "could not read message")
		return
	}

	attachments := msg.Attachments
	if attachments == nil {
		attachments = []domain.Attachment{}
	}
	c.JSON(http.StatusOK, messageDetailResponse{
		Success: true,
		Message: messageDetail{
			ID:          msg.ID,
			From:        msg.From,
			Subject:     msg.Subject,
			Date:        provider.FormatDate(msg.Date),
			HTMLBody:    msg.HTMLBody,
			TextBody:    msg.TextBody,
			Attachments: attachments,
		},
	})
}

// GetDomains 获取可用域名列表
func (h *APIHandler) GetDomains(c *gin.Context) {
	c.JSON(http.StatusOK, domainsResponse{
		Success: true,
		Domains: h.generator.Domains(),
	})
}

// Test 存活探测
func (h *APIHandler) Test(c *gin.Context) {
	c.JSON(http.StatusOK, testResponse{
		Success:   true,
		Message:   "DropWin Mail Server is running",
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Version:   Version,
	})
}
