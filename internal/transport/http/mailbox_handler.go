package httptransport

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dropwin/backend/internal/domain"
	"dropwin/backend/internal/service"
)

// MailboxHandler /v1 邮箱与同步接口处理器
type MailboxHandler struct {
	store    *service.MailboxStore
	engine   *service.SyncEngine
	provider Provider
	logger   *zap.Logger
}

// NewMailboxHandler 创建邮箱处理器
func NewMailboxHandler(store *service.MailboxStore, engine *service.SyncEngine, p Provider, logger *zap.Logger) *MailboxHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MailboxHandler{store: store, engine: engine, provider: p, logger: logger}
}

type mailboxListResponse struct {
	Mailboxes []domain.Mailbox `json:"mailboxes"`
	Selected  string           `json:"selected,omitempty"`
}

type createMailboxResponse struct {
	Mailbox domain.Mailbox   `json:"mailbox"`
	Sync    service.Snapshot `json:"sync"`
}

// ListMailboxes godoc
// @Summary 获取邮箱列表
// @Tags Mailboxes
// @Produce json
// @Success 200 {object} Response{data=mailboxListResponse}
// @Router /v1/mailboxes [get]
func (h *MailboxHandler) ListMailboxes(c *gin.Context) {
	Success(c, mailboxListResponse{
		Mailboxes: h.store.All(),
		Selected:  h.engine.State().Address,
	})
}

// CreateMailbox godoc
// @Summary 创建邮箱并开始轮询
// @Tags Mailboxes
// @Produce json
// @Success 201 {object} Response{data=createMailboxResponse}
// @Failure 409 {object} Response
// @Router /v1/mailboxes [post]
func (h *MailboxHandler) CreateMailbox(c *gin.Context) {
	mailbox, err := h.store.Create(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		h.logger.Warn("create mailbox failed", zap.Error(err))
		respondError(c, err)
		return
	}

	snap, err := h.engine.Select(c.Request.Context(), mailbox.Address)
	if err != nil {
		respondError(c, err)
		return
	}

	// 选中后第一次拉取可能已经更新了邮件数
	if latest, ok := h.store.Get(mailbox.Address); ok {
		mailbox = latest
	}
	Created(c, createMailboxResponse{Mailbox: mailbox, Sync: snap})
}

// DeleteMailbox godoc
// @Summary 删除邮箱，如正在轮询则停止
// @Tags Mailboxes
// @Param address path string true "邮箱地址"
// @Success 204
// @Failure 404 {object} Response
// @Router /v1/mailboxes/{address} [delete]
func (h *MailboxHandler) DeleteMailbox(c *gin.Context) {
	address, ok := h.addressParam(c)
	if !ok {
		return
	}

	if !h.engine.Remove(context.WithoutCancel(c.Request.Context()), address) {
		NotFound(c, GetErrorMessage(domain.ErrMailboxNotFound))
		return
	}
	NoContent(c)
}

// SelectMailbox godoc
// @Summary 选中邮箱并开始轮询
// @Tags Sync
// @Param address path string true "邮箱地址"
// @Success 200 {object} Response{data=service.Snapshot}
// @Failure 404 {object} Response
// @Router /v1/mailboxes/{address}/select [post]
func (h *MailboxHandler) SelectMailbox(c *gin.Context) {
	address, ok := h.addressParam(c)
	if !ok {
		return
	}

	snap, err := h.engine.Select(c.Request.Context(), address)
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, snap)
}

// Deselect 停止轮询
func (h *MailboxHandler) Deselect(c *gin.Context) {
	h.engine.Deselect()
	Success(c, h.engine.State())
}

// Refresh 立即刷新当前邮箱
func (h *MailboxHandler) Refresh(c *gin.Context) {
	snap, err := h.engine.Refresh(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, snap)
}

// GetSync 返回当前同步快照
func (h *MailboxHandler) GetSync(c *gin.Context) {
	Success(c, h.engine.Snapshot())
}

// GetMessage godoc
// @Summary 读取邮件详情
// @Tags Messages
// @Param address path string true "邮箱地址"
// @Param id path int true "邮件ID"
// @Success 200 {object} Response{data=domain.Message}
// @Failure 404 {object} Response
// @Failure 500 {object} Response
// @Router /v1/mailboxes/{address}/messages/{id} [get]
func (h *MailboxHandler) GetMessage(c *gin.Context) {
	address, ok := h.addressParam(c)
	if !ok {
		return
	}
	id, err := domain.ParseMessageID(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if _, exists := h.store.Get(address); !exists {
		respondError(c, domain.ErrMailboxNotFound)
		return
	}

	msg, err := h.provider.ReadMessage(c.Request.Context(), address, id)
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, msg)
}

// addressParam 解析路径中的邮箱地址，失败时写入 400 响应
func (h *MailboxHandler) addressParam(c *gin.Context) (string, bool) {
	addr, err := domain.ParseAddress(strings.TrimSpace(c.Param("address")))
	if err != nil {
		BadRequest(c, GetErrorMessage(err))
		return "", false
	}
	return addr.Email, true
}
