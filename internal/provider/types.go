package provider

import (
	"strings"
	"time"

	"dropwin/backend/internal/domain"
)

// DateLayout 是服务商返回的日期格式（UTC）
const DateLayout = "2006-01-02 15:04:05"

// ListResult 是 ListMessages 的结果
//
// Failure 不为 nil 时 Messages 一定为空切片；失败只用于观测，不影响调用方流程。
type ListResult struct {
	Messages []domain.Message
	Failure  error
}

// rawMessage 服务商 getMessages / readMessage 返回的原始结构
type rawMessage struct {
	ID          int64           `json:"id"`
	From        string          `json:"from"`
	Subject     string          `json:"subject"`
	Date        string          `json:"date"`
	Body        string          `json:"body"`
	TextBody    string          `json:"textBody"`
	HTMLBody    string          `json:"htmlBody"`
	Attachments []rawAttachment `json:"attachments"`
}

type rawAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#039;",
)

// normalize 将原始结构转换为规范的 domain.Message
func normalize(raw rawMessage) domain.Message {
	subject := raw.Subject
	if subject == "" {
		subject = domain.DefaultSubject
	}

	text := raw.TextBody
	if text == "" {
		text = raw.Body
	}

	msg := domain.Message{
		ID:       raw.ID,
		From:     raw.From,
		Subject:  subject,
		Date:     ParseDate(raw.Date),
		TextBody: text,
		HTMLBody: raw.HTMLBody,
	}

	if len(raw.Attachments) > 0 {
		msg.Attachments = make([]domain.Attachment, 0, len(raw.Attachments))
		for _, a := range raw.Attachments {
			msg.Attachments = append(msg.Attachments, domain.Attachment{
				Filename:    a.Filename,
				ContentType: a.ContentType,
				Size:        a.Size,
			})
		}
	}
	return msg
}

// normalizeDetail 在 normalize 基础上为缺失的 HTML 正文生成预格式化版本
func normalizeDetail(raw rawMessage) domain.Message {
	msg := normalize(raw)
	if msg.HTMLBody == "" {
		msg.HTMLBody = PreformattedHTML(msg.TextBody)
	}
	return msg
}

// PreformattedHTML 将纯文本转义后包装为 <pre> 块
func PreformattedHTML(text string) string {
	return `<pre style="white-space: pre-wrap; font-family: Arial, sans-serif;">` +
		htmlEscaper.Replace(text) + `</pre>`
}

// ParseDate 解析服务商日期，无法解析时返回零值
func ParseDate(value string) time.Time {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(value), time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FormatDate 按服务商格式输出日期，零值输出空字符串
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(DateLayout)
}
