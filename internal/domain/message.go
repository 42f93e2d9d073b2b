package domain

import "time"

// DefaultSubject 是邮件缺少主题时使用的占位文本。
const DefaultSubject = "(No subject)"

// Message 是规范化后的邮件，与具体邮件服务商无关。
//
// 邮件不在本地持久化，每次轮询都会重新获取。
type Message struct {
	ID          int64        `json:"id"`
	From        string       `json:"from"`
	Subject     string       `json:"subject"`
	Date        time.Time    `json:"date"`
	TextBody    string       `json:"textBody"`
	HTMLBody    string       `json:"htmlBody,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}
