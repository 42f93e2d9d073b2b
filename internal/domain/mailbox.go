package domain

import (
	"fmt"
	"strings"
	"time"
)

// Mailbox 表示本客户端跟踪的一个临时邮箱。
//
// Address 创建后不可变；MessageCount 只由同步引擎在成功轮询后更新。
type Mailbox struct {
	Address      string    `json:"address"`
	CreatedAt    time.Time `json:"createdAt"`
	MessageCount int       `json:"messageCount"`
}

// Address 是拆分后的邮箱地址。
type Address struct {
	Username string `json:"username"`
	Domain   string `json:"domain"`
	Email    string `json:"email"`
}

// NewAddress 由用户名和域名组装地址。
func NewAddress(username, domain string) Address {
	username = strings.ToLower(username)
	domain = strings.ToLower(domain)
	return Address{
		Username: username,
		Domain:   domain,
		Email:    fmt.Sprintf("%s@%s", username, domain),
	}
}

// ParseAddress 解析 local-part@domain 格式的邮箱地址。
//
// 地址会被去除首尾空白并转为小写；必须恰好包含一个 @，两侧分别通过
// ValidateLocalPart 与 ValidateDomain 校验。
func ParseAddress(email string) (Address, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return Address{}, ErrMalformedAddress
	}
	if len(email) > MaxEmailLength {
		return Address{}, fmt.Errorf("%w: %w", ErrMalformedAddress, ErrEmailTooLong)
	}
	username, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return Address{}, fmt.Errorf("%w: %q", ErrMalformedAddress, email)
	}
	if err := ValidateLocalPart(username); err != nil {
		return Address{}, fmt.Errorf("%w: %w", ErrMalformedAddress, err)
	}
	if err := ValidateDomain(domain); err != nil {
		return Address{}, fmt.Errorf("%w: %w", ErrMalformedAddress, err)
	}
	return Address{Username: username, Domain: domain, Email: email}, nil
}
