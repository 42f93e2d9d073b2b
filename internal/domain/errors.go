package domain

import "errors"

var (
	// ErrMalformedAddress 邮箱地址缺失或格式错误
	ErrMalformedAddress = errors.New("malformed mailbox address")
	// ErrInvalidMessageID 邮件 ID 缺失或不是数字
	ErrInvalidMessageID = errors.New("invalid message id")

	// ErrListFetch 拉取邮件列表失败（调用方只会看到空列表）
	ErrListFetch = errors.New("list messages fetch failed")
	// ErrReadFetch 读取单封邮件失败
	ErrReadFetch = errors.New("read message fetch failed")
	// ErrMessageNotFound 服务商没有返回该邮件
	ErrMessageNotFound = errors.New("message not found")

	// ErrPersistence 本地存储读写失败
	ErrPersistence = errors.New("mailbox persistence failed")

	ErrMailboxNotFound  = errors.New("mailbox not found")
	ErrAddressExhausted = errors.New("could not generate a unique address")
	ErrNotPolling       = errors.New("no mailbox selected")
)
