package storage

import (
	"context"
	"errors"
)

// ErrBlobNotFound 键不存在
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore 是一个按键整体读写的二进制存储。
//
// 邮箱集合以单个键保存：启动时读取一次，每次变更后整体覆盖写入。
type BlobStore interface {
	// Get 读取键对应的值，不存在时返回 ErrBlobNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	// Put 整体覆盖写入
	Put(ctx context.Context, key string, value []byte) error
	// Health 检查底层存储是否可用
	Health(ctx context.Context) error
	Close() error
}
