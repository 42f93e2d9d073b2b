package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dropwin/backend/internal/storage"
)

// BlobStore 文件系统存储实现，每个键对应 basePath 下的一个文件
type BlobStore struct {
	basePath string
}

// NewBlobStore 创建文件系统存储实例，目录不存在时自动创建
func NewBlobStore(basePath string) (*BlobStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("invalid base path: empty")
	}
	if strings.Contains(basePath, "\x00") {
		return nil, fmt.Errorf("invalid base path: contains NUL")
	}

	cleaned := filepath.Clean(basePath)
	if err := os.MkdirAll(cleaned, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &BlobStore{basePath: cleaned}, nil
}

// Get 读取键对应的文件
func (s *BlobStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to read blob %q: %w", key, err)
	}
	return data, nil
}

// Put 先写临时文件再重命名，保证读到的总是完整内容
func (s *BlobStore) Put(_ context.Context, key string, value []byte) error {
	tmp, err := os.CreateTemp(s.basePath, ".blob-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write blob %q: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync blob %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close blob %q: %w", key, err)
	}

	if err := os.Rename(tmpName, s.pathFor(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace blob %q: %w", key, err)
	}
	return nil
}

// Health 检查目录是否仍然可访问
func (s *BlobStore) Health(context.Context) error {
	info, err := os.Stat(s.basePath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.basePath)
	}
	return nil
}

func (s *BlobStore) Close() error { return nil }

// pathFor 将键转换为安全的文件名
func (s *BlobStore) pathFor(key string) string {
	return filepath.Join(s.basePath, SanitizeKey(key)+".json")
}

// SanitizeKey 只保留字母数字和 . _ -，其余字符替换为下划线
func SanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.Trim(b.String(), ".")
	if name == "" {
		return "unnamed"
	}
	return name
}
