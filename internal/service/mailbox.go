package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"dropwin/backend/internal/domain"
	"dropwin/backend/internal/monitoring"
	"dropwin/backend/internal/storage"
)

// DefaultMaxGenerateAttempts 生成地址冲突时的默认最大尝试次数
const DefaultMaxGenerateAttempts = 5

// MailboxStore 维护本地跟踪的邮箱集合，并在每次变更后整体写回 BlobStore。
//
// 集合按创建时间倒序排列，最新的邮箱在最前面。持久化失败只记录日志和指标，
// 内存中的集合仍然是权威数据。
type MailboxStore struct {
	mu        sync.RWMutex
	mailboxes []domain.Mailbox

	blobs       storage.BlobStore
	key         string
	generator   Generator
	maxAttempts int
	now         func() time.Time
	metrics     *monitoring.Metrics
	logger      *zap.Logger
}

// StoreOption 邮箱存储可选配置
type StoreOption func(*MailboxStore)

// WithMaxGenerateAttempts 设置地址冲突时的最大尝试次数
func WithMaxGenerateAttempts(n int) StoreOption {
	return func(s *MailboxStore) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithStoreClock 替换时间来源
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *MailboxStore) { s.now = now }
}

// WithStoreMetrics 注入监控指标
func WithStoreMetrics(m *monitoring.Metrics) StoreOption {
	return func(s *MailboxStore) { s.metrics = m }
}

// WithStoreLogger 注入日志
func WithStoreLogger(logger *zap.Logger) StoreOption {
	return func(s *MailboxStore) { s.logger = logger }
}

// NewMailboxStore 创建邮箱存储并从 BlobStore 加载一次已有数据。
//
// 数据不存在或无法解析时从空集合开始。
func NewMailboxStore(ctx context.Context, blobs storage.BlobStore, key string, generator Generator, opts ...StoreOption) *MailboxStore {
	s := &MailboxStore{
		blobs:       blobs,
		key:         key,
		generator:   generator,
		maxAttempts: DefaultMaxGenerateAttempts,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mailboxes = s.load(ctx)
	s.metrics.UpdateMailboxesActive(len(s.mailboxes))
	return s
}

func (s *MailboxStore) load(ctx context.Context) []domain.Mailbox {
	data, err := s.blobs.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			s.logger.Info("no persisted mailboxes, starting empty", zap.String("key", s.key))
			return []domain.Mailbox{}
		}
		s.logger.Error("failed to load mailboxes, starting empty",
			zap.String("key", s.key),
			zap.Error(fmt.Errorf("%w: %w", domain.ErrPersistence, err)),
		)
		s.metrics.RecordPersistenceFailure("load")
		return []domain.Mailbox{}
	}

	mailboxes, err := DecodeMailboxes(data)
	if err != nil {
		s.logger.Error("persisted mailboxes are corrupt, starting empty",
			zap.String("key", s.key),
			zap.Error(fmt.Errorf("%w: %w", domain.ErrPersistence, err)),
		)
		s.metrics.RecordPersistenceFailure("load")
		return []domain.Mailbox{}
	}

	s.logger.Info("loaded mailboxes", zap.Int("count", len(mailboxes)))
	return mailboxes
}

// Create 生成一个不与现有邮箱冲突的新地址，插入到集合最前面并持久化
func (s *MailboxStore) Create(ctx context.Context) (domain.Mailbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		addr := s.generator.Generate()
		if s.indexLocked(addr.Email) >= 0 {
			s.logger.Debug("generated address collides, retrying",
				zap.String("address", addr.Email),
				zap.Int("attempt", attempt),
			)
			continue
		}

		mailbox := domain.Mailbox{
			Address:      addr.Email,
			CreatedAt:    s.now().UTC(),
			MessageCount: 0,
		}
		s.mailboxes = append([]domain.Mailbox{mailbox}, s.mailboxes...)
		s.persistLocked(ctx)

		s.metrics.RecordMailboxCreated()
		s.logger.Info("mailbox created", zap.String("address", mailbox.Address))
		return mailbox, nil
	}

	return domain.Mailbox{}, fmt.Errorf("%w after %d attempts", domain.ErrAddressExhausted, s.maxAttempts)
}

// Remove 删除邮箱，地址不存在时不做任何事。返回是否确实删除了邮箱。
func (s *MailboxStore) Remove(ctx context.Context, address string) bool {
	address = normalizeAddress(address)

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(address)
	if idx < 0 {
		return false
	}
	s.mailboxes = append(s.mailboxes[:idx:idx], s.mailboxes[idx+1:]...)
	s.persistLocked(ctx)

	s.metrics.RecordMailboxDeleted()
	s.logger.Info("mailbox removed", zap.String("address", address))
	return true
}

// UpdateCount 设置邮箱的邮件数。邮箱已被删除时不做任何事并返回 false，
// 已删除的邮箱不会因此被重新加入。
func (s *MailboxStore) UpdateCount(ctx context.Context, address string, count int) bool {
	return s.updateCount(ctx, address, count, nil) != countMissing
}

// countOutcome 是 updateCount 的结果
type countOutcome int

const (
	countApplied countOutcome = iota
	countMissing              // 邮箱已被删除
	countRejected             // valid 返回 false，未写入
)

// updateCount 在持有存储锁时先检查 valid，检查与写入之间不会被其他变更插入
func (s *MailboxStore) updateCount(ctx context.Context, address string, count int, valid func() bool) countOutcome {
	address = normalizeAddress(address)
	if count < 0 {
		count = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(address)
	if idx < 0 {
		return countMissing
	}
	if valid != nil && !valid() {
		return countRejected
	}
	if s.mailboxes[idx].MessageCount == count {
		return countApplied
	}
	s.mailboxes[idx].MessageCount = count
	s.persistLocked(ctx)
	return countApplied
}

// All 返回集合快照
func (s *MailboxStore) All() []domain.Mailbox {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Mailbox, len(s.mailboxes))
	copy(out, s.mailboxes)
	return out
}

// Get 根据地址查找邮箱
func (s *MailboxStore) Get(address string) (domain.Mailbox, bool) {
	address = normalizeAddress(address)

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexLocked(address)
	if idx < 0 {
		return domain.Mailbox{}, false
	}
	return s.mailboxes[idx], true
}

// Latest 返回最近创建的邮箱
func (s *MailboxStore) Latest() (domain.Mailbox, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.mailboxes) == 0 {
		return domain.Mailbox{}, false
	}
	return s.mailboxes[0], true
}

// Len 返回邮箱数量
func (s *MailboxStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.mailboxes)
}

func (s *MailboxStore) indexLocked(address string) int {
	for i := range s.mailboxes {
		if s.mailboxes[i].Address == address {
			return i
		}
	}
	return -1
}

// persistLocked 将整个集合写回 BlobStore，调用方必须持有写锁
func (s *MailboxStore) persistLocked(ctx context.Context) {
	s.metrics.UpdateMailboxesActive(len(s.mailboxes))

	data, err := EncodeMailboxes(s.mailboxes)
	if err == nil {
		err = s.blobs.Put(ctx, s.key, data)
	}
	if err != nil {
		s.metrics.RecordPersistenceFailure("save")
		s.logger.Error("failed to persist mailboxes",
			zap.String("key", s.key),
			zap.Int("count", len(s.mailboxes)),
			zap.Error(fmt.Errorf("%w: %w", domain.ErrPersistence, err)),
		)
	}
}

// EncodeMailboxes 将邮箱集合编码为 JSON 数组
func EncodeMailboxes(mailboxes []domain.Mailbox) ([]byte, error) {
	if mailboxes == nil {
		mailboxes = []domain.Mailbox{}
	}
	return json.Marshal(mailboxes)
}

// DecodeMailboxes 解析 JSON 数组，丢弃地址非法或重复的条目
func DecodeMailboxes(data []byte) ([]domain.Mailbox, error) {
	var raw []domain.Mailbox
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	out := make([]domain.Mailbox, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, mb := range raw {
		addr, err := domain.ParseAddress(mb.Address)
		if err != nil {
			continue
		}
		if _, dup := seen[addr.Email]; dup {
			continue
		}
		seen[addr.Email] = struct{}{}
		mb.Address = addr.Email
		if mb.MessageCount < 0 {
			mb.MessageCount = 0
		}
		out = append(out, mb)
	}
	return out, nil
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
