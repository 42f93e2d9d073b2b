package service

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"dropwin/backend/internal/domain"
	"dropwin/backend/internal/monitoring"
	"dropwin/backend/internal/provider"
)

// DefaultPollInterval 默认轮询间隔
const DefaultPollInterval = 3 * time.Second

// ErrEngineClosed 同步引擎已关闭
var ErrEngineClosed = errors.New("sync engine closed")

// MessageLister 拉取邮箱中的邮件列表，失败时返回空列表
type MessageLister interface {
	ListMessages(ctx context.Context, email string) provider.ListResult
}

// Phase 同步引擎所处阶段
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhasePolling Phase = "polling"
)

// State 同步引擎状态
type State struct {
	Phase   Phase  `json:"phase"`
	Address string `json:"address,omitempty"`
}

// Snapshot 当前选中邮箱的最近一次轮询结果，邮件按 ID 倒序排列
type Snapshot struct {
	State
	Messages   []domain.Message `json:"messages"`
	LastPollAt *time.Time       `json:"lastPollAt,omitempty"`
	LastError  string           `json:"lastError,omitempty"`
	// Coalesced 为 true 表示刷新请求与正在进行的拉取合并，没有发起新请求
	Coalesced bool `json:"coalesced,omitempty"`
}

// pollSession 绑定到单个邮箱的一次轮询会话。
//
// 会话指针本身就是过期判断依据：拉取完成时若 engine.session 已不是发起拉取的会话，结果直接丢弃。
type pollSession struct {
	address  string
	ctx      context.Context
	cancel   context.CancelFunc
	ticker   Ticker
	inFlight atomic.Bool
	// stopped 在会话被取消时置位，存储在写入邮件数前检查
	stopped atomic.Bool

	messages   []domain.Message
	lastPollAt time.Time
	lastErr    string
}

// SyncEngine 保证任意时刻最多只有一个邮箱在轮询
//
// 锁顺序为 engine -> store；持有 engine 锁时不做网络或存储 I/O。
type SyncEngine struct {
	mu      sync.Mutex
	session *pollSession
	closed  bool
	wg      sync.WaitGroup

	store    *MailboxStore
	lister   MessageLister
	interval time.Duration
	clock    Clock
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// EngineOption 同步引擎可选配置
type EngineOption func(*SyncEngine)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) EngineOption {
	return func(e *SyncEngine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithClock 替换时钟，测试中使用手动触发的定时器
func WithClock(c Clock) EngineOption {
	return func(e *SyncEngine) { e.clock = c }
}

// WithEngineMetrics 注入监控指标
func WithEngineMetrics(m *monitoring.Metrics) EngineOption {
	return func(e *SyncEngine) { e.metrics = m }
}

// WithEngineLogger 注入日志
func WithEngineLogger(logger *zap.Logger) EngineOption {
	return func(e *SyncEngine) { e.logger = logger }
}

// NewSyncEngine 创建同步引擎，初始状态为 idle
func NewSyncEngine(store *MailboxStore, lister MessageLister, opts ...EngineOption) *SyncEngine {
	e := &SyncEngine{
		store:    store,
		lister:   lister,
		interval: DefaultPollInterval,
		clock:    RealClock(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Select 切换到指定邮箱：停止旧会话，立即同步拉取一次，然后按间隔启动轮询
func (e *SyncEngine) Select(ctx context.Context, address string) (Snapshot, error) {
	addr, err := domain.ParseAddress(address)
	if err != nil {
		return Snapshot{}, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Snapshot{}, ErrEngineClosed
	}
	if _, ok := e.store.Get(addr.Email); !ok {
		e.mu.Unlock()
		return Snapshot{}, domain.ErrMailboxNotFound
	}
	e.stopLocked()

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &pollSession{
		address:  addr.Email,
		ctx:      sessionCtx,
		cancel:   cancel,
		messages: []domain.Message{},
	}
	s.inFlight.Store(true)
	e.session = s
	e.mu.Unlock()

	e.logger.Info("mailbox selected", zap.String("address", s.address))
	e.metrics.UpdatePolling(true, 0)

	e.fetch(s)
	s.inFlight.Store(false)

	e.mu.Lock()
	if e.session == s {
		s.ticker = e.clock.NewTicker(e.interval)
		e.wg.Add(1)
		go e.loop(s)
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()

	return snap, nil
}

// Deselect 停止轮询并回到 idle
func (e *SyncEngine) Deselect() {
	e.mu.Lock()
	address := ""
	if e.session != nil {
		address = e.session.address
	}
	e.stopLocked()
	e.mu.Unlock()

	if address != "" {
		e.logger.Info("mailbox deselected", zap.String("address", address))
	}
}

// Remove 删除邮箱；如果它正在轮询，先停止轮询
func (e *SyncEngine) Remove(ctx context.Context, address string) bool {
	address = normalizeAddress(address)

	e.mu.Lock()
	if e.session != nil && e.session.address == address {
		e.stopLocked()
	}
	e.mu.Unlock()

	return e.store.Remove(ctx, address)
}

// Refresh 对当前邮箱额外拉取一次，不重置定时器。
// 已有拉取在进行时不发起新请求，直接返回当前快照并标记 Coalesced。
func (e *SyncEngine) Refresh(ctx context.Context) (Snapshot, error) {
	e.mu.Lock()
	s := e.session
	e.mu.Unlock()

	if s == nil {
		return Snapshot{}, domain.ErrNotPolling
	}

	if !s.inFlight.CompareAndSwap(false, true) {
		snap := e.Snapshot()
		snap.Coalesced = true
		return snap, nil
	}
	e.fetch(s)
	s.inFlight.Store(false)

	return e.Snapshot(), nil
}

// Restore 启动时选中最近创建的邮箱，没有邮箱时保持 idle
func (e *SyncEngine) Restore(ctx context.Context) (Snapshot, error) {
	latest, ok := e.store.Latest()
	if !ok {
		return e.Snapshot(), nil
	}
	return e.Select(ctx, latest.Address)
}

// State 返回当前状态
func (e *SyncEngine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

// Snapshot 返回当前快照
func (e *SyncEngine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Close 停止轮询并等待后台协程退出，之后 Select 返回 ErrEngineClosed
func (e *SyncEngine) Close() {
	e.mu.Lock()
	e.closed = true
	e.stopLocked()
	e.mu.Unlock()

	e.wg.Wait()
}

func (e *SyncEngine) loop(s *pollSession) {
	defer e.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.ticker.C():
			if !s.inFlight.CompareAndSwap(false, true) {
				e.metrics.RecordPoll(monitoring.PollSkipped)
				e.logger.Debug("poll skipped, fetch in flight", zap.String("address", s.address))
				continue
			}
			e.fetch(s)
			s.inFlight.Store(false)
		}
	}
}

// fetch 拉取一次并在会话仍然有效时应用结果
func (e *SyncEngine) fetch(s *pollSession) {
	result := e.lister.ListMessages(s.ctx, s.address)

	if !e.isCurrent(s) {
		e.discard(s, "session replaced")
		return
	}

	// 会话已取消时仍用未取消的 ctx 写回，避免持久化被半途打断
	switch e.store.updateCount(context.WithoutCancel(s.ctx), s.address, len(result.Messages), s.current) {
	case countRejected:
		e.discard(s, "session replaced")
		return
	case countMissing:
		e.discard(s, "mailbox removed")
		e.mu.Lock()
		if e.session == s {
			e.stopLocked()
		}
		e.mu.Unlock()
		return
	}

	messages := SortMessages(result.Messages)

	e.mu.Lock()
	if e.session != s {
		e.mu.Unlock()
		e.discard(s, "session replaced")
		return
	}
	s.messages = messages
	s.lastPollAt = e.clock.Now()
	s.lastErr = ""
	if result.Failure != nil {
		s.lastErr = result.Failure.Error()
	}
	e.mu.Unlock()

	if result.Failure != nil {
		e.metrics.RecordPoll(monitoring.PollFailed)
	} else {
		e.metrics.RecordPoll(monitoring.PollApplied)
	}
	e.metrics.UpdatePolling(true, len(messages))
	e.logger.Debug("poll applied",
		zap.String("address", s.address),
		zap.Int("count", len(messages)),
	)
}

func (e *SyncEngine) discard(s *pollSession, reason string) {
	e.metrics.RecordPoll(monitoring.PollDiscarded)
	e.logger.Debug("poll result discarded",
		zap.String("address", s.address),
		zap.String("reason", reason),
	)
}

// current 报告会话是否仍未被取消，不需要持有 e.mu
func (s *pollSession) current() bool {
	return !s.stopped.Load()
}

func (e *SyncEngine) isCurrent(s *pollSession) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session == s
}

// stopLocked 取消当前会话，调用方必须持有 e.mu
func (e *SyncEngine) stopLocked() {
	s := e.session
	if s == nil {
		return
	}
	s.stopped.Store(true)
	s.cancel()
	if s.ticker != nil {
		s.ticker.Stop()
	}
	e.session = nil
	e.metrics.UpdatePolling(false, 0)
}

func (e *SyncEngine) stateLocked() State {
	if e.session == nil {
		return State{Phase: PhaseIdle}
	}
	return State{Phase: PhasePolling, Address: e.session.address}
}

func (e *SyncEngine) snapshotLocked() Snapshot {
	snap := Snapshot{State: e.stateLocked(), Messages: []domain.Message{}}
	s := e.session
	if s == nil {
		return snap
	}
	if s.messages != nil {
		snap.Messages = slices.Clone(s.messages)
	}
	if !s.lastPollAt.IsZero() {
		at := s.lastPollAt
		snap.LastPollAt = &at
	}
	snap.LastError = s.lastErr
	return snap
}

// SortMessages 返回按 ID 倒序排列的副本，ID 相同时保持原有顺序
func SortMessages(messages []domain.Message) []domain.Message {
	out := slices.Clone(messages)
	if out == nil {
		out = []domain.Message{}
	}
	slices.SortStableFunc(out, func(a, b domain.Message) int {
		return cmp.Compare(b.ID, a.ID)
	})
	return out
}
