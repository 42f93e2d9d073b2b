package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dropwin/backend/internal/config"
	"dropwin/backend/internal/domain"
	"dropwin/backend/internal/monitoring"
	"dropwin/backend/internal/provider"
	"dropwin/backend/internal/service"
	"dropwin/backend/internal/storage"
	"dropwin/backend/internal/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeProvider 可配置返回值的服务商
type fakeProvider struct {
	mu       sync.Mutex
	messages map[string][]domain.Message
	listErr  error
	detail   *domain.Message
	readErr  error
}

func (p *fakeProvider) ListMessages(_ context.Context, email string) provider.ListResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return provider.ListResult{Messages: []domain.Message{}, Failure: p.listErr}
	}
	return provider.ListResult{Messages: append([]domain.Message{}, p.messages[email]...)}
}

func (p *fakeProvider) ReadMessage(_ context.Context, email string, id int64) (*domain.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return nil, p.readErr
	}
	if p.detail == nil {
		return nil, domain.ErrMessageNotFound
	}
	msg := *p.detail
	return &msg, nil
}

type testServer struct {
	router   *gin.Engine
	store    *service.MailboxStore
	engine   *service.SyncEngine
	provider *fakeProvider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithBlobs(t, memory.NewBlobStore())
}

func newTestServerWithBlobs(t *testing.T, blobs storage.BlobStore) *testServer {
	t.Helper()
	cfg := &config.Config{CORS: config.CORSConfig{AllowedOrigins: []string{"*"}}}
	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetricsWith(reg, reg)

	gen := service.NewAddressGenerator(config.DefaultProviderDomains, service.WithRandSource(rand.NewSource(1)))
	store := service.NewMailboxStore(context.Background(), blobs, testKey, gen)
	p := &fakeProvider{messages: map[string][]domain.Message{}}
	engine := service.NewSyncEngine(store, p, service.WithPollInterval(time.Hour))
	t.Cleanup(engine.Close)

	router := NewRouter(RouterDependencies{
		Config:    cfg,
		Store:     store,
		Generator: gen,
		Engine:    engine,
		Provider:  p,
		Metrics:   metrics,
	})
	return &testServer{router: router, store: store, engine: engine, provider: p}
}

const testKey = "dropwin:mailboxes"

// ctxBlobStore 与网络后端一样，在 ctx 已取消时拒绝写入
type ctxBlobStore struct {
	*memory.BlobStore
}

func (b ctxBlobStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.BlobStore.Put(ctx, key, value)
}

// persisted 读取已持久化的邮箱地址
func persisted(t *testing.T, blobs storage.BlobStore) []string {
	t.Helper()
	data, err := blobs.Get(context.Background(), testKey)
	require.NoError(t, err)
	mailboxes, err := service.DecodeMailboxes(data)
	require.NoError(t, err)
	out := make([]string, 0, len(mailboxes))
	for _, mb := range mailboxes {
		out = append(out, mb.Address)
	}
	return out
}

func (s *testServer) doCanceled(method, path string) *httptest.ResponseRecorder {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(method, path, nil).WithContext(ctx))
	return rec
}

func (s *testServer) do(method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAPI_GenerateEmail(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/generate-email")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	email := body["email"].(string)
	assert.Equal(t, body["username"].(string)+"@"+body["domain"].(string), email)
	assert.Contains(t, config.DefaultProviderDomains, body["domain"])

	_, tracked := s.store.Get(email)
	assert.True(t, tracked)
}

func TestAPI_GetMessages(t *testing.T) {
	const email = "quickbox1234@1secmail.com"

	t.Run("返回规范化的邮件列表", func(t *testing.T) {
		s := newTestServer(t)
		s.provider.messages[email] = []domain.Message{{
			ID:       10,
			From:     "a@example.com",
			Subject:  "hello",
			Date:     time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
			TextBody: "body text",
		}}

		rec := s.do(http.MethodGet, "/api/get-messages?email="+email)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{
			"success": true,
			"count": 1,
			"messages": [{
				"id": 10, "from": "a@example.com", "subject": "hello",
				"date": "2024-03-01 10:00:00", "body": "body text", "textBody": "body text"
			}]
		}`, rec.Body.String())
	})

	t.Run("服务商失败时返回空列表", func(t *testing.T) {
		s := newTestServer(t)
		s.provider.listErr = errors.Join(domain.ErrListFetch, errors.New("timeout"))

		rec := s.do(http.MethodGet, "/api/get-messages?email="+email)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, []any{}, body["messages"])
		assert.Equal(t, float64(0), body["count"])
		assert.NotEmpty(t, body["error"])
	})

	t.Run("缺少或错误的邮箱参数", func(t *testing.T) {
		s := newTestServer(t)

		for _, path := range []string{"/api/get-messages", "/api/get-messages?email=nope", "/api/get-messages?email=a@b@c.com"} {
			rec := s.do(http.MethodGet, path)
			assert.Equal(t, http.StatusBadRequest, rec.Code, path)
			assert.Equal(t, false, decode(t, rec)["success"], path)
		}
	})
}

func TestAPI_ReadMessage(t *testing.T) {
	const base = "/api/read-message?email=quickbox1234@1secmail.com"

	t.Run("读取成功", func(t *testing.T) {
		s := newTestServer(t)
		s.provider.detail = &domain.Message{ID: 11, From: "b@example.com", Subject: "s", TextBody: "t", HTMLBody: "<p>t</p>"}

		rec := s.do(http.MethodGet, base+"&id=11")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{
			"success": true,
			"message": {
				"id": 11, "from": "b@example.com", "subject": "s", "date": "",
				"htmlBody": "<p>t</p>", "textBody": "t", "attachments": []
			}
		}`, rec.Body.String())
	})

	t.Run("读取失败返回500", func(t *testing.T) {
		s := newTestServer(t)
		s.provider.readErr = errors.Join(domain.ErrReadFetch, errors.New("boom"))

		rec := s.do(http.MethodGet, base+"&id=11")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, false, decode(t, rec)["success"])
	})

	t.Run("邮件不存在返回404", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.do(http.MethodGet, base+"&id=11")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, false, decode(t, rec)["success"])
	})

	t.Run("参数错误返回400", func(t *testing.T) {
		s := newTestServer(t)

		for _, path := range []string{base, base + "&id=abc", base + "&id=-1", "/api/read-message?id=1"} {
			rec := s.do(http.MethodGet, path)
			assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		}
	})
}

func TestAPI_DomainsAndTest(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/get-domains")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Len(t, body["domains"], len(config.DefaultProviderDomains))

	rec = s.do(http.MethodGet, "/api/test")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, Version, body["version"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestV1_MailboxLifecycle(t *testing.T) {
	s := newTestServer(t)

	// 创建并自动选中
	rec := s.do(http.MethodPost, "/v1/mailboxes")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Code int `json:"code"`
		Data struct {
			Mailbox domain.Mailbox   `json:"mailbox"`
			Sync    service.Snapshot `json:"sync"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	address := created.Data.Mailbox.Address
	assert.Equal(t, CodeCreated, created.Code)
	assert.Equal(t, service.PhasePolling, created.Data.Sync.Phase)
	assert.Equal(t, address, created.Data.Sync.Address)

	// 刷新
	s.provider.mu.Lock()
	s.provider.messages[address] = []domain.Message{{ID: 10}, {ID: 11}}
	s.provider.mu.Unlock()
	rec = s.do(http.MethodPost, "/v1/sync/refresh")
	require.Equal(t, http.StatusOK, rec.Code)
	mb, _ := s.store.Get(address)
	assert.Equal(t, 2, mb.MessageCount)
	assert.Equal(t, []int64{11, 10}, ids(s.engine.Snapshot().Messages))

	// 列表
	rec = s.do(http.MethodGet, "/v1/mailboxes")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, address, data["selected"])
	assert.Len(t, data["mailboxes"], 1)

	// 读取单封邮件
	s.provider.detail = &domain.Message{ID: 11, Subject: "hi"}
	rec = s.do(http.MethodGet, "/v1/mailboxes/"+address+"/messages/11")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hi", decode(t, rec)["data"].(map[string]any)["subject"])

	// 取消选中后刷新返回冲突
	rec = s.do(http.MethodPost, "/v1/sync/deselect")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodPost, "/v1/sync/refresh")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// 重新选中
	rec = s.do(http.MethodPost, "/v1/mailboxes/"+address+"/select")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.PhasePolling, s.engine.State().Phase)

	// 删除后停止轮询
	rec = s.do(http.MethodDelete, "/v1/mailboxes/"+address)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, service.PhaseIdle, s.engine.State().Phase)
	assert.Equal(t, 0, s.store.Len())

	rec = s.do(http.MethodDelete, "/v1/mailboxes/"+address)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMailboxWrites_ClientDisconnect(t *testing.T) {
	t.Run("创建邮箱后客户端断开仍然持久化", func(t *testing.T) {
		blobs := ctxBlobStore{memory.NewBlobStore()}
		s := newTestServerWithBlobs(t, blobs)

		rec := s.doCanceled(http.MethodPost, "/v1/mailboxes")
		require.Equal(t, http.StatusCreated, rec.Code)
		rec = s.doCanceled(http.MethodGet, "/api/generate-email")
		require.Equal(t, http.StatusOK, rec.Code)

		all := s.store.All()
		require.Len(t, all, 2)
		assert.Equal(t, []string{all[0].Address, all[1].Address}, persisted(t, blobs))
	})

	t.Run("删除邮箱后客户端断开仍然持久化", func(t *testing.T) {
		blobs := ctxBlobStore{memory.NewBlobStore()}
		s := newTestServerWithBlobs(t, blobs)
		mb, err := s.store.Create(context.Background())
		require.NoError(t, err)

		rec := s.doCanceled(http.MethodDelete, "/v1/mailboxes/"+mb.Address)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, persisted(t, blobs))
	})
}

func TestV1_Errors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/v1/mailboxes/unknown1000@1secmail.com/select")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, GetErrorMessage(domain.ErrMailboxNotFound), decode(t, rec)["msg"])

	rec = s.do(http.MethodPost, "/v1/mailboxes/not-an-address/select")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/v1/mailboxes/unknown1000@1secmail.com/messages/1")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/v1/sync")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "idle", data["phase"])
	assert.Equal(t, []any{}, data["messages"])
}

func TestOps_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	s.do(http.MethodGet, "/api/test")
	rec = s.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `dropwin_http_requests_total{endpoint="/api/test"`)
}

func ids(messages []domain.Message) []int64 {
	out := make([]int64, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}
