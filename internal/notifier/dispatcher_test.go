package notifier

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"upasthiti-notifier/internal/config"
	"upasthiti-notifier/internal/models"
	"upasthiti-notifier/internal/repository"
)

// fakeGateway 渠道桩
type fakeGateway struct {
	name      string
	messageID string
	err       error

	mu       sync.Mutex
	calls    int
	lastAddr string
	lastBody string
}

func (g *fakeGateway) Name() string {
	return g.name
}

func (g *fakeGateway) Send(_ context.Context, address, body string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.lastAddr = address
	g.lastBody = body
	if g.err != nil {
		return "", g.err
	}
	return g.messageID, nil
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	mock       sqlmock.Sqlmock
	db         *sql.DB
	redis      *miniredis.Miniredis
	primary    *fakeGateway
	fallback   *fakeGateway
}

func setupDispatcher(t *testing.T) *dispatcherFixture {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := &config.Config{}
	cfg.Notifier.DefaultCountryCode = "91"
	cfg.Notifier.DedupKeyPrefix = "notify:dedup:"
	cfg.Gateway.SendTimeoutSec = 5

	logger := zap.NewNop()
	logRepo := repository.NewNotificationLogRepository(db, logger)
	cache := NewDedupCache(cfg, redisClient, logger)

	primary := &fakeGateway{name: "whatsapp", messageID: "wamid.abc123"}
	fallback := &fakeGateway{name: "sms", messageID: "sms-789"}

	dispatcher := NewDispatcher(cfg, logRepo, cache, primary, fallback, time.UTC, logger)

	return &dispatcherFixture{
		dispatcher: dispatcher,
		mock:       mock,
		db:         db,
		redis:      mr,
		primary:    primary,
		fallback:   fallback,
	}
}

func absentRequest() Request {
	return Request{
		TenantID:    uuid.New().String(),
		TenantName:  "Green Valley School",
		StudentID:   "STU-001",
		StudentName: "Aarav Sharma",
		Recipient:   "+917889484343",
		Status:      models.StatusAbsent,
		DisplayTime: "10:00",
		Date:        time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestDispatch_ValidationRejections(t *testing.T) {
	f := setupDispatcher(t)

	tests := []struct {
		name   string
		mutate func(*Request)
		reason string
	}{
		{"missing recipient", func(r *Request) { r.Recipient = " " }, "recipient is required"},
		{"missing student name", func(r *Request) { r.StudentName = "" }, "student name is required"},
		{"missing student id", func(r *Request) { r.StudentID = "" }, "student id is required"},
		{"unknown status", func(r *Request) { r.Status = "expelled" }, "unsupported status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := absentRequest()
			tt.mutate(&req)

			res := f.dispatcher.Dispatch(context.Background(), req)

			assert.False(t, res.Success)
			assert.Contains(t, res.Reason, tt.reason)
		})
	}

	// 校验失败不产生任何发送尝试和流水
	assert.Equal(t, 0, f.primary.calls)
	assert.Equal(t, 0, f.fallback.calls)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDispatch_InvalidPhoneRejections(t *testing.T) {
	f := setupDispatcher(t)

	for _, recipient := range []string{"john@example.com", "+91"} {
		req := absentRequest()
		req.Recipient = recipient

		res := f.dispatcher.Dispatch(context.Background(), req)

		assert.False(t, res.Success, "recipient %q", recipient)
		assert.Equal(t, "invalid phone", res.Reason)
	}

	assert.Equal(t, 0, f.primary.calls)
	assert.Equal(t, 0, f.fallback.calls)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDispatch_PrimarySuccess(t *testing.T) {
	f := setupDispatcher(t)

	f.mock.ExpectQuery(`SELECT(.|\n)*FROM notification_logs`).
		WillReturnError(sql.ErrNoRows)
	f.mock.ExpectExec(`INSERT INTO notification_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res := f.dispatcher.Dispatch(context.Background(), absentRequest())

	assert.True(t, res.Success)
	assert.False(t, res.Skipped)
	assert.Equal(t, models.ChannelPrimary, res.Channel)
	assert.Equal(t, "wamid.abc123", res.MessageID)

	assert.Equal(t, 1, f.primary.calls)
	assert.Equal(t, 0, f.fallback.calls)
	assert.Equal(t, "whatsapp:+917889484343", f.primary.lastAddr)
	assert.Contains(t, f.primary.lastBody, "Aarav Sharma")
	assert.Contains(t, f.primary.lastBody, "ABSENT")

	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDispatch_FallbackOnPrimaryFailure(t *testing.T) {
	f := setupDispatcher(t)
	f.primary.err = fmt.Errorf("whatsapp unreachable")

	f.mock.ExpectQuery(`SELECT(.|\n)*FROM notification_logs`).
		WillReturnError(sql.ErrNoRows)
	f.mock.ExpectExec(`INSERT INTO notification_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res := f.dispatcher.Dispatch(context.Background(), absentRequest())

	assert.True(t, res.Success)
	assert.Equal(t, models.ChannelFallback, res.Channel)
	assert.Equal(t, "sms-789", res.MessageID)

	assert.Equal(t, 1, f.primary.calls)
	assert.Equal(t, 1, f.fallback.calls)
	// 备用渠道使用纯地址与短文本模板
	assert.Equal(t, "+917889484343", f.fallback.lastAddr)
	assert.Contains(t, f.fallback.lastBody, "ABSENT")

	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDispatch_BothChannelsFail(t *testing.T) {
	f := setupDispatcher(t)
	f.primary.err = fmt.Errorf("whatsapp unreachable")
	f.fallback.err = fmt.Errorf("sms quota exceeded")

	f.mock.ExpectQuery(`SELECT(.|\n)*FROM notification_logs`).
		WillReturnError(sql.ErrNoRows)
	// 失败也要写一条流水
	f.mock.ExpectExec(`INSERT INTO notification_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res := f.dispatcher.Dispatch(context.Background(), absentRequest())

	assert.False(t, res.Success)
	assert.Equal(t, "channel failure", res.Reason)
	// 两次失败的信息都要保留
	assert.Contains(t, res.Err, "whatsapp unreachable")
	assert.Contains(t, res.Err, "sms quota exceeded")

	assert.Equal(t, 1, f.primary.calls)
	assert.Equal(t, 1, f.fallback.calls)

	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDispatch_DatabaseDedupHit(t *testing.T) {
	f := setupDispatcher(t)

	rows := sqlmock.NewRows([]string{
		"log_id", "tenant_id", "dedup_key", "student_id", "student_name",
		"recipient", "status", "channel", "delivered", "message_id",
		"error_detail", "sent_date", "sent_at",
	}).AddRow(
		uuid.New().String(), uuid.New().String(), "7889484343", "STU-001", "Aarav Sharma",
		"+917889484343", "absent", "primary", true, "wamid.previous",
		nil, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), time.Now(),
	)
	f.mock.ExpectQuery(`SELECT(.|\n)*FROM notification_logs`).
		WillReturnRows(rows)

	res := f.dispatcher.Dispatch(context.Background(), absentRequest())

	// 去重命中是设计内的短路，不是错误
	assert.True(t, res.Success)
	assert.True(t, res.Skipped)
	assert.Equal(t, "wamid.previous", res.MessageID)

	assert.Equal(t, 0, f.primary.calls)
	assert.Equal(t, 0, f.fallback.calls)

	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDispatch_CacheDedupHit(t *testing.T) {
	f := setupDispatcher(t)

	req := absentRequest()
	day := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	key := f.dispatcher.cache.Key("7889484343", req.StudentID, req.Status, day)
	require.NoError(t, f.redis.Set(key, "wamid.cached"))

	res := f.dispatcher.Dispatch(context.Background(), req)

	assert.True(t, res.Success)
	assert.True(t, res.Skipped)
	assert.Equal(t, "wamid.cached", res.MessageID)

	// 快路径命中：不触达数据库也不发送
	assert.Equal(t, 0, f.primary.calls)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDispatch_DedupLookupErrorBlocksSend(t *testing.T) {
	f := setupDispatcher(t)

	f.mock.ExpectQuery(`SELECT(.|\n)*FROM notification_logs`).
		WillReturnError(fmt.Errorf("connection refused"))

	res := f.dispatcher.Dispatch(context.Background(), absentRequest())

	assert.False(t, res.Success)
	assert.Equal(t, "dedup lookup failed", res.Reason)
	assert.Equal(t, 0, f.primary.calls)

	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDispatch_LogWriteFailureKeepsResult(t *testing.T) {
	f := setupDispatcher(t)

	f.mock.ExpectQuery(`SELECT(.|\n)*FROM notification_logs`).
		WillReturnError(sql.ErrNoRows)
	f.mock.ExpectExec(`INSERT INTO notification_logs`).
		WillReturnError(fmt.Errorf("disk full"))

	res := f.dispatcher.Dispatch(context.Background(), absentRequest())

	// 流水写入失败不改变已计算的结果
	assert.True(t, res.Success)
	assert.Equal(t, models.ChannelPrimary, res.Channel)

	require.NoError(t, f.mock.ExpectationsWereMet())
}
