package detector

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"upasthiti-notifier/internal/config"
	"upasthiti-notifier/internal/models"
	"upasthiti-notifier/internal/notifier"
	"upasthiti-notifier/internal/repository"
)

// fakeNotifier 通知分发桩
type fakeNotifier struct {
	results  map[string]notifier.Result // 按学生ID
	requests []notifier.Request
}

func (f *fakeNotifier) Dispatch(_ context.Context, req notifier.Request) notifier.Result {
	f.requests = append(f.requests, req)
	if res, ok := f.results[req.StudentID]; ok {
		return res
	}
	return notifier.Result{Success: true, MessageID: "wamid.new", Channel: models.ChannelPrimary}
}

func testTenant() models.TenantPolicy {
	return models.TenantPolicy{
		TenantID:         "tenant-a",
		TenantName:       "Green Valley School",
		Enabled:          true,
		GracePeriodHours: 2,
		SchoolStartTime:  "08:00",
		CheckTime:        "10:00",
	}
}

func setupDetector(t *testing.T, pageSize int) (sqlmock.Sqlmock, *fakeNotifier, *Detector) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{}
	cfg.Detector.PageSize = pageSize

	logger := zap.NewNop()
	fn := &fakeNotifier{results: map[string]notifier.Result{}}
	det := NewDetector(
		cfg,
		repository.NewRosterRepository(db, logger),
		repository.NewAttendanceRepository(db, logger),
		fn,
		time.UTC,
		logger,
	)

	return mock, fn, det
}

func rosterColumns() []string {
	return []string{
		"student_id", "full_name", "roll_number", "class_name", "section_name",
		"guardian_phone", "parent_phone", "mother_phone", "guardian_name", "parent_name",
	}
}

func expectRosterPage(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectQuery(`SELECT(.|\n)*FROM students`).WillReturnRows(rows)
}

func expectHasRecord(mock sqlmock.Sqlmock, exists bool) {
	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(exists))
}

func expectInsertAbsent(mock sqlmock.Sqlmock, inserted bool) {
	affected := int64(0)
	if inserted {
		affected = 1
	}
	mock.ExpectExec(`INSERT INTO attendance_records`).
		WillReturnResult(sqlmock.NewResult(0, affected))
}

func TestRun_EmptyRoster(t *testing.T) {
	mock, fn, det := setupDetector(t, 500)

	expectRosterPage(mock, sqlmock.NewRows(rosterColumns()))

	summary, err := det.Run(context.Background(), testTenant(), time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC))

	// 没有在校学生不是错误，得到全零摘要
	require.NoError(t, err)
	assert.Equal(t, TenantSummary{TenantID: "tenant-a", TenantName: "Green Valley School"}, summary)
	assert.Empty(t, fn.requests)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_MarksAndNotifies(t *testing.T) {
	mock, fn, det := setupDetector(t, 500)
	date := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(rosterColumns()).
		// 已有记录（扫码打卡）：跳过
		AddRow("STU-001", "Aarav Sharma", "1", "5", "A", "+917889484343", nil, nil, nil, nil).
		// 无记录、有监护人号码：标记 + 通知
		AddRow("STU-002", "Diya Patel", "2", "5", "A", nil, "07889484344", nil, nil, nil).
		// 无记录、无任何号码：标记 + no_contact
		AddRow("STU-003", "Ishaan Rao", "3", "5", "A", nil, nil, nil, nil, nil)
	expectRosterPage(mock, rows)

	expectHasRecord(mock, true)  // STU-001
	expectHasRecord(mock, false) // STU-002
	expectInsertAbsent(mock, true)
	expectHasRecord(mock, false) // STU-003
	expectInsertAbsent(mock, true)

	summary, err := det.Run(context.Background(), testTenant(), date)

	require.NoError(t, err)
	assert.Equal(t, 3, summary.Seen)
	assert.Equal(t, 2, summary.Marked)
	assert.Equal(t, 1, summary.Notified)
	assert.Equal(t, 1, summary.NoContact)
	assert.Equal(t, 0, summary.Errors)

	// 联系号码按优先级解析：STU-002 落到 parent_phone
	require.Len(t, fn.requests, 1)
	assert.Equal(t, "STU-002", fn.requests[0].StudentID)
	assert.Equal(t, "07889484344", fn.requests[0].Recipient)
	assert.Equal(t, models.StatusAbsent, fn.requests[0].Status)
	assert.Equal(t, "10:00", fn.requests[0].DisplayTime)
	assert.Equal(t, date, fn.requests[0].Date)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_SecondPassIsIdempotent(t *testing.T) {
	mock, fn, det := setupDetector(t, 500)
	date := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(rosterColumns()).
		AddRow("STU-001", "Aarav Sharma", "1", "5", "A", "+917889484343", nil, nil, nil, nil).
		AddRow("STU-002", "Diya Patel", "2", "5", "A", nil, "07889484344", nil, nil, nil)
	expectRosterPage(mock, rows)

	// 第一次运行已写入记录：第二次全部跳过
	expectHasRecord(mock, true)
	expectHasRecord(mock, true)

	summary, err := det.Run(context.Background(), testTenant(), date)

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Seen)
	assert.Equal(t, 0, summary.Marked)
	assert.Equal(t, 0, summary.Notified)
	assert.Empty(t, fn.requests)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_ConcurrentInsertSkipsNotification(t *testing.T) {
	mock, fn, det := setupDetector(t, 500)
	date := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(rosterColumns()).
		AddRow("STU-001", "Aarav Sharma", "1", "5", "A", "+917889484343", nil, nil, nil, nil)
	expectRosterPage(mock, rows)

	expectHasRecord(mock, false)
	// ON CONFLICT DO NOTHING：并发运行已写入，零行受影响
	expectInsertAbsent(mock, false)

	summary, err := det.Run(context.Background(), testTenant(), date)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Seen)
	assert.Equal(t, 0, summary.Marked)
	assert.Empty(t, fn.requests)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_Paging(t *testing.T) {
	mock, _, det := setupDetector(t, 2)
	date := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	// 第一页满页
	page1 := sqlmock.NewRows(rosterColumns()).
		AddRow("STU-001", "Aarav Sharma", "1", "5", "A", "+917889484343", nil, nil, nil, nil).
		AddRow("STU-002", "Diya Patel", "2", "5", "A", "+917889484344", nil, nil, nil, nil)
	mock.ExpectQuery(`SELECT(.|\n)*FROM students`).
		WithArgs("tenant-a", 2, 0).
		WillReturnRows(page1)
	expectHasRecord(mock, true)
	expectHasRecord(mock, true)

	// 第二页未满：最后一页
	page2 := sqlmock.NewRows(rosterColumns()).
		AddRow("STU-003", "Ishaan Rao", "3", "5", "A", "+917889484345", nil, nil, nil, nil)
	mock.ExpectQuery(`SELECT(.|\n)*FROM students`).
		WithArgs("tenant-a", 2, 2).
		WillReturnRows(page2)
	expectHasRecord(mock, true)

	summary, err := det.Run(context.Background(), testTenant(), date)

	require.NoError(t, err)
	assert.Equal(t, 3, summary.Seen)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_PageReadFailureAbortsTenant(t *testing.T) {
	mock, _, det := setupDetector(t, 500)

	mock.ExpectQuery(`SELECT(.|\n)*FROM students`).
		WillReturnError(fmt.Errorf("connection reset"))

	_, err := det.Run(context.Background(), testTenant(), time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC))

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read roster page")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_PerStudentErrorsDoNotStopLoop(t *testing.T) {
	mock, fn, det := setupDetector(t, 500)
	date := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(rosterColumns()).
		AddRow("STU-001", "Aarav Sharma", "1", "5", "A", "+917889484343", nil, nil, nil, nil).
		AddRow("STU-002", "Diya Patel", "2", "5", "A", "+917889484344", nil, nil, nil, nil)
	expectRosterPage(mock, rows)

	// STU-001 的存在性检查失败：计入 errors，继续处理 STU-002
	mock.ExpectQuery(`SELECT EXISTS`).WillReturnError(sql.ErrConnDone)
	expectHasRecord(mock, false)
	expectInsertAbsent(mock, true)

	// STU-002 的通知失败也只计数
	fn.results["STU-002"] = notifier.Result{Success: false, Reason: "channel failure"}

	summary, err := det.Run(context.Background(), testTenant(), date)

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Seen)
	assert.Equal(t, 1, summary.Marked)
	assert.Equal(t, 0, summary.Notified)
	assert.Equal(t, 2, summary.Errors)

	require.NoError(t, mock.ExpectationsWereMet())
}
