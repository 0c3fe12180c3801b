package services

import (
	"context"
	"testing"
	"time"

	"github.com/afformationceo-debug/csflow-sub002/internal/models"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newSLATestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Conversation{}, &models.Message{}, &models.SLAConfig{}, &models.SLABreach{}, &models.Escalation{}, &models.Agent{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func seedSLAConversation(t *testing.T, db *gorm.DB, createdAt time.Time) *models.Conversation {
	conv := &models.Conversation{
		ID:         uuid.New().String(),
		CustomerID: uuid.New().String(),
		TenantID:   "tenant-1",
		Status:     models.ConversationActive,
		CreatedAt:  createdAt,
	}
	if err := db.Create(conv).Error; err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	return conv
}

// 대화 T0 생성, 목표 5분, T0+6분 무응답이면 위반이고 breachAt = T0+5분
func TestSLAService_FirstResponseBreachAtTargetBoundary(t *testing.T) {
	db := newSLATestDB(t)
	svc := NewSLAService(db, nil, nil, nil)

	t0 := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return t0.Add(6 * time.Minute) })

	conv := seedSLAConversation(t, db, t0)
	inbound := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Direction:      models.DirectionInbound,
		SenderType:     models.SenderCustomer,
		Text:           "예약 변경하고 싶어요",
		CreatedAt:      t0,
	}
	if err := db.Create(inbound).Error; err != nil {
		t.Fatalf("seed message: %v", err)
	}

	status, err := svc.CheckConversationSLA(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("CheckConversationSLA failed: %v", err)
	}
	if !status.FirstResponse.IsBreached {
		t.Fatal("expected first response breach at T0+6min with 5min target")
	}
	expectedBreachAt := t0.Add(5 * time.Minute)
	if status.FirstResponse.BreachAt == nil || !status.FirstResponse.BreachAt.Equal(expectedBreachAt) {
		t.Fatalf("expected breachAt %v, got %v", expectedBreachAt, status.FirstResponse.BreachAt)
	}
}

func TestSLAService_NoBreachWhenResponded(t *testing.T) {
	db := newSLATestDB(t)
	svc := NewSLAService(db, nil, nil, nil)

	t0 := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return t0.Add(time.Hour) })

	conv := seedSLAConversation(t, db, t0)
	msgs := []models.Message{
		{ID: uuid.New().String(), ConversationID: conv.ID, Direction: models.DirectionInbound, SenderType: models.SenderCustomer, CreatedAt: t0},
		{ID: uuid.New().String(), ConversationID: conv.ID, Direction: models.DirectionOutbound, SenderType: models.SenderAI, CreatedAt: t0.Add(3 * time.Minute)},
	}
	for i := range msgs {
		if err := db.Create(&msgs[i]).Error; err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	status, err := svc.CheckConversationSLA(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("CheckConversationSLA failed: %v", err)
	}
	if status.FirstResponse.IsBreached {
		t.Fatal("3 minute AI response within 5 minute target must not breach")
	}
	if status.FirstResponse.ElapsedMinutes < 2.9 || status.FirstResponse.ElapsedMinutes > 3.1 {
		t.Fatalf("expected elapsed about 3m, got %v", status.FirstResponse.ElapsedMinutes)
	}
}

func TestSLAService_EscalationLevelsAscending(t *testing.T) {
	db := newSLATestDB(t)
	svc := NewSLAService(db, nil, nil, nil)

	t0 := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return t0.Add(45 * time.Minute) })

	cfg := DefaultSLAConfig("tenant-1")
	cfg.ID = uuid.New().String()
	cfg.EscalationLevels = `[{"level":1,"threshold_minutes":15,"notify_channels":["slack"],"auto_assign":false},{"level":2,"threshold_minutes":30,"notify_channels":["slack","kakao"],"auto_assign":true},{"level":3,"threshold_minutes":60,"notify_channels":["sms"],"auto_assign":true}]`
	if err := db.Create(cfg).Error; err != nil {
		t.Fatalf("seed config: %v", err)
	}

	conv := seedSLAConversation(t, db, t0)

	status, err := svc.CheckConversationSLA(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("CheckConversationSLA failed: %v", err)
	}
	if status.EscalationLevel != 2 {
		t.Fatalf("expected level 2 at 45min, got %d", status.EscalationLevel)
	}
	next := t0.Add(60 * time.Minute)
	if status.NextEscalationAt == nil || !status.NextEscalationAt.Equal(next) {
		t.Fatalf("expected nextEscalationAt %v, got %v", next, status.NextEscalationAt)
	}
}

func TestSLAService_RecordBreachDedup(t *testing.T) {
	db := newSLATestDB(t)
	notifier := &recordingNotifier{}
	svc := NewSLAService(db, nil, notifier, nil)
	conv := seedSLAConversation(t, db, time.Now().Add(-time.Hour))

	created, err := svc.RecordBreach(context.Background(), conv, BreachFirstResponse, 5, 12)
	if err != nil {
		t.Fatalf("RecordBreach failed: %v", err)
	}
	if !created {
		t.Fatal("expected first breach to be recorded")
	}

	created, err = svc.RecordBreach(context.Background(), conv, BreachFirstResponse, 5, 20)
	if err != nil {
		t.Fatalf("second RecordBreach failed: %v", err)
	}
	if created {
		t.Fatal("expected duplicate breach to be suppressed")
	}

	var count int64
	db.Model(&models.SLABreach{}).Where("conversation_id = ?", conv.ID).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 breach row, got %d", count)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected exactly 1 breach notification, got %d", notifier.count())
	}

	// 다른 타입은 별도 기록
	created, err = svc.RecordBreach(context.Background(), conv, BreachResolution, 240, 300)
	if err != nil {
		t.Fatalf("resolution RecordBreach failed: %v", err)
	}
	if !created {
		t.Fatal("expected different breach type to record")
	}
}

func TestSLAService_RunSLACheckRecordsOnce(t *testing.T) {
	db := newSLATestDB(t)
	svc := NewSLAService(db, nil, nil, nil)

	t0 := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return t0.Add(10 * time.Minute) })

	conv := seedSLAConversation(t, db, t0)
	inbound := &models.Message{
		ID: uuid.New().String(), ConversationID: conv.ID,
		Direction: models.DirectionInbound, SenderType: models.SenderCustomer, CreatedAt: t0,
	}
	if err := db.Create(inbound).Error; err != nil {
		t.Fatalf("seed message: %v", err)
	}

	result, err := svc.RunSLACheck(context.Background())
	if err != nil {
		t.Fatalf("RunSLACheck failed: %v", err)
	}
	if result.Checked != 1 || result.NewBreaches != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	// 재실행해도 같은 위반을 다시 기록하지 않는다
	result, err = svc.RunSLACheck(context.Background())
	if err != nil {
		t.Fatalf("second RunSLACheck failed: %v", err)
	}
	if result.NewBreaches != 0 {
		t.Fatalf("expected no new breaches on rerun, got %d", result.NewBreaches)
	}
}

// 위반은 기록에서 끝나지 않는다: 에스컬레이션 생성, 대화 전환, 레벨 알림,
// auto_assign 레벨이면 배정까지 이어져야 한다
func TestSLAService_RunSLACheckEscalatesBreach(t *testing.T) {
	db := newSLATestDB(t)
	notifier := &recordingNotifier{}
	svc := NewSLAService(db, NewEscalationService(db, nil, nil), notifier, nil)

	t0 := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return t0.Add(90 * time.Minute) })

	cfg := DefaultSLAConfig("tenant-1")
	cfg.ID = uuid.New().String()
	cfg.EscalationLevels = `[{"level":1,"threshold_minutes":15,"notify_channels":["slack","kakao"],"auto_assign":true}]`
	if err := db.Create(cfg).Error; err != nil {
		t.Fatalf("seed config: %v", err)
	}

	agent := &models.Agent{ID: uuid.New().String(), TenantID: "tenant-1", Name: "김상담", Role: "agent", Active: true}
	if err := db.Create(agent).Error; err != nil {
		t.Fatalf("seed agent: %v", err)
	}

	conv := seedSLAConversation(t, db, t0)
	inbound := &models.Message{
		ID: uuid.New().String(), ConversationID: conv.ID,
		Direction: models.DirectionInbound, SenderType: models.SenderCustomer, CreatedAt: t0,
	}
	if err := db.Create(inbound).Error; err != nil {
		t.Fatalf("seed message: %v", err)
	}

	result, err := svc.RunSLACheck(context.Background())
	if err != nil {
		t.Fatalf("RunSLACheck failed: %v", err)
	}
	if result.NewBreaches != 1 {
		t.Fatalf("expected 1 new breach, got %d", result.NewBreaches)
	}

	var esc models.Escalation
	if err := db.First(&esc, "conversation_id = ?", conv.ID).Error; err != nil {
		t.Fatalf("expected escalation created for breach: %v", err)
	}
	if esc.Reason == "" || esc.Reason[:4] != "sla:" {
		t.Fatalf("expected sla-prefixed reason, got %q", esc.Reason)
	}
	if esc.Priority != models.PriorityMedium {
		t.Fatalf("first response breach must be medium priority, got %s", esc.Priority)
	}
	if esc.Status != models.EscalationAssigned || esc.AssignedTo == nil || *esc.AssignedTo != agent.ID {
		t.Fatalf("auto_assign level must assign the escalation, got status=%s assigned_to=%v", esc.Status, esc.AssignedTo)
	}

	var got models.Conversation
	db.First(&got, "id = ?", conv.ID)
	if got.Status != models.ConversationEscalated {
		t.Fatalf("expected conversation escalated, got %s", got.Status)
	}

	// sla_breach 1건 + 레벨 알림 채널 2개
	if notifier.count() != 3 {
		t.Fatalf("expected 3 notifications, got %d", notifier.count())
	}
	levelNotices := 0
	for _, payload := range notifier.calls {
		if payload["event"] == "sla_escalation_level" {
			levelNotices++
		}
	}
	if levelNotices != 2 {
		t.Fatalf("expected level notice per notify channel, got %d", levelNotices)
	}
}

// 업무 시간(월-금 09-18시)이 설정되면 경과 시간은 그 구간만 센다.
// 금요일 17:30 문의가 월요일 09:30 까지 무응답이면 업무 시간 기준 60분 경과.
func TestSLAService_BusinessHoursCountOnlyWorkingTime(t *testing.T) {
	db := newSLATestDB(t)
	svc := NewSLAService(db, nil, nil, nil)

	cfg := DefaultSLAConfig("tenant-1")
	cfg.ID = uuid.New().String()
	cfg.BusinessHours = `{"timezone":"UTC","days":[1,2,3,4,5],"start":"09:00","end":"18:00"}`
	if err := db.Create(cfg).Error; err != nil {
		t.Fatalf("seed config: %v", err)
	}

	friday := time.Date(2026, 8, 7, 17, 30, 0, 0, time.UTC)
	monday := time.Date(2026, 8, 10, 9, 30, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return monday })

	conv := seedSLAConversation(t, db, friday)
	inbound := &models.Message{
		ID: uuid.New().String(), ConversationID: conv.ID,
		Direction: models.DirectionInbound, SenderType: models.SenderCustomer, CreatedAt: friday,
	}
	if err := db.Create(inbound).Error; err != nil {
		t.Fatalf("seed message: %v", err)
	}

	status, err := svc.CheckConversationSLA(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("CheckConversationSLA failed: %v", err)
	}
	// 금 17:30-18:00 30분 + 월 09:00-09:30 30분
	if status.FirstResponse.ElapsedMinutes < 59.9 || status.FirstResponse.ElapsedMinutes > 60.1 {
		t.Fatalf("expected 60 business minutes elapsed, got %v", status.FirstResponse.ElapsedMinutes)
	}
	if !status.FirstResponse.IsBreached {
		t.Fatal("60 business minutes must breach the 5 minute target")
	}
	expectedBreachAt := friday.Add(5 * time.Minute)
	if status.FirstResponse.BreachAt == nil || !status.FirstResponse.BreachAt.Equal(expectedBreachAt) {
		t.Fatalf("expected breachAt %v (still friday), got %v", expectedBreachAt, status.FirstResponse.BreachAt)
	}
	if status.Resolution.IsBreached {
		t.Fatal("60 business minutes must not breach the 240 minute resolution target")
	}
}

func TestSLAService_BusinessHoursWeekendAccruesNothing(t *testing.T) {
	db := newSLATestDB(t)
	svc := NewSLAService(db, nil, nil, nil)

	cfg := DefaultSLAConfig("tenant-1")
	cfg.ID = uuid.New().String()
	cfg.BusinessHours = `{"timezone":"UTC","days":[1,2,3,4,5],"start":"09:00","end":"18:00"}`
	if err := db.Create(cfg).Error; err != nil {
		t.Fatalf("seed config: %v", err)
	}

	saturday := time.Date(2026, 8, 8, 10, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return saturday.Add(26 * time.Hour) }) // 일요일 12:00

	conv := seedSLAConversation(t, db, saturday)
	inbound := &models.Message{
		ID: uuid.New().String(), ConversationID: conv.ID,
		Direction: models.DirectionInbound, SenderType: models.SenderCustomer, CreatedAt: saturday,
	}
	if err := db.Create(inbound).Error; err != nil {
		t.Fatalf("seed message: %v", err)
	}

	status, err := svc.CheckConversationSLA(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("CheckConversationSLA failed: %v", err)
	}
	if status.FirstResponse.ElapsedMinutes != 0 {
		t.Fatalf("weekend must accrue no business time, got %v", status.FirstResponse.ElapsedMinutes)
	}
	if status.FirstResponse.IsBreached {
		t.Fatal("no business time elapsed must not breach")
	}
}

func TestSLAService_CalculateMetricsPercentilesAndHealth(t *testing.T) {
	db := newSLATestDB(t)
	svc := NewSLAService(db, nil, nil, nil)

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	// 첫 응답 1..10분 샘플
	for i := 1; i <= 10; i++ {
		fr := base.Add(time.Duration(i) * time.Minute)
		res := base.Add(time.Duration(i*20) * time.Minute)
		conv := &models.Conversation{
			ID:              uuid.New().String(),
			CustomerID:      uuid.New().String(),
			TenantID:        "tenant-1",
			Status:          models.ConversationResolved,
			FirstResponseAt: &fr,
			ResolvedAt:      &res,
			CreatedAt:       base,
		}
		if err := db.Create(conv).Error; err != nil {
			t.Fatalf("seed conversation: %v", err)
		}
		ai := &models.Message{
			ID: uuid.New().String(), ConversationID: conv.ID,
			Direction: models.DirectionOutbound, SenderType: models.SenderAI, CreatedAt: fr,
		}
		if err := db.Create(ai).Error; err != nil {
			t.Fatalf("seed ai message: %v", err)
		}
	}

	m, err := svc.CalculateMetrics(context.Background(), "tenant-1", base.Add(-time.Hour), base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("CalculateMetrics failed: %v", err)
	}
	if m.Conversations != 10 {
		t.Fatalf("expected 10 conversations, got %d", m.Conversations)
	}
	if m.FirstResponseP50 != 5 {
		t.Fatalf("expected p50=5, got %v", m.FirstResponseP50)
	}
	if m.FirstResponseP90 != 9 {
		t.Fatalf("expected p90=9, got %v", m.FirstResponseP90)
	}
	if m.FirstResponseP99 != 10 {
		t.Fatalf("expected p99=10, got %v", m.FirstResponseP99)
	}
	if m.AIResponseRate != 1.0 {
		t.Fatalf("expected full AI response rate, got %v", m.AIResponseRate)
	}
	// p90=9 는 경고치 3분 초과, 해결 p90 도 경고치 초과 ⇒ warning
	if m.Health != SLAWarning {
		t.Fatalf("expected warning health, got %s", m.Health)
	}
}

func TestSLAService_CalculateMetricsEmptyTenantHealthy(t *testing.T) {
	db := newSLATestDB(t)
	svc := NewSLAService(db, nil, nil, nil)

	m, err := svc.CalculateMetrics(context.Background(), "tenant-없음", time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("CalculateMetrics failed: %v", err)
	}
	if m.Health != SLAHealthy || m.Conversations != 0 {
		t.Fatalf("expected healthy empty metrics, got %+v", m)
	}
}
