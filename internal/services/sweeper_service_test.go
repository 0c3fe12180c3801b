package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/afformationceo-debug/csflow-sub002/internal/models"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newSweeperTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Customer{}, &models.Conversation{}, &models.Message{}, &models.Escalation{}, &models.Agent{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

type failingAutomation struct{ calls int }

func (a *failingAutomation) Trigger(ctx context.Context, conversationID string) error {
	a.calls++
	return errors.New("automation endpoint down")
}

func seedStaleConversation(t *testing.T, db *gorm.DB, lastMessageAt time.Time, lastDirection string) *models.Conversation {
	customer := &models.Customer{ID: uuid.New().String(), TenantID: "tenant-1", Name: "김민지"}
	if err := db.Create(customer).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	conv := &models.Conversation{
		ID:            uuid.New().String(),
		CustomerID:    customer.ID,
		TenantID:      "tenant-1",
		Status:        models.ConversationActive,
		LastMessageAt: &lastMessageAt,
	}
	if err := db.Create(conv).Error; err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	direction := models.DirectionInbound
	sender := models.SenderCustomer
	if lastDirection == models.DirectionOutbound {
		direction = models.DirectionOutbound
		sender = models.SenderAgent
	}
	msg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Direction:      direction,
		SenderType:     sender,
		Text:           "문의드립니다",
		CreatedAt:      lastMessageAt,
	}
	if err := db.Create(msg).Error; err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return conv
}

func newSweeper(db *gorm.DB, notifier Notifier, automation AutomationHook) *SweeperService {
	escalations := NewEscalationService(db, nil, nil)
	return NewSweeperService(db, escalations, notifier, automation, 0, nil)
}

func TestSweeperService_EscalatesStaleConversation(t *testing.T) {
	db := newSweeperTestDB(t)
	notifier := &recordingNotifier{}
	svc := newSweeper(db, notifier, nil)

	conv := seedStaleConversation(t, db, time.Now().Add(-90*time.Minute), models.DirectionInbound)

	result, err := svc.Sweep(context.Background(), 60)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.Processed != 1 || result.Escalated != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	var esc models.Escalation
	if err := db.First(&esc, "conversation_id = ?", conv.ID).Error; err != nil {
		t.Fatalf("expected escalation row: %v", err)
	}
	if esc.Reason != "60분 이상 미응답" {
		t.Fatalf("unexpected reason: %s", esc.Reason)
	}
	if esc.Priority != models.PriorityMedium {
		t.Fatalf("expected medium priority for 60min threshold, got %s", esc.Priority)
	}

	var gotConv models.Conversation
	db.First(&gotConv, "id = ?", conv.ID)
	if gotConv.Status != models.ConversationEscalated {
		t.Fatalf("expected conversation escalated, got %s", gotConv.Status)
	}

	var customer models.Customer
	db.First(&customer, "id = ?", conv.CustomerID)
	if !strings.Contains(customer.Tags, "미응답") {
		t.Fatalf("expected customer tagged, got %q", customer.Tags)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected 1 notification, got %d", notifier.count())
	}
}

func TestSweeperService_HighPriorityAtTwoHours(t *testing.T) {
	db := newSweeperTestDB(t)
	svc := newSweeper(db, nil, nil)

	conv := seedStaleConversation(t, db, time.Now().Add(-3*time.Hour), models.DirectionInbound)

	if _, err := svc.Sweep(context.Background(), 120); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	var esc models.Escalation
	if err := db.First(&esc, "conversation_id = ?", conv.ID).Error; err != nil {
		t.Fatalf("expected escalation: %v", err)
	}
	if esc.Priority != models.PriorityHigh {
		t.Fatalf("expected high priority for 120min threshold, got %s", esc.Priority)
	}
	if esc.Reason != "120분 이상 미응답" {
		t.Fatalf("unexpected reason: %s", esc.Reason)
	}
}

// 마지막 메시지가 아웃바운드면 오래됐어도 절대 에스컬레이션하지 않는다
func TestSweeperService_SkipsWhenLastMessageOutbound(t *testing.T) {
	db := newSweeperTestDB(t)
	svc := newSweeper(db, nil, nil)

	conv := seedStaleConversation(t, db, time.Now().Add(-5*time.Hour), models.DirectionOutbound)

	result, err := svc.Sweep(context.Background(), 60)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.Skipped != 1 || result.Escalated != 0 {
		t.Fatalf("expected skip, got %+v", result)
	}

	var count int64
	db.Model(&models.Escalation{}).Where("conversation_id = ?", conv.ID).Count(&count)
	if count != 0 {
		t.Fatalf("expected no escalation rows, got %d", count)
	}
}

func TestSweeperService_SkipsWhenOpenEscalationExists(t *testing.T) {
	db := newSweeperTestDB(t)
	svc := newSweeper(db, nil, nil)

	conv := seedStaleConversation(t, db, time.Now().Add(-2*time.Hour), models.DirectionInbound)
	existing := &models.Escalation{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		TenantID:       conv.TenantID,
		Status:         models.EscalationAssigned,
		Reason:         "earlier escalation",
	}
	if err := db.Create(existing).Error; err != nil {
		t.Fatalf("seed escalation: %v", err)
	}

	result, err := svc.Sweep(context.Background(), 60)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.Skipped != 1 {
		t.Fatalf("expected skip for open escalation, got %+v", result)
	}

	var count int64
	db.Model(&models.Escalation{}).Where("conversation_id = ?", conv.ID).Count(&count)
	if count != 1 {
		t.Fatalf("expected only the pre-existing escalation, got %d", count)
	}
}

func TestSweeperService_IgnoresRecentAndResolved(t *testing.T) {
	db := newSweeperTestDB(t)
	svc := newSweeper(db, nil, nil)

	seedStaleConversation(t, db, time.Now().Add(-10*time.Minute), models.DirectionInbound)
	resolved := seedStaleConversation(t, db, time.Now().Add(-3*time.Hour), models.DirectionInbound)
	db.Model(&models.Conversation{}).Where("id = ?", resolved.ID).Update("status", models.ConversationResolved)

	result, err := svc.Sweep(context.Background(), 60)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.Processed != 0 {
		t.Fatalf("expected nothing processed, got %+v", result)
	}
}

func TestSweeperService_AutomationFailureDoesNotAbort(t *testing.T) {
	db := newSweeperTestDB(t)
	automation := &failingAutomation{}
	svc := newSweeper(db, nil, automation)

	seedStaleConversation(t, db, time.Now().Add(-2*time.Hour), models.DirectionInbound)

	result, err := svc.Sweep(context.Background(), 60)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.Escalated != 1 || result.Errors != 0 {
		t.Fatalf("automation failure must not fail the item: %+v", result)
	}
	if automation.calls != 1 {
		t.Fatalf("expected automation hook attempted once, got %d", automation.calls)
	}
}

func TestSweeperService_TagIsIdempotent(t *testing.T) {
	db := newSweeperTestDB(t)
	svc := newSweeper(db, nil, nil)

	conv := seedStaleConversation(t, db, time.Now().Add(-2*time.Hour), models.DirectionInbound)
	db.Model(&models.Customer{}).Where("id = ?", conv.CustomerID).Update("tags", "VIP,미응답")

	if _, err := svc.Sweep(context.Background(), 60); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	var customer models.Customer
	db.First(&customer, "id = ?", conv.CustomerID)
	if customer.Tags != "VIP,미응답" {
		t.Fatalf("expected tags unchanged, got %q", customer.Tags)
	}
}
