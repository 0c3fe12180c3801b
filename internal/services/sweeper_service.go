package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/afformationceo-debug/csflow-sub002/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// 스위퍼 기본값
const (
	DefaultSweepThresholdMinutes = 60
	DefaultSweepBatchSize        = 50

	staleCustomerTag = "미응답"
)

// SweeperService 무응답 대화를 강제 에스컬레이션하는 주기 작업
type SweeperService struct {
	db          *gorm.DB
	escalations *EscalationService
	notifier    Notifier
	automation  AutomationHook
	batchSize   int
	logger      *logrus.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

func NewSweeperService(db *gorm.DB, escalations *EscalationService, notifier Notifier, automation AutomationHook, batchSize int, logger *logrus.Logger) *SweeperService {
	if logger == nil {
		logger = logrus.New()
	}
	if batchSize <= 0 {
		batchSize = DefaultSweepBatchSize
	}
	return &SweeperService{
		db:          db,
		escalations: escalations,
		notifier:    notifier,
		automation:  automation,
		batchSize:   batchSize,
		logger:      logger,
		tracer:      otel.Tracer("csflow.sweeper"),
		now:         time.Now,
	}
}

// SetClock 테스트용 시계 주입
func (s *SweeperService) SetClock(now func() time.Time) { s.now = now }

// SweepItem 대화 한 건의 처리 결과
type SweepItem struct {
	ConversationID string `json:"conversation_id"`
	Action         string `json:"action"` // escalated, skipped, error
	Reason         string `json:"reason"`
}

// SweepResult 스윕 1회 요약
type SweepResult struct {
	Processed int         `json:"processed"`
	Escalated int         `json:"escalated"`
	Skipped   int         `json:"skipped"`
	Errors    int         `json:"errors"`
	Items     []SweepItem `json:"items"`
}

// Sweep threshold 분 이상 고객 메시지에 응답이 없는 active/waiting 대화를
// 찾아 에스컬레이션한다. 마지막 메시지가 아웃바운드면 이미 응답한 것이므로
// 건너뛰고, 미해결 에스컬레이션이 있는 대화도 건너뛴다. 배치 크기를
// 제한해 잡 지연을 예측 가능하게 유지한다.
func (s *SweeperService) Sweep(ctx context.Context, thresholdMinutes int) (*SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "sweeper.sweep")
	defer span.End()

	if thresholdMinutes <= 0 {
		thresholdMinutes = DefaultSweepThresholdMinutes
	}
	span.SetAttributes(attribute.Int("sweeper.threshold_minutes", thresholdMinutes))

	cutoff := s.now().Add(-time.Duration(thresholdMinutes) * time.Minute)

	var conversations []models.Conversation
	if err := s.db.WithContext(ctx).
		Where("status IN ? AND last_message_at IS NOT NULL AND last_message_at < ?",
			[]string{models.ConversationActive, models.ConversationWaiting}, cutoff).
		Order("last_message_at ASC").
		Limit(s.batchSize).
		Find(&conversations).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load stale conversations: %w", err)
	}

	result := &SweepResult{}
	for i := range conversations {
		conv := &conversations[i]
		result.Processed++

		item, err := s.sweepOne(ctx, conv, thresholdMinutes)
		if err != nil {
			s.logger.Errorf("Sweep failed for conversation %s: %v", conv.ID, err)
			result.Errors++
			result.Items = append(result.Items, SweepItem{ConversationID: conv.ID, Action: "error", Reason: err.Error()})
			continue
		}
		switch item.Action {
		case "escalated":
			result.Escalated++
		case "skipped":
			result.Skipped++
		}
		result.Items = append(result.Items, *item)
	}

	s.logger.Infof("Sweep done: %d processed, %d escalated, %d skipped, %d errors",
		result.Processed, result.Escalated, result.Skipped, result.Errors)
	span.SetAttributes(attribute.Int("sweeper.escalated", result.Escalated))
	return result, nil
}

func (s *SweeperService) sweepOne(ctx context.Context, conv *models.Conversation, thresholdMinutes int) (*SweepItem, error) {
	var lastMessage models.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conv.ID).
		Order("created_at DESC").
		First(&lastMessage).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("load last message: %w", err)
	}
	if err == nil && lastMessage.Direction == models.DirectionOutbound {
		return &SweepItem{ConversationID: conv.ID, Action: "skipped", Reason: "last message is outbound"}, nil
	}

	open, err := s.escalations.FindOpen(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return &SweepItem{ConversationID: conv.ID, Action: "skipped", Reason: "open escalation exists"}, nil
	}

	reason := fmt.Sprintf("%d분 이상 미응답", thresholdMinutes)
	priority := models.PriorityMedium
	if thresholdMinutes >= 120 {
		priority = models.PriorityHigh
	}

	if _, _, err := s.escalations.Create(ctx, &EscalationCreateInput{
		ConversationID: conv.ID,
		TenantID:       conv.TenantID,
		Reason:         reason,
		Priority:       priority,
	}); err != nil {
		return nil, err
	}

	if err := s.tagCustomer(ctx, conv.CustomerID, staleCustomerTag); err != nil {
		s.logger.Warnf("Failed to tag customer %s: %v", conv.CustomerID, err)
	}

	if s.notifier != nil {
		s.notifier.Notify(ctx, NotifySlack, map[string]interface{}{
			"event":           "stale_conversation",
			"conversation_id": conv.ID,
			"reason":          reason,
			"priority":        priority,
		})
	}

	// 자동화 훅 실패는 스윕 항목을 실패로 만들지 않는다
	if s.automation != nil {
		if err := s.automation.Trigger(ctx, conv.ID); err != nil {
			s.logger.Warnf("Automation hook failed for conversation %s: %v", conv.ID, err)
		}
	}

	return &SweepItem{ConversationID: conv.ID, Action: "escalated", Reason: reason}, nil
}

// tagCustomer 쉼표 구분 태그에 중복 없이 추가
func (s *SweeperService) tagCustomer(ctx context.Context, customerID, tag string) error {
	var customer models.Customer
	if err := s.db.WithContext(ctx).First(&customer, "id = ?", customerID).Error; err != nil {
		return fmt.Errorf("load customer: %w", err)
	}

	for _, existing := range strings.Split(customer.Tags, ",") {
		if strings.TrimSpace(existing) == tag {
			return nil
		}
	}

	tags := tag
	if customer.Tags != "" {
		tags = customer.Tags + "," + tag
	}
	if err := s.db.WithContext(ctx).Model(&models.Customer{}).
		Where("id = ?", customerID).
		Update("tags", tags).Error; err != nil {
		return fmt.Errorf("update customer tags: %w", err)
	}
	return nil
}
