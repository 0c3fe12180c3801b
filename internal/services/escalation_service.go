package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/afformationceo-debug/csflow-sub002/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// EscalationService 에스컬레이션 수명주기 관리 서비스
type EscalationService struct {
	db       *gorm.DB
	notifier Notifier
	logger   *logrus.Logger
	tracer   trace.Tracer
}

func NewEscalationService(db *gorm.DB, notifier Notifier, logger *logrus.Logger) *EscalationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &EscalationService{
		db:       db,
		notifier: notifier,
		logger:   logger,
		tracer:   otel.Tracer("csflow.escalation"),
	}
}

// EscalationCreateInput 에스컬레이션 생성 입력
type EscalationCreateInput struct {
	ConversationID    string
	TenantID          string
	TriggerMessageID  *string
	Reason            string
	Priority          string
	AIConfidence      *float64
	RecommendedAction string
}

// openStatuses 미해결로 간주하는 상태
var openStatuses = []string{models.EscalationPending, models.EscalationAssigned, models.EscalationInProgress}

// FindOpen 대화의 미해결 에스컬레이션 조회
func (s *EscalationService) FindOpen(ctx context.Context, conversationID string) (*models.Escalation, error) {
	var esc models.Escalation
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND status IN ?", conversationID, openStatuses).
		First(&esc).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup open escalation: %w", err)
	}
	return &esc, nil
}

// Create 에스컬레이션 생성. 대화에 미해결 건이 이미 있으면 새 행을 만들지
// 않고 기존 건을 반환한다(멱등). 생성 시 대화 상태를 escalated 로 올리고
// 알림 잡을 넣는다. 배정은 여기서 하지 않는다.
func (s *EscalationService) Create(ctx context.Context, input *EscalationCreateInput) (*models.Escalation, bool, error) {
	ctx, span := s.tracer.Start(ctx, "escalation.create")
	defer span.End()

	span.SetAttributes(
		attribute.String("escalation.conversation_id", input.ConversationID),
		attribute.String("escalation.priority", input.Priority),
	)

	existing, err := s.FindOpen(ctx, input.ConversationID)
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	if existing != nil {
		s.logger.Debugf("Open escalation %s already exists for conversation %s, suppressing duplicate", existing.ID, input.ConversationID)
		return existing, false, nil
	}

	priority := input.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}

	now := time.Now()
	esc := &models.Escalation{
		ID:                uuid.New().String(),
		ConversationID:    input.ConversationID,
		TenantID:          input.TenantID,
		TriggerMessageID:  input.TriggerMessageID,
		Reason:            input.Reason,
		Priority:          priority,
		Status:            models.EscalationPending,
		AIConfidence:      input.AIConfidence,
		RecommendedAction: input.RecommendedAction,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.db.WithContext(ctx).Create(esc).Error; err != nil {
		span.RecordError(err)
		return nil, false, fmt.Errorf("create escalation: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", input.ConversationID).
		Updates(map[string]interface{}{"status": models.ConversationEscalated, "updated_at": now}).Error; err != nil {
		// 상태 전이 실패는 로그만, 이미 만든 에스컬레이션을 되돌리지 않는다
		s.logger.Errorf("Failed to mark conversation %s escalated: %v", input.ConversationID, err)
	}

	if s.notifier != nil {
		s.notifier.Notify(ctx, NotifySlack, map[string]interface{}{
			"event":           "escalation_created",
			"escalation_id":   esc.ID,
			"conversation_id": esc.ConversationID,
			"priority":        esc.Priority,
			"reason":          esc.Reason,
		})
	}

	s.logger.Infof("Created escalation %s for conversation %s: %s", esc.ID, esc.ConversationID, esc.Reason)
	return esc, true, nil
}

// AutoAssign 테넌트의 활성 상담원 중 현재 {assigned, in_progress} 부하가
// 가장 적은 사람에게 배정한다. 동률은 먼저 등록된 순서.
func (s *EscalationService) AutoAssign(ctx context.Context, escalationID string) (*string, error) {
	ctx, span := s.tracer.Start(ctx, "escalation.auto_assign")
	defer span.End()

	var esc models.Escalation
	if err := s.db.WithContext(ctx).First(&esc, "id = ?", escalationID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("escalation not found")
		}
		return nil, fmt.Errorf("load escalation: %w", err)
	}

	var agents []models.Agent
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND active = ? AND role IN ?", esc.TenantID, true, []string{"agent", "manager"}).
		Order("created_at ASC").
		Find(&agents).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load agents: %w", err)
	}
	if len(agents) == 0 {
		s.logger.Warnf("No active agents for tenant %s, escalation %s stays pending", esc.TenantID, escalationID)
		return nil, nil
	}

	var best *models.Agent
	bestLoad := int64(-1)
	for i := range agents {
		var load int64
		if err := s.db.WithContext(ctx).Model(&models.Escalation{}).
			Where("assigned_to = ? AND status IN ?", agents[i].ID, []string{models.EscalationAssigned, models.EscalationInProgress}).
			Count(&load).Error; err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("count agent load: %w", err)
		}
		if bestLoad < 0 || load < bestLoad {
			bestLoad = load
			best = &agents[i]
		}
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&models.Escalation{}).
		Where("id = ?", escalationID).
		Updates(map[string]interface{}{
			"status":      models.EscalationAssigned,
			"assigned_to": best.ID,
			"assigned_at": now,
			"updated_at":  now,
		}).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("assign escalation: %w", err)
	}

	s.logger.Infof("Assigned escalation %s to agent %s (load %d)", escalationID, best.ID, bestLoad)
	return &best.ID, nil
}

// Resolve 에스컬레이션 해결 처리, 부모 대화도 resolved 로 내린다
func (s *EscalationService) Resolve(ctx context.Context, escalationID, resolverID, note string) error {
	ctx, span := s.tracer.Start(ctx, "escalation.resolve")
	defer span.End()

	var esc models.Escalation
	if err := s.db.WithContext(ctx).First(&esc, "id = ?", escalationID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return fmt.Errorf("escalation not found")
		}
		return fmt.Errorf("load escalation: %w", err)
	}
	if esc.Status == models.EscalationResolved {
		return fmt.Errorf("escalation already resolved")
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&models.Escalation{}).
		Where("id = ?", escalationID).
		Updates(map[string]interface{}{
			"status":          models.EscalationResolved,
			"resolved_by":     resolverID,
			"resolution_note": note,
			"resolved_at":     now,
			"updated_at":      now,
		}).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("resolve escalation: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", esc.ConversationID).
		Updates(map[string]interface{}{
			"status":      models.ConversationResolved,
			"resolved_at": now,
			"updated_at":  now,
		}).Error; err != nil {
		s.logger.Errorf("Failed to mark conversation %s resolved: %v", esc.ConversationID, err)
	}

	s.logger.Infof("Resolved escalation %s by %s", escalationID, resolverID)
	return nil
}

// EscalationListRequest 목록 요청
type EscalationListRequest struct {
	Page     int      `form:"page,default=1"`
	PageSize int      `form:"page_size,default=20"`
	Status   []string `form:"status"`
	Priority []string `form:"priority"`
}

// List 테넌트 에스컬레이션 목록
func (s *EscalationService) List(ctx context.Context, tenantID string, req *EscalationListRequest) ([]models.Escalation, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Escalation{}).Where("tenant_id = ?", tenantID)

	if len(req.Status) > 0 {
		query = query.Where("status IN ?", req.Status)
	}
	if len(req.Priority) > 0 {
		query = query.Where("priority IN ?", req.Priority)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count escalations: %w", err)
	}

	query = query.Order("created_at DESC")
	if req.PageSize > 0 {
		page := req.Page
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * req.PageSize).Limit(req.PageSize)
	}

	var items []models.Escalation
	if err := query.Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("list escalations: %w", err)
	}
	return items, total, nil
}

// EscalationMetrics 기간 내 에스컬레이션 집계
type EscalationMetrics struct {
	Total                 int64            `json:"total"`
	Pending               int64            `json:"pending"`
	AvgResolutionMinutes  float64          `json:"avg_resolution_minutes"`
	ByPriority            map[string]int64 `json:"by_priority"`
	ByReason              map[string]int64 `json:"by_reason"`
}

// Metrics 총계/대기/평균 해결 시간/우선순위별/사유 접두사별 집계.
// 사유는 첫 ':' 앞부분으로 묶는다.
func (s *EscalationService) Metrics(ctx context.Context, tenantID string, from, to time.Time) (*EscalationMetrics, error) {
	ctx, span := s.tracer.Start(ctx, "escalation.metrics")
	defer span.End()

	var items []models.Escalation
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND created_at >= ? AND created_at < ?", tenantID, from, to).
		Find(&items).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load escalations: %w", err)
	}

	m := &EscalationMetrics{
		ByPriority: make(map[string]int64),
		ByReason:   make(map[string]int64),
	}

	var resolutionSum float64
	var resolvedCount int64
	for _, esc := range items {
		m.Total++
		if esc.Status == models.EscalationPending {
			m.Pending++
		}
		m.ByPriority[esc.Priority]++

		reasonKey := esc.Reason
		if idx := strings.Index(reasonKey, ":"); idx >= 0 {
			reasonKey = strings.TrimSpace(reasonKey[:idx])
		}
		if reasonKey != "" {
			m.ByReason[reasonKey]++
		}

		if esc.Status == models.EscalationResolved && esc.ResolvedAt != nil {
			resolutionSum += esc.ResolvedAt.Sub(esc.CreatedAt).Minutes()
			resolvedCount++
		}
	}
	if resolvedCount > 0 {
		m.AvgResolutionMinutes = resolutionSum / float64(resolvedCount)
	}

	span.SetAttributes(attribute.Int64("escalation.metrics.total", m.Total))
	return m, nil
}
