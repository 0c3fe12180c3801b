package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/afformationceo-debug/csflow-sub002/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// SLA 위반 타입
const (
	BreachFirstResponse = "first_response"
	BreachResolution    = "resolution"
)

// SLA 전체 건강도
const (
	SLAHealthy  = "healthy"
	SLAWarning  = "warning"
	SLACritical = "critical"
)

// SLAService 응답/해결 SLA 감시 서비스. 위반은 기록/알림에서 끝나지 않고
// 에스컬레이션 생성까지 이어져 사람 개입을 강제한다.
type SLAService struct {
	db          *gorm.DB
	escalations *EscalationService
	notifier    Notifier
	logger      *logrus.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

func NewSLAService(db *gorm.DB, escalations *EscalationService, notifier Notifier, logger *logrus.Logger) *SLAService {
	if logger == nil {
		logger = logrus.New()
	}
	return &SLAService{
		db:          db,
		escalations: escalations,
		notifier:    notifier,
		logger:      logger,
		tracer:      otel.Tracer("csflow.sla"),
		now:         time.Now,
	}
}

// SetClock 테스트용 시계 주입
func (s *SLAService) SetClock(now func() time.Time) { s.now = now }

// SLATimerStatus 단일 타이머(첫 응답/해결)의 현재 상태
type SLATimerStatus struct {
	TargetMinutes  int        `json:"target_minutes"`
	ElapsedMinutes float64    `json:"elapsed_minutes"`
	IsBreached     bool       `json:"is_breached"`
	BreachAt       *time.Time `json:"breach_at,omitempty"`
}

// ConversationSLAStatus checkConversationSLA 결과
type ConversationSLAStatus struct {
	ConversationID   string          `json:"conversation_id"`
	FirstResponse    SLATimerStatus  `json:"first_response"`
	Resolution       SLATimerStatus  `json:"resolution"`
	EscalationLevel  int             `json:"escalation_level"`
	NextEscalationAt *time.Time      `json:"next_escalation_at,omitempty"`
}

// DefaultSLAConfig 테넌트 설정이 없을 때의 기본값
func DefaultSLAConfig(tenantID string) *models.SLAConfig {
	return &models.SLAConfig{
		TenantID:              tenantID,
		FirstResponseTarget:   5,
		FirstResponseWarning:  3,
		ResolutionTarget:      240,
		ResolutionWarning:     180,
		AIResponseRateTarget:  0.8,
		AIResponseRateWarning: 0.6,
		SatisfactionTarget:    4.5,
		SatisfactionWarning:   4.0,
		EscalationRateTarget:  0.2,
		EscalationRateWarning: 0.3,
	}
}

// GetConfig 테넌트 SLA 설정 조회, 없으면 기본값
func (s *SLAService) GetConfig(ctx context.Context, tenantID string) (*models.SLAConfig, error) {
	var cfg models.SLAConfig
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&cfg).Error
	if err == gorm.ErrRecordNotFound {
		return DefaultSLAConfig(tenantID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load sla config: %w", err)
	}
	return &cfg, nil
}

// UpsertConfig 테넌트당 1행 설정 저장
func (s *SLAService) UpsertConfig(ctx context.Context, cfg *models.SLAConfig) error {
	var existing models.SLAConfig
	err := s.db.WithContext(ctx).Where("tenant_id = ?", cfg.TenantID).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		if cfg.ID == "" {
			cfg.ID = uuid.New().String()
		}
		return s.db.WithContext(ctx).Create(cfg).Error
	}
	if err != nil {
		return fmt.Errorf("load sla config: %w", err)
	}
	cfg.ID = existing.ID
	return s.db.WithContext(ctx).Save(cfg).Error
}

func parseEscalationLevels(raw string) []models.EscalationLevel {
	if raw == "" {
		return nil
	}
	var levels []models.EscalationLevel
	if err := json.Unmarshal([]byte(raw), &levels); err != nil {
		return nil
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].ThresholdMinutes < levels[j].ThresholdMinutes })
	return levels
}

// businessHours SLAConfig.BusinessHours JSON. 비어 있으면 벽시계 경과 시간.
type businessHours struct {
	Timezone string `json:"timezone"`
	Days     []int  `json:"days"` // time.Weekday 값 (0=일요일)
	Start    string `json:"start"`
	End      string `json:"end"`

	loc                 *time.Location
	startHour, startMin int
	endHour, endMin     int
}

func parseBusinessHours(raw string) *businessHours {
	if raw == "" {
		return nil
	}
	var bh businessHours
	if err := json.Unmarshal([]byte(raw), &bh); err != nil {
		return nil
	}
	start, err := time.Parse("15:04", bh.Start)
	if err != nil {
		return nil
	}
	end, err := time.Parse("15:04", bh.End)
	if err != nil || !end.After(start) || len(bh.Days) == 0 {
		return nil
	}
	bh.startHour, bh.startMin = start.Hour(), start.Minute()
	bh.endHour, bh.endMin = end.Hour(), end.Minute()

	loc := time.UTC
	if bh.Timezone != "" {
		if parsed, err := time.LoadLocation(bh.Timezone); err == nil {
			loc = parsed
		}
	}
	bh.loc = loc
	return &bh
}

func (b *businessHours) workday(d time.Weekday) bool {
	for _, day := range b.Days {
		if time.Weekday(day) == d {
			return true
		}
	}
	return false
}

// window 해당 날짜의 업무 시간 구간
func (b *businessHours) window(day time.Time) (time.Time, time.Time, bool) {
	if !b.workday(day.Weekday()) {
		return time.Time{}, time.Time{}, false
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, b.startHour, b.startMin, 0, 0, b.loc),
		time.Date(y, m, d, b.endHour, b.endMin, 0, 0, b.loc), true
}

// elapsedMinutes 업무 시간과 겹치는 구간만 합산한 경과 분
func (b *businessHours) elapsedMinutes(from, to time.Time) float64 {
	if !to.After(from) {
		return 0
	}
	from, to = from.In(b.loc), to.In(b.loc)

	total := 0.0
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, b.loc)
	for i := 0; i < maxBusinessDays && !day.After(to); i++ {
		if ws, we, ok := b.window(day); ok {
			s, e := ws, we
			if from.After(s) {
				s = from
			}
			if to.Before(e) {
				e = to
			}
			if e.After(s) {
				total += e.Sub(s).Minutes()
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return total
}

// deadline start 에서 업무 시간 기준 minutes 분 뒤의 시각
func (b *businessHours) deadline(start time.Time, minutes int) time.Time {
	start = start.In(b.loc)
	remaining := float64(minutes)

	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, b.loc)
	for i := 0; i < maxBusinessDays; i++ {
		if ws, we, ok := b.window(day); ok {
			s := ws
			if start.After(s) {
				s = start
			}
			if we.After(s) {
				available := we.Sub(s).Minutes()
				if available >= remaining {
					return s.Add(time.Duration(remaining * float64(time.Minute)))
				}
				remaining -= available
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return start.Add(time.Duration(minutes) * time.Minute)
}

// 업무일이 전혀 없는 잘못된 설정에 대한 순회 상한
const maxBusinessDays = 370

// CheckConversationSLA 대화의 첫 응답/해결 타이머 상태 계산.
// 아직 응답이 없으면 지금까지 경과 시간으로 위반 여부를 본다.
func (s *SLAService) CheckConversationSLA(ctx context.Context, conversationID string) (*ConversationSLAStatus, error) {
	ctx, span := s.tracer.Start(ctx, "sla.check_conversation")
	defer span.End()

	span.SetAttributes(attribute.String("sla.conversation_id", conversationID))

	var conv models.Conversation
	if err := s.db.WithContext(ctx).First(&conv, "id = ?", conversationID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("conversation not found")
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	cfg, err := s.GetConfig(ctx, conv.TenantID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	now := s.now()
	status := &ConversationSLAStatus{ConversationID: conv.ID}

	// 업무 시간 설정이 있으면 경과 시간은 업무 시간만 센다
	bh := parseBusinessHours(cfg.BusinessHours)
	elapsedBetween := func(from, to time.Time) float64 {
		if bh != nil {
			return bh.elapsedMinutes(from, to)
		}
		return to.Sub(from).Minutes()
	}
	deadlineAfter := func(from time.Time, minutes int) time.Time {
		if bh != nil {
			return bh.deadline(from, minutes)
		}
		return from.Add(time.Duration(minutes) * time.Minute)
	}

	start := conv.CreatedAt
	var firstInbound models.Message
	err = s.db.WithContext(ctx).
		Where("conversation_id = ? AND direction = ? AND sender_type = ?", conv.ID, models.DirectionInbound, models.SenderCustomer).
		Order("created_at ASC").
		First(&firstInbound).Error
	if err == nil {
		start = firstInbound.CreatedAt
	} else if err != gorm.ErrRecordNotFound {
		span.RecordError(err)
		return nil, fmt.Errorf("load first inbound message: %w", err)
	}

	// 첫 응답: 첫 고객 메시지 이후의 첫 agent/ai 메시지
	var firstResponseElapsed float64
	var firstResponse models.Message
	err = s.db.WithContext(ctx).
		Where("conversation_id = ? AND sender_type IN ? AND created_at >= ?", conv.ID, []string{models.SenderAgent, models.SenderAI}, start).
		Order("created_at ASC").
		First(&firstResponse).Error
	switch err {
	case nil:
		firstResponseElapsed = elapsedBetween(start, firstResponse.CreatedAt)
	case gorm.ErrRecordNotFound:
		firstResponseElapsed = elapsedBetween(start, now)
	default:
		span.RecordError(err)
		return nil, fmt.Errorf("load first response message: %w", err)
	}

	frBreachAt := deadlineAfter(start, cfg.FirstResponseTarget)
	status.FirstResponse = SLATimerStatus{
		TargetMinutes:  cfg.FirstResponseTarget,
		ElapsedMinutes: firstResponseElapsed,
		IsBreached:     firstResponseElapsed > float64(cfg.FirstResponseTarget),
	}
	if status.FirstResponse.IsBreached {
		status.FirstResponse.BreachAt = &frBreachAt
	}

	var resolutionElapsed float64
	if conv.ResolvedAt != nil {
		resolutionElapsed = elapsedBetween(start, *conv.ResolvedAt)
	} else {
		resolutionElapsed = elapsedBetween(start, now)
	}
	resBreachAt := deadlineAfter(start, cfg.ResolutionTarget)
	status.Resolution = SLATimerStatus{
		TargetMinutes:  cfg.ResolutionTarget,
		ElapsedMinutes: resolutionElapsed,
		IsBreached:     conv.ResolvedAt == nil && resolutionElapsed > float64(cfg.ResolutionTarget),
	}
	if status.Resolution.IsBreached {
		status.Resolution.BreachAt = &resBreachAt
	}

	// 에스컬레이션 레벨: 임계값 오름차순에서 경과 시간이 넘긴 가장 높은 단계
	levels := parseEscalationLevels(cfg.EscalationLevels)
	elapsed := elapsedBetween(start, now)
	for _, lvl := range levels {
		if elapsed >= float64(lvl.ThresholdMinutes) {
			status.EscalationLevel = lvl.Level
			continue
		}
		next := deadlineAfter(start, lvl.ThresholdMinutes)
		status.NextEscalationAt = &next
		break
	}

	return status, nil
}

// RecordBreach (conversation, breach_type) 당 1회만 기록하고 알림도 그때만 보낸다
func (s *SLAService) RecordBreach(ctx context.Context, conv *models.Conversation, breachType string, targetMinutes int, actualMinutes int) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "sla.record_breach")
	defer span.End()

	var existing models.SLABreach
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND breach_type = ?", conv.ID, breachType).
		First(&existing).Error
	if err == nil {
		return false, nil
	}
	if err != gorm.ErrRecordNotFound {
		span.RecordError(err)
		return false, fmt.Errorf("lookup sla breach: %w", err)
	}

	breach := &models.SLABreach{
		ID:             uuid.New().String(),
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		BreachType:     breachType,
		TargetMinutes:  targetMinutes,
		ActualMinutes:  actualMinutes,
		CreatedAt:      s.now(),
	}
	if err := s.db.WithContext(ctx).Create(breach).Error; err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("record sla breach: %w", err)
	}

	if s.notifier != nil {
		s.notifier.Notify(ctx, NotifySlack, map[string]interface{}{
			"event":           "sla_breach",
			"conversation_id": conv.ID,
			"breach_type":     breachType,
			"target_minutes":  targetMinutes,
			"actual_minutes":  actualMinutes,
		})
	}

	s.logger.Warnf("SLA breach recorded: conversation %s type %s target %dm actual %dm", conv.ID, breachType, targetMinutes, actualMinutes)
	return true, nil
}

// SLAMetrics calculateMetrics 결과
type SLAMetrics struct {
	FirstResponseP50 float64 `json:"first_response_p50"`
	FirstResponseP90 float64 `json:"first_response_p90"`
	FirstResponseP99 float64 `json:"first_response_p99"`
	ResolutionP50    float64 `json:"resolution_p50"`
	ResolutionP90    float64 `json:"resolution_p90"`
	ResolutionP99    float64 `json:"resolution_p99"`
	AIResponseRate   float64 `json:"ai_response_rate"`
	EscalationRate   float64 `json:"escalation_rate"`
	Conversations    int64   `json:"conversations"`
	Breaches         int64   `json:"breaches"`
	Health           string  `json:"health"`
}

// percentile 최근접 순위 방식, 입력은 정렬된 상태여야 한다
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// CalculateMetrics 기간 내 대화들의 첫 응답/해결 분포와 건강도 계산.
// 건강도는 경고치 아래로 내려간 지표 수로 판정한다: 3개 이상 critical,
// 1개 이상 warning, 아니면 healthy. 만족도는 수집원이 없어 항상 정상 취급.
func (s *SLAService) CalculateMetrics(ctx context.Context, tenantID string, from, to time.Time) (*SLAMetrics, error) {
	ctx, span := s.tracer.Start(ctx, "sla.calculate_metrics")
	defer span.End()

	cfg, err := s.GetConfig(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var conversations []models.Conversation
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND created_at >= ? AND created_at < ?", tenantID, from, to).
		Find(&conversations).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load conversations: %w", err)
	}

	m := &SLAMetrics{Conversations: int64(len(conversations)), Health: SLAHealthy}

	var firstResponseSamples, resolutionSamples []float64
	var aiResponded, escalated int64
	for _, conv := range conversations {
		if conv.FirstResponseAt != nil {
			firstResponseSamples = append(firstResponseSamples, conv.FirstResponseAt.Sub(conv.CreatedAt).Minutes())
		}
		if conv.ResolvedAt != nil {
			resolutionSamples = append(resolutionSamples, conv.ResolvedAt.Sub(conv.CreatedAt).Minutes())
		}

		var aiCount int64
		if err := s.db.WithContext(ctx).Model(&models.Message{}).
			Where("conversation_id = ? AND sender_type = ?", conv.ID, models.SenderAI).
			Count(&aiCount).Error; err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("count ai messages: %w", err)
		}
		if aiCount > 0 {
			aiResponded++
		}
		if conv.Status == models.ConversationEscalated {
			escalated++
		}
	}

	sort.Float64s(firstResponseSamples)
	sort.Float64s(resolutionSamples)
	m.FirstResponseP50 = percentile(firstResponseSamples, 50)
	m.FirstResponseP90 = percentile(firstResponseSamples, 90)
	m.FirstResponseP99 = percentile(firstResponseSamples, 99)
	m.ResolutionP50 = percentile(resolutionSamples, 50)
	m.ResolutionP90 = percentile(resolutionSamples, 90)
	m.ResolutionP99 = percentile(resolutionSamples, 99)

	if len(conversations) > 0 {
		m.AIResponseRate = float64(aiResponded) / float64(len(conversations))
		m.EscalationRate = float64(escalated) / float64(len(conversations))
	}

	if err := s.db.WithContext(ctx).Model(&models.SLABreach{}).
		Where("tenant_id = ? AND created_at >= ? AND created_at < ?", tenantID, from, to).
		Count(&m.Breaches).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("count breaches: %w", err)
	}

	belowWarning := 0
	if len(firstResponseSamples) > 0 && m.FirstResponseP90 > float64(cfg.FirstResponseWarning) {
		belowWarning++
	}
	if len(resolutionSamples) > 0 && m.ResolutionP90 > float64(cfg.ResolutionWarning) {
		belowWarning++
	}
	if len(conversations) > 0 && m.AIResponseRate < cfg.AIResponseRateWarning {
		belowWarning++
	}
	if len(conversations) > 0 && m.EscalationRate > cfg.EscalationRateWarning {
		belowWarning++
	}
	// 만족도 점수는 이 범위에서 수집하지 않으므로 경고 대상에서 제외

	switch {
	case belowWarning >= 3:
		m.Health = SLACritical
	case belowWarning >= 1:
		m.Health = SLAWarning
	}

	span.SetAttributes(
		attribute.Int64("sla.metrics.conversations", m.Conversations),
		attribute.String("sla.metrics.health", m.Health),
	)
	return m, nil
}

// SLACheckResult runSLACheck 요약
type SLACheckResult struct {
	Checked     int `json:"checked"`
	NewBreaches int `json:"new_breaches"`
	Errors      int `json:"errors"`
}

// RunSLACheck 미해결 대화 전체를 훑어 새 위반을 기록한다. 스케줄러가
// 몇 분 간격으로 부른다.
func (s *SLAService) RunSLACheck(ctx context.Context) (*SLACheckResult, error) {
	ctx, span := s.tracer.Start(ctx, "sla.run_check")
	defer span.End()

	var conversations []models.Conversation
	if err := s.db.WithContext(ctx).
		Where("status IN ?", []string{models.ConversationActive, models.ConversationWaiting, models.ConversationEscalated}).
		Find(&conversations).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load open conversations: %w", err)
	}

	result := &SLACheckResult{}
	for i := range conversations {
		conv := &conversations[i]
		status, err := s.CheckConversationSLA(ctx, conv.ID)
		if err != nil {
			s.logger.Errorf("SLA check failed for conversation %s: %v", conv.ID, err)
			result.Errors++
			continue
		}
		result.Checked++

		// 해결 위반을 먼저 본다: 두 타이머가 같이 터지면 더 높은 우선순위가 이긴다
		if status.Resolution.IsBreached {
			created, err := s.RecordBreach(ctx, conv, BreachResolution, status.Resolution.TargetMinutes, int(status.Resolution.ElapsedMinutes))
			if err != nil {
				s.logger.Errorf("Failed to record resolution breach for %s: %v", conv.ID, err)
				result.Errors++
			} else if created {
				result.NewBreaches++
				s.escalateForBreach(ctx, conv, status, BreachResolution, status.Resolution.TargetMinutes)
			}
		}
		if status.FirstResponse.IsBreached {
			created, err := s.RecordBreach(ctx, conv, BreachFirstResponse, status.FirstResponse.TargetMinutes, int(status.FirstResponse.ElapsedMinutes))
			if err != nil {
				s.logger.Errorf("Failed to record first response breach for %s: %v", conv.ID, err)
				result.Errors++
			} else if created {
				result.NewBreaches++
				s.escalateForBreach(ctx, conv, status, BreachFirstResponse, status.FirstResponse.TargetMinutes)
			}
		}
	}

	s.logger.Infof("SLA check done: %d checked, %d new breaches, %d errors", result.Checked, result.NewBreaches, result.Errors)
	return result, nil
}

// escalateForBreach SLA 위반은 사람 개입을 강제한다: 미해결 에스컬레이션이
// 없으면 생성해 대화를 escalated 로 전환하고, 도달한 레벨의 알림 채널로
// 통지하며 auto_assign 레벨이면 즉시 배정을 시도한다.
func (s *SLAService) escalateForBreach(ctx context.Context, conv *models.Conversation, status *ConversationSLAStatus, breachType string, targetMinutes int) {
	if s.escalations == nil {
		return
	}

	priority := models.PriorityMedium
	if breachType == BreachResolution {
		priority = models.PriorityHigh
	}
	esc, _, err := s.escalations.Create(ctx, &EscalationCreateInput{
		ConversationID: conv.ID,
		TenantID:       conv.TenantID,
		Reason:         fmt.Sprintf("sla: %s %d분 목표 초과", breachType, targetMinutes),
		Priority:       priority,
	})
	if err != nil {
		s.logger.Errorf("Failed to escalate SLA breach for conversation %s: %v", conv.ID, err)
		return
	}

	if status.EscalationLevel == 0 {
		return
	}
	cfg, err := s.GetConfig(ctx, conv.TenantID)
	if err != nil {
		s.logger.Warnf("Failed to load SLA config for level policy on %s: %v", conv.ID, err)
		return
	}
	for _, lvl := range parseEscalationLevels(cfg.EscalationLevels) {
		if lvl.Level != status.EscalationLevel {
			continue
		}
		if s.notifier != nil {
			for _, channel := range lvl.NotifyChannels {
				s.notifier.Notify(ctx, channel, map[string]interface{}{
					"event":           "sla_escalation_level",
					"conversation_id": conv.ID,
					"escalation_id":   esc.ID,
					"level":           lvl.Level,
					"breach_type":     breachType,
				})
			}
		}
		if lvl.AutoAssign && esc.Status == models.EscalationPending {
			if _, err := s.escalations.AutoAssign(ctx, esc.ID); err != nil {
				s.logger.Warnf("Auto-assign after SLA breach failed for escalation %s: %v", esc.ID, err)
			}
		}
		break
	}
}
