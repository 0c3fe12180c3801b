package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/afformationceo-debug/csflow-sub002/internal/channels"
	"github.com/afformationceo-debug/csflow-sub002/internal/lock"
	"github.com/afformationceo-debug/csflow-sub002/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// InboundService 인바운드 파이프라인의 진입점. 통합 메시지를 받아
// 고객/대화 해석, 언어 처리, 멱등 저장, AI 게이트까지 한 번에 수행한다.
type InboundService struct {
	db          *gorm.DB
	identity    *IdentityService
	language    *LanguageService
	escalations *EscalationService
	pipeline    PipelineClient
	media       MediaAnalyzer
	dispatcher  Dispatcher
	locks       lock.Provider
	lockTTL     time.Duration
	logger      *logrus.Logger
	tracer      trace.Tracer
}

// InboundServiceDeps 생성 의존성 묶음
type InboundServiceDeps struct {
	DB          *gorm.DB
	Identity    *IdentityService
	Language    *LanguageService
	Escalations *EscalationService
	Pipeline    PipelineClient
	Media       MediaAnalyzer
	Dispatcher  Dispatcher
	Locks       lock.Provider
	LockTTL     time.Duration
	Logger      *logrus.Logger
}

func NewInboundService(deps InboundServiceDeps) *InboundService {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
	}
	ttl := deps.LockTTL
	if ttl == 0 {
		ttl = 300 * time.Second
	}
	return &InboundService{
		db:          deps.DB,
		identity:    deps.Identity,
		language:    deps.Language,
		escalations: deps.Escalations,
		pipeline:    deps.Pipeline,
		media:       deps.Media,
		dispatcher:  deps.Dispatcher,
		locks:       deps.Locks,
		lockTTL:     ttl,
		logger:      logger,
		tracer:      otel.Tracer("csflow.inbound"),
	}
}

// ProcessInbound 통합 인바운드 메시지 1건 처리. 웹훅 전달은 at-least-once
// 이므로 저장은 external_id 로, AI 게이트는 락으로 각각 멱등하게 만든다.
// 중복 전달(락 선점)은 부수효과 없이 조용히 끝난다.
func (s *InboundService) ProcessInbound(ctx context.Context, adapter channels.Adapter, msg *channels.InboundMessage) error {
	ctx, span := s.tracer.Start(ctx, "inbound.process")
	defer span.End()

	span.SetAttributes(
		attribute.String("inbound.platform", string(msg.Platform)),
		attribute.String("inbound.message_id", msg.MessageID),
	)

	account, err := s.identity.ResolveChannelAccount(ctx, msg.Platform, msg.DestinationID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("resolve channel account: %w", err)
	}

	var tenant models.Tenant
	if err := s.db.WithContext(ctx).First(&tenant, "id = ?", account.TenantID).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("load tenant %s: %w", account.TenantID, err)
	}

	// 프로필 조회는 베스트 에포트, 실패해도 계속 간다
	hints := ProfileHints{DisplayName: msg.Username}
	if profile, err := adapter.GetUserProfile(ctx, account, msg.UserID); err == nil && profile != nil {
		if profile.DisplayName != "" {
			hints.DisplayName = profile.DisplayName
		}
		hints.PictureURL = profile.PictureURL
	} else if err != nil {
		s.logger.Debugf("Profile lookup failed for %s user %s: %v", msg.Platform, msg.UserID, err)
	}

	resolved, err := s.identity.FindOrCreateCustomer(ctx, tenant.ID, account.ID, msg.UserID, hints, tenant.DefaultLanguage)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("resolve customer: %w", err)
	}
	customer := resolved.Customer

	conv, err := s.identity.GetOrCreateConversation(ctx, customer.ID, tenant.ID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("resolve conversation: %w", err)
	}

	messageText := msg.Text
	if messageText == "" && msg.MediaURL != "" && s.media != nil {
		switch msg.ContentType {
		case channels.ContentImage, channels.ContentAudio:
			derived, err := s.media.Describe(ctx, msg.MediaURL, msg.ContentType)
			if err != nil {
				s.logger.Warnf("Media analysis failed for message %s: %v", msg.MessageID, err)
			} else {
				messageText = derived
			}
		}
	}

	detectedLang, workingText := s.applyLanguage(ctx, customer, messageText)

	// 락을 저장보다 먼저 잡는다: 진 쪽 전달은 행 하나 남기지 않는다
	key := lock.MessageKey(conv.ID, msg.MessageID)
	token, acquired, err := s.locks.Acquire(ctx, key, s.lockTTL)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("acquire message lock: %w", err)
	}
	if !acquired {
		s.logger.Debugf("Message %s already being processed, skipping", msg.MessageID)
		return nil
	}
	defer func() {
		if err := s.locks.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger.Warnf("Failed to release lock %s: %v", key, err)
		}
	}()

	inbound, err := s.persistInbound(ctx, conv, msg, messageText, detectedLang, workingText)
	if err != nil {
		span.RecordError(err)
		return err
	}

	return s.runGate(ctx, adapter, account, &tenant, conv, customer, inbound, workingText)
}

// applyLanguage 언어 감지 + 고객 언어 드리프트 반영 + 작업 언어 번역.
// 전부 비치명적이며 실패 시 원문으로 계속 진행한다.
func (s *InboundService) applyLanguage(ctx context.Context, customer *models.Customer, text string) (string, string) {
	if text == "" {
		return "", ""
	}

	detected, err := s.language.Detect(ctx, text)
	if err != nil {
		s.logger.Warnf("Language detection failed: %v", err)
		return "", text
	}

	if err := s.language.SyncCustomerLanguage(ctx, customer, detected); err != nil {
		s.logger.Warnf("Failed to sync customer language: %v", err)
	}

	workingText, err := s.language.TranslateToWorking(ctx, text, detected)
	if err != nil {
		s.logger.Warnf("Translation failed, continuing with original text: %v", err)
		return detected, text
	}
	return detected, workingText
}

// persistInbound external_id 기준 멱등 저장 + 대화 last_message_at 갱신
func (s *InboundService) persistInbound(ctx context.Context, conv *models.Conversation, msg *channels.InboundMessage, text, detectedLang, workingText string) (*models.Message, error) {
	if msg.MessageID != "" {
		var existing models.Message
		err := s.db.WithContext(ctx).
			Where("conversation_id = ? AND external_id = ?", conv.ID, msg.MessageID).
			First(&existing).Error
		if err == nil {
			return &existing, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("lookup inbound message: %w", err)
		}
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var metadata string
	if len(msg.Metadata) > 0 {
		if b, err := json.Marshal(msg.Metadata); err == nil {
			metadata = string(b)
		}
	}

	record := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Direction:      models.DirectionInbound,
		SenderType:     models.SenderCustomer,
		ContentType:    msg.ContentType,
		Text:           text,
		MediaURL:       msg.MediaURL,
		ExternalID:     msg.MessageID,
		Status:         "sent",
		OriginalLang:   detectedLang,
		Metadata:       metadata,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
	if workingText != text {
		record.TranslatedLang = s.language.WorkingLanguage()
		record.TranslatedText = workingText
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("persist inbound message: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conv.ID).
		Updates(map[string]interface{}{"last_message_at": ts, "updated_at": time.Now()}).Error; err != nil {
		s.logger.Warnf("Failed to bump last_message_at for conversation %s: %v", conv.ID, err)
	}
	conv.LastMessageAt = &ts

	return record, nil
}

// runGate AI 게이트. 결정 순서는 엄격하다: 에스컬레이션 판단이 응답
// 전송보다 먼저다. shouldEscalate 분기에서는 어떤 경우에도 AI 메시지를
// 저장하거나 보내지 않는다.
func (s *InboundService) runGate(ctx context.Context, adapter channels.Adapter, account *models.ChannelAccount, tenant *models.Tenant, conv *models.Conversation, customer *models.Customer, inbound *models.Message, workingText string) error {
	ctx, span := s.tracer.Start(ctx, "inbound.gate")
	defer span.End()

	if !tenant.AIEnabled || !conv.AIEnabled || workingText == "" ||
		conv.Status == models.ConversationEscalated || conv.Status == models.ConversationWaiting {
		// escalated 는 더 높은 상태이므로 waiting 으로 내리지 않는다
		if conv.Status != models.ConversationEscalated && conv.Status != models.ConversationWaiting {
			s.setConversationStatus(ctx, conv, models.ConversationWaiting)
		}
		s.logger.Debugf("AI gate preconditions not met for conversation %s, handing off", conv.ID)
		return nil
	}

	// 중복 응답 가드: 이 메시지 시각 이후 AI 메시지가 이미 있으면 중복 전달
	var dupCount int64
	if err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND sender_type = ? AND created_at >= ? AND id <> ?",
			conv.ID, models.SenderAI, inbound.CreatedAt, inbound.ID).
		Count(&dupCount).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("duplicate response guard: %w", err)
	}
	if dupCount > 0 {
		s.logger.Debugf("AI response already exists for message %s, skipping", inbound.ID)
		return nil
	}

	result, err := s.pipeline.Process(ctx, &PipelineRequest{
		Query:            workingText,
		TenantID:         tenant.ID,
		ConversationID:   conv.ID,
		CustomerLanguage: customer.Language,
	})
	if err != nil {
		// 파이프라인 장애는 사람에게 넘기고 삼킨다
		s.logger.Errorf("AI pipeline failed for conversation %s: %v", conv.ID, err)
		s.setConversationStatus(ctx, conv, models.ConversationWaiting)
		return nil
	}

	span.SetAttributes(
		attribute.Float64("inbound.ai_confidence", result.Confidence),
		attribute.Bool("inbound.should_escalate", result.ShouldEscalate),
	)

	if result.ShouldEscalate {
		confidence := result.Confidence
		_, _, err := s.escalations.Create(ctx, &EscalationCreateInput{
			ConversationID:    conv.ID,
			TenantID:          tenant.ID,
			TriggerMessageID:  &inbound.ID,
			Reason:            result.EscalationReason,
			Priority:          models.PriorityMedium,
			AIConfidence:      &confidence,
			RecommendedAction: result.RecommendedAction,
		})
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("create escalation: %w", err)
		}
		conv.Status = models.ConversationEscalated
		return nil
	}

	if result.Response == "" {
		s.logger.Debugf("Pipeline returned no response for conversation %s", conv.ID)
		return nil
	}

	return s.sendAIResponse(ctx, adapter, account, conv, customer, result)
}

// sendAIResponse AI 응답 저장 + 큐 우선/직접 폴백 발신
func (s *InboundService) sendAIResponse(ctx context.Context, adapter channels.Adapter, account *models.ChannelAccount, conv *models.Conversation, customer *models.Customer, result *PipelineResponse) error {
	// 고객에게는 고객 언어 번역본을, 없으면 작업 언어 원문을 보낸다
	outboundText := result.TranslatedResponse
	if outboundText == "" {
		outboundText = result.Response
	}

	now := time.Now()
	confidence := result.Confidence
	aiMsg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Direction:      models.DirectionOutbound,
		SenderType:     models.SenderAI,
		ContentType:    channels.ContentText,
		Text:           outboundText,
		Status:         "pending",
		AIConfidence:   &confidence,
		AIModel:        result.Model,
		OriginalLang:   s.language.WorkingLanguage(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if result.TranslatedResponse != "" {
		aiMsg.OriginalLang = customer.Language
		aiMsg.TranslatedLang = s.language.WorkingLanguage()
		aiMsg.TranslatedText = result.Response
	}

	if err := s.db.WithContext(ctx).Create(aiMsg).Error; err != nil {
		return fmt.Errorf("persist ai message: %w", err)
	}

	if conv.FirstResponseAt == nil {
		if err := s.db.WithContext(ctx).Model(&models.Conversation{}).
			Where("id = ? AND first_response_at IS NULL", conv.ID).
			Update("first_response_at", now).Error; err != nil {
			s.logger.Warnf("Failed to set first_response_at for conversation %s: %v", conv.ID, err)
		} else {
			conv.FirstResponseAt = &now
		}
	}

	job := &Job{
		Type: JobSendMessage,
		Data: map[string]interface{}{
			"message_id":         aiMsg.ID,
			"channel_account_id": account.ID,
			"conversation_id":    conv.ID,
		},
	}
	enqueueErr := s.dispatcher.Enqueue(ctx, job)
	if enqueueErr == nil {
		return nil
	}
	s.logger.Warnf("Dispatcher unavailable, sending directly: %v", enqueueErr)

	externalUserID, err := s.customerExternalID(ctx, customer.ID, account.ID)
	if err != nil {
		s.updateMessageStatus(ctx, aiMsg.ID, "failed")
		return fmt.Errorf("resolve outbound recipient: %w", err)
	}

	sendResult, err := adapter.Send(ctx, account, externalUserID, &channels.OutboundMessage{
		ContentType: channels.ContentText,
		Text:        outboundText,
	})
	if err != nil || !sendResult.Success {
		s.updateMessageStatus(ctx, aiMsg.ID, "failed")
		if err != nil {
			return fmt.Errorf("direct send: %w", err)
		}
		return fmt.Errorf("direct send: %s", sendResult.Error)
	}

	s.updateMessageStatus(ctx, aiMsg.ID, "sent")
	return nil
}

func (s *InboundService) updateMessageStatus(ctx context.Context, messageID, status string) {
	if err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", messageID).
		Update("status", status).Error; err != nil {
		s.logger.Warnf("Failed to set message %s status %s: %v", messageID, status, err)
	}
}

func (s *InboundService) customerExternalID(ctx context.Context, customerID, accountID string) (string, error) {
	var channel models.CustomerChannel
	if err := s.db.WithContext(ctx).
		Where("customer_id = ? AND channel_account_id = ?", customerID, accountID).
		First(&channel).Error; err != nil {
		return "", fmt.Errorf("lookup customer channel: %w", err)
	}
	return channel.ExternalUserID, nil
}

func (s *InboundService) setConversationStatus(ctx context.Context, conv *models.Conversation, status string) {
	if err := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conv.ID).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()}).Error; err != nil {
		s.logger.Errorf("Failed to set conversation %s status %s: %v", conv.ID, status, err)
		return
	}
	conv.Status = status
}
