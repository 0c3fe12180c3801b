package services

import (
	"context"
	"fmt"
	"time"

	"github.com/afformationceo-debug/csflow-sub002/internal/channels"
	"github.com/afformationceo-debug/csflow-sub002/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// IdentityService 통합 메시지를 고객/채널/대화로 해석하는 서비스.
// 최초 접촉 시 고객과 채널 링크를 생성한다.
type IdentityService struct {
	db             *gorm.DB
	logger         *logrus.Logger
	tracer         trace.Tracer
	reopenResolved bool // resolved 대화를 새 인바운드로 재개할지
}

func NewIdentityService(db *gorm.DB, reopenResolved bool, logger *logrus.Logger) *IdentityService {
	if logger == nil {
		logger = logrus.New()
	}
	return &IdentityService{
		db:             db,
		logger:         logger,
		tracer:         otel.Tracer("csflow.identity"),
		reopenResolved: reopenResolved,
	}
}

// ProfileHints 어댑터 프로필 조회 결과(베스트 에포트)
type ProfileHints struct {
	DisplayName string
	PictureURL  string
}

// ResolveChannelAccount destination id 로 채널 계정을 찾는다. 일치하는
// 계정이 없으면 같은 플랫폼의 활성 계정이 정확히 하나일 때만 그 계정으로
// 폴백하고 destination id 를 자가 치유한다. 둘 이상이면 임의 선택이
// 오라우팅을 낳으므로 시끄럽게 실패한다.
func (s *IdentityService) ResolveChannelAccount(ctx context.Context, platform channels.Platform, destinationID string) (*models.ChannelAccount, error) {
	ctx, span := s.tracer.Start(ctx, "identity.resolve_channel_account")
	defer span.End()

	span.SetAttributes(
		attribute.String("identity.platform", string(platform)),
		attribute.String("identity.destination_id", destinationID),
	)

	var account models.ChannelAccount
	if destinationID != "" {
		err := s.db.WithContext(ctx).
			Where("platform = ? AND destination_id = ? AND active = ?", string(platform), destinationID, true).
			First(&account).Error
		if err == nil {
			return &account, nil
		}
		if err != gorm.ErrRecordNotFound {
			span.RecordError(err)
			return nil, fmt.Errorf("lookup channel account: %w", err)
		}
	}

	var candidates []models.ChannelAccount
	if err := s.db.WithContext(ctx).
		Where("platform = ? AND active = ?", string(platform), true).
		Order("created_at ASC").
		Find(&candidates).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("lookup fallback channel accounts: %w", err)
	}

	switch len(candidates) {
	case 0:
		return nil, fmt.Errorf("no active channel account for platform %s", platform)
	case 1:
		fallback := candidates[0]
		s.logger.Warnf("Channel account not found for destination %q, falling back to %s and self-healing mapping", destinationID, fallback.ID)
		if destinationID != "" {
			if err := s.db.WithContext(ctx).Model(&models.ChannelAccount{}).
				Where("id = ?", fallback.ID).
				Update("destination_id", destinationID).Error; err != nil {
				s.logger.Warnf("Failed to self-heal destination mapping: %v", err)
			}
		}
		return &fallback, nil
	default:
		return nil, fmt.Errorf("destination %q matches no channel account and %d active %s accounts exist, refusing to guess", destinationID, len(candidates), platform)
	}
}

// FindOrCreateCustomerResult 고객 해석 결과
type FindOrCreateCustomerResult struct {
	Customer *models.Customer
	Channel  *models.CustomerChannel
	IsNew    bool
}

// FindOrCreateCustomer (channel_account, external_user_id) 키로 조회,
// 없으면 고객과 채널 링크를 한 트랜잭션으로 생성한다.
func (s *IdentityService) FindOrCreateCustomer(ctx context.Context, tenantID, channelAccountID, channelUserID string, hints ProfileHints, defaultLanguage string) (*FindOrCreateCustomerResult, error) {
	ctx, span := s.tracer.Start(ctx, "identity.find_or_create_customer")
	defer span.End()

	span.SetAttributes(
		attribute.String("identity.tenant_id", tenantID),
		attribute.String("identity.channel_account_id", channelAccountID),
	)

	var channel models.CustomerChannel
	err := s.db.WithContext(ctx).
		Where("channel_account_id = ? AND external_user_id = ?", channelAccountID, channelUserID).
		First(&channel).Error
	if err == nil {
		var customer models.Customer
		if err := s.db.WithContext(ctx).First(&customer, "id = ?", channel.CustomerID).Error; err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("load customer %s: %w", channel.CustomerID, err)
		}
		return &FindOrCreateCustomerResult{Customer: &customer, Channel: &channel, IsNew: false}, nil
	}
	if err != gorm.ErrRecordNotFound {
		span.RecordError(err)
		return nil, fmt.Errorf("lookup customer channel: %w", err)
	}

	now := time.Now()
	customer := &models.Customer{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Name:      hints.DisplayName,
		Language:  defaultLanguage,
		CreatedAt: now,
		UpdatedAt: now,
	}
	newChannel := &models.CustomerChannel{
		ID:               uuid.New().String(),
		CustomerID:       customer.ID,
		ChannelAccountID: channelAccountID,
		ExternalUserID:   channelUserID,
		DisplayName:      hints.DisplayName,
		PictureURL:       hints.PictureURL,
		IsPrimary:        true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	// 둘 중 하나라도 실패하면 고아 레코드를 남기지 않도록 같이 롤백
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(customer).Error; err != nil {
			return fmt.Errorf("create customer: %w", err)
		}
		if err := tx.Create(newChannel).Error; err != nil {
			return fmt.Errorf("create customer channel: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.Infof("Created customer %s for channel user %s on account %s", customer.ID, channelUserID, channelAccountID)
	return &FindOrCreateCustomerResult{Customer: customer, Channel: newChannel, IsNew: true}, nil
}

// GetOrCreateConversation (customer, tenant) 당 열린 대화 1개 재사용.
// resolved 대화는 정책에 따라 재개하거나 새로 연다.
func (s *IdentityService) GetOrCreateConversation(ctx context.Context, customerID, tenantID string) (*models.Conversation, error) {
	ctx, span := s.tracer.Start(ctx, "identity.get_or_create_conversation")
	defer span.End()

	var conv models.Conversation
	err := s.db.WithContext(ctx).
		Where("customer_id = ? AND tenant_id = ? AND status <> ?", customerID, tenantID, models.ConversationResolved).
		Order("created_at DESC").
		First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if err != gorm.ErrRecordNotFound {
		span.RecordError(err)
		return nil, fmt.Errorf("lookup conversation: %w", err)
	}

	if s.reopenResolved {
		err = s.db.WithContext(ctx).
			Where("customer_id = ? AND tenant_id = ? AND status = ?", customerID, tenantID, models.ConversationResolved).
			Order("created_at DESC").
			First(&conv).Error
		if err == nil {
			if err := s.db.WithContext(ctx).Model(&models.Conversation{}).
				Where("id = ?", conv.ID).
				Updates(map[string]interface{}{
					"status":      models.ConversationActive,
					"resolved_at": nil,
					"updated_at":  time.Now(),
				}).Error; err != nil {
				span.RecordError(err)
				return nil, fmt.Errorf("reopen conversation: %w", err)
			}
			s.logger.Infof("Reopened resolved conversation %s", conv.ID)
			conv.Status = models.ConversationActive
			conv.ResolvedAt = nil
			return &conv, nil
		}
		if err != gorm.ErrRecordNotFound {
			span.RecordError(err)
			return nil, fmt.Errorf("lookup resolved conversation: %w", err)
		}
	}

	now := time.Now()
	conv = models.Conversation{
		ID:         uuid.New().String(),
		CustomerID: customerID,
		TenantID:   tenantID,
		Status:     models.ConversationActive,
		AIEnabled:  true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &conv, nil
}

// MergeCustomers secondary 의 채널/대화를 primary 로 옮기고 secondary 를 제거한다.
// 고객은 삭제하지 않고 병합만 허용하는 정책의 구현.
func (s *IdentityService) MergeCustomers(ctx context.Context, primaryID, secondaryID string) error {
	ctx, span := s.tracer.Start(ctx, "identity.merge_customers")
	defer span.End()

	if primaryID == secondaryID {
		return fmt.Errorf("cannot merge customer into itself")
	}

	var primary, secondary models.Customer
	if err := s.db.WithContext(ctx).First(&primary, "id = ?", primaryID).Error; err != nil {
		return fmt.Errorf("load primary customer: %w", err)
	}
	if err := s.db.WithContext(ctx).First(&secondary, "id = ?", secondaryID).Error; err != nil {
		return fmt.Errorf("load secondary customer: %w", err)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.CustomerChannel{}).
			Where("customer_id = ?", secondaryID).
			Updates(map[string]interface{}{"customer_id": primaryID, "is_primary": false}).Error; err != nil {
			return fmt.Errorf("move customer channels: %w", err)
		}
		if err := tx.Model(&models.Conversation{}).
			Where("customer_id = ?", secondaryID).
			Update("customer_id", primaryID).Error; err != nil {
			return fmt.Errorf("move conversations: %w", err)
		}
		if err := tx.Delete(&models.Customer{}, "id = ?", secondaryID).Error; err != nil {
			return fmt.Errorf("remove secondary customer: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	s.logger.Infof("Merged customer %s into %s", secondaryID, primaryID)
	return nil
}
