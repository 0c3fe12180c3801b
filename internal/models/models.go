package models

import (
	"time"

	"gorm.io/gorm"
)

// Conversation 상태
const (
	ConversationActive    = "active"
	ConversationWaiting   = "waiting"
	ConversationEscalated = "escalated"
	ConversationResolved  = "resolved"
)

// Message 방향/발신 주체
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"

	SenderCustomer = "customer"
	SenderAgent    = "agent"
	SenderAI       = "ai"
	SenderSystem   = "system"
)

// Escalation 상태/우선순위
const (
	EscalationPending    = "pending"
	EscalationAssigned   = "assigned"
	EscalationInProgress = "in_progress"
	EscalationResolved   = "resolved"

	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// 테넌트(병원) 모델
type Tenant struct {
	ID              string         `gorm:"primaryKey;type:uuid" json:"id"`
	Name            string         `gorm:"not null" json:"name"`
	AIEnabled       bool           `gorm:"default:true" json:"ai_enabled"`
	DefaultLanguage string         `gorm:"default:'ko'" json:"default_language"` // 상담원 작업 언어
	Active          bool           `gorm:"default:true" json:"active"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// 채널 계정: 테넌트가 소유한 외부 메시징 계정 (예: LINE 공식 계정 1개)
type ChannelAccount struct {
	ID            string         `gorm:"primaryKey;type:uuid" json:"id"`
	TenantID      string         `gorm:"index;not null" json:"tenant_id"`
	Platform      string         `gorm:"index;not null" json:"platform"` // line, whatsapp, facebook, instagram, kakao, wechat
	Name          string         `json:"name"`
	DestinationID string         `gorm:"index" json:"destination_id"` // 플랫폼이 웹훅에 싣는 수신 계정 식별자
	Active        bool           `gorm:"default:true" json:"active"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`

	Tenant Tenant `gorm:"foreignKey:TenantID" json:"tenant,omitempty"`
}

// 고객 모델: 최초 인바운드 접촉 시 생성, 삭제 대신 병합만 허용
type Customer struct {
	ID        string         `gorm:"primaryKey;type:uuid" json:"id"`
	TenantID  string         `gorm:"index;not null" json:"tenant_id"`
	Name      string         `json:"name"`
	Phone     string         `json:"phone"`
	Email     string         `json:"email"`
	Country   string         `json:"country"`
	Language  string         `json:"language"`            // 감지된 고객 언어, 메시지마다 드리프트 가능
	Tags      string         `json:"tags"`                // 쉼표 구분 태그
	Metadata  string         `gorm:"type:text" json:"metadata"` // JSON
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Channels      []CustomerChannel `gorm:"foreignKey:CustomerID" json:"channels,omitempty"`
	Conversations []Conversation    `gorm:"foreignKey:CustomerID" json:"conversations,omitempty"`
}

// 고객-채널 연결: (channel_account, external_user_id) 당 1행
type CustomerChannel struct {
	ID               string    `gorm:"primaryKey;type:uuid" json:"id"`
	CustomerID       string    `gorm:"index;not null" json:"customer_id"`
	ChannelAccountID string    `gorm:"uniqueIndex:ux_account_external_user,priority:1;not null" json:"channel_account_id"`
	ExternalUserID   string    `gorm:"uniqueIndex:ux_account_external_user,priority:2;not null" json:"external_user_id"`
	DisplayName      string    `json:"display_name"`
	PictureURL       string    `json:"picture_url"`
	IsPrimary        bool      `gorm:"default:false" json:"is_primary"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`

	Customer       Customer       `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	ChannelAccount ChannelAccount `gorm:"foreignKey:ChannelAccountID" json:"channel_account,omitempty"`
}

// 대화 모델: (customer, tenant) 당 열린 대화 1개
type Conversation struct {
	ID              string     `gorm:"primaryKey;type:uuid" json:"id"`
	CustomerID      string     `gorm:"index;not null" json:"customer_id"`
	TenantID        string     `gorm:"index;not null" json:"tenant_id"`
	Status          string     `gorm:"index;default:'active'" json:"status"` // active, waiting, escalated, resolved
	AIEnabled       bool       `gorm:"default:true" json:"ai_enabled"`
	LastMessageAt   *time.Time `gorm:"index" json:"last_message_at"`
	FirstResponseAt *time.Time `json:"first_response_at"`
	ResolvedAt      *time.Time `json:"resolved_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	Customer Customer  `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	Messages []Message `gorm:"foreignKey:ConversationID" json:"messages,omitempty"`
}

// 메시지 모델: 생성 후 번역/상태 필드 외 불변
type Message struct {
	ID             string    `gorm:"primaryKey;type:uuid" json:"id"`
	ConversationID string    `gorm:"index;not null" json:"conversation_id"`
	Direction      string    `gorm:"not null" json:"direction"`   // inbound, outbound
	SenderType     string    `gorm:"index;not null" json:"sender_type"` // customer, agent, ai, system
	ContentType    string    `gorm:"default:'text'" json:"content_type"` // text, image, audio, video, file, location, sticker
	Text           string    `gorm:"type:text" json:"text"`
	MediaURL       string    `json:"media_url"`
	ExternalID     string    `gorm:"index" json:"external_id"` // 플랫폼 메시지 id, 멱등성 키
	Status         string    `gorm:"default:'pending'" json:"status"` // pending, sent, failed
	AIConfidence   *float64  `json:"ai_confidence"`
	AIModel        string    `json:"ai_model"`
	OriginalLang   string    `json:"original_lang"`
	TranslatedLang string    `json:"translated_lang"`
	TranslatedText string    `gorm:"type:text" json:"translated_text"`
	Metadata       string    `gorm:"type:text" json:"metadata"` // 스티커/위치 등 원본 페이로드 JSON
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Conversation Conversation `gorm:"foreignKey:ConversationID" json:"conversation,omitempty"`
}

// 에스컬레이션: 대화당 미해결 상태는 최대 1건
type Escalation struct {
	ID                string     `gorm:"primaryKey;type:uuid" json:"id"`
	ConversationID    string     `gorm:"index;not null" json:"conversation_id"`
	TenantID          string     `gorm:"index;not null" json:"tenant_id"`
	TriggerMessageID  *string    `json:"trigger_message_id"`
	Reason            string     `gorm:"type:text" json:"reason"`
	Priority          string     `gorm:"default:'medium'" json:"priority"` // low, medium, high, urgent
	Status            string     `gorm:"index;default:'pending'" json:"status"` // pending, assigned, in_progress, resolved
	AssignedTo        *string    `gorm:"index" json:"assigned_to"`
	AIConfidence      *float64   `json:"ai_confidence"`
	RecommendedAction string     `json:"recommended_action"`
	ResolutionNote    string     `gorm:"type:text" json:"resolution_note"`
	ResolvedBy        *string    `json:"resolved_by"`
	AssignedAt        *time.Time `json:"assigned_at"`
	ResolvedAt        *time.Time `json:"resolved_at"`
	CreatedAt         time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`

	Conversation Conversation `gorm:"foreignKey:ConversationID" json:"conversation,omitempty"`
}

// 상담원(에이전트) 모델
type Agent struct {
	ID        string         `gorm:"primaryKey;type:uuid" json:"id"`
	TenantID  string         `gorm:"index;not null" json:"tenant_id"`
	Name      string         `gorm:"not null" json:"name"`
	Email     string         `json:"email"`
	Role      string         `gorm:"default:'agent'" json:"role"` // agent, manager
	Active    bool           `gorm:"default:true" json:"active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// SLA 설정: 테넌트별 목표/경고치 + 업무 시간 + 에스컬레이션 레벨
type SLAConfig struct {
	ID                     string    `gorm:"primaryKey;type:uuid" json:"id"`
	TenantID               string    `gorm:"uniqueIndex;not null" json:"tenant_id"`
	FirstResponseTarget    int       `gorm:"default:5" json:"first_response_target"`   // 분
	FirstResponseWarning   int       `gorm:"default:3" json:"first_response_warning"`  // 분
	ResolutionTarget       int       `gorm:"default:240" json:"resolution_target"`     // 분
	ResolutionWarning      int       `gorm:"default:180" json:"resolution_warning"`    // 분
	AIResponseRateTarget   float64   `gorm:"default:0.8" json:"ai_response_rate_target"`
	AIResponseRateWarning  float64   `gorm:"default:0.6" json:"ai_response_rate_warning"`
	SatisfactionTarget     float64   `gorm:"default:4.5" json:"satisfaction_target"`
	SatisfactionWarning    float64   `gorm:"default:4.0" json:"satisfaction_warning"`
	EscalationRateTarget   float64   `gorm:"default:0.2" json:"escalation_rate_target"`
	EscalationRateWarning  float64   `gorm:"default:0.3" json:"escalation_rate_warning"`
	BusinessHours          string    `gorm:"type:text" json:"business_hours"`     // JSON 요일별 시간표
	EscalationLevels       string    `gorm:"type:text" json:"escalation_levels"`  // JSON, threshold 분 오름차순
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// SLA 위반 기록: (conversation, breach_type) 당 최대 1행
type SLABreach struct {
	ID             string    `gorm:"primaryKey;type:uuid" json:"id"`
	TenantID       string    `gorm:"index;not null" json:"tenant_id"`
	ConversationID string    `gorm:"uniqueIndex:ux_conversation_breach,priority:1;not null" json:"conversation_id"`
	BreachType     string    `gorm:"uniqueIndex:ux_conversation_breach,priority:2;not null" json:"breach_type"` // first_response, resolution
	TargetMinutes  int       `json:"target_minutes"`
	ActualMinutes  int       `json:"actual_minutes"`
	CreatedAt      time.Time `json:"created_at"`
}

// EscalationLevel SLA 설정의 다단계 에스컬레이션 한 단계 (EscalationLevels JSON 원소)
type EscalationLevel struct {
	Level            int      `json:"level"`
	ThresholdMinutes int      `json:"threshold_minutes"`
	NotifyChannels   []string `json:"notify_channels"` // slack, kakao, email, sms
	AutoAssign       bool     `json:"auto_assign"`
}
