package services

import (
	"context"
)

// PipelineRequest AI 파이프라인 요청 계약
type PipelineRequest struct {
	Query            string `json:"query"`
	TenantID         string `json:"tenant_id"`
	ConversationID   string `json:"conversation_id"`
	CustomerLanguage string `json:"customer_language"`
}

// PipelineResponse AI 파이프라인 응답 계약. 신뢰도/에스컬레이션 정책은
// 파이프라인 내부에 있고 게이트는 ShouldEscalate 를 그대로 신뢰한다.
type PipelineResponse struct {
	Response           string   `json:"response,omitempty"`
	TranslatedResponse string   `json:"translated_response,omitempty"`
	Confidence         float64  `json:"confidence"`
	Model              string   `json:"model"`
	ShouldEscalate     bool     `json:"should_escalate"`
	EscalationReason   string   `json:"escalation_reason,omitempty"`
	RecommendedAction  string   `json:"recommended_action,omitempty"`
	MissingInfo        []string `json:"missing_info,omitempty"`
	DetectedQuestions  []string `json:"detected_questions,omitempty"`
}

// PipelineClient AI 파이프라인은 불투명한 외부 협력자다
type PipelineClient interface {
	Process(ctx context.Context, req *PipelineRequest) (*PipelineResponse, error)
}

// MediaAnalyzer 이미지/음성 분석 계약. 파생 텍스트가 messageText 를 대체한다.
// 실패는 베스트 에포트로 삼킨다.
type MediaAnalyzer interface {
	Describe(ctx context.Context, mediaURL, contentType string) (string, error)
}

// AutomationHook 스위프 후속 자동화 규칙 트리거. 실패해도 스위프를 중단하지 않는다.
type AutomationHook interface {
	Trigger(ctx context.Context, conversationID string) error
}

var _ PipelineClient = (*HTTPPipelineClient)(nil)
