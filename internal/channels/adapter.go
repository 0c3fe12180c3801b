// Package channels 플랫폼별 웹훅을 통합 인바운드 메시지로 변환하는 어댑터 계층.
package channels

import (
	"context"
	"time"

	"github.com/afformationceo-debug/csflow-sub002/internal/models"
)

// Platform 닫힌 플랫폼 집합
type Platform string

const (
	PlatformLine      Platform = "line"
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformWhatsApp  Platform = "whatsapp"
	PlatformKakao     Platform = "kakao"
	PlatformWeChat    Platform = "wechat"
)

// 콘텐츠 타입
const (
	ContentText     = "text"
	ContentImage    = "image"
	ContentAudio    = "audio"
	ContentVideo    = "video"
	ContentFile     = "file"
	ContentLocation = "location"
	ContentSticker  = "sticker"
)

// InboundMessage 플랫폼 비의존 인바운드 표현. 한 웹훅 페이로드가
// 0개 이상의 메시지를 낳을 수 있다(플랫폼이 이벤트를 배치로 보냄).
type InboundMessage struct {
	Platform      Platform               `json:"platform"`
	DestinationID string                 `json:"destination_id"` // 수신 채널 계정 식별자
	UserID        string                 `json:"user_id"`        // 플랫폼 사용자 id
	Username      string                 `json:"username,omitempty"`
	ContentType   string                 `json:"content_type"`
	Text          string                 `json:"text,omitempty"`
	MediaURL      string                 `json:"media_url,omitempty"`
	MessageID     string                 `json:"message_id"` // 멱등성 키(external_id)
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

// UserProfile 프로필 조회 결과(베스트 에포트)
type UserProfile struct {
	DisplayName string `json:"display_name"`
	PictureURL  string `json:"picture_url"`
}

// OutboundMessage 발신 메시지
type OutboundMessage struct {
	ContentType string `json:"content_type"`
	Text        string `json:"text"`
	MediaURL    string `json:"media_url,omitempty"`
}

// SendResult 발신 결과
type SendResult struct {
	Success         bool   `json:"success"`
	RemoteMessageID string `json:"remote_message_id,omitempty"`
	Error           string `json:"error,omitempty"`
}

// SignatureParams 서명 검증 입력. WeChat 은 timestamp/nonce 를 함께 쓰고
// 나머지는 Signature 만 사용한다.
type SignatureParams struct {
	Signature string
	Timestamp string
	Nonce     string
}

// Adapter 플랫폼별 파서/서명기 계약
type Adapter interface {
	Platform() Platform

	// ValidateSignature 원본 바디에 대한 서명 검증. 서브 플랫폼이 별도
	// 앱일 수 있어 시크릿 여러 개 중 하나라도 맞으면 통과한다.
	ValidateSignature(body []byte, params SignatureParams, secrets []string) bool

	// ParseWebhook 페이로드를 통합 메시지 목록으로 변환. 0건은 정상 no-op.
	ParseWebhook(body []byte) ([]InboundMessage, error)

	// GetUserProfile 표시 이름/사진 조회. 실패는 호출측에서 삼키고 계속 진행한다.
	GetUserProfile(ctx context.Context, account *models.ChannelAccount, externalUserID string) (*UserProfile, error)

	// Send 발신 전송
	Send(ctx context.Context, account *models.ChannelAccount, externalUserID string, out *OutboundMessage) (*SendResult, error)
}

// Registry 어댑터 고정 레지스트리. 문자열 키 맵 대신 명시적 필드로 묶는다.
type Registry struct {
	Line   *LineAdapter
	Meta   *MetaAdapter
	Kakao  *KakaoAdapter
	WeChat *WeChatAdapter
}

// ForFamily 웹훅 경로 세그먼트(플랫폼 패밀리)로 어댑터 선택.
// meta 패밀리는 facebook/instagram/whatsapp 을 하나의 엔드포인트로 받는다.
func (r *Registry) ForFamily(family string) (Adapter, bool) {
	switch family {
	case "line":
		return r.Line, r.Line != nil
	case "meta", "facebook", "instagram", "whatsapp":
		return r.Meta, r.Meta != nil
	case "kakao":
		return r.Kakao, r.Kakao != nil
	case "wechat":
		return r.WeChat, r.WeChat != nil
	default:
		return nil, false
	}
}
