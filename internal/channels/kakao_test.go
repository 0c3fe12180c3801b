package channels

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/afformationceo-debug/csflow-sub002/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kakaoSign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestKakaoAdapter_ValidateSignature(t *testing.T) {
	a := NewKakaoAdapter(config.PlatformConfig{}, nil)
	body := []byte(`{"userRequest":{}}`)

	sig := kakaoSign("secret-1", body)

	assert.True(t, a.ValidateSignature(body, SignatureParams{Signature: sig}, []string{"secret-1"}))
	assert.True(t, a.ValidateSignature(body, SignatureParams{Signature: sig}, []string{"rotated", "secret-1"}))
	assert.False(t, a.ValidateSignature(body, SignatureParams{Signature: sig}, []string{"wrong"}))
	assert.False(t, a.ValidateSignature(body, SignatureParams{}, []string{"secret-1"}))
}

func TestKakaoAdapter_ParseWebhook(t *testing.T) {
	a := NewKakaoAdapter(config.PlatformConfig{}, nil)

	body := []byte(`{
		"bot": {"id": "bot-1"},
		"userRequest": {
			"user": {"id": "kakao-user-1", "properties": {"nickname": "민지"}},
			"utterance": "예약 문의드려요",
			"block": {"id": "block-1"}
		},
		"event_id": "evt-1",
		"timestamp": 1700000000000
	}`)

	msgs, err := a.ParseWebhook(body)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	assert.Equal(t, PlatformKakao, msgs[0].Platform)
	assert.Equal(t, "bot-1", msgs[0].DestinationID)
	assert.Equal(t, "kakao-user-1", msgs[0].UserID)
	assert.Equal(t, "민지", msgs[0].Username)
	assert.Equal(t, ContentText, msgs[0].ContentType)
	assert.Equal(t, "예약 문의드려요", msgs[0].Text)
	assert.Equal(t, "evt-1", msgs[0].MessageID)
	assert.Equal(t, time.UnixMilli(1700000000000), msgs[0].Timestamp)
}

// event_id 가 없으면 user id + 타임스탬프로 멱등성 키를 만든다
func TestKakaoAdapter_ParseWebhook_EventIDFallback(t *testing.T) {
	a := NewKakaoAdapter(config.PlatformConfig{}, nil)

	body := []byte(`{
		"bot": {"id": "bot-1"},
		"userRequest": {"user": {"id": "kakao-user-1"}, "utterance": "안녕하세요"},
		"timestamp": 1700000000000
	}`)

	msgs, err := a.ParseWebhook(body)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	assert.Equal(t, "kakao-user-1-1700000000000", msgs[0].MessageID)
}

func TestKakaoAdapter_ParseWebhook_MediaParams(t *testing.T) {
	a := NewKakaoAdapter(config.PlatformConfig{}, nil)

	body := []byte(`{
		"bot": {"id": "bot-1"},
		"userRequest": {"user": {"id": "kakao-user-1"}, "utterance": "사진"},
		"action": {"params": {"media_url": "https://cdn.kakao.example/img.jpg"}},
		"event_id": "evt-2"
	}`)

	msgs, err := a.ParseWebhook(body)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	assert.Equal(t, ContentImage, msgs[0].ContentType)
	assert.Equal(t, "https://cdn.kakao.example/img.jpg", msgs[0].MediaURL)
	assert.Empty(t, msgs[0].Text)
}

func TestKakaoAdapter_ParseWebhook_NoUser(t *testing.T) {
	a := NewKakaoAdapter(config.PlatformConfig{}, nil)

	msgs, err := a.ParseWebhook([]byte(`{"bot":{"id":"bot-1"}}`))
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
