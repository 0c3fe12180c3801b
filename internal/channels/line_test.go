package channels

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/afformationceo-debug/csflow-sub002/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lineSign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestLineAdapter_ValidateSignature(t *testing.T) {
	a := NewLineAdapter(config.PlatformConfig{}, nil)
	body := []byte(`{"destination":"U123","events":[]}`)

	sig := lineSign("secret-1", body)
	assert.True(t, a.ValidateSignature(body, SignatureParams{Signature: sig}, []string{"secret-1"}))

	// 여러 시크릿 중 하나만 맞아도 통과
	assert.True(t, a.ValidateSignature(body, SignatureParams{Signature: sig}, []string{"other", "secret-1"}))

	assert.False(t, a.ValidateSignature(body, SignatureParams{Signature: sig}, []string{"wrong"}))
	assert.False(t, a.ValidateSignature(body, SignatureParams{}, []string{"secret-1"}))
}

func TestLineAdapter_ParseWebhook(t *testing.T) {
	a := NewLineAdapter(config.PlatformConfig{APIBaseURL: "https://api.line.me"}, nil)

	body := []byte(`{
		"destination": "U0dest",
		"events": [
			{
				"type": "message",
				"timestamp": 1700000000000,
				"source": {"type": "user", "userId": "Uabc"},
				"message": {"id": "m-1", "type": "text", "text": "예약 문의합니다"}
			},
			{
				"type": "message",
				"timestamp": 1700000001000,
				"source": {"type": "user", "userId": "Uabc"},
				"message": {"id": "m-2", "type": "sticker", "stickerId": "52002734", "packageId": "11537"}
			},
			{
				"type": "follow",
				"timestamp": 1700000002000,
				"source": {"type": "user", "userId": "Uabc"}
			}
		]
	}`)

	msgs, err := a.ParseWebhook(body)
	require.NoError(t, err)
	require.Len(t, msgs, 2, "follow event should be skipped")

	assert.Equal(t, PlatformLine, msgs[0].Platform)
	assert.Equal(t, "U0dest", msgs[0].DestinationID)
	assert.Equal(t, "Uabc", msgs[0].UserID)
	assert.Equal(t, ContentText, msgs[0].ContentType)
	assert.Equal(t, "예약 문의합니다", msgs[0].Text)
	assert.Equal(t, "m-1", msgs[0].MessageID)

	// 스티커는 불투명 메타데이터로 통과
	assert.Equal(t, ContentSticker, msgs[1].ContentType)
	assert.Equal(t, "52002734", msgs[1].Metadata["sticker_id"])
}

func TestLineAdapter_ParseWebhook_Empty(t *testing.T) {
	a := NewLineAdapter(config.PlatformConfig{}, nil)

	// 이벤트 0건은 정상 no-op
	msgs, err := a.ParseWebhook([]byte(`{"destination":"U0dest","events":[]}`))
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
