package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/afformationceo-debug/csflow-sub002/internal/config"
	"github.com/afformationceo-debug/csflow-sub002/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// KakaoAdapter 카카오톡 채널 어댑터
type KakaoAdapter struct {
	cfg    config.PlatformConfig
	client *http.Client
	logger *logrus.Logger
}

func NewKakaoAdapter(cfg config.PlatformConfig, logger *logrus.Logger) *KakaoAdapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &KakaoAdapter{
		cfg: cfg,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

func (a *KakaoAdapter) Platform() Platform { return PlatformKakao }

// ValidateSignature X-Kakao-Signature: hex(HMAC-SHA256(secret, body))
func (a *KakaoAdapter) ValidateSignature(body []byte, params SignatureParams, secrets []string) bool {
	if params.Signature == "" {
		return false
	}
	for _, secret := range secrets {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		expected := hex.EncodeToString(mac.Sum(nil))
		if hmac.Equal([]byte(expected), []byte(params.Signature)) {
			return true
		}
	}
	return false
}

type kakaoWebhook struct {
	Bot struct {
		ID string `json:"id"`
	} `json:"bot"`
	UserRequest struct {
		User struct {
			ID         string `json:"id"`
			Properties struct {
				Nickname string `json:"nickname"`
			} `json:"properties"`
		} `json:"user"`
		Utterance string `json:"utterance"`
		Block     struct {
			ID string `json:"id"`
		} `json:"block"`
	} `json:"userRequest"`
	// 미디어 메시지는 params 로 들어온다
	Action struct {
		Params map[string]string `json:"params"`
	} `json:"action"`
	EventID   string `json:"event_id"`
	Timestamp int64  `json:"timestamp"`
}

func (a *KakaoAdapter) ParseWebhook(body []byte) ([]InboundMessage, error) {
	var payload kakaoWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse kakao webhook: %w", err)
	}
	if payload.UserRequest.User.ID == "" {
		return nil, nil
	}

	ts := time.Now()
	if payload.Timestamp > 0 {
		ts = time.UnixMilli(payload.Timestamp)
	}

	// 카카오는 메시지 id 를 따로 주지 않아 event_id 를 멱등성 키로 쓴다.
	messageID := payload.EventID
	if messageID == "" {
		messageID = fmt.Sprintf("%s-%d", payload.UserRequest.User.ID, ts.UnixMilli())
	}

	msg := InboundMessage{
		Platform:      PlatformKakao,
		DestinationID: payload.Bot.ID,
		UserID:        payload.UserRequest.User.ID,
		Username:      payload.UserRequest.User.Properties.Nickname,
		ContentType:   ContentText,
		Text:          payload.UserRequest.Utterance,
		MessageID:     messageID,
		Timestamp:     ts,
	}

	if mediaURL, ok := payload.Action.Params["media_url"]; ok && mediaURL != "" {
		msg.ContentType = ContentImage
		msg.MediaURL = mediaURL
		msg.Text = ""
	}

	return []InboundMessage{msg}, nil
}

// GetUserProfile 카카오는 웹훅 user properties 외 프로필 API 를 제공하지 않는다
func (a *KakaoAdapter) GetUserProfile(ctx context.Context, account *models.ChannelAccount, externalUserID string) (*UserProfile, error) {
	return nil, fmt.Errorf("kakao does not expose a profile lookup API")
}

func (a *KakaoAdapter) Send(ctx context.Context, account *models.ChannelAccount, externalUserID string, out *OutboundMessage) (*SendResult, error) {
	payload := map[string]interface{}{
		"receiver_uuids": []string{externalUserID},
		"template_object": map[string]interface{}{
			"object_type": "text",
			"text":        out.Text,
		},
	}
	b, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.APIBaseURL+"/v1/api/talk/friends/message/default/send", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.AccessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return &SendResult{Success: false, Error: err.Error()}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &SendResult{Success: false, Error: fmt.Sprintf("status %d: %s", resp.StatusCode, string(body))}, nil
	}
	return &SendResult{Success: true}, nil
}

var _ Adapter = (*KakaoAdapter)(nil)
