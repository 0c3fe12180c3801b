package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
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

// LineAdapter LINE Messaging API 어댑터
type LineAdapter struct {
	cfg    config.PlatformConfig
	client *http.Client
	logger *logrus.Logger
}

func NewLineAdapter(cfg config.PlatformConfig, logger *logrus.Logger) *LineAdapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &LineAdapter{
		cfg: cfg,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

func (a *LineAdapter) Platform() Platform { return PlatformLine }

// ValidateSignature X-Line-Signature: base64(HMAC-SHA256(channel secret, body))
func (a *LineAdapter) ValidateSignature(body []byte, params SignatureParams, secrets []string) bool {
	if params.Signature == "" {
		return false
	}
	for _, secret := range secrets {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
		if hmac.Equal([]byte(expected), []byte(params.Signature)) {
			return true
		}
	}
	return false
}

type lineWebhook struct {
	Destination string      `json:"destination"`
	Events      []lineEvent `json:"events"`
}

type lineEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // 밀리초
	Source    struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	} `json:"source"`
	Message struct {
		ID        string  `json:"id"`
		Type      string  `json:"type"`
		Text      string  `json:"text"`
		StickerID string  `json:"stickerId"`
		PackageID string  `json:"packageId"`
		Title     string  `json:"title"`
		Address   string  `json:"address"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"message"`
}

func (a *LineAdapter) ParseWebhook(body []byte) ([]InboundMessage, error) {
	var payload lineWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse line webhook: %w", err)
	}

	var out []InboundMessage
	for _, ev := range payload.Events {
		if ev.Type != "message" || ev.Source.UserID == "" {
			continue
		}

		msg := InboundMessage{
			Platform:      PlatformLine,
			DestinationID: payload.Destination,
			UserID:        ev.Source.UserID,
			MessageID:     ev.Message.ID,
			Timestamp:     time.UnixMilli(ev.Timestamp),
		}

		switch ev.Message.Type {
		case "text":
			msg.ContentType = ContentText
			msg.Text = ev.Message.Text
		case "image":
			msg.ContentType = ContentImage
			msg.MediaURL = fmt.Sprintf("%s/v2/bot/message/%s/content", a.cfg.APIBaseURL, ev.Message.ID)
		case "audio":
			msg.ContentType = ContentAudio
			msg.MediaURL = fmt.Sprintf("%s/v2/bot/message/%s/content", a.cfg.APIBaseURL, ev.Message.ID)
		case "video":
			msg.ContentType = ContentVideo
			msg.MediaURL = fmt.Sprintf("%s/v2/bot/message/%s/content", a.cfg.APIBaseURL, ev.Message.ID)
		case "file":
			msg.ContentType = ContentFile
		case "sticker":
			// 스티커 식별자는 불투명 메타데이터로 통과시킨다
			msg.ContentType = ContentSticker
			msg.Metadata = map[string]interface{}{
				"sticker_id": ev.Message.StickerID,
				"package_id": ev.Message.PackageID,
			}
		case "location":
			msg.ContentType = ContentLocation
			msg.Metadata = map[string]interface{}{
				"title":     ev.Message.Title,
				"address":   ev.Message.Address,
				"latitude":  ev.Message.Latitude,
				"longitude": ev.Message.Longitude,
			}
		default:
			a.logger.Debugf("Skipping unsupported LINE message type: %s", ev.Message.Type)
			continue
		}

		out = append(out, msg)
	}

	return out, nil
}

type lineProfileResponse struct {
	DisplayName string `json:"displayName"`
	PictureURL  string `json:"pictureUrl"`
}

func (a *LineAdapter) GetUserProfile(ctx context.Context, account *models.ChannelAccount, externalUserID string) (*UserProfile, error) {
	url := fmt.Sprintf("%s/v2/bot/profile/%s", a.cfg.APIBaseURL, externalUserID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.AccessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("line profile request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("line profile status %d: %s", resp.StatusCode, string(b))
	}

	var p lineProfileResponse
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, err
	}
	return &UserProfile{DisplayName: p.DisplayName, PictureURL: p.PictureURL}, nil
}

func (a *LineAdapter) Send(ctx context.Context, account *models.ChannelAccount, externalUserID string, out *OutboundMessage) (*SendResult, error) {
	payload := map[string]interface{}{
		"to": externalUserID,
		"messages": []map[string]string{
			{"type": "text", "text": out.Text},
		},
	}
	b, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.APIBaseURL+"/v2/bot/message/push", bytes.NewReader(b))
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

	var r struct {
		SentMessages []struct {
			ID string `json:"id"`
		} `json:"sentMessages"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&r)

	result := &SendResult{Success: true}
	if len(r.SentMessages) > 0 {
		result.RemoteMessageID = r.SentMessages[0].ID
	}
	return result, nil
}

var _ Adapter = (*LineAdapter)(nil)
