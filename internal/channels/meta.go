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
	"strconv"
	"strings"
	"time"

	"github.com/afformationceo-debug/csflow-sub002/internal/config"
	"github.com/afformationceo-debug/csflow-sub002/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// MetaAdapter Facebook Messenger / Instagram DM / WhatsApp 공용 어댑터.
// 세 플랫폼 모두 Graph API 웹훅 포맷과 X-Hub-Signature-256 서명을 공유한다.
type MetaAdapter struct {
	cfg    config.PlatformConfig
	client *http.Client
	logger *logrus.Logger
}

func NewMetaAdapter(cfg config.PlatformConfig, logger *logrus.Logger) *MetaAdapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &MetaAdapter{
		cfg: cfg,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

func (a *MetaAdapter) Platform() Platform { return PlatformFacebook }

// VerifyToken GET 구독 핸드셰이크 토큰
func (a *MetaAdapter) VerifyToken() string { return a.cfg.VerifyToken }

// ValidateSignature X-Hub-Signature-256: "sha256=" + hex(HMAC-SHA256(app secret, body)).
// 페이스북/인스타그램/왓츠앱 앱이 분리돼 있을 수 있어 시크릿을 모두 시도한다.
func (a *MetaAdapter) ValidateSignature(body []byte, params SignatureParams, secrets []string) bool {
	sig := strings.TrimPrefix(params.Signature, "sha256=")
	if sig == "" {
		return false
	}
	for _, secret := range secrets {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		expected := hex.EncodeToString(mac.Sum(nil))
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return true
		}
	}
	return false
}

// DetectObjectPlatform 웹훅 object 필드를 닫힌 Platform 값으로 변환
func DetectObjectPlatform(object string) (Platform, bool) {
	switch object {
	case "page":
		return PlatformFacebook, true
	case "instagram":
		return PlatformInstagram, true
	case "whatsapp_business_account":
		return PlatformWhatsApp, true
	default:
		return "", false
	}
}

type metaWebhook struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string `json:"id"`
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Recipient struct {
				ID string `json:"id"`
			} `json:"recipient"`
			Timestamp int64 `json:"timestamp"`
			Message   struct {
				MID         string `json:"mid"`
				Text        string `json:"text"`
				IsEcho      bool   `json:"is_echo"`
				Attachments []struct {
					Type    string `json:"type"`
					Payload struct {
						URL string `json:"url"`
					} `json:"payload"`
				} `json:"attachments"`
			} `json:"message"`
		} `json:"messaging"`
		Changes []struct {
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
					Image struct {
						ID string `json:"id"`
					} `json:"image"`
					Audio struct {
						ID string `json:"id"`
					} `json:"audio"`
					Location struct {
						Latitude  float64 `json:"latitude"`
						Longitude float64 `json:"longitude"`
					} `json:"location"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

func (a *MetaAdapter) ParseWebhook(body []byte) ([]InboundMessage, error) {
	var payload metaWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse meta webhook: %w", err)
	}

	platform, ok := DetectObjectPlatform(payload.Object)
	if !ok {
		return nil, fmt.Errorf("unknown meta webhook object: %q", payload.Object)
	}

	var out []InboundMessage
	for _, entry := range payload.Entry {
		// page / instagram: messaging 배열
		for _, m := range entry.Messaging {
			if m.Message.MID == "" || m.Message.IsEcho {
				continue
			}
			msg := InboundMessage{
				Platform:      platform,
				DestinationID: m.Recipient.ID,
				UserID:        m.Sender.ID,
				MessageID:     m.Message.MID,
				Timestamp:     time.UnixMilli(m.Timestamp),
			}
			if msg.DestinationID == "" {
				msg.DestinationID = entry.ID
			}
			if m.Message.Text != "" {
				msg.ContentType = ContentText
				msg.Text = m.Message.Text
			} else if len(m.Message.Attachments) > 0 {
				att := m.Message.Attachments[0]
				msg.ContentType = metaAttachmentType(att.Type)
				msg.MediaURL = att.Payload.URL
			} else {
				continue
			}
			out = append(out, msg)
		}

		// whatsapp: changes[].value.messages 배열
		for _, ch := range entry.Changes {
			names := map[string]string{}
			for _, c := range ch.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range ch.Value.Messages {
				msg := InboundMessage{
					Platform:      PlatformWhatsApp,
					DestinationID: ch.Value.Metadata.PhoneNumberID,
					UserID:        m.From,
					Username:      names[m.From],
					MessageID:     m.ID,
				}
				if ts, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil {
					msg.Timestamp = time.Unix(ts, 0)
				} else {
					msg.Timestamp = time.Now()
				}
				switch m.Type {
				case "text":
					msg.ContentType = ContentText
					msg.Text = m.Text.Body
				case "image":
					msg.ContentType = ContentImage
					msg.Metadata = map[string]interface{}{"media_id": m.Image.ID}
				case "audio":
					msg.ContentType = ContentAudio
					msg.Metadata = map[string]interface{}{"media_id": m.Audio.ID}
				case "location":
					msg.ContentType = ContentLocation
					msg.Metadata = map[string]interface{}{
						"latitude":  m.Location.Latitude,
						"longitude": m.Location.Longitude,
					}
				default:
					a.logger.Debugf("Skipping unsupported WhatsApp message type: %s", m.Type)
					continue
				}
				out = append(out, msg)
			}
		}
	}

	return out, nil
}

func metaAttachmentType(t string) string {
	switch t {
	case "image":
		return ContentImage
	case "audio":
		return ContentAudio
	case "video":
		return ContentVideo
	case "location":
		return ContentLocation
	default:
		return ContentFile
	}
}

type metaProfileResponse struct {
	Name       string `json:"name"`
	ProfilePic string `json:"profile_pic"`
}

func (a *MetaAdapter) GetUserProfile(ctx context.Context, account *models.ChannelAccount, externalUserID string) (*UserProfile, error) {
	url := fmt.Sprintf("%s/%s?fields=name,profile_pic&access_token=%s", a.cfg.APIBaseURL, externalUserID, a.cfg.AccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("meta profile request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("meta profile status %d: %s", resp.StatusCode, string(b))
	}

	var p metaProfileResponse
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, err
	}
	return &UserProfile{DisplayName: p.Name, PictureURL: p.ProfilePic}, nil
}

func (a *MetaAdapter) Send(ctx context.Context, account *models.ChannelAccount, externalUserID string, out *OutboundMessage) (*SendResult, error) {
	var url string
	var payload map[string]interface{}

	if account != nil && account.Platform == string(PlatformWhatsApp) {
		url = fmt.Sprintf("%s/%s/messages?access_token=%s", a.cfg.APIBaseURL, account.DestinationID, a.cfg.AccessToken)
		payload = map[string]interface{}{
			"messaging_product": "whatsapp",
			"to":                externalUserID,
			"type":              "text",
			"text":              map[string]string{"body": out.Text},
		}
	} else {
		url = fmt.Sprintf("%s/me/messages?access_token=%s", a.cfg.APIBaseURL, a.cfg.AccessToken)
		payload = map[string]interface{}{
			"recipient": map[string]string{"id": externalUserID},
			"message":   map[string]string{"text": out.Text},
		}
	}

	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

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
		MessageID string `json:"message_id"`
		Messages  []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&r)

	result := &SendResult{Success: true, RemoteMessageID: r.MessageID}
	if result.RemoteMessageID == "" && len(r.Messages) > 0 {
		result.RemoteMessageID = r.Messages[0].ID
	}
	return result, nil
}

var _ Adapter = (*MetaAdapter)(nil)
