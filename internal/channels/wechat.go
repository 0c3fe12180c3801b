package channels

import (
	"bytes"
	"context"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/afformationceo-debug/csflow-sub002/internal/config"
	"github.com/afformationceo-debug/csflow-sub002/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// WeChatAdapter WeChat 공식 계정 어댑터. 페이로드는 XML 이다.
type WeChatAdapter struct {
	cfg    config.PlatformConfig
	client *http.Client
	logger *logrus.Logger
}

func NewWeChatAdapter(cfg config.PlatformConfig, logger *logrus.Logger) *WeChatAdapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &WeChatAdapter{
		cfg: cfg,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

func (a *WeChatAdapter) Platform() Platform { return PlatformWeChat }

// ValidateSignature signature == sha1(sort(token, timestamp, nonce) join "")
func (a *WeChatAdapter) ValidateSignature(body []byte, params SignatureParams, secrets []string) bool {
	if params.Signature == "" || params.Timestamp == "" || params.Nonce == "" {
		return false
	}
	for _, token := range secrets {
		parts := []string{token, params.Timestamp, params.Nonce}
		sort.Strings(parts)
		sum := sha1.Sum([]byte(strings.Join(parts, "")))
		expected := hex.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(expected), []byte(params.Signature)) == 1 {
			return true
		}
	}
	return false
}

type wechatMessage struct {
	ToUserName   string  `xml:"ToUserName"`
	FromUserName string  `xml:"FromUserName"`
	CreateTime   int64   `xml:"CreateTime"`
	MsgType      string  `xml:"MsgType"`
	Content      string  `xml:"Content"`
	MsgID        string  `xml:"MsgId"`
	PicURL       string  `xml:"PicUrl"`
	MediaID      string  `xml:"MediaId"`
	LocationX    float64 `xml:"Location_X"`
	LocationY    float64 `xml:"Location_Y"`
	Label        string  `xml:"Label"`
}

func (a *WeChatAdapter) ParseWebhook(body []byte) ([]InboundMessage, error) {
	var payload wechatMessage
	if err := xml.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse wechat webhook: %w", err)
	}
	if payload.FromUserName == "" {
		return nil, nil
	}

	msg := InboundMessage{
		Platform:      PlatformWeChat,
		DestinationID: payload.ToUserName,
		UserID:        payload.FromUserName,
		MessageID:     payload.MsgID,
		Timestamp:     time.Unix(payload.CreateTime, 0),
	}

	switch payload.MsgType {
	case "text":
		msg.ContentType = ContentText
		msg.Text = payload.Content
	case "image":
		msg.ContentType = ContentImage
		msg.MediaURL = payload.PicURL
	case "voice":
		msg.ContentType = ContentAudio
		msg.Metadata = map[string]interface{}{"media_id": payload.MediaID}
	case "video":
		msg.ContentType = ContentVideo
		msg.Metadata = map[string]interface{}{"media_id": payload.MediaID}
	case "location":
		msg.ContentType = ContentLocation
		msg.Metadata = map[string]interface{}{
			"latitude":  payload.LocationX,
			"longitude": payload.LocationY,
			"label":     payload.Label,
		}
	default:
		a.logger.Debugf("Skipping unsupported WeChat message type: %s", payload.MsgType)
		return nil, nil
	}

	return []InboundMessage{msg}, nil
}

// GetUserProfile GET /cgi-bin/user/info
func (a *WeChatAdapter) GetUserProfile(ctx context.Context, account *models.ChannelAccount, externalUserID string) (*UserProfile, error) {
	url := fmt.Sprintf("%s/cgi-bin/user/info?access_token=%s&openid=%s&lang=zh_CN", a.cfg.APIBaseURL, a.cfg.AccessToken, externalUserID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wechat profile request: %w", err)
	}
	defer resp.Body.Close()

	var p struct {
		Nickname   string `json:"nickname"`
		HeadImgURL string `json:"headimgurl"`
		ErrCode    int    `json:"errcode"`
		ErrMsg     string `json:"errmsg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, err
	}
	if p.ErrCode != 0 {
		return nil, fmt.Errorf("wechat profile error %d: %s", p.ErrCode, p.ErrMsg)
	}
	return &UserProfile{DisplayName: p.Nickname, PictureURL: p.HeadImgURL}, nil
}

func (a *WeChatAdapter) Send(ctx context.Context, account *models.ChannelAccount, externalUserID string, out *OutboundMessage) (*SendResult, error) {
	payload := map[string]interface{}{
		"touser":  externalUserID,
		"msgtype": "text",
		"text":    map[string]string{"content": out.Text},
	}
	b, _ := json.Marshal(payload)

	url := fmt.Sprintf("%s/cgi-bin/message/custom/send?access_token=%s", a.cfg.APIBaseURL, a.cfg.AccessToken)
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

	body, _ := io.ReadAll(resp.Body)
	var r struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	_ = json.Unmarshal(body, &r)
	if resp.StatusCode != http.StatusOK || r.ErrCode != 0 {
		return &SendResult{Success: false, Error: fmt.Sprintf("status %d, errcode %d: %s", resp.StatusCode, r.ErrCode, r.ErrMsg)}, nil
	}
	return &SendResult{Success: true}, nil
}

var _ Adapter = (*WeChatAdapter)(nil)
