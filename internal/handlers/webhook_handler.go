package handlers

import (
	"io"
	"net/http"

	"github.com/afformationceo-debug/csflow-sub002/internal/channels"
	"github.com/afformationceo-debug/csflow-sub002/internal/config"
	"github.com/afformationceo-debug/csflow-sub002/internal/metrics"
	"github.com/afformationceo-debug/csflow-sub002/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// WebhookHandler 플랫폼 웹훅 수신 처리기. 서명이 틀리면 요청 전체를
// 거부하고, 파싱된 메시지는 서로 독립적으로 처리한다(한 건 실패가
// 배치를 실패시키지 않는다).
type WebhookHandler struct {
	registry *channels.Registry
	inbound  *services.InboundService
	cfg      config.ChannelsConfig
	logger   *logrus.Logger
}

func NewWebhookHandler(registry *channels.Registry, inbound *services.InboundService, cfg config.ChannelsConfig, logger *logrus.Logger) *WebhookHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &WebhookHandler{
		registry: registry,
		inbound:  inbound,
		cfg:      cfg,
		logger:   logger,
	}
}

// secretsFor 패밀리별 서명 시크릿. 서브 플랫폼이 별도 앱인 경우를 위해
// 플랫폼당 여러 시크릿을 허용한다.
func (h *WebhookHandler) secretsFor(family string) []string {
	switch family {
	case "line":
		return h.cfg.Line.Secrets
	case "meta", "facebook", "instagram", "whatsapp":
		return h.cfg.Meta.Secrets
	case "kakao":
		return h.cfg.Kakao.Secrets
	case "wechat":
		return h.cfg.WeChat.Secrets
	default:
		return nil
	}
}

func signatureParams(c *gin.Context, family string) channels.SignatureParams {
	switch family {
	case "line":
		return channels.SignatureParams{Signature: c.GetHeader("X-Line-Signature")}
	case "meta", "facebook", "instagram", "whatsapp":
		return channels.SignatureParams{Signature: c.GetHeader("X-Hub-Signature-256")}
	case "kakao":
		return channels.SignatureParams{Signature: c.GetHeader("X-Kakao-Signature")}
	case "wechat":
		return channels.SignatureParams{
			Signature: c.Query("signature"),
			Timestamp: c.Query("timestamp"),
			Nonce:     c.Query("nonce"),
		}
	default:
		return channels.SignatureParams{}
	}
}

// Receive 웹훅 POST 수신
// @Router /webhooks/{platform} [post]
func (h *WebhookHandler) Receive(c *gin.Context) {
	family := c.Param("platform")
	adapter, ok := h.registry.ForFamily(family)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Unknown platform", Message: family})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to read body", Message: err.Error()})
		return
	}

	if !adapter.ValidateSignature(body, signatureParams(c, family), h.secretsFor(family)) {
		metrics.IncSignatureReject(family)
		h.logger.Warnf("Invalid %s webhook signature from %s", family, c.ClientIP())
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid signature"})
		return
	}

	messages, err := adapter.ParseWebhook(body)
	if err != nil {
		h.logger.Errorf("Failed to parse %s webhook: %v", family, err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to parse webhook", Message: err.Error()})
		return
	}

	// 0건 파싱은 정상 no-op (팔로우/구독 등 비메시지 이벤트)
	processed, failed := 0, 0
	for i := range messages {
		if err := h.inbound.ProcessInbound(c.Request.Context(), adapter, &messages[i]); err != nil {
			h.logger.Errorf("Failed to process %s message %s: %v", family, messages[i].MessageID, err)
			failed++
			continue
		}
		processed++
	}
	metrics.IncWebhookProcessed(family, processed)

	c.JSON(http.StatusOK, gin.H{"processed": processed, "failed": failed})
}

// Verify 구독 핸드셰이크 GET. Meta 는 verify token 일치 시 hub.challenge 를,
// WeChat 은 서명 검증 후 echostr 를 그대로 돌려준다.
// @Router /webhooks/{platform} [get]
func (h *WebhookHandler) Verify(c *gin.Context) {
	family := c.Param("platform")
	switch family {
	case "meta", "facebook", "instagram", "whatsapp":
		if h.registry.Meta == nil {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Unknown platform", Message: family})
			return
		}
		mode := c.Query("hub.mode")
		token := c.Query("hub.verify_token")
		if mode == "subscribe" && token != "" && token == h.registry.Meta.VerifyToken() {
			c.String(http.StatusOK, c.Query("hub.challenge"))
			return
		}
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "Verification failed"})
	case "wechat":
		adapter, ok := h.registry.ForFamily(family)
		if !ok {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Unknown platform", Message: family})
			return
		}
		if adapter.ValidateSignature(nil, signatureParams(c, family), h.secretsFor(family)) {
			c.String(http.StatusOK, c.Query("echostr"))
			return
		}
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "Verification failed"})
	default:
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "No verification for platform", Message: family})
	}
}
