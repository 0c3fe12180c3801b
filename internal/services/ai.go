package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/afformationceo-debug/csflow-sub002/internal/config"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HTTPPipelineClient AI 파이프라인 HTTP 클라이언트
type HTTPPipelineClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *logrus.Logger
	tracer   trace.Tracer
}

func NewHTTPPipelineClient(cfg config.AIConfig, logger *logrus.Logger) *HTTPPipelineClient {
	if logger == nil {
		logger = logrus.New()
	}
	return &HTTPPipelineClient{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
		tracer: otel.Tracer("csflow.pipeline"),
	}
}

func (c *HTTPPipelineClient) Process(ctx context.Context, req *PipelineRequest) (*PipelineResponse, error) {
	ctx, span := c.tracer.Start(ctx, "pipeline.process")
	defer span.End()

	span.SetAttributes(
		attribute.String("pipeline.tenant_id", req.TenantID),
		attribute.String("pipeline.conversation_id", req.ConversationID),
	)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal pipeline request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("pipeline request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("pipeline status %d: %s", resp.StatusCode, string(b))
		span.RecordError(err)
		return nil, err
	}

	var out PipelineResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decode pipeline response: %w", err)
	}

	span.SetAttributes(
		attribute.Float64("pipeline.confidence", out.Confidence),
		attribute.Bool("pipeline.should_escalate", out.ShouldEscalate),
	)

	return &out, nil
}
