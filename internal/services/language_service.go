package services

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/afformationceo-debug/csflow-sub002/internal/config"
	"github.com/afformationceo-debug/csflow-sub002/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"
)

// LanguageAPI 언어 감지/번역 엔진 계약(외부 협력자)
type LanguageAPI interface {
	Detect(ctx context.Context, text string) (string, error)
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// TranslationCache 번역 결과 캐시
type TranslationCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
}

// LanguageService 언어 감지, 고객 언어 드리프트 반영, 작업 언어 번역.
// 번역 실패는 비치명적이며 원문으로 계속 진행한다.
type LanguageService struct {
	db       *gorm.DB
	api      LanguageAPI
	cache    TranslationCache
	working  string
	cacheTTL time.Duration
	logger   *logrus.Logger
}

func NewLanguageService(db *gorm.DB, api LanguageAPI, cache TranslationCache, cfg config.TranslationConfig, logger *logrus.Logger) *LanguageService {
	if logger == nil {
		logger = logrus.New()
	}
	working := cfg.WorkingLanguage
	if working == "" {
		working = "ko"
	}
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &LanguageService{
		db:       db,
		api:      api,
		cache:    cache,
		working:  working,
		cacheTTL: ttl,
		logger:   logger,
	}
}

func (s *LanguageService) WorkingLanguage() string { return s.working }

// Detect 텍스트 언어 감지
func (s *LanguageService) Detect(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", fmt.Errorf("empty text")
	}
	return s.api.Detect(ctx, text)
}

// SyncCustomerLanguage 감지 언어가 저장값과 다르면 갱신(드리프트 허용)
func (s *LanguageService) SyncCustomerLanguage(ctx context.Context, customer *models.Customer, detected string) error {
	if detected == "" || customer.Language == detected {
		return nil
	}
	if err := s.db.WithContext(ctx).Model(&models.Customer{}).
		Where("id = ?", customer.ID).
		Update("language", detected).Error; err != nil {
		return fmt.Errorf("update customer language: %w", err)
	}
	s.logger.Infof("Customer %s language drifted %s -> %s", customer.ID, customer.Language, detected)
	customer.Language = detected
	return nil
}

// TranslateToWorking 작업 언어로 번역. 이미 작업 언어면 원문 그대로 반환.
func (s *LanguageService) TranslateToWorking(ctx context.Context, text, sourceLang string) (string, error) {
	if text == "" || sourceLang == s.working {
		return text, nil
	}

	key := translationCacheKey(text, sourceLang, s.working)
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, key); ok {
			return cached, nil
		}
	}

	translated, err := s.api.Translate(ctx, text, sourceLang, s.working)
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		s.cache.Set(ctx, key, translated, s.cacheTTL)
	}
	return translated, nil
}

func translationCacheKey(text, src, dst string) string {
	sum := sha1.Sum([]byte(text + "|" + src + "|" + dst))
	return "translation:" + src + ":" + dst + ":" + hex.EncodeToString(sum[:])
}

// HTTPLanguageAPI 번역 엔진 HTTP 클라이언트
type HTTPLanguageAPI struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPLanguageAPI(cfg config.TranslationConfig) *HTTPLanguageAPI {
	return &HTTPLanguageAPI{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (a *HTTPLanguageAPI) Detect(ctx context.Context, text string) (string, error) {
	var out struct {
		Language string `json:"language"`
	}
	if err := a.post(ctx, "/detect", map[string]string{"text": text}, &out); err != nil {
		return "", err
	}
	return out.Language, nil
}

func (a *HTTPLanguageAPI) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	req := map[string]string{"text": text, "source": sourceLang, "target": targetLang}
	if err := a.post(ctx, "/translate", req, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

func (a *HTTPLanguageAPI) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("translation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("translation status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ LanguageAPI = (*HTTPLanguageAPI)(nil)

// RedisTranslationCache Redis 기반 번역 캐시
type RedisTranslationCache struct {
	rdb    *redis.Client
	logger *logrus.Logger
}

func NewRedisTranslationCache(rdb *redis.Client, logger *logrus.Logger) *RedisTranslationCache {
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisTranslationCache{rdb: rdb, logger: logger}
}

func (c *RedisTranslationCache) Get(ctx context.Context, key string) (string, bool) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return v, true
}

func (c *RedisTranslationCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warnf("Failed to cache translation: %v", err)
	}
}

var _ TranslationCache = (*RedisTranslationCache)(nil)

// MemoryTranslationCache 테스트용 인메모리 캐시
type MemoryTranslationCache struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewMemoryTranslationCache() *MemoryTranslationCache {
	return &MemoryTranslationCache{entries: make(map[string]string)}
}

func (c *MemoryTranslationCache) Get(ctx context.Context, key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *MemoryTranslationCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
}

var _ TranslationCache = (*MemoryTranslationCache)(nil)
