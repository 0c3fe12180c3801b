package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/afformationceo-debug/csflow-sub002/internal/config"
	"github.com/afformationceo-debug/csflow-sub002/internal/models"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newLanguageTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Customer{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

// countingLanguageAPI 호출 횟수를 세는 번역 API
type countingLanguageAPI struct {
	detected   string
	translated string
	translates int32
}

func (a *countingLanguageAPI) Detect(ctx context.Context, text string) (string, error) {
	if a.detected == "" {
		return "", errors.New("detect unavailable")
	}
	return a.detected, nil
}

func (a *countingLanguageAPI) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	atomic.AddInt32(&a.translates, 1)
	return a.translated, nil
}

func newLanguageSvc(db *gorm.DB, api LanguageAPI) *LanguageService {
	return NewLanguageService(db, api, NewMemoryTranslationCache(), config.TranslationConfig{WorkingLanguage: "ko"}, nil)
}

func TestLanguage_SkipsTranslationForWorkingLanguage(t *testing.T) {
	api := &countingLanguageAPI{detected: "ko", translated: "unused"}
	svc := newLanguageSvc(newLanguageTestDB(t), api)

	out, err := svc.TranslateToWorking(context.Background(), "예약하고 싶어요", "ko")
	if err != nil {
		t.Fatalf("TranslateToWorking failed: %v", err)
	}
	if out != "예약하고 싶어요" {
		t.Fatalf("expected passthrough, got %q", out)
	}
	if api.translates != 0 {
		t.Fatalf("working-language text must not hit the API, got %d calls", api.translates)
	}
}

func TestLanguage_TranslationIsCached(t *testing.T) {
	api := &countingLanguageAPI{detected: "ja", translated: "예약할 수 있나요"}
	svc := newLanguageSvc(newLanguageTestDB(t), api)

	for i := 0; i < 3; i++ {
		out, err := svc.TranslateToWorking(context.Background(), "予約できますか", "ja")
		if err != nil {
			t.Fatalf("TranslateToWorking failed: %v", err)
		}
		if out != "예약할 수 있나요" {
			t.Fatalf("unexpected translation: %q", out)
		}
	}
	if api.translates != 1 {
		t.Fatalf("expected 1 API call with cache, got %d", api.translates)
	}

	// 다른 원문은 별도 캐시 키
	if _, err := svc.TranslateToWorking(context.Background(), "営業時間は？", "ja"); err != nil {
		t.Fatalf("TranslateToWorking failed: %v", err)
	}
	if api.translates != 2 {
		t.Fatalf("expected cache miss for new text, got %d calls", api.translates)
	}
}

func TestLanguage_SyncCustomerLanguageOnlyOnDrift(t *testing.T) {
	db := newLanguageTestDB(t)
	svc := newLanguageSvc(db, &countingLanguageAPI{detected: "en"})

	customer := &models.Customer{ID: uuid.New().String(), TenantID: "t1", Language: "en"}
	if err := db.Create(customer).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}

	// 같은 언어면 갱신 없음
	if err := svc.SyncCustomerLanguage(context.Background(), customer, "en"); err != nil {
		t.Fatalf("SyncCustomerLanguage failed: %v", err)
	}

	// 드리프트 시 저장값과 메모리 둘 다 갱신
	if err := svc.SyncCustomerLanguage(context.Background(), customer, "ja"); err != nil {
		t.Fatalf("SyncCustomerLanguage failed: %v", err)
	}
	if customer.Language != "ja" {
		t.Fatalf("expected in-memory drift, got %s", customer.Language)
	}
	var got models.Customer
	db.First(&got, "id = ?", customer.ID)
	if got.Language != "ja" {
		t.Fatalf("expected stored drift, got %s", got.Language)
	}
}

func TestLanguage_DetectEmptyText(t *testing.T) {
	svc := newLanguageSvc(newLanguageTestDB(t), &countingLanguageAPI{detected: "ko"})
	if _, err := svc.Detect(context.Background(), ""); err == nil {
		t.Fatal("expected error on empty text")
	}
}
