// Package metrics 수신 경로의 경량 프로세스 내 카운터.
package metrics

import (
	"sync"
	"sync/atomic"
)

// webhookStats 플랫폼별 웹훅 처리/거부 카운터
type webhookStats struct {
	mu               sync.Mutex
	processed        map[string]uint64
	signatureRejects map[string]uint64
}

var wh webhookStats

// IncWebhookProcessed 플랫폼별 처리 성공 카운트 증가
func IncWebhookProcessed(platform string, n int) {
	if n <= 0 {
		return
	}
	wh.mu.Lock()
	if wh.processed == nil {
		wh.processed = make(map[string]uint64)
	}
	wh.processed[platform] += uint64(n)
	wh.mu.Unlock()
}

// IncSignatureReject 서명 검증 실패 카운트 증가
func IncSignatureReject(platform string) {
	wh.mu.Lock()
	if wh.signatureRejects == nil {
		wh.signatureRejects = make(map[string]uint64)
	}
	wh.signatureRejects[platform]++
	wh.mu.Unlock()
}

// WebhookSnapshot 현재 웹훅 카운터 사본
func WebhookSnapshot() (processed, rejects map[string]uint64) {
	wh.mu.Lock()
	defer wh.mu.Unlock()
	processed = make(map[string]uint64, len(wh.processed))
	for k, v := range wh.processed {
		processed[k] = v
	}
	rejects = make(map[string]uint64, len(wh.signatureRejects))
	for k, v := range wh.signatureRejects {
		rejects[k] = v
	}
	return processed, rejects
}

// rateLimitStats 레이트리밋 드랍(HTTP 429) 카운터
type rateLimitStats struct {
	total    uint64
	mu       sync.Mutex
	byPrefix map[string]uint64
}

var rl rateLimitStats

// IncRateLimitDrop 경로 접두사별 드랍 카운트 증가. 전역 리미터는 "global".
func IncRateLimitDrop(prefix string) {
	if prefix == "" {
		prefix = "global"
	}
	atomic.AddUint64(&rl.total, 1)
	rl.mu.Lock()
	if rl.byPrefix == nil {
		rl.byPrefix = make(map[string]uint64)
	}
	rl.byPrefix[prefix]++
	rl.mu.Unlock()
}

// RateLimitSnapshot 현재 카운터 사본
func RateLimitSnapshot() (total uint64, by map[string]uint64) {
	total = atomic.LoadUint64(&rl.total)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	by = make(map[string]uint64, len(rl.byPrefix))
	for k, v := range rl.byPrefix {
		by[k] = v
	}
	return total, by
}
