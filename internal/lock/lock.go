// Package lock 웹훅 중복 전달에 대한 멱등성 락.
//
// 플랫폼 웹훅은 at-least-once 전달이므로 같은 메시지가 동시에 두 번
// 도착할 수 있다. (conversation, message) 키의 락을 AI 호출 전에 잡아
// 메시지당 AI 응답이 최대 1건이 되도록 보장한다. TTL 은 처리 중
// 크래시한 워커의 자가 복구 경계이며, TTL 만료 후 중복 전달이 락을
// 다시 잡는 것은 허용된 제한적 위험이다. 해제는 소유자 토큰을 비교해
// TTL 을 넘긴 느린 워커가 새 소유자의 락을 지우지 못하게 한다.
package lock

import (
	"context"
	"fmt"
	"time"
)

// Provider 분산 상호배제 프리미티브. 운영은 Redis, 테스트는 인메모리 구현을 쓴다.
type Provider interface {
	// Acquire 는 key 가 비어 있으면 ttl 로 잡고 소유자 토큰과 true 를,
	// 이미 잡혀 있으면 false 를 반환한다.
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	// Release 는 key 의 현재 소유자 토큰이 token 과 일치할 때만 락을 지운다.
	Release(ctx context.Context, key, token string) error
}

// MessageKey 인바운드 메시지 처리 락 키
func MessageKey(conversationID, messageID string) string {
	return fmt.Sprintf("webhook:lock:%s:%s", conversationID, messageID)
}

// JobKey 스케줄 잡 중복 실행 방지 락 키
func JobKey(name string) string {
	return fmt.Sprintf("job:lock:%s", name)
}
