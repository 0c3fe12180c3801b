package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	token    string
	expiresAt time.Time
}

// MemoryProvider 단일 프로세스용 인메모리 락. 테스트에서 TTL 만료를
// 결정적으로 다루기 위해 시계를 주입할 수 있다.
type MemoryProvider struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetClock 테스트용 시계 교체
func (p *MemoryProvider) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

func (p *MemoryProvider) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, held := p.entries[key]; held && p.now().Before(entry.expiresAt) {
		return "", false, nil
	}
	token := uuid.New().String()
	p.entries[key] = memoryEntry{token: token, expiresAt: p.now().Add(ttl)}
	return token, true, nil
}

func (p *MemoryProvider) Release(ctx context.Context, key, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, held := p.entries[key]; held && entry.token == token {
		delete(p.entries, key)
	}
	return nil
}

var _ Provider = (*MemoryProvider)(nil)
