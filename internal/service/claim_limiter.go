package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultClaimWindow   = time.Minute
	defaultClaimAttempts = 10
)

// ClaimLimiter cuenta los intentos de alias de cada sesion en una ventana fija.
// Forget se llama cuando la sesion se libera; el id no vuelve a usarse con ese contador.
type ClaimLimiter interface {
	Allow(ctx context.Context, sessionID string) (bool, error)
	Forget(ctx context.Context, sessionID string) error
}

type claimWindow struct {
	attempts int
	resetAt  time.Time
}

type memoryClaimLimiter struct {
	mu        sync.Mutex
	window    time.Duration
	max       int
	now       func() time.Time
	sessions  map[string]*claimWindow
	nextPrune time.Time
}

func NewMemoryClaimLimiter(window time.Duration, max int) ClaimLimiter {
	if window <= 0 {
		window = defaultClaimWindow
	}
	if max <= 0 {
		max = defaultClaimAttempts
	}
	return &memoryClaimLimiter{
		window:   window,
		max:      max,
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]*claimWindow),
	}
}

func (l *memoryClaimLimiter) Allow(_ context.Context, sessionID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	w, ok := l.sessions[sessionID]
	if !ok || !now.Before(w.resetAt) {
		w = &claimWindow{resetAt: now.Add(l.window)}
		l.sessions[sessionID] = w
	}
	if w.attempts >= l.max {
		return false, nil
	}
	w.attempts++
	return true, nil
}

func (l *memoryClaimLimiter) Forget(_ context.Context, sessionID string) error {
	l.mu.Lock()
	delete(l.sessions, sessionID)
	l.mu.Unlock()
	return nil
}

// pruneLocked descarta, como mucho una vez por ventana, los contadores ya vencidos.
func (l *memoryClaimLimiter) pruneLocked(now time.Time) {
	if now.Before(l.nextPrune) {
		return
	}
	for id, w := range l.sessions {
		if !now.Before(w.resetAt) {
			delete(l.sessions, id)
		}
	}
	l.nextPrune = now.Add(l.window)
}

// KEYS[1] contador de la sesion. ARGV: [1] ventana en ms, [2] maximo.
const redisClaimAttemptScript = `
local attempts = redis.call("INCR", KEYS[1])
if attempts == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if attempts > tonumber(ARGV[2]) then
  return 0
end
return 1
`

const redisClaimAttemptPrefix = "claim:attempts:"

type claimCounterClient interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// redisClaimLimiter comparte los contadores entre instancias del servidor.
type redisClaimLimiter struct {
	client claimCounterClient
	window time.Duration
	max    int
}

func NewRedisClaimLimiter(client *redis.Client, window time.Duration, max int) ClaimLimiter {
	if window <= 0 {
		window = defaultClaimWindow
	}
	if max <= 0 {
		max = defaultClaimAttempts
	}
	return &redisClaimLimiter{client: client, window: window, max: max}
}

func (l *redisClaimLimiter) Allow(ctx context.Context, sessionID string) (bool, error) {
	allowed, err := l.client.Eval(ctx, redisClaimAttemptScript, []string{redisClaimAttemptPrefix + sessionID},
		l.window.Milliseconds(), l.max).Int()
	if err != nil {
		return false, fmt.Errorf("count claim attempt: %w", err)
	}
	return allowed == 1, nil
}

func (l *redisClaimLimiter) Forget(ctx context.Context, sessionID string) error {
	if err := l.client.Del(ctx, redisClaimAttemptPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("forget claim attempts: %w", err)
	}
	return nil
}
