package mux

import (
	"sync"
	"time"
)

// messageRateLimit is the maximum number of frames per second accepted
// from one connection. Frames beyond this rate are dropped.
const messageRateLimit = 200

// messageRateBurst is the token bucket burst size, allowing short bursts
// of rapid input (e.g. paste operations) before rate limiting kicks in.
const messageRateBurst = 200

// rateLimiter is a token bucket limiter for inbound frames.
type rateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newRateLimiter(rate float64, burst int) *rateLimiter {
	return &rateLimiter{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

// allow returns true if a frame is permitted, consuming one token.
func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.lastRefill = now

	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}

	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}
