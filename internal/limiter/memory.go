package limiter

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	fails        int
	updatedAt    time.Time
	blockedUntil time.Time
}

// Memory is an in-process Limiter with the same rules as PG. State is lost on
// restart; it backs tests and single-instance development servers.
type Memory struct {
	mu       sync.Mutex
	now      func() time.Time
	window   time.Duration
	maxFails int
	blockFor time.Duration
	entries  map[string]*counter
}

// NewMemory returns an empty in-process limiter.
func NewMemory(window time.Duration, maxFails int, blockFor time.Duration) *Memory {
	return &Memory{
		now:      time.Now,
		window:   window,
		maxFails: maxFails,
		blockFor: blockFor,
		entries:  make(map[string]*counter),
	}
}

func key(email string, ipHash []byte) string { return email + "\x00" + string(ipHash) }

// Allow implements Limiter.
func (m *Memory) Allow(_ context.Context, email string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.entries[key(email, ipHash)]
	if !ok {
		return true, 0, nil
	}
	if wait := c.blockedUntil.Sub(m.now()); wait > 0 {
		return false, wait, nil
	}
	return true, 0, nil
}

// Success implements Limiter.
func (m *Memory) Success(_ context.Context, email string, ipHash []byte) error {
	m.mu.Lock()
	delete(m.entries, key(email, ipHash))
	m.mu.Unlock()
	return nil
}

// Failure implements Limiter.
func (m *Memory) Failure(_ context.Context, email string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	k := key(email, ipHash)
	c, ok := m.entries[k]
	if !ok {
		c = &counter{}
		m.entries[k] = c
	}
	if now.Sub(c.updatedAt) > m.window {
		c.fails = 0
	}
	c.fails++
	c.updatedAt = now
	if c.fails < m.maxFails {
		return false, 0, nil
	}
	c.fails = 0
	c.blockedUntil = now.Add(m.blockFor)
	return true, m.blockFor, nil
}
