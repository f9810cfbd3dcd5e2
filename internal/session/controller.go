package session

import (
	"context"
	"sync"
)

// Builder creates an unopened session for cfg.
type Builder func(cfg Config) *Session

// Controller keeps at most one open session.
// 새 대국을 열기 전에 이전 세션을 먼저 닫는다(구독/시계 정리).
type Controller struct {
	build Builder

	openMu sync.Mutex
	mu     sync.Mutex
	cur    *Session
}

func NewController(build Builder) *Controller {
	return &Controller{build: build}
}

func (c *Controller) Open(ctx context.Context, cfg Config) (*Session, error) {
	c.openMu.Lock()
	defer c.openMu.Unlock()

	c.mu.Lock()
	prev := c.cur
	c.cur = nil
	c.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	s := c.build(cfg)
	if err := s.Open(ctx); err != nil {
		s.Close()
		return nil, err
	}
	c.mu.Lock()
	c.cur = s
	c.mu.Unlock()
	return s, nil
}

// Current returns the open session or nil.
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// CloseCurrent closes the open session, if any.
func (c *Controller) CloseCurrent() {
	c.mu.Lock()
	s := c.cur
	c.cur = nil
	c.mu.Unlock()
	if s != nil {
		s.Close()
	}
}
