package console

import (
	"context"
	"strings"
	"sync"

	"github.com/park285/Cheese-match-client/pkg/matchdto"
)

// Prompter asks draw questions on the console. The command loop hands
// y/n lines to Answer while a question is open.
type Prompter struct {
	p *Presenter

	mu      sync.Mutex
	waiting chan bool
}

func NewPrompter(p *Presenter) *Prompter {
	return &Prompter{p: p}
}

func (q *Prompter) ConfirmDraw(ctx context.Context, from matchdto.Color) bool {
	ch := make(chan bool, 1)
	q.mu.Lock()
	if q.waiting != nil {
		q.mu.Unlock()
		return false
	}
	q.waiting = ch
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		if q.waiting == ch {
			q.waiting = nil
		}
		q.mu.Unlock()
	}()

	q.p.Say(q.p.f.DrawPrompt(from))
	select {
	case ok := <-ch:
		return ok
	case <-ctx.Done():
		return false
	}
}

// Pending은 응답 대기 중인 질문이 있는지 반환.
func (q *Prompter) Pending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiting != nil
}

// Answer consumes line when it is a yes/no reply to an open question.
func (q *Prompter) Answer(line string) bool {
	var v bool
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		v = true
	case "n", "no":
		v = false
	default:
		return false
	}
	q.mu.Lock()
	ch := q.waiting
	q.waiting = nil
	q.mu.Unlock()
	if ch == nil {
		return false
	}
	ch <- v
	return true
}
