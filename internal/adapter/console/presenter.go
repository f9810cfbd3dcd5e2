package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/park285/Cheese-match-client/internal/history"
	"github.com/park285/Cheese-match-client/internal/session"
	"github.com/park285/Cheese-match-client/pkg/matchdto"
)

// Presenter writes lines to the console. Hooks from several goroutines
// share it, so writes are serialized.
type Presenter struct {
	mu  sync.Mutex
	out io.Writer
	f   *Formatter
}

func NewPresenter(out io.Writer, f *Formatter) *Presenter {
	return &Presenter{out: out, f: f}
}

func (p *Presenter) Formatter() *Formatter { return p.f }

func (p *Presenter) Say(text string) {
	if p == nil || strings.TrimSpace(text) == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.out, text)
}

func (p *Presenter) Key(key string, data map[string]any) {
	p.Say(p.f.Text(key, data))
}

func (p *Presenter) Notice(n session.Notice) {
	p.Say(p.f.Notice(n))
}

func (p *Presenter) Error(err error) {
	p.Say(p.f.Error(err))
}

// Hooks renders every session event on the console.
func (p *Presenter) Hooks() session.Hooks {
	return session.Hooks{
		OnMove:   func(m history.Move) { p.Say(p.f.Move(m)) },
		OnNotice: p.Notice,
		OnChat:   func(msg matchdto.ChatMessage) { p.Say(p.f.Chat(msg)) },
	}
}
