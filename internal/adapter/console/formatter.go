package console

import (
	"errors"
	"strings"

	"github.com/park285/Cheese-match-client/internal/clock"
	"github.com/park285/Cheese-match-client/internal/history"
	"github.com/park285/Cheese-match-client/internal/matchapi"
	"github.com/park285/Cheese-match-client/internal/msgcat"
	"github.com/park285/Cheese-match-client/internal/session"
	"github.com/park285/Cheese-match-client/pkg/matchdto"
)

const recentMovesLimit = 4

// Formatter renders session state and errors into console lines through the
// message catalog.
type Formatter struct {
	cat *msgcat.Catalog
}

func NewFormatter(cat *msgcat.Catalog) *Formatter {
	return &Formatter{cat: cat}
}

func (f *Formatter) Text(key string, data map[string]any) string {
	return f.cat.Text(key, data)
}

func (f *Formatter) Help() string { return f.cat.Text("help", nil) }

func (f *Formatter) Notice(n session.Notice) string {
	return f.cat.Text(n.Key, n.Data)
}

// Status is the multi-line answer to the status command.
func (f *Formatter) Status(v session.View) string {
	var sb strings.Builder
	sb.WriteString(f.cat.Text("session.summary", map[string]any{
		"MatchID": v.MatchID.String(),
		"Seat":    string(v.Seat),
		"Phase":   string(v.Phase),
		"MyTurn":  v.MyTurn,
	}))
	sb.WriteByte('\n')
	sb.WriteString(f.Turn(v))
	if v.Clock.Timed {
		sb.WriteByte('\n')
		sb.WriteString(f.Clock(v.Clock))
	}
	if len(v.Rows) > 0 {
		sb.WriteByte('\n')
		sb.WriteString(formatRecentMoves(v.Rows))
	}
	return sb.String()
}

// Turn is the one-line turn banner.
func (f *Formatter) Turn(v session.View) string {
	switch {
	case v.Phase == session.PhaseFinished:
		return f.cat.Text("session.game_over", map[string]any{"Result": v.Result})
	case v.Phase == session.PhaseAwaitingOpponent:
		return f.cat.Text("session.waiting_join", nil)
	case v.MyTurn:
		return f.cat.Text("session.your_turn", nil)
	default:
		return f.cat.Text("session.waiting", nil)
	}
}

func (f *Formatter) Clock(st clock.State) string {
	return f.cat.Text("session.clock", map[string]any{
		"White": clock.Format(st.White),
		"Black": clock.Format(st.Black),
	})
}

func (f *Formatter) Moves(rows []history.Row) string {
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		white := r.White
		if white == "" {
			white = "..."
		}
		line := f.cat.Text("session.row", map[string]any{"No": r.No, "White": white, "Black": r.Black})
		lines = append(lines, strings.TrimSpace(line))
	}
	return strings.Join(lines, "\n")
}

func (f *Formatter) Move(m history.Move) string {
	return f.cat.Text("session.move_played", map[string]any{"Side": m.Side.Side(), "SAN": m.SAN})
}

func (f *Formatter) Chat(msg matchdto.ChatMessage) string {
	return f.cat.Text("session.chat", map[string]any{"From": msg.From, "Message": msg.Message})
}

func (f *Formatter) Games(list []matchdto.Match) string {
	lines := make([]string, 0, len(list))
	for _, m := range list {
		lines = append(lines, f.cat.Text("session.game", map[string]any{
			"MatchID":  m.ID.String(),
			"GameType": string(m.GameType),
			"Status":   string(m.Status),
			"White":    orDash(m.CreatedByEmail),
			"Black":    orDash(m.OpponentEmail),
			"Result":   m.Result,
		}))
	}
	return strings.Join(lines, "\n")
}

func (f *Formatter) DrawPrompt(from matchdto.Color) string {
	return f.cat.Text("session.draw_prompt", map[string]any{"From": from.Side()})
}

// Error maps local rejections and HTTP failures to catalog lines.
func (f *Formatter) Error(err error) string {
	if err == nil {
		return ""
	}
	var rej *session.ActionRejected
	if errors.As(err, &rej) {
		switch {
		case errors.Is(err, session.ErrNotConnected):
			return f.cat.Text("action.rejected.not_connected", nil)
		case errors.Is(err, session.ErrMatchOver):
			return f.cat.Text("action.rejected.match_over", nil)
		case errors.Is(err, session.ErrNotYourTurn):
			return f.cat.Text("action.rejected.not_your_turn", nil)
		case errors.Is(err, session.ErrClosed):
			return f.cat.Text("session.no_session", nil)
		}
	}
	if errors.Is(err, matchapi.ErrAuth) {
		return f.cat.Text("error.auth", nil)
	}
	var he *matchapi.HTTPError
	if errors.As(err, &he) {
		return f.cat.Text("error.http", map[string]any{"Status": he.Status, "Body": he.Body})
	}
	return f.cat.Text("error.generic", map[string]any{"Error": err.Error()})
}

func formatRecentMoves(rows []history.Row) string {
	var sans []string
	for _, r := range rows {
		if r.White != "" {
			sans = append(sans, r.White)
		}
		if r.Black != "" {
			sans = append(sans, r.Black)
		}
	}
	if len(sans) <= recentMovesLimit {
		return strings.Join(sans, " ")
	}
	return "… " + strings.Join(sans[len(sans)-recentMovesLimit:], " ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
