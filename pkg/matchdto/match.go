package matchdto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GameType selects the time control of a match.
type GameType string

const (
	GameStandard GameType = "STANDARD"
	GameRapid    GameType = "RAPID"
)

// ParseGameType accepts "standard"/"rapid" in any case. Empty means STANDARD.
func ParseGameType(s string) (GameType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(GameStandard):
		return GameStandard, nil
	case string(GameRapid):
		return GameRapid, nil
	default:
		return "", fmt.Errorf("unknown game type %q", s)
	}
}

// Timed reports whether clocks run for this game type.
func (g GameType) Timed() bool { return g == GameRapid }

type MatchStatus string

const (
	StatusCreated    MatchStatus = "CREATED"
	StatusInProgress MatchStatus = "IN_PROGRESS"
	StatusFinished   MatchStatus = "FINISHED"
	StatusCancelled  MatchStatus = "CANCELLED"
)

// Color is a seat. Wire payloads use lowercase for playerColor and
// uppercase for history rows; both are accepted on input.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func ParseColor(s string) (Color, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White, true
	case "black", "b":
		return Black, true
	default:
		return "", false
	}
}

func (c Color) Opposite() Color {
	if c == White {
		return Black
	}
	return White
}

// Side returns the uppercase form used by move history.
func (c Color) Side() string { return strings.ToUpper(string(c)) }

func (c Color) Valid() bool { return c == White || c == Black }

// MatchID is opaque. The server emits numeric ids; strings are tolerated.
type MatchID string

func (id MatchID) String() string { return string(id) }

func (id MatchID) IsZero() bool { return strings.TrimSpace(string(id)) == "" }

func (id *MatchID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = MatchID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("match id: %w", err)
	}
	*id = MatchID(n.String())
	return nil
}

// MarshalJSON keeps numeric ids numeric so the server can bind them to a long.
func (id MatchID) MarshalJSON() ([]byte, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return []byte(s), nil
	}
	return json.Marshal(s)
}

// Match is the REST shape of a match.
type Match struct {
	ID             MatchID     `json:"id"`
	CreatedByEmail string      `json:"createdByEmail"`
	OpponentEmail  string      `json:"opponentEmail,omitempty"`
	Status         MatchStatus `json:"status"`
	GameType       GameType    `json:"gameType,omitempty"`
	Result         string      `json:"result,omitempty"`
	CreatedAt      *time.Time  `json:"createdAt,omitempty"`
	UpdatedAt      *time.Time  `json:"updatedAt,omitempty"`
}

// HasOpponent reports whether the second seat is filled.
func (m *Match) HasOpponent() bool {
	return m != nil && strings.TrimSpace(m.OpponentEmail) != ""
}

// Started reports an in-progress match with both seats filled.
func (m *Match) Started() bool {
	return m != nil && m.Status == StatusInProgress && m.HasOpponent()
}

func (m *Match) Terminal() bool {
	if m == nil {
		return false
	}
	return strings.TrimSpace(m.Result) != "" || m.Status == StatusFinished || m.Status == StatusCancelled
}

// User is the /users/me shape.
type User struct {
	ID       int64  `json:"id,omitempty"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
}
