package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/Cheese-match-client/internal/history"
	"github.com/park285/Cheese-match-client/pkg/matchdto"
)

// Record is one finished match as seen from this client.
type Record struct {
	MatchID    matchdto.MatchID
	GameType   matchdto.GameType
	WhiteEmail string
	BlackEmail string
	Seat       matchdto.Color
	Result     string
	Reason     string
	Moves      []history.Move
	FinalFEN   string
	ClockSec   int // per-side budget of timed games
	StartedAt  time.Time
	EndedAt    time.Time
}

type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts a finished match. Replays of the same match overwrite.
func (r *Repository) SaveResult(ctx context.Context, rec Record) error {
	if r == nil || r.db == nil || rec.MatchID.IsZero() {
		return nil
	}
	pgnResult := ResultToPGN(rec.Result)
	pgn := BuildPGN(rec, pgnResult)

	san := make([]string, 0, len(rec.Moves))
	for _, m := range rec.Moves {
		san = append(san, m.SAN)
	}
	movesRaw, err := json.Marshal(san)
	if err != nil {
		return fmt.Errorf("encode moves of match %s: %w", rec.MatchID, err)
	}

	duration := rec.EndedAt.Sub(rec.StartedAt).Milliseconds()
	if rec.StartedAt.IsZero() || duration < 0 {
		duration = 0
	}

	q := `INSERT INTO client_matches (
        match_id, game_type, white_email, black_email, seat,
        result, result_pgn, reason, moves_san, final_fen, pgn,
        started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
      ) ON CONFLICT (match_id) DO UPDATE SET
        game_type=EXCLUDED.game_type,
        white_email=EXCLUDED.white_email,
        black_email=EXCLUDED.black_email,
        seat=EXCLUDED.seat,
        result=EXCLUDED.result,
        result_pgn=EXCLUDED.result_pgn,
        reason=EXCLUDED.reason,
        moves_san=EXCLUDED.moves_san,
        final_fen=EXCLUDED.final_fen,
        pgn=EXCLUDED.pgn,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

	_, err = r.db.ExecContext(ctx, q,
		rec.MatchID.String(), string(rec.GameType),
		rec.WhiteEmail, rec.BlackEmail, string(rec.Seat),
		strings.TrimSpace(rec.Result), pgnResult, strings.TrimSpace(rec.Reason),
		string(movesRaw), rec.FinalFEN, pgn,
		nullTime(rec.StartedAt), nullTime(rec.EndedAt), duration,
	)
	if err != nil {
		return fmt.Errorf("archive match %s: %w", rec.MatchID, err)
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// ResultToPGN maps the server's free-text result to a PGN result token.
func ResultToPGN(result string) string {
	s := strings.ToLower(strings.TrimSpace(result))
	switch {
	case strings.HasPrefix(s, "white"):
		return "1-0"
	case strings.HasPrefix(s, "black"):
		return "0-1"
	case strings.Contains(s, "draw"):
		return "1/2-1/2"
	default:
		return "*"
	}
}

func BuildPGN(rec Record, pgnResult string) string {
	var b strings.Builder
	date := rec.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Cheese match\"]\n")
	b.WriteString(fmt.Sprintf("[Site \"match %s\"]\n", sanitizePGN(rec.MatchID.String())))
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(rec.WhiteEmail)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(rec.BlackEmail)))
	if rec.GameType.Timed() && rec.ClockSec > 0 {
		b.WriteString(fmt.Sprintf("[TimeControl \"%d\"]\n", rec.ClockSec))
	}
	if strings.TrimSpace(rec.Reason) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(rec.Reason))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	for _, row := range history.Fold(rec.Moves) {
		if row.White == "" {
			b.WriteString(fmt.Sprintf("%d... %s ", row.No, row.Black))
			continue
		}
		b.WriteString(fmt.Sprintf("%d. %s ", row.No, row.White))
		if row.Black != "" {
			b.WriteString(row.Black)
			b.WriteString(" ")
		}
	}
	b.WriteString(pgnResult)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
