package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/Cheese-match-client/pkg/matchdto"
)

const defaultTTL = 6 * time.Hour

// ActiveMatch is what a restarted client needs to rejoin.
type ActiveMatch struct {
	MatchID  matchdto.MatchID  `json:"matchId"`
	Seat     matchdto.Color    `json:"seat"`
	GameType matchdto.GameType `json:"gameType"`
	SavedAt  time.Time         `json:"savedAt"`
}

// Store keeps resume state per identity in Redis.
type Store struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func New(rdb *redis.Client, prefix string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *Store) keyActive(identity string) string {
	return s.prefix + "cmc:active:" + strings.TrimSpace(identity)
}

func (s *Store) keyPending(identity string) string {
	return s.prefix + "cmc:pending:" + strings.TrimSpace(identity)
}

func (s *Store) SaveActive(ctx context.Context, identity string, m ActiveMatch) error {
	if strings.TrimSpace(identity) == "" || m.MatchID.IsZero() {
		return nil
	}
	if m.SavedAt.IsZero() {
		m.SavedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.keyActive(identity), raw, s.ttl).Err()
}

// LoadActive returns nil, nil when nothing is saved.
func (s *Store) LoadActive(ctx context.Context, identity string) (*ActiveMatch, error) {
	raw, err := s.rdb.Get(ctx, s.keyActive(identity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m ActiveMatch
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ClearActive removes the saved match only if it is still id.
// 늦게 도착한 이전 세션의 정리 요청이 새 대국 기록을 지우지 않도록 id를 비교한다.
func (s *Store) ClearActive(ctx context.Context, identity string, id matchdto.MatchID) error {
	cur, err := s.LoadActive(ctx, identity)
	if err != nil || cur == nil {
		return err
	}
	if !id.IsZero() && cur.MatchID != id {
		return nil
	}
	return s.rdb.Del(ctx, s.keyActive(identity)).Err()
}

func (s *Store) SavePending(ctx context.Context, identity string, kind matchdto.GameType, id matchdto.MatchID) error {
	if strings.TrimSpace(identity) == "" || id.IsZero() {
		return nil
	}
	key := s.keyPending(identity)
	if err := s.rdb.HSet(ctx, key, string(kind), id.String()).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, key, s.ttl).Err()
}

func (s *Store) ClearPending(ctx context.Context, identity string, kind matchdto.GameType) error {
	if strings.TrimSpace(identity) == "" {
		return nil
	}
	return s.rdb.HDel(ctx, s.keyPending(identity), string(kind)).Err()
}

// Pending lists search shells left behind by an earlier run.
func (s *Store) Pending(ctx context.Context, identity string) (map[matchdto.GameType]matchdto.MatchID, error) {
	raw, err := s.rdb.HGetAll(ctx, s.keyPending(identity)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[matchdto.GameType]matchdto.MatchID, len(raw))
	for k, v := range raw {
		if strings.TrimSpace(v) == "" {
			continue
		}
		out[matchdto.GameType(k)] = matchdto.MatchID(v)
	}
	return out, nil
}
