package history

import (
	"sync"

	"github.com/park285/Cheese-match-client/pkg/matchdto"
)

// Reconciler owns the move sequence of one session. Live moves that
// arrive before the snapshot is seeded are buffered and replayed on Seed.
type Reconciler struct {
	mu      sync.Mutex
	seeded  bool
	moves   []Move
	rows    []Row
	pending []Move
}

func NewReconciler() *Reconciler { return &Reconciler{} }

// Seed installs the fetched snapshot and replays buffered live moves that
// the snapshot does not already contain. Seeding twice is a no-op.
func (r *Reconciler) Seed(snapshot []Move) []Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seeded {
		return cloneRows(r.rows)
	}
	r.seeded = true
	for _, m := range snapshot {
		r.appendLocked(m)
	}
	pending := r.pending
	r.pending = nil
	for _, m := range pending {
		if r.containsLocked(m) {
			continue
		}
		r.appendLocked(m)
	}
	return cloneRows(r.rows)
}

// Append records a live move. It reports false when the move is buffered
// (not seeded yet) or is a repeat of the latest recorded move.
func (r *Reconciler) Append(m Move) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.seeded {
		r.pending = append(r.pending, m)
		return false
	}
	if r.isTailLocked(m) {
		return false
	}
	r.appendLocked(m)
	return true
}

func (r *Reconciler) appendLocked(m Move) {
	if n := len(r.moves); m.Ply <= 0 {
		m.Ply = n + 1
		if n > 0 && r.moves[n-1].Ply >= m.Ply {
			m.Ply = r.moves[n-1].Ply + 1
		}
	}
	r.moves = append(r.moves, m)
	r.rows = foldOne(r.rows, m)
}

func (r *Reconciler) isTailLocked(m Move) bool {
	n := len(r.moves)
	if n == 0 {
		return false
	}
	return sameMove(r.moves[n-1], m)
}

// containsLocked matches a buffered live move against the snapshot.
func (r *Reconciler) containsLocked(m Move) bool {
	if m.Ply > 0 && len(r.moves) > 0 && m.Ply <= r.moves[len(r.moves)-1].Ply {
		return true
	}
	for _, have := range r.moves {
		if sameMove(have, m) {
			return true
		}
	}
	return false
}

func sameMove(a, b Move) bool {
	if a.Side != b.Side {
		return false
	}
	if a.FEN != "" && b.FEN != "" {
		return a.FEN == b.FEN
	}
	return a.SAN != "" && a.SAN == b.SAN && a.FEN == b.FEN
}

func (r *Reconciler) Rows() []Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneRows(r.rows)
}

func (r *Reconciler) Moves() []Move {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Move, len(r.moves))
	copy(out, r.moves)
	return out
}

func (r *Reconciler) HasMoves() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.moves) > 0
}

func (r *Reconciler) Seeded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seeded
}

// LatestFEN is the board seed: the position after the last known move.
func (r *Reconciler) LatestFEN() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.moves) - 1; i >= 0; i-- {
		if r.moves[i].FEN != "" {
			return r.moves[i].FEN
		}
	}
	return ""
}

// SideToMove derives whose turn it is from the latest position, falling
// back to the opposite of the last mover. ok is false with no moves.
func (r *Reconciler) SideToMove() (matchdto.Color, bool) {
	r.mu.Lock()
	n := len(r.moves)
	var last Move
	if n > 0 {
		last = r.moves[n-1]
	}
	r.mu.Unlock()
	if n == 0 {
		return "", false
	}
	if last.FEN != "" {
		if c, err := SideToMove(last.FEN); err == nil {
			return c, true
		}
	}
	return last.Side.Opposite(), true
}

func cloneRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	copy(out, rows)
	return out
}
