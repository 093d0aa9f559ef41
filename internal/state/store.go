// Package state holds the locally-cached, eventually-consistent copy of
// the authoritative game state. The store is single-writer: only the
// sync core's event loop applies changes; hosts read derived views.
package state

import (
	"fmt"
	"sync"

	json "github.com/goccy/go-json"

	"mathraid/internal/game"
	"mathraid/internal/wire"
)

// Table names as they appear on the wire.
const (
	TablePlayer      = "player"
	TableMatch       = "match"
	TableParticipant = "match_participant"
	TableProblem     = "problem"
	TableAnswer      = "answer"
	TableMastery     = "fact_mastery"
	TableSnapshot    = "performance_snapshot"
)

// Store is an explicit, constructor-injected state container. Tests
// instantiate independent stores; nothing here is global.
type Store struct {
	mu sync.RWMutex

	status        ConnStatus
	localPlayerID string

	players      map[string]game.Player
	matches      map[string]game.Match
	participants map[string]map[string]game.MatchParticipant // matchID -> playerID
	answers      map[string]game.Answer                      // problemID
	mastery      map[string]game.FactMastery                 // factKey
	history      map[string]game.PerformanceSnapshot         // snapshot id
	queue        *game.ProblemQueue

	watchers map[int]*watcher
	nextID   int
}

// New returns an empty store in the Disconnected state.
func New() *Store {
	return &Store{
		status:       Disconnected{},
		players:      make(map[string]game.Player),
		matches:      make(map[string]game.Match),
		participants: make(map[string]map[string]game.MatchParticipant),
		answers:      make(map[string]game.Answer),
		mastery:      make(map[string]game.FactMastery),
		history:      make(map[string]game.PerformanceSnapshot),
		queue:        game.NewProblemQueue(),
		watchers:     make(map[int]*watcher),
	}
}

// Status returns the current connection status variant.
func (s *Store) Status() ConnStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetStatus replaces the connection status and notifies watchers.
func (s *Store) SetStatus(st ConnStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
	s.notify(Change{Table: tableStatus})
}

// SetLocalPlayer records the verified identity this session runs as.
func (s *Store) SetLocalPlayer(id string) {
	s.mu.Lock()
	s.localPlayerID = id
	s.mu.Unlock()
}

// LocalPlayerID returns the verified identity, empty before the first
// successful verification.
func (s *Store) LocalPlayerID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localPlayerID
}

// Player returns the cached player row for id.
func (s *Store) Player(id string) (game.Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	return p, ok
}

// LocalPlayer returns the cached row for the verified identity.
func (s *Store) LocalPlayer() (game.Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.localPlayerID == "" {
		return game.Player{}, false
	}
	p, ok := s.players[s.localPlayerID]
	return p, ok
}

// Match returns the cached match row for id.
func (s *Store) Match(id string) (game.Match, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[id]
	return m, ok
}

// Participant returns the cached participant row for (matchID, playerID).
func (s *Store) Participant(matchID, playerID string) (game.MatchParticipant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byPlayer, ok := s.participants[matchID]
	if !ok {
		return game.MatchParticipant{}, false
	}
	mp, ok := byPlayer[playerID]
	return mp, ok
}

// Participants returns all cached participant rows for a match.
func (s *Store) Participants(matchID string) []game.MatchParticipant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []game.MatchParticipant
	for _, mp := range s.participants[matchID] {
		out = append(out, mp)
	}
	return out
}

// ActiveProblem returns the queue's currently active problem.
func (s *Store) ActiveProblem() (game.Problem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queue.Active()
}

// AdvanceProblem moves to the next problem using only the local queue.
func (s *Store) AdvanceProblem() {
	s.mu.Lock()
	s.queue.Advance()
	s.mu.Unlock()
	s.notify(Change{Table: TableProblem})
}

// MarkProblemSubmitted records a locally-submitted answer so the queue
// skips the problem even before the backend confirms it. Survives
// reconnects within the same match, which prevents re-activating (and
// re-submitting) an in-flight answer. Submitting the active problem
// moves activation to the next unanswered one, so callers need no
// separate advance.
func (s *Store) MarkProblemSubmitted(seq int) {
	s.mu.Lock()
	s.queue.MarkAnswered(seq)
	s.mu.Unlock()
	s.notify(Change{Table: TableProblem})
}

// HasAnswer reports whether an answer row for the problem is cached.
func (s *Store) HasAnswer(problemID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.answers[problemID]
	return ok
}

// Mastery returns the cached fact-mastery rows for the local player.
func (s *Store) Mastery() []game.FactMastery {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []game.FactMastery
	for _, m := range s.mastery {
		out = append(out, m)
	}
	return out
}

// History returns the cached performance-snapshot rows.
func (s *Store) History() []game.PerformanceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []game.PerformanceSnapshot
	for _, h := range s.history {
		out = append(out, h)
	}
	return out
}

// Phase derives the current game phase from cached state. Pure with
// respect to the cache contents; no hidden inputs.
func (s *Store) Phase() game.Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var player *game.Player
	if p, ok := s.players[s.localPlayerID]; s.localPlayerID != "" && ok {
		player = &p
	}
	if player == nil {
		return game.DerivePhase(nil, nil, nil)
	}

	var match *game.Match
	var participant *game.MatchParticipant
	if matchID, ok := player.CurrentMatch(); ok {
		if m, ok := s.matches[matchID]; ok {
			match = &m
		}
		if mp, ok := s.participants[matchID][player.ID]; ok {
			participant = &mp
		}
	}
	return game.DerivePhase(player, match, participant)
}

// EvictMatch drops a finished match's rows and resets the problem
// queue. Called once the dynamic scope for the match is torn down.
func (s *Store) EvictMatch(matchID string) {
	s.mu.Lock()
	delete(s.matches, matchID)
	delete(s.participants, matchID)
	for id, a := range s.answers {
		if a.MatchID == matchID {
			delete(s.answers, id)
		}
	}
	s.queue.Reset()
	s.mu.Unlock()
	s.notify(Change{Table: TableMatch})
}

// Apply decodes one wire row event into the cache. Inserts and updates
// are handled identically (the backend does not guarantee which of the
// two fires for a changed row in a filtered scope); both are upserts.
func (s *Store) Apply(ev wire.RowEvent) error {
	switch ev.Table {
	case TablePlayer:
		return applyRow(s, ev, func(p game.Player) string { return p.ID }, s.players)
	case TableMatch:
		return applyRow(s, ev, func(m game.Match) string { return m.ID }, s.matches)
	case TableParticipant:
		var mp game.MatchParticipant
		if err := json.Unmarshal(ev.Row, &mp); err != nil {
			return fmt.Errorf("bad %s row: %w", ev.Table, err)
		}
		s.mu.Lock()
		if ev.Op == wire.OpDelete {
			if byPlayer, ok := s.participants[mp.MatchID]; ok {
				delete(byPlayer, mp.PlayerID)
			}
		} else {
			if s.participants[mp.MatchID] == nil {
				s.participants[mp.MatchID] = make(map[string]game.MatchParticipant)
			}
			s.participants[mp.MatchID][mp.PlayerID] = mp
		}
		s.mu.Unlock()
		s.notify(Change{Table: ev.Table, Op: ev.Op})
		return nil
	case TableProblem:
		var p game.Problem
		if err := json.Unmarshal(ev.Row, &p); err != nil {
			return fmt.Errorf("bad %s row: %w", ev.Table, err)
		}
		if ev.Op == wire.OpDelete {
			return nil // problems are immutable; deletes arrive only on eviction
		}
		s.mu.Lock()
		s.queue.Insert(p)
		s.mu.Unlock()
		s.notify(Change{Table: ev.Table, Op: ev.Op})
		return nil
	case TableAnswer:
		var a game.Answer
		if err := json.Unmarshal(ev.Row, &a); err != nil {
			return fmt.Errorf("bad %s row: %w", ev.Table, err)
		}
		s.mu.Lock()
		if ev.Op == wire.OpDelete {
			delete(s.answers, a.ProblemID)
		} else {
			s.answers[a.ProblemID] = a
			s.queue.MarkAnswered(a.Seq)
		}
		s.mu.Unlock()
		s.notify(Change{Table: ev.Table, Op: ev.Op})
		return nil
	case TableMastery:
		return applyRow(s, ev, func(m game.FactMastery) string { return m.FactKey }, s.mastery)
	case TableSnapshot:
		return applyRow(s, ev, func(h game.PerformanceSnapshot) string { return h.ID }, s.history)
	default:
		return fmt.Errorf("unknown table %q", ev.Table)
	}
}

// applyRow is the shared upsert/delete path for tables keyed by a single
// id.
func applyRow[T any](s *Store, ev wire.RowEvent, key func(T) string, table map[string]T) error {
	var row T
	if err := json.Unmarshal(ev.Row, &row); err != nil {
		return fmt.Errorf("bad %s row: %w", ev.Table, err)
	}
	s.mu.Lock()
	if ev.Op == wire.OpDelete {
		delete(table, key(row))
	} else {
		table[key(row)] = row
	}
	s.mu.Unlock()
	s.notify(Change{Table: ev.Table, Op: ev.Op})
	return nil
}
