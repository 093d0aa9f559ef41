package game

import "time"

// MatchState is the server-owned lifecycle state of a match (raid).
type MatchState string

const (
	MatchPending   MatchState = "pending"
	MatchCountdown MatchState = "countdown"
	MatchActive    MatchState = "active"
	MatchPaused    MatchState = "paused"
	MatchEndedWin  MatchState = "ended_win"
	MatchEndedLoss MatchState = "ended_loss"
)

// Ended reports whether the match has reached a terminal state.
func (s MatchState) Ended() bool {
	return s == MatchEndedWin || s == MatchEndedLoss
}

// Running reports whether play is underway (countdown, active, or paused).
func (s MatchState) Running() bool {
	return s == MatchCountdown || s == MatchActive || s == MatchPaused
}

// Player is the cached copy of a player row. Owned by the backend; the
// client never mutates it directly except for name/grade staged before
// confirmation.
type Player struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Grade         int    `json:"grade"`
	InMatchID     string `json:"inMatchId,omitempty"`
	TotalPoints   int    `json:"totalPoints"`
	MatchesPlayed int    `json:"matchesPlayed"`
	MatchesWon    int    `json:"matchesWon"`
}

// CurrentMatch returns the id of the match the player currently occupies.
// The two-value form is the only way to ask; an empty id never leaks out
// as a valid match reference.
func (p *Player) CurrentMatch() (string, bool) {
	if p == nil || p.InMatchID == "" {
		return "", false
	}
	return p.InMatchID, true
}

// Match is one timed play session (raid).
type Match struct {
	ID        string     `json:"id"`
	State     MatchState `json:"state"`
	StartedAt time.Time  `json:"startedAt"`
	Track     string     `json:"track"`
	BossHP    int        `json:"bossHp"`
}

// MatchParticipant is the per-player-per-match row.
type MatchParticipant struct {
	MatchID  string `json:"matchId"`
	PlayerID string `json:"playerId"`
	Ready    bool   `json:"ready"`
	Active   bool   `json:"active"`
	Score    int    `json:"score"`
}

// Problem is an ordered unit of gameplay work, unique per
// (player, match, sequence). Immutable once created; the whole match's
// problems arrive in a single prefetch batch.
type Problem struct {
	ID       string `json:"id"`
	PlayerID string `json:"playerId"`
	MatchID  string `json:"matchId"`
	Seq      int    `json:"seq"`
	Left     int    `json:"left"`
	Right    int    `json:"right"`
	Op       string `json:"op"`
}

// Answer is a player's response to a Problem. Append-only, at most one
// per (player, problem).
type Answer struct {
	ProblemID string    `json:"problemId"`
	PlayerID  string    `json:"playerId"`
	MatchID   string    `json:"matchId"`
	Seq       int       `json:"seq"`
	Value     int       `json:"value"`
	Correct   bool      `json:"correct"`
	CreatedAt time.Time `json:"createdAt"`
}

// FactMastery tracks a player's long-lived progress on a single fact
// (e.g. "mul:6x7"). Append/update-only; never deleted by the client.
type FactMastery struct {
	PlayerID string `json:"playerId"`
	FactKey  string `json:"factKey"`
	Track    string `json:"track"`
	State    string `json:"state"`
	Streak   int    `json:"streak"`
}

// Mastery states.
const (
	MasteryLearning   = "learning"
	MasteryPracticing = "practicing"
	MasteryMastered   = "mastered"
)

// PerformanceSnapshot is one historical per-track result row, used for
// personal-best detection.
type PerformanceSnapshot struct {
	ID       string    `json:"id"`
	PlayerID string    `json:"playerId"`
	Track    string    `json:"track"`
	Score    int       `json:"score"`
	Accuracy float64   `json:"accuracy"`
	TakenAt  time.Time `json:"takenAt"`
}
