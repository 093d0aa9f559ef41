package client

import (
	"time"

	"mathraid/internal/game"
	"mathraid/internal/state"
)

// Reducer argument records. Mutations are fire-and-forget: outcomes are
// observed via subsequent cache events, never a return value.

type playerArgs struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name,omitempty"`
	Grade    int    `json:"grade,omitempty"`
}

type startMatchArgs struct {
	PlayerID string `json:"playerId"`
}

type submitAnswerArgs struct {
	PlayerID  string `json:"playerId"`
	ProblemID string `json:"problemId"`
	MatchID   string `json:"matchId"`
	Seq       int    `json:"seq"`
	Value     int    `json:"value"`
}

type leaveMatchArgs struct {
	PlayerID string `json:"playerId"`
}

type setGradeArgs struct {
	PlayerID string `json:"playerId"`
	Grade    int    `json:"grade"`
}

type setNameArgs struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
}

// connected returns the live transport, or ErrNotConnected. Entering
// Connected is the single point after which commands may flow.
func (c *Core) connected() (Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.store.Status().(state.Connected); !ok || c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// StartMatch captures the progression snapshot and asks the backend to
// start (or join) a match. The snapshot is taken immediately before the
// command is sent and held immutable for the match's duration.
func (c *Core) StartMatch() error {
	conn, err := c.connected()
	if err != nil {
		return err
	}
	p, ok := c.store.LocalPlayer()
	if !ok {
		return ErrNotConnected
	}

	pre := game.CaptureProgression(&p, c.store.Mastery(), c.store.History(), time.Now())
	c.mu.Lock()
	c.preMatch = &pre
	c.mu.Unlock()

	return conn.Call("start_match", startMatchArgs{PlayerID: p.ID})
}

// PreMatchProgression returns the snapshot captured by the last
// StartMatch, for end-of-match before/after reporting.
func (c *Core) PreMatchProgression() (game.Progression, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.preMatch == nil {
		return game.Progression{}, false
	}
	return *c.preMatch, true
}

// SubmitAnswer submits the given value for the active problem and
// advances the local queue immediately, without waiting for the backend
// to acknowledge. The backend is the final arbiter of accepted answers
// regardless of what the client assumed.
func (c *Core) SubmitAnswer(value int) error {
	conn, err := c.connected()
	if err != nil {
		return err
	}
	prob, ok := c.store.ActiveProblem()
	if !ok {
		return ErrNoActiveProblem
	}

	err = conn.Call("submit_answer", submitAnswerArgs{
		PlayerID:  prob.PlayerID,
		ProblemID: prob.ID,
		MatchID:   prob.MatchID,
		Seq:       prob.Seq,
		Value:     value,
	})
	if err != nil {
		return err
	}

	c.store.MarkProblemSubmitted(prob.Seq)
	return nil
}

// LeaveMatch asks the backend to remove the player from the current
// match. The dynamic scope detaches once the cleared inMatchId comes
// back through the cache.
func (c *Core) LeaveMatch() error {
	conn, err := c.connected()
	if err != nil {
		return err
	}
	p, ok := c.store.LocalPlayer()
	if !ok {
		return ErrNotConnected
	}
	return conn.Call("leave_match", leaveMatchArgs{PlayerID: p.ID})
}

// SetGrade stages a grade change. The cached row updates only when the
// backend confirms.
func (c *Core) SetGrade(grade int) error {
	conn, err := c.connected()
	if err != nil {
		return err
	}
	p, ok := c.store.LocalPlayer()
	if !ok {
		return ErrNotConnected
	}
	return conn.Call("set_grade", setGradeArgs{PlayerID: p.ID, Grade: grade})
}

// SetName stages a display-name change.
func (c *Core) SetName(name string) error {
	conn, err := c.connected()
	if err != nil {
		return err
	}
	p, ok := c.store.LocalPlayer()
	if !ok {
		return ErrNotConnected
	}
	return conn.Call("set_name", setNameArgs{PlayerID: p.ID, Name: name})
}
