package client

import (
	"fmt"

	"mathraid/internal/state"
)

// baseQueries is the always-on scope: exactly this player's own rows
// across every table the core cares about. Applied before the player
// initializer runs, so "am I already present" is answerable from local
// cache alone.
func baseQueries(playerID string) []string {
	return []string{
		fmt.Sprintf("SELECT * FROM %s WHERE id = '%s'", state.TablePlayer, playerID),
		fmt.Sprintf("SELECT * FROM %s WHERE playerId = '%s'", state.TableProblem, playerID),
		fmt.Sprintf("SELECT * FROM %s WHERE playerId = '%s'", state.TableAnswer, playerID),
		fmt.Sprintf("SELECT * FROM %s WHERE playerId = '%s'", state.TableMastery, playerID),
		fmt.Sprintf("SELECT * FROM %s WHERE playerId = '%s'", state.TableSnapshot, playerID),
	}
}

// matchQueries is the dynamic scope for one match: the match row and
// all of its participants, as a single both-or-neither subscription.
func matchQueries(matchID string) []string {
	return []string{
		fmt.Sprintf("SELECT * FROM %s WHERE id = '%s'", state.TableMatch, matchID),
		fmt.Sprintf("SELECT * FROM %s WHERE matchId = '%s'", state.TableParticipant, matchID),
	}
}

func scopeForMatch(matchID string) string {
	return "match:" + matchID
}

// reconcileDynamicScope makes the dynamic subscription scope agree with
// the cached player's inMatchId. Idempotent: multiple callbacks may
// observe the same player change (the backend may deliver a changed row
// as either insert or update) and each invoke this; an unchanged match
// id performs zero subscribe or unsubscribe calls.
func (c *Core) reconcileDynamicScope(gen int, conn Transport, acks *ackTable) {
	var want string
	if p, ok := c.store.LocalPlayer(); ok {
		want, _ = p.CurrentMatch()
	}

	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	have := c.dynScope
	if have == want {
		c.mu.Unlock()
		return
	}
	c.dynScope = want
	c.mu.Unlock()

	if have != "" {
		// Best-effort: the transport may already be closing.
		if err := conn.Unsubscribe(scopeForMatch(have)); err != nil {
			c.log.Debug("unsubscribe failed", "match", have, "err", err)
		}
		c.store.EvictMatch(have)
	}

	if want != "" {
		err := c.subscribeScope(conn, acks, scopeForMatch(want), matchQueries(want), dynScopeTimeout)
		if err != nil {
			// Scope data stays stale until the next full reconnect;
			// not fatal for the session.
			c.log.Error("dynamic scope subscribe failed", "match", want, "err", err)
			return
		}
		c.log.Info("dynamic scope attached", "match", want)
	}
}
