package game

// Phase is the single screen-selecting output of the sync core. It is
// always derived from cached state, never stored.
type Phase string

const (
	PhaseConnect     Phase = "connect"
	PhaseLobby       Phase = "lobby"
	PhaseMatchmaking Phase = "matchmaking"
	PhaseInMatch     Phase = "in_match"
	PhaseResults     Phase = "results"
)

// DerivePhase maps the cached (player, match, participant) triple to the
// screen the host should show. Pure function: no side effects, no hidden
// state, identical inputs always give identical output.
//
// match and participant are whatever the cache currently holds for the
// player's inMatchId; either may be nil when the rows have not arrived
// yet or have already been evicted. A match row that does not belong to
// the player's current match id, or a participant row for a different
// player, is treated as stale and ignored - this is what keeps a long-ago
// match that lingers in the cache from resurrecting a Results screen.
func DerivePhase(player *Player, match *Match, participant *MatchParticipant) Phase {
	if player == nil {
		return PhaseConnect
	}

	matchID, ok := player.CurrentMatch()
	if !ok {
		return PhaseLobby
	}

	// Match id known but the row hasn't loaded yet: fail safe toward the
	// lobby rather than a blank screen.
	if match == nil || match.ID != matchID {
		return PhaseLobby
	}

	// The player must verifiably be a participant of this exact match.
	if participant == nil || participant.MatchID != matchID || participant.PlayerID != player.ID {
		return PhaseLobby
	}

	switch {
	case match.State == MatchPending:
		return PhaseMatchmaking
	case match.State.Running():
		return PhaseInMatch
	case match.State.Ended():
		return PhaseResults
	}
	return PhaseLobby
}
