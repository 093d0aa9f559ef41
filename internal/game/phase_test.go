package game

import "testing"

func TestDerivePhase(t *testing.T) {
	p1 := &Player{ID: "p1", InMatchID: "m1"}
	inM1 := &MatchParticipant{MatchID: "m1", PlayerID: "p1"}

	tests := []struct {
		name        string
		player      *Player
		match       *Match
		participant *MatchParticipant
		want        Phase
	}{
		{
			name: "no player cached",
			want: PhaseConnect,
		},
		{
			name:   "player with no match",
			player: &Player{ID: "p1"},
			want:   PhaseLobby,
		},
		{
			name:   "match id set but match row not loaded yet",
			player: p1,
			want:   PhaseLobby,
		},
		{
			name:        "pending match",
			player:      p1,
			match:       &Match{ID: "m1", State: MatchPending},
			participant: inM1,
			want:        PhaseMatchmaking,
		},
		{
			name:        "countdown",
			player:      p1,
			match:       &Match{ID: "m1", State: MatchCountdown},
			participant: inM1,
			want:        PhaseInMatch,
		},
		{
			name:        "active",
			player:      p1,
			match:       &Match{ID: "m1", State: MatchActive},
			participant: inM1,
			want:        PhaseInMatch,
		},
		{
			name:        "paused",
			player:      p1,
			match:       &Match{ID: "m1", State: MatchPaused},
			participant: inM1,
			want:        PhaseInMatch,
		},
		{
			name:        "ended win",
			player:      p1,
			match:       &Match{ID: "m1", State: MatchEndedWin},
			participant: inM1,
			want:        PhaseResults,
		},
		{
			name:        "ended loss",
			player:      p1,
			match:       &Match{ID: "m1", State: MatchEndedLoss},
			participant: inM1,
			want:        PhaseResults,
		},
		{
			name:   "ended match but player is not a participant",
			player: &Player{ID: "p2", InMatchID: "m1"},
			match:  &Match{ID: "m1", State: MatchEndedWin},
			// participant row belongs to p1, not p2
			participant: inM1,
			want:        PhaseLobby,
		},
		{
			name:   "stale match row from a long-ago match",
			player: p1,
			match:  &Match{ID: "m0", State: MatchEndedWin},
			want:   PhaseLobby,
		},
		{
			name:        "participant row for a different match",
			player:      p1,
			match:       &Match{ID: "m1", State: MatchActive},
			participant: &MatchParticipant{MatchID: "m0", PlayerID: "p1"},
			want:        PhaseLobby,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DerivePhase(tt.player, tt.match, tt.participant)
			if got != tt.want {
				t.Errorf("DerivePhase() = %v, want %v", got, tt.want)
			}
			// Deterministic and side-effect-free: a second call with
			// identical inputs gives an identical result.
			if again := DerivePhase(tt.player, tt.match, tt.participant); again != got {
				t.Errorf("DerivePhase() second call = %v, first = %v", again, got)
			}
		})
	}
}
