package game

import (
	"sort"
	"time"
)

// Rank thresholds by total accumulated points. Each rank spans three
// divisions, III up to I.
var rankThresholds = []struct {
	Name string
	Min  int
}{
	{"Bronze", 0},
	{"Silver", 1000},
	{"Gold", 2500},
	{"Platinum", 5000},
	{"Diamond", 9000},
}

// trackQuestTarget is the mastered-fact count that completes a track's
// quest.
const trackQuestTarget = 20

// Progression is a point-in-time capture of derived player-progression
// metrics. It is taken immediately before a match start command is sent
// and held immutable for the match's duration, so end-of-match UI can
// show a stable before/after delta while the live history keeps moving.
type Progression struct {
	Rank          string
	Division      int
	MasteredFacts int
	TotalPoints   int
	BestByTrack   map[string]int
	QuestsDone    []string
	TakenAt       time.Time
}

// CaptureProgression computes a Progression from the cached player row
// and history. Pure function over its inputs.
func CaptureProgression(p *Player, mastery []FactMastery, history []PerformanceSnapshot, now time.Time) Progression {
	pr := Progression{
		BestByTrack: make(map[string]int),
		TakenAt:     now,
	}
	if p == nil {
		return pr
	}
	pr.TotalPoints = p.TotalPoints
	pr.Rank, pr.Division = rankFor(p.TotalPoints)

	masteredPerTrack := make(map[string]int)
	for _, m := range mastery {
		if m.PlayerID != p.ID || m.State != MasteryMastered {
			continue
		}
		pr.MasteredFacts++
		masteredPerTrack[m.Track]++
	}

	for _, s := range history {
		if s.PlayerID != p.ID {
			continue
		}
		if s.Score > pr.BestByTrack[s.Track] {
			pr.BestByTrack[s.Track] = s.Score
		}
	}

	for track, n := range masteredPerTrack {
		if n >= trackQuestTarget {
			pr.QuestsDone = append(pr.QuestsDone, track)
		}
	}
	sort.Strings(pr.QuestsDone)
	return pr
}

// rankFor maps total points to (rank, division). Divisions count down
// from III to I across the rank's point span; the top rank's open-ended
// span uses the previous rank's width.
func rankFor(points int) (string, int) {
	idx := 0
	for i, r := range rankThresholds {
		if points >= r.Min {
			idx = i
		}
	}
	r := rankThresholds[idx]
	var span int
	if idx+1 < len(rankThresholds) {
		span = rankThresholds[idx+1].Min - r.Min
	} else {
		span = r.Min - rankThresholds[idx-1].Min
	}
	within := points - r.Min
	div := 3 - (within*3)/span
	if div < 1 {
		div = 1
	}
	return r.Name, div
}

// ProgressionDelta is the before/after difference shown at match end.
type ProgressionDelta struct {
	PointsGained  int
	NewlyMastered int
	NewBests      map[string]int
	NewQuests     []string
	RankChanged   bool
}

// Delta compares an earlier capture against a later one. Tracks whose
// best improved appear in NewBests with the new best score.
func (pr Progression) Delta(after Progression) ProgressionDelta {
	d := ProgressionDelta{
		PointsGained:  after.TotalPoints - pr.TotalPoints,
		NewlyMastered: after.MasteredFacts - pr.MasteredFacts,
		NewBests:      make(map[string]int),
		RankChanged:   after.Rank != pr.Rank || after.Division != pr.Division,
	}
	for track, score := range after.BestByTrack {
		if score > pr.BestByTrack[track] {
			d.NewBests[track] = score
		}
	}
	done := make(map[string]bool, len(pr.QuestsDone))
	for _, q := range pr.QuestsDone {
		done[q] = true
	}
	for _, q := range after.QuestsDone {
		if !done[q] {
			d.NewQuests = append(d.NewQuests, q)
		}
	}
	return d
}
