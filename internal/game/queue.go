package game

import "sort"

// ProblemQueue is the locally buffered, strictly-ordered sequence of
// prefetched problems for the current match. Advancement is purely local:
// no network round trip between problems.
//
// The queue is not safe for concurrent use; the owning store serializes
// access.
type ProblemQueue struct {
	problems []Problem
	answered map[int]bool
	active   int
}

const noActive = -1

// NewProblemQueue returns an empty queue with no active problem.
func NewProblemQueue() *ProblemQueue {
	return &ProblemQueue{
		answered: make(map[int]bool),
		active:   noActive,
	}
}

// Insert adds a problem to the queue, keeping sequence order. Duplicate
// sequence numbers are ignored (late redeliveries are expected). If no
// problem is currently active, or the active one has since gained an
// answer, the first unanswered problem in sequence order becomes
// active - this covers a fresh match start, a resume after reload, and
// a late-arriving problem correcting a queue that had run out.
func (q *ProblemQueue) Insert(p Problem) {
	i := sort.Search(len(q.problems), func(i int) bool {
		return q.problems[i].Seq >= p.Seq
	})
	if i < len(q.problems) && q.problems[i].Seq == p.Seq {
		return
	}
	q.problems = append(q.problems, Problem{})
	copy(q.problems[i+1:], q.problems[i:])
	q.problems[i] = p

	if q.active == noActive || q.answered[q.active] {
		q.activateFirstUnanswered()
	}
}

// MarkAnswered records that the problem at seq has a confirmed or
// in-flight answer, so activation scans skip it. Answering the active
// problem reactivates: problem and answer rows carry no ordering
// guarantee across tables, so the answer for the active problem may
// arrive at any time, and the queue must never keep an answered problem
// active.
func (q *ProblemQueue) MarkAnswered(seq int) {
	q.answered[seq] = true
	if q.active == noActive || q.active == seq {
		q.activateFirstUnanswered()
	}
}

// Active returns the currently active problem, if any.
func (q *ProblemQueue) Active() (Problem, bool) {
	if q.active == noActive {
		return Problem{}, false
	}
	for _, p := range q.problems {
		if p.Seq == q.active {
			return p, true
		}
	}
	return Problem{}, false
}

// Advance moves from sequence N to N+1 using only the local queue. If
// N+1 is not present yet this is a safe no-op; a later insert will
// re-trigger activation. Calling Advance with no active problem is also
// a no-op.
func (q *ProblemQueue) Advance() {
	if q.active == noActive {
		return
	}
	next := q.active + 1
	for _, p := range q.problems {
		if p.Seq == next {
			q.active = next
			return
		}
	}
}

// Len returns the number of buffered problems.
func (q *ProblemQueue) Len() int { return len(q.problems) }

// Reset drops all buffered problems and answers, e.g. when the player
// leaves a match.
func (q *ProblemQueue) Reset() {
	q.problems = nil
	q.answered = make(map[int]bool)
	q.active = noActive
}

func (q *ProblemQueue) activateFirstUnanswered() {
	q.active = noActive
	for _, p := range q.problems {
		if !q.answered[p.Seq] {
			q.active = p.Seq
			return
		}
	}
}
