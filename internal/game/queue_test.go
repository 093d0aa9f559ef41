package game

import "testing"

func problem(seq int) Problem {
	return Problem{
		ID:       "prob-" + string(rune('a'+seq)),
		PlayerID: "p1",
		MatchID:  "m1",
		Seq:      seq,
		Left:     seq,
		Right:    7,
		Op:       "mul",
	}
}

func TestQueueActivatesFirstProblem(t *testing.T) {
	q := NewProblemQueue()
	if _, ok := q.Active(); ok {
		t.Fatal("empty queue should have no active problem")
	}

	// Prefetch burst arrives out of order.
	q.Insert(problem(2))
	q.Insert(problem(0))
	q.Insert(problem(1))

	active, ok := q.Active()
	if !ok || active.Seq != 0 {
		t.Fatalf("active = %+v (ok=%v), want seq 0", active, ok)
	}
	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}
}

func TestQueueIgnoresDuplicates(t *testing.T) {
	q := NewProblemQueue()
	q.Insert(problem(0))
	q.Insert(problem(0))
	q.Insert(problem(1))
	q.Insert(problem(1))

	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
}

func TestQueueAdvance(t *testing.T) {
	q := NewProblemQueue()
	for i := 0; i < 3; i++ {
		q.Insert(problem(i))
	}

	q.Advance()
	if active, _ := q.Active(); active.Seq != 1 {
		t.Fatalf("after advance, active seq = %d, want 1", active.Seq)
	}
	q.Advance()
	if active, _ := q.Active(); active.Seq != 2 {
		t.Fatalf("after advance, active seq = %d, want 2", active.Seq)
	}
}

func TestQueueAdvancePastEndIsNoOp(t *testing.T) {
	q := NewProblemQueue()
	q.Insert(problem(0))
	q.Insert(problem(1))
	q.Advance()

	// No seq 2 yet: advancing must leave state unchanged, repeatedly.
	for i := 0; i < 3; i++ {
		q.Advance()
		if active, ok := q.Active(); !ok || active.Seq != 1 {
			t.Fatalf("advance past end changed state: active=%+v ok=%v", active, ok)
		}
	}

	// A late insert corrects it on the next advance.
	q.Insert(problem(2))
	q.Advance()
	if active, _ := q.Active(); active.Seq != 2 {
		t.Fatalf("active seq = %d, want 2 after late insert", active.Seq)
	}
}

func TestQueueAdvanceOnEmptyIsNoOp(t *testing.T) {
	q := NewProblemQueue()
	q.Advance()
	if _, ok := q.Active(); ok {
		t.Fatal("advance on empty queue should not activate anything")
	}
}

func TestQueueResumeSkipsAnswered(t *testing.T) {
	// Resume after reload: answers for earlier problems are already
	// cached when the prefetch re-arrives.
	q := NewProblemQueue()
	q.MarkAnswered(0)
	q.MarkAnswered(1)
	for i := 0; i < 4; i++ {
		q.Insert(problem(i))
	}

	active, ok := q.Active()
	if !ok || active.Seq != 2 {
		t.Fatalf("resume: active = %+v (ok=%v), want seq 2", active, ok)
	}
}

func TestQueueAnswerArrivesAfterProblems(t *testing.T) {
	// Resume with the opposite arrival order: problem rows land first,
	// then the answer rows for the earlier sequences. The active
	// pointer must move off an answered problem.
	q := NewProblemQueue()
	q.Insert(problem(0))
	q.Insert(problem(1))

	q.MarkAnswered(0)
	active, ok := q.Active()
	if !ok || active.Seq != 1 {
		t.Fatalf("active = %+v (ok=%v), want seq 1 after answer for 0", active, ok)
	}

	// Every buffered problem answered: nothing left to activate.
	q.MarkAnswered(1)
	if _, ok := q.Active(); ok {
		t.Fatal("fully answered queue should have no active problem")
	}
}

func TestQueueLateInsertAfterAnsweredActive(t *testing.T) {
	// Seq 1 arrives only after seq 0 was answered and an advance
	// already no-op'd. The late insert must activate it rather than
	// leave the answered problem showing.
	q := NewProblemQueue()
	q.Insert(problem(0))
	q.MarkAnswered(0)
	q.Advance()

	q.Insert(problem(1))
	active, ok := q.Active()
	if !ok || active.Seq != 1 {
		t.Fatalf("active = %+v (ok=%v), want seq 1 after late insert", active, ok)
	}
}

func TestQueueReset(t *testing.T) {
	q := NewProblemQueue()
	q.Insert(problem(0))
	q.MarkAnswered(0)
	q.Reset()

	if q.Len() != 0 {
		t.Fatalf("Len() = %d after reset, want 0", q.Len())
	}
	if _, ok := q.Active(); ok {
		t.Fatal("reset queue should have no active problem")
	}

	// A fresh match's seq 0 must activate even though the old match's
	// seq 0 was answered.
	q.Insert(problem(0))
	if active, ok := q.Active(); !ok || active.Seq != 0 {
		t.Fatalf("after reset+insert, active = %+v (ok=%v), want seq 0", active, ok)
	}
}
