package peer

import (
	"fmt"
	"testing"

	"vico_home/actorcast/internal/domain"
)

func TestCandidateQueue_DrainInArrivalOrder(t *testing.T) {
	q := NewCandidateQueue()
	for _, c := range []string{"c0", "c1", "c2"} {
		q.Push("actor", domain.ICECandidatePayload{Candidate: c})
	}
	q.Push("other", domain.ICECandidatePayload{Candidate: "x"})

	if q.Len("actor") != 3 {
		t.Fatalf("expected 3 queued, got %d", q.Len("actor"))
	}
	got := q.Drain("actor")
	for i, c := range got {
		if want := []string{"c0", "c1", "c2"}[i]; c.Candidate != want {
			t.Errorf("candidate %d: got %q, want %q", i, c.Candidate, want)
		}
	}
	if q.Len("actor") != 0 {
		t.Error("drain must clear the queue")
	}
	if q.Len("other") != 1 {
		t.Error("drain must not touch other senders")
	}
}

func TestCandidateQueue_DropAndReset(t *testing.T) {
	q := NewCandidateQueue()
	q.Push("a", domain.ICECandidatePayload{Candidate: "1"})
	q.Push("b", domain.ICECandidatePayload{Candidate: "2"})

	q.Drop("a")
	if q.Len("a") != 0 || q.Len("b") != 1 {
		t.Errorf("unexpected lengths after drop: a=%d b=%d", q.Len("a"), q.Len("b"))
	}
	q.Reset()
	if q.Len("b") != 0 {
		t.Error("reset must discard everything")
	}
	if got := q.Drain("missing"); got != nil {
		t.Errorf("expected nil for unknown sender, got %v", got)
	}
}

func TestCandidateQueue_BoundedPerSender(t *testing.T) {
	q := NewCandidateQueue()
	dropped := 0
	for i := 0; i < MaxQueuedCandidates+10; i++ {
		dropped += q.Push("actor", domain.ICECandidatePayload{Candidate: fmt.Sprintf("c%d", i), Negotiation: "n1"})
	}
	if q.Len("actor") != MaxQueuedCandidates {
		t.Fatalf("expected %d queued, got %d", MaxQueuedCandidates, q.Len("actor"))
	}
	if dropped != 10 {
		t.Errorf("expected 10 dropped, got %d", dropped)
	}
	got := q.Drain("actor")
	if got[0].Candidate != "c10" || got[len(got)-1].Candidate != fmt.Sprintf("c%d", MaxQueuedCandidates+9) {
		t.Errorf("expected the newest candidates, got %s..%s", got[0].Candidate, got[len(got)-1].Candidate)
	}
}

func TestCandidateQueue_NewRoundDiscardsOlder(t *testing.T) {
	q := NewCandidateQueue()
	q.Push("actor", domain.ICECandidatePayload{Candidate: "old0", Negotiation: "n1"})
	q.Push("actor", domain.ICECandidatePayload{Candidate: "old1", Negotiation: "n1"})

	if n := q.Push("actor", domain.ICECandidatePayload{Candidate: "new0", Negotiation: "n2"}); n != 2 {
		t.Errorf("expected 2 discarded, got %d", n)
	}
	got := q.Drain("actor")
	if len(got) != 1 || got[0].Candidate != "new0" {
		t.Errorf("expected only the new round, got %v", got)
	}
}
