package commit

import (
	"errors"
	"strings"
	"testing"

	"nbcommit/group"
)

func newNewCoordinator(round uint32) Message {
	return Message{Type: MsgNewCoordinator, Round: round}
}

func stateChange(s State, round uint32) Message {
	return Message{Type: MsgStateChange, State: s, Round: round}
}

func stateReport(s State, round uint32) Message {
	return Message{Type: MsgStateReport, State: s, Round: round}
}

func TestDecide(t *testing.T) {
	cases := []struct {
		name   string
		states []State
		want   State
		err    error
	}{
		{"all ready", []State{StateReady, StateReady, StateReady}, StateAbort, nil},
		{"all precommit", []State{StatePreCommit, StatePreCommit}, StateCommit, nil},
		{"ready substitute, precommit peer", []State{StateReady, StatePreCommit}, StateCommit, nil},
		{"precommit with an unvoted peer", []State{StatePreCommit, StateInit}, StateAbort, nil},
		{"ready with an abort", []State{StateReady, StateAbort}, StateAbort, nil},
		{"precommit with a commit", []State{StatePreCommit, StateCommit, StateReady}, StateCommit, nil},
		{"precommit with an abort", []State{StatePreCommit, StateAbort}, StateAbort, nil},
		{"single ready", []State{StateReady}, StateAbort, nil},
		{"contradiction", []State{StateCommit, StateAbort}, 0, ErrInconsistent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decide(tc.states)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("err = %v, want %v", err, tc.err)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Errorf("Decide(%v) = %s, %v; want %s", tc.states, got, err, tc.want)
			}
		})
	}
}

func TestElectDeterminism(t *testing.T) {
	a := group.NewSet(7, 3, 9, 5)
	b := group.NewSet()
	for _, id := range []group.ID{9, 5, 3, 7} {
		b.Add(id)
	}
	ida, _ := Elect(a)
	idb, _ := Elect(b)
	if ida != 3 || idb != 3 {
		t.Errorf("elected %v and %v, want 3", ida, idb)
	}
	if _, ok := Elect(group.NewSet()); ok {
		t.Error("nobody to elect in an empty set")
	}
}

func TestSubstituteCommits(t *testing.T) {
	p := newTestParticipant(2)
	toPreCommit(t, p)

	expect(t, mustStep(t, p, TimeoutEvent()), "SEND NEW_COORDINATOR {3,4}")
	if w := p.Await(); w.From.String() != "{3,4}" {
		t.Fatalf("waiting for confirmations from %v", w.From)
	}
	expect(t, mustStep(t, p, MessageEvent(4, newNewCoordinator(1))))
	expect(t, mustStep(t, p, MessageEvent(3, newNewCoordinator(1))), "SEND STATE_CHANGE {3,4}")
	if p.Coordinator() != 2 {
		t.Fatalf("coordinator = %v, want self", p.Coordinator())
	}

	expect(t, mustStep(t, p, MessageEvent(3, stateReport(StatePreCommit, 1))))
	expect(t, mustStep(t, p, MessageEvent(4, stateReport(StatePreCommit, 1))),
		"ENTER COMMIT", "SEND GLOBAL_COMMIT {3,4}")

	mustStep(t, p, TimeoutEvent())
	r := p.Report()
	if r.Outcome != OutcomeCommitted || r.Elections != 1 || r.Coordinator != 2 {
		t.Errorf("report = %+v", r)
	}
}

// A substitute still in READY must commit when a peer pre-committed.
func TestSubstituteReadyHonoursPreCommit(t *testing.T) {
	p := newTestParticipant(2)
	toReady(t, p)
	mustStep(t, p, TimeoutEvent())
	mustStep(t, p, MessageEvent(3, newNewCoordinator(1)))
	mustStep(t, p, MessageEvent(4, newNewCoordinator(1)))
	mustStep(t, p, MessageEvent(3, stateReport(StateReady, 1)))
	expect(t, mustStep(t, p, MessageEvent(4, stateReport(StatePreCommit, 1))),
		"ENTER COMMIT", "SEND GLOBAL_COMMIT {3,4}")
}

func TestSubstituteAdoptsAbort(t *testing.T) {
	p := newTestParticipant(2)
	toPreCommit(t, p)
	mustStep(t, p, TimeoutEvent())
	mustStep(t, p, MessageEvent(3, newNewCoordinator(1)))
	mustStep(t, p, MessageEvent(4, newNewCoordinator(1)))
	mustStep(t, p, MessageEvent(3, stateReport(StatePreCommit, 1)))
	expect(t, mustStep(t, p, MessageEvent(4, stateReport(StateAbort, 1))),
		"ENTER ABORT", "SEND GLOBAL_ABORT {3,4}")
}

func TestFollower(t *testing.T) {
	p := newTestParticipant(3)
	toPreCommit(t, p)
	mustStep(t, p, TimeoutEvent())
	mustStep(t, p, MessageEvent(2, newNewCoordinator(1)))
	expect(t, mustStep(t, p, MessageEvent(4, newNewCoordinator(1))))

	if p.Coordinator() != 2 || p.Peers().String() != "{4}" {
		t.Fatalf("coordinator %v, peers %v", p.Coordinator(), p.Peers())
	}
	if w := p.Await(); w.From.String() != "{2}" {
		t.Fatalf("follower waits on %v", w.From)
	}
	expect(t, mustStep(t, p, MessageEvent(2, stateChange(StatePreCommit, 1))), "SEND STATE_REPORT {2}")
	expect(t, mustStep(t, p, msgFrom(2, MsgGlobalCommit)), "ENTER COMMIT")
	mustStep(t, p, TimeoutEvent())
	if r := p.Report(); r.Outcome != OutcomeCommitted || r.Coordinator != 2 {
		t.Errorf("report = %+v", r)
	}
}

// The substitute going silent starts a second round without it.
func TestFollowerReElects(t *testing.T) {
	p := newTestParticipant(3)
	toPreCommit(t, p)
	mustStep(t, p, TimeoutEvent())
	mustStep(t, p, MessageEvent(2, newNewCoordinator(1)))
	mustStep(t, p, MessageEvent(4, newNewCoordinator(1)))
	mustStep(t, p, MessageEvent(2, stateChange(StatePreCommit, 1)))

	expect(t, mustStep(t, p, TimeoutEvent()), "SEND NEW_COORDINATOR {4}")
	if p.Round() != 2 || p.Elections() != 2 {
		t.Fatalf("round %d, elections %d", p.Round(), p.Elections())
	}
	if !strings.Contains(p.Report().Reason, "substitute coordinator 2 silent") {
		t.Errorf("reason = %q", p.Report().Reason)
	}

	// A leftover message from round 1 is ignored.
	expect(t, mustStep(t, p, MessageEvent(4, newNewCoordinator(1))))
	expect(t, mustStep(t, p, MessageEvent(4, newNewCoordinator(2))), "SEND STATE_CHANGE {4}")
	if p.Coordinator() != 3 {
		t.Fatalf("coordinator = %v, want 3", p.Coordinator())
	}
	expect(t, mustStep(t, p, MessageEvent(4, stateReport(StatePreCommit, 2))),
		"ENTER COMMIT", "SEND GLOBAL_COMMIT {4}")
}

func TestLingeringParticipantJoins(t *testing.T) {
	p := newTestParticipant(2)
	toPreCommit(t, p)
	mustStep(t, p, msgFrom(1, MsgGlobalCommit))

	// Peer 4 missed the decision and starts a round.
	expect(t, mustStep(t, p, MessageEvent(4, newNewCoordinator(1))), "SEND NEW_COORDINATOR {3,4}")
	if w := p.Await(); w.From.String() != "{3}" {
		t.Fatalf("still waiting on %v", w.From)
	}
	expect(t, mustStep(t, p, MessageEvent(3, newNewCoordinator(1))), "SEND STATE_CHANGE {3,4}")
	mustStep(t, p, MessageEvent(3, stateReport(StateCommit, 1)))
	// Already committed: only the broadcast is left to do.
	expect(t, mustStep(t, p, MessageEvent(4, stateReport(StatePreCommit, 1))), "SEND GLOBAL_COMMIT {3,4}")
}

func TestFollowerInconsistentDecision(t *testing.T) {
	p := newTestParticipant(3)
	toPreCommit(t, p)
	mustStep(t, p, msgFrom(1, MsgGlobalCommit))
	mustStep(t, p, MessageEvent(2, newNewCoordinator(1)))
	mustStep(t, p, MessageEvent(4, newNewCoordinator(1)))
	mustStep(t, p, MessageEvent(2, stateChange(StateReady, 1)))
	expectErr(t, p, msgFrom(2, MsgGlobalAbort), ErrInconsistent)
}

func TestElectionUnresolved(t *testing.T) {
	p := newTestParticipant(3)
	toReady(t, p)
	mustStep(t, p, TimeoutEvent())
	mustStep(t, p, MessageEvent(2, newNewCoordinator(1)))
	expect(t, mustStep(t, p, TimeoutEvent()))

	r := p.Report()
	if !p.Done() || r.Outcome != OutcomeUnresolved || r.State != StateReady {
		t.Fatalf("report = %+v", r)
	}
	if !strings.Contains(r.Reason, "not confirmed by {4}") {
		t.Errorf("reason = %q", r.Reason)
	}
}

func TestCollectTimeout(t *testing.T) {
	// Five participants: the substitute plus four peers.
	peers := group.NewSet(2, 3, 4, 5, 6)
	elect := func(t *testing.T) *Participant {
		p := NewParticipant(2, 1, peers, "", testTiming)
		p.Start()
		toPreCommit(t, p)
		mustStep(t, p, TimeoutEvent())
		for _, id := range []group.ID{3, 4, 5, 6} {
			mustStep(t, p, MessageEvent(id, newNewCoordinator(1)))
		}
		return p
	}

	t.Run("majority decides", func(t *testing.T) {
		p := elect(t)
		mustStep(t, p, MessageEvent(3, stateReport(StatePreCommit, 1)))
		mustStep(t, p, MessageEvent(5, stateReport(StatePreCommit, 1)))
		expect(t, mustStep(t, p, TimeoutEvent()), "ENTER COMMIT", "SEND GLOBAL_COMMIT {3,4,5,6}")
	})
	t.Run("minority gives up", func(t *testing.T) {
		p := elect(t)
		mustStep(t, p, MessageEvent(3, stateReport(StatePreCommit, 1)))
		expect(t, mustStep(t, p, TimeoutEvent()))
		if r := p.Report(); r.Outcome != OutcomeUnresolved {
			t.Errorf("report = %+v", r)
		}
	})
}

func TestLoneSurvivorDecidesAlone(t *testing.T) {
	p := NewParticipant(2, 1, group.NewSet(2), "", testTiming)
	p.Start()
	toPreCommit(t, p)
	expect(t, mustStep(t, p, TimeoutEvent()), "ENTER COMMIT")
	if p.Coordinator() != 2 {
		t.Errorf("coordinator = %v", p.Coordinator())
	}
}

func TestCollectWindow(t *testing.T) {
	p := NewParticipant(2, 1, group.NewSet(2, 3, 4), "", testTiming)
	p.Start()
	toPreCommit(t, p)
	mustStep(t, p, TimeoutEvent())
	mustStep(t, p, MessageEvent(3, newNewCoordinator(1)))
	mustStep(t, p, MessageEvent(4, newNewCoordinator(1)))

	first := p.Await()
	if first.Window == 0 || first.Timeout != testTiming.Timeout {
		t.Fatalf("collect wait = %+v", first)
	}
	if first.Timeout >= testTiming.Suspect {
		t.Errorf("substitute collects for %v, followers wait %v", first.Timeout, testTiming.Suspect)
	}
	mustStep(t, p, MessageEvent(3, stateReport(StatePreCommit, 1)))
	if w := p.Await(); w.Window != first.Window || w.From.String() != "{4}" {
		t.Errorf("wait after one report = %+v, want window %d", w, first.Window)
	}
}
