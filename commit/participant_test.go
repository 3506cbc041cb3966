package commit

import (
	"testing"

	"nbcommit/group"
)

// newTestParticipant builds participant id under coordinator 1 in a group
// of participants 2, 3 and 4.
func newTestParticipant(id group.ID) *Participant {
	p := NewParticipant(id, 1, group.NewSet(2, 3, 4), "", testTiming)
	p.Start()
	return p
}

// toReady drives p through a successful vote.
func toReady(t *testing.T, p *Participant) {
	t.Helper()
	expect(t, mustStep(t, p, msgFrom(1, MsgVoteRequest)), "WORK")
	mustStep(t, p, WorkEvent(LocalSuccess))
}

func toPreCommit(t *testing.T, p *Participant) {
	t.Helper()
	toReady(t, p)
	mustStep(t, p, msgFrom(1, MsgPrepareCommit))
}

func TestParticipantCommit(t *testing.T) {
	p := NewParticipant(3, 1, group.NewSet(2, 3, 4), "", testTiming)
	if p.State() != StateNew {
		t.Fatalf("initial state = %s", p.State())
	}
	expect(t, p.Start(), "ENTER INIT")
	if w := p.Await(); w.From.String() != "{1}" || w.Timeout != testTiming.Suspect {
		t.Fatalf("await = %v %v", w.From, w.Timeout)
	}

	expect(t, mustStep(t, p, msgFrom(1, MsgVoteRequest)), "WORK")
	expect(t, mustStep(t, p, WorkEvent(LocalSuccess)), "ENTER READY", "SEND VOTE_COMMIT {1}")
	expect(t, mustStep(t, p, msgFrom(1, MsgPrepareCommit)), "ENTER PRECOMMIT", "SEND READY_COMMIT {1}")
	expect(t, mustStep(t, p, msgFrom(1, MsgGlobalCommit)), "ENTER COMMIT")

	// Post-decision window listens to the coordinator and every peer.
	if w := p.Await(); w.From.String() != "{1,2,4}" || w.Timeout != testTiming.Linger {
		t.Fatalf("linger await = %v %v", w.From, w.Timeout)
	}
	if p.Done() {
		t.Fatal("done before the linger window closed")
	}
	expect(t, mustStep(t, p, TimeoutEvent()))

	r := p.Report()
	if !p.Done() || r.Outcome != OutcomeCommitted || r.Elections != 0 || r.Coordinator != 1 {
		t.Errorf("report = %+v", r)
	}
	if got := r.String(); got != "Participant 3 terminated in state COMMIT due to GLOBAL_COMMIT." {
		t.Errorf("String() = %q", got)
	}
}

func TestParticipantLocalAbort(t *testing.T) {
	p := newTestParticipant(2)
	mustStep(t, p, msgFrom(1, MsgVoteRequest))
	expect(t, mustStep(t, p, WorkEvent(LocalAbort)), "ENTER ABORT", "SEND VOTE_ABORT {1}")

	// The coordinator's global abort is absorbed while lingering.
	expect(t, mustStep(t, p, msgFrom(1, MsgGlobalAbort)))
	if p.Done() {
		t.Fatal("a coordinator message must not end the linger window")
	}
	// A vote-abort participant can never be told to commit.
	expectErr(t, p, msgFrom(1, MsgGlobalCommit), ErrInconsistent)

	mustStep(t, p, TimeoutEvent())
	if r := p.Report(); r.Outcome != OutcomeAborted || r.Cause != "LOCAL_ABORT" {
		t.Errorf("report = %+v", r)
	}
	if d, ok := p.LocalDecision(); !ok || d != LocalAbort {
		t.Errorf("local decision = %v, %v", d, ok)
	}
}

func TestParticipantGlobalAbortWhenReady(t *testing.T) {
	p := newTestParticipant(2)
	toReady(t, p)
	expect(t, mustStep(t, p, msgFrom(1, MsgGlobalAbort)), "ENTER ABORT")
	mustStep(t, p, TimeoutEvent())
	if r := p.Report(); r.Outcome != OutcomeAborted || r.Cause != "GLOBAL_ABORT" {
		t.Errorf("report = %+v", r)
	}
}

func TestParticipantInitTimeout(t *testing.T) {
	p := newTestParticipant(4)
	expect(t, mustStep(t, p, TimeoutEvent()), "ENTER ABORT")
	if p.Elections() != 0 {
		t.Fatal("no election may start before any vote was requested")
	}

	// A slow coordinator asking for the vote afterwards gets an abort vote.
	expect(t, mustStep(t, p, msgFrom(1, MsgVoteRequest)), "SEND VOTE_ABORT {1}")
	expect(t, mustStep(t, p, TimeoutEvent()))

	r := p.Report()
	if r.Outcome != OutcomeAborted || r.Elections != 0 || r.Reason != "coordinator silent in INIT" {
		t.Errorf("report = %+v", r)
	}
}

// Each detected gap starts the termination protocol exactly once.
func TestTimeoutEscalation(t *testing.T) {
	cases := []struct {
		name  string
		setup func(t *testing.T, p *Participant)
		want  int
	}{
		{"INIT", func(*testing.T, *Participant) {}, 0},
		{"READY", toReady, 1},
		{"PRECOMMIT", toPreCommit, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestParticipant(3)
			tc.setup(t, p)
			before := p.State()
			effects := mustStep(t, p, TimeoutEvent())
			if p.Elections() != tc.want {
				t.Fatalf("elections = %d, want %d", p.Elections(), tc.want)
			}
			if tc.want == 0 {
				return
			}
			expect(t, effects, "SEND NEW_COORDINATOR {2,4}")
			if p.State() != before {
				t.Errorf("state moved from %s to %s on timeout", before, p.State())
			}
			if p.Round() != 1 {
				t.Errorf("round = %d", p.Round())
			}
		})
	}
}

func TestParticipantProtocolViolations(t *testing.T) {
	t.Run("prepare before vote", func(t *testing.T) {
		expectErr(t, newTestParticipant(2), msgFrom(1, MsgPrepareCommit), ErrProtocol)
	})
	t.Run("vote request from a peer", func(t *testing.T) {
		expectErr(t, newTestParticipant(2), msgFrom(3, MsgVoteRequest), ErrProtocol)
	})
	t.Run("commit while ready", func(t *testing.T) {
		p := newTestParticipant(2)
		toReady(t, p)
		expectErr(t, p, msgFrom(1, MsgGlobalCommit), ErrProtocol)
	})
	t.Run("message while working", func(t *testing.T) {
		p := newTestParticipant(2)
		mustStep(t, p, msgFrom(1, MsgVoteRequest))
		expectErr(t, p, msgFrom(1, MsgGlobalAbort), ErrProtocol)
	})
}

func TestNewParticipantExcludesSelfAndCoordinator(t *testing.T) {
	p := NewParticipant(3, 1, group.NewSet(1, 2, 3, 4), "", testTiming)
	if got := p.Peers().String(); got != "{2,4}" {
		t.Errorf("peers = %s", got)
	}
}

func TestParticipantAdoptsTransaction(t *testing.T) {
	p := newTestParticipant(2)
	mustStep(t, p, MessageEvent(1, Message{Type: MsgVoteRequest, Txn: "txn-7"}))
	effects := mustStep(t, p, WorkEvent(LocalSuccess))
	vote := effects[len(effects)-1]
	if vote.Msg.Type != MsgVoteCommit || vote.Msg.Txn != "txn-7" {
		t.Errorf("vote = %v", vote.Msg)
	}
}
