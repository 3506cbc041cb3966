package commit

import (
	"fmt"

	"nbcommit/group"
)

type phase uint8

const (
	phaseNew phase = iota
	phaseVoteRequest
	phaseWorking
	phaseReady
	phasePreCommit
	// phaseLinger is the post-decision window: the participant still
	// answers a peer that starts a termination round.
	phaseLinger
	phaseElect
	phaseCollect
	phaseStateRequest
	phaseOutcome
	phaseDone
)

// Participant votes on its local work and follows the coordinator, or a
// substitute elected by the termination protocol, to a final decision.
type Participant struct {
	id          group.ID
	coordinator group.ID
	peers       group.Set
	txn         string
	timing      Timing

	state      State
	phase      phase
	local      LocalDecision
	voted      bool
	cause      string
	reason     string
	unresolved bool

	// termination protocol
	round     uint32
	elections int
	pending   group.Set
	members   int
	reports   map[group.ID]State
	windows   uint64
}

func NewParticipant(id, coordinator group.ID, peers group.Set, txn string, timing Timing) *Participant {
	own := peers.Clone()
	own.Remove(id)
	own.Remove(coordinator)
	return &Participant{
		id:          id,
		coordinator: coordinator,
		peers:       own,
		txn:         txn,
		timing:      timing,
		state:       StateNew,
	}
}

func (p *Participant) State() State          { return p.state }
func (p *Participant) Coordinator() group.ID { return p.coordinator }
func (p *Participant) Peers() group.Set      { return p.peers.Clone() }
func (p *Participant) Round() uint32         { return p.round }
func (p *Participant) Elections() int        { return p.elections }
func (p *Participant) Done() bool            { return p.phase == phaseDone }

// LocalDecision returns the result of the local work, once it has run.
func (p *Participant) LocalDecision() (LocalDecision, bool) {
	return p.local, p.voted
}

func (p *Participant) msg(t MsgType) Message {
	return Message{Type: t, Txn: p.txn}
}

// enterState returns the entry effect for s, or nothing if already there.
func (p *Participant) enterState(s State) []Effect {
	if p.state == s {
		return nil
	}
	p.state = s
	return []Effect{enter(s)}
}

func (p *Participant) Start() []Effect {
	p.phase = phaseVoteRequest
	return p.enterState(StateInit)
}

func (p *Participant) Await() Wait {
	switch p.phase {
	case phaseVoteRequest, phaseReady, phasePreCommit, phaseStateRequest, phaseOutcome:
		return Wait{From: group.NewSet(p.coordinator), Timeout: p.timing.Suspect}
	case phaseLinger:
		return Wait{From: p.peers.Union(group.NewSet(p.coordinator)), Timeout: p.timing.Linger}
	case phaseElect:
		return Wait{From: p.pending.Clone(), Timeout: p.timing.Suspect}
	case phaseCollect:
		return Wait{From: p.pending.Clone(), Timeout: p.timing.Timeout, Window: p.windows}
	}
	return Wait{From: group.NewSet()}
}

func (p *Participant) Step(ev Event) ([]Effect, error) {
	if ev.Kind == EventMessage && ev.Msg.Type == MsgVoteRequest && ev.From != p.coordinator {
		return nil, violation(p.id, p.state, ev)
	}
	switch p.phase {
	case phaseVoteRequest:
		return p.stepInit(ev)
	case phaseWorking:
		return p.stepWorking(ev)
	case phaseReady:
		return p.stepReady(ev)
	case phasePreCommit:
		return p.stepPreCommit(ev)
	case phaseLinger:
		return p.stepLinger(ev)
	case phaseElect:
		return p.stepElect(ev)
	case phaseCollect:
		return p.stepCollect(ev)
	case phaseStateRequest:
		return p.stepStateRequest(ev)
	case phaseOutcome:
		return p.stepOutcome(ev)
	}
	return nil, violation(p.id, p.state, ev)
}

func (p *Participant) stepInit(ev Event) ([]Effect, error) {
	switch {
	case ev.Kind == EventTimeout:
		// No vote was requested, so nothing can have been promised: abort
		// without reconciling, but still listen for peers that did vote.
		p.cause = LocalAbort.String()
		p.reason = "coordinator silent in INIT"
		p.phase = phaseLinger
		return p.enterState(StateAbort), nil
	case ev.Kind == EventMessage && ev.Msg.Type == MsgVoteRequest:
		if p.txn == "" {
			p.txn = ev.Msg.Txn
		}
		p.phase = phaseWorking
		return []Effect{{Kind: EffectWork}}, nil
	}
	return nil, violation(p.id, p.state, ev)
}

func (p *Participant) stepWorking(ev Event) ([]Effect, error) {
	if ev.Kind != EventWorkDone {
		return nil, violation(p.id, p.state, ev)
	}
	p.local, p.voted = ev.Decision, true
	coord := group.NewSet(p.coordinator)

	if ev.Decision == LocalAbort {
		p.cause = LocalAbort.String()
		p.reason = "local work failed"
		p.phase = phaseLinger
		return append(p.enterState(StateAbort), send(coord, p.msg(MsgVoteAbort))), nil
	}
	p.phase = phaseReady
	return append(p.enterState(StateReady), send(coord, p.msg(MsgVoteCommit))), nil
}

func (p *Participant) stepReady(ev Event) ([]Effect, error) {
	if ev.Kind == EventTimeout {
		return p.suspect("coordinator silent in READY")
	}
	if ev.Kind == EventMessage {
		switch ev.Msg.Type {
		case MsgGlobalAbort:
			return p.apply(StateAbort, ev.Msg.Type.String())
		case MsgPrepareCommit:
			p.phase = phasePreCommit
			return append(p.enterState(StatePreCommit), send(group.NewSet(p.coordinator), p.msg(MsgReadyCommit))), nil
		}
	}
	return nil, violation(p.id, p.state, ev)
}

func (p *Participant) stepPreCommit(ev Event) ([]Effect, error) {
	if ev.Kind == EventTimeout {
		return p.suspect("coordinator silent in PRECOMMIT")
	}
	if ev.Kind == EventMessage {
		switch ev.Msg.Type {
		case MsgGlobalCommit:
			return p.apply(StateCommit, ev.Msg.Type.String())
		case MsgGlobalAbort:
			return p.apply(StateAbort, ev.Msg.Type.String())
		}
	}
	return nil, violation(p.id, p.state, ev)
}

// apply makes decision this participant's final state and starts the
// linger window. A decision contradicting one already taken is fatal.
func (p *Participant) apply(decision State, cause string) ([]Effect, error) {
	if p.state.Terminal() && p.state != decision {
		return nil, fmt.Errorf("participant %v in state %s told to %s: %w", p.id, p.state, decision, ErrInconsistent)
	}
	if decision == StateCommit && p.voted && p.local == LocalAbort {
		return nil, fmt.Errorf("participant %v voted abort but was told to commit: %w", p.id, ErrInconsistent)
	}
	p.cause = cause
	p.phase = phaseLinger
	return p.enterState(decision), nil
}

func (p *Participant) stepLinger(ev Event) ([]Effect, error) {
	if ev.Kind == EventTimeout {
		p.phase = phaseDone
		return nil, nil
	}
	if ev.Kind != EventMessage {
		return nil, violation(p.id, p.state, ev)
	}

	if ev.From == p.coordinator {
		switch ev.Msg.Type {
		case MsgVoteRequest:
			// A slow coordinator asking after we gave up in INIT.
			if p.state == StateAbort && !p.voted {
				return []Effect{send(group.NewSet(p.coordinator), p.msg(MsgVoteAbort))}, nil
			}
		case MsgGlobalAbort:
			if p.state == StateAbort {
				return nil, nil
			}
			return nil, fmt.Errorf("participant %v in state %s received %s: %w", p.id, p.state, ev.Msg, ErrInconsistent)
		case MsgGlobalCommit:
			if p.state == StateCommit {
				return nil, nil
			}
			return nil, fmt.Errorf("participant %v in state %s received %s: %w", p.id, p.state, ev.Msg, ErrInconsistent)
		}
		return nil, violation(p.id, p.state, ev)
	}

	if ev.Msg.Round <= p.round {
		return nil, nil // left over from a round already finished
	}
	if ev.Msg.Type == MsgNewCoordinator {
		reason := fmt.Sprintf("joined termination round %d started by %v", ev.Msg.Round, ev.From)
		return p.beginTermination(reason, ev.From, ev.Msg.Round)
	}
	return nil, violation(p.id, p.state, ev)
}

func (p *Participant) Report() Report {
	r := Report{
		Process:     p.id,
		Role:        RoleParticipant,
		State:       p.state,
		Cause:       p.cause,
		Reason:      p.reason,
		Coordinator: p.coordinator,
		Elections:   p.elections,
	}
	switch {
	case p.phase != phaseDone:
		r.Outcome = OutcomePending
	case p.unresolved:
		r.Outcome = OutcomeUnresolved
	default:
		r.Outcome = outcomeOf(p.state)
	}
	return r
}
