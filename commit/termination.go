package commit

import (
	"fmt"

	"nbcommit/group"
)

// Elect picks the substitute coordinator: the smallest surviving id.
func Elect(survivors group.Set) (group.ID, bool) {
	return survivors.Min()
}

// Decide derives the outcome a substitute coordinator broadcasts from its
// own state and the states its peers reported. A final state anywhere is
// binding. Otherwise a pre-committed process proves every vote was commit,
// unless someone never saw the vote request. Anything else aborts.
func Decide(states []State) (State, error) {
	var commit, abort, precommit, unvoted bool
	for _, s := range states {
		switch s {
		case StateCommit:
			commit = true
		case StateAbort:
			abort = true
		case StatePreCommit:
			precommit = true
		case StateNew, StateInit:
			unvoted = true
		case StateReady, StateWait:
		default:
			return 0, fmt.Errorf("cannot decide over state %s", s)
		}
	}
	switch {
	case commit && abort:
		return 0, fmt.Errorf("peers report both COMMIT and ABORT: %w", ErrInconsistent)
	case commit:
		return StateCommit, nil
	case abort:
		return StateAbort, nil
	case precommit && !unvoted:
		return StateCommit, nil
	}
	return StateAbort, nil
}

// suspect starts a new termination round after a timeout.
func (p *Participant) suspect(reason string) ([]Effect, error) {
	return p.beginTermination(reason, 0, p.round+1)
}

// beginTermination announces NewCoordinator to every known peer and waits
// for each to confirm. from is the peer whose announcement we are
// answering, which already counts as its confirmation.
func (p *Participant) beginTermination(reason string, from group.ID, round uint32) ([]Effect, error) {
	p.round = round
	p.elections++
	p.reason = reason
	p.pending = p.peers.Clone()
	p.members = p.peers.Len() + 1
	p.phase = phaseElect

	var effects []Effect
	if p.peers.Len() > 0 {
		effects = append(effects, send(p.peers, Message{Type: MsgNewCoordinator, Txn: p.txn, Round: round}))
	}
	if from != 0 {
		p.pending.Remove(from)
	}
	if p.pending.Len() == 0 {
		more, err := p.elected()
		return append(effects, more...), err
	}
	return effects, nil
}

func (p *Participant) stale(ev Event) bool {
	return ev.Kind == EventMessage && ev.Msg.Round < p.round &&
		(ev.Msg.Type == MsgNewCoordinator || ev.Msg.Type == MsgStateChange || ev.Msg.Type == MsgStateReport)
}

func (p *Participant) stepElect(ev Event) ([]Effect, error) {
	if ev.Kind == EventTimeout {
		return p.giveUp(fmt.Sprintf("election round %d not confirmed by %v", p.round, p.pending)), nil
	}
	if p.stale(ev) {
		return nil, nil
	}
	if ev.Kind == EventMessage && ev.Msg.Type == MsgNewCoordinator && p.pending.Has(ev.From) {
		p.pending.Remove(ev.From)
		if p.pending.Len() == 0 {
			return p.elected()
		}
		return nil, nil
	}
	return nil, violation(p.id, p.state, ev)
}

// elected runs once every peer confirmed the round. The substitute asks
// for everyone's state; the others drop it from their peer set and follow.
func (p *Participant) elected() ([]Effect, error) {
	sub, _ := Elect(p.peers.Union(group.NewSet(p.id)))
	p.coordinator = sub

	if sub != p.id {
		p.peers.Remove(sub)
		p.phase = phaseStateRequest
		return nil, nil
	}

	p.phase = phaseCollect
	p.windows++
	p.pending = p.peers.Clone()
	p.reports = make(map[group.ID]State, p.peers.Len())
	if p.peers.Len() == 0 {
		return p.decide()
	}
	return []Effect{send(p.peers, Message{Type: MsgStateChange, Txn: p.txn, State: p.state, Round: p.round})}, nil
}

func (p *Participant) stepCollect(ev Event) ([]Effect, error) {
	if ev.Kind == EventTimeout {
		heard := len(p.reports) + 1
		if 2*heard > p.members {
			return p.decide()
		}
		return p.giveUp(fmt.Sprintf("substitute heard from %d of %d processes in round %d", heard, p.members, p.round)), nil
	}
	if p.stale(ev) {
		return nil, nil
	}
	if ev.Kind == EventMessage && ev.Msg.Type == MsgStateReport && ev.Msg.Round == p.round && p.pending.Has(ev.From) {
		p.reports[ev.From] = ev.Msg.State
		p.pending.Remove(ev.From)
		if p.pending.Len() == 0 {
			return p.decide()
		}
		return nil, nil
	}
	return nil, violation(p.id, p.state, ev)
}

// decide applies Decide to the collected states and broadcasts the result.
func (p *Participant) decide() ([]Effect, error) {
	states := []State{p.state}
	for _, s := range p.reports {
		states = append(states, s)
	}
	decision, err := Decide(states)
	if err != nil {
		return nil, fmt.Errorf("substitute %v round %d: %w", p.id, p.round, err)
	}

	global := MsgGlobalAbort
	if decision == StateCommit {
		global = MsgGlobalCommit
	}
	effects, err := p.apply(decision, global.String())
	if err != nil {
		return nil, err
	}
	if p.peers.Len() > 0 {
		effects = append(effects, send(p.peers, p.msg(global)))
	}
	return effects, nil
}

func (p *Participant) stepStateRequest(ev Event) ([]Effect, error) {
	if ev.Kind == EventTimeout {
		return p.suspect(fmt.Sprintf("substitute coordinator %v silent in round %d", p.coordinator, p.round))
	}
	if p.stale(ev) {
		return nil, nil
	}
	if ev.Kind == EventMessage && ev.Msg.Type == MsgStateChange && ev.Msg.Round == p.round {
		p.phase = phaseOutcome
		report := Message{Type: MsgStateReport, Txn: p.txn, State: p.state, Round: p.round}
		return []Effect{send(group.NewSet(p.coordinator), report)}, nil
	}
	return nil, violation(p.id, p.state, ev)
}

func (p *Participant) stepOutcome(ev Event) ([]Effect, error) {
	if ev.Kind == EventTimeout {
		return p.suspect(fmt.Sprintf("substitute coordinator %v silent in round %d", p.coordinator, p.round))
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

// giveUp ends the run unresolved. There is no retry: the remaining peers
// cannot be told apart from crashed ones.
func (p *Participant) giveUp(reason string) []Effect {
	p.unresolved = true
	p.reason = reason
	p.phase = phaseDone
	return nil
}
