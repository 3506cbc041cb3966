package commit

import (
	"fmt"

	"nbcommit/group"
)

// Coordinator drives one transaction through vote collection, pre-commit
// and the global decision.
type Coordinator struct {
	id           group.ID
	txn          string
	participants group.Set
	timing       Timing

	state   State
	pending group.Set
	done    bool
	reason  string
	cause   string
	// abortedBy is the participant whose VoteAbort decided the outcome.
	abortedBy group.ID
}

func NewCoordinator(id group.ID, participants group.Set, txn string, timing Timing) *Coordinator {
	return &Coordinator{
		id:           id,
		txn:          txn,
		participants: participants.Clone(),
		timing:       timing,
		state:        StateInit,
	}
}

func (c *Coordinator) msg(t MsgType) Message {
	return Message{Type: t, Txn: c.txn}
}

func (c *Coordinator) State() State { return c.state }
func (c *Coordinator) Done() bool   { return c.done }

// AbortedBy returns the participant whose vote forced the abort.
func (c *Coordinator) AbortedBy() (group.ID, bool) {
	return c.abortedBy, c.abortedBy != 0
}

// Start requests every participant's vote.
func (c *Coordinator) Start() []Effect {
	c.state = StateWait
	c.pending = c.participants.Clone()
	effects := []Effect{enter(StateInit), enter(StateWait), send(c.participants, c.msg(MsgVoteRequest))}
	return append(effects, c.advance()...)
}

func (c *Coordinator) Await() Wait {
	return Wait{From: c.pending.Clone(), Timeout: c.timing.Timeout}
}

func (c *Coordinator) Step(ev Event) ([]Effect, error) {
	if c.done {
		return nil, violation(c.id, c.state, ev)
	}
	if ev.Kind == EventTimeout {
		return c.abort(fmt.Sprintf("timeout in state %s", c.state), "TIMEOUT"), nil
	}
	if ev.Kind != EventMessage || !c.pending.Has(ev.From) {
		return nil, violation(c.id, c.state, ev)
	}

	switch ev.Msg.Type {
	case MsgVoteAbort:
		c.abortedBy = ev.From
		return c.abort(fmt.Sprintf("local_abort from %v", ev.From), ev.Msg.Type.String()), nil
	case MsgVoteCommit:
		if c.state != StateWait {
			return nil, violation(c.id, c.state, ev)
		}
	case MsgReadyCommit:
		if c.state != StatePreCommit {
			return nil, violation(c.id, c.state, ev)
		}
	default:
		return nil, violation(c.id, c.state, ev)
	}
	c.pending.Remove(ev.From)
	return c.advance(), nil
}

// advance moves on once every participant has answered the current phase.
func (c *Coordinator) advance() []Effect {
	if c.pending.Len() > 0 {
		return nil
	}
	switch c.state {
	case StateWait:
		c.state = StatePreCommit
		c.pending = c.participants.Clone()
		effects := []Effect{enter(StatePreCommit), send(c.participants, c.msg(MsgPrepareCommit))}
		return append(effects, c.advance()...)
	case StatePreCommit:
		c.state = StateCommit
		c.done = true
		c.cause = MsgGlobalCommit.String()
		return []Effect{enter(StateCommit), send(c.participants, c.msg(MsgGlobalCommit))}
	}
	return nil
}

func (c *Coordinator) abort(reason, cause string) []Effect {
	c.state = StateAbort
	c.done = true
	c.reason = reason
	c.cause = cause
	c.pending = group.NewSet()
	return []Effect{enter(StateAbort), send(c.participants, c.msg(MsgGlobalAbort))}
}

func (c *Coordinator) Report() Report {
	r := Report{
		Process:     c.id,
		Role:        RoleCoordinator,
		State:       c.state,
		Cause:       c.cause,
		Reason:      c.reason,
		Coordinator: c.id,
	}
	if c.done {
		r.Outcome = outcomeOf(c.state)
	}
	return r
}
