package commit

import (
	"time"

	"nbcommit/group"
)

type EventKind uint8

const (
	EventMessage EventKind = iota
	EventTimeout
	EventWorkDone
)

// Event is the input of one transition: a received message, a receive
// that timed out, or the completion of the local unit of work.
type Event struct {
	Kind     EventKind
	From     group.ID
	Msg      Message
	Decision LocalDecision
}

func MessageEvent(from group.ID, msg Message) Event {
	return Event{Kind: EventMessage, From: from, Msg: msg}
}

func TimeoutEvent() Event {
	return Event{Kind: EventTimeout}
}

func WorkEvent(d LocalDecision) Event {
	return Event{Kind: EventWorkDone, Decision: d}
}

type EffectKind uint8

const (
	// EffectEnter records a state entry; it precedes any send made in
	// that state.
	EffectEnter EffectKind = iota
	EffectSend
	// EffectWork asks the process to run its local unit of work and feed
	// the result back as a WorkEvent.
	EffectWork
)

type Effect struct {
	Kind  EffectKind
	State State
	To    group.Set
	Msg   Message
}

func enter(s State) Effect {
	return Effect{Kind: EffectEnter, State: s}
}

func send(to group.Set, msg Message) Effect {
	return Effect{Kind: EffectSend, To: to.Clone(), Msg: msg}
}

// Wait is the receive a machine blocks on next. A non-zero Window makes
// the timeout absolute: successive waits carrying the same Window share one
// deadline, counted from the first of them.
type Wait struct {
	From    group.Set
	Timeout time.Duration
	Window  uint64
}

// Timing holds the receive timeouts. Participants wait longer on a
// coordinator than the coordinator waits on them, so a live coordinator's
// own timeout abort reaches them before they suspect it. The same holds in
// the termination protocol: a substitute collects states for Timeout while
// its followers wait Suspect for the outcome. Linger is the
// post-decision window in which a participant still joins a termination
// round started by a peer.
type Timing struct {
	Timeout time.Duration
	Suspect time.Duration
	Linger  time.Duration
}

// DefaultTiming derives the participant timeouts from the coordinator's.
func DefaultTiming(timeout time.Duration) Timing {
	return Timing{Timeout: timeout, Suspect: 2 * timeout, Linger: 3 * timeout}
}
