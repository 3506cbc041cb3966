package commit

import (
	"errors"
	"fmt"

	"nbcommit/group"
)

var (
	// ErrProtocol marks a message that cannot occur in the receiving state.
	// It is a programming error; the process stops rather than guess.
	ErrProtocol = errors.New("protocol violation")

	// ErrInconsistent marks a decision contradicting one already reached.
	ErrInconsistent = errors.New("inconsistent decision")
)

// ProtocolError describes an unexpected message.
type ProtocolError struct {
	Process group.ID
	State   State
	From    group.ID
	Msg     Message
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("process %v in state %s: unexpected %s from %v", e.Process, e.State, e.Msg, e.From)
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

func violation(self group.ID, state State, ev Event) error {
	if ev.Kind != EventMessage {
		return fmt.Errorf("process %v in state %s: unexpected event kind %d: %w", self, state, ev.Kind, ErrProtocol)
	}
	return &ProtocolError{Process: self, State: state, From: ev.From, Msg: ev.Msg}
}
