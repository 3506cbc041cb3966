// Package commit implements a non-blocking three-phase commit: the
// coordinator and participant state machines and the termination protocol
// participants run to elect a substitute coordinator when theirs goes
// silent.
//
// The machines are pure: Start and Step return the effects (state entries,
// sends, local work) a process must carry out, and Await names what it
// blocks on next. Process drives a machine over a group channel and a
// stable log.
package commit

import "fmt"

// State is a protocol state. Coordinators move through INIT, WAIT,
// PRECOMMIT and end in COMMIT or ABORT; participants start at NEW and move
// through INIT, READY, PRECOMMIT to COMMIT or ABORT. States only advance.
type State uint8

const (
	StateNew State = iota
	StateInit
	StateWait
	StateReady
	StatePreCommit
	StateCommit
	StateAbort
)

var stateNames = [...]string{
	StateNew:       "NEW",
	StateInit:      "INIT",
	StateWait:      "WAIT",
	StateReady:     "READY",
	StatePreCommit: "PRECOMMIT",
	StateCommit:    "COMMIT",
	StateAbort:     "ABORT",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// ParseState is the inverse of String.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return State(s), nil
		}
	}
	return 0, fmt.Errorf("unknown state %q", name)
}

// Terminal reports whether s is COMMIT or ABORT.
func (s State) Terminal() bool {
	return s == StateCommit || s == StateAbort
}

// LocalDecision is the result of a participant's own unit of work.
type LocalDecision uint8

const (
	LocalSuccess LocalDecision = iota
	LocalAbort
)

func (d LocalDecision) String() string {
	if d == LocalAbort {
		return "LOCAL_ABORT"
	}
	return "LOCAL_SUCCESS"
}

// Role names the two kinds of process. The strings double as group names.
type Role uint8

const (
	RoleCoordinator Role = iota
	RoleParticipant
)

func (r Role) String() string {
	if r == RoleCoordinator {
		return "coordinator"
	}
	return "participant"
}

// ParseRole is the inverse of String.
func ParseRole(s string) (Role, error) {
	switch s {
	case "coordinator":
		return RoleCoordinator, nil
	case "participant":
		return RoleParticipant, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}
