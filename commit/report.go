package commit

import (
	"fmt"

	"nbcommit/group"
)

type Outcome uint8

const (
	OutcomePending Outcome = iota
	OutcomeCommitted
	OutcomeAborted
	// OutcomeUnresolved is where the termination protocol gives up: an
	// election was not confirmed by every peer, or a substitute coordinator
	// heard from too few peers to decide.
	OutcomeUnresolved
	OutcomeCrashed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeAborted:
		return "aborted"
	case OutcomeUnresolved:
		return "unresolved"
	case OutcomeCrashed:
		return "crashed"
	}
	return "pending"
}

func outcomeOf(s State) Outcome {
	switch s {
	case StateCommit:
		return OutcomeCommitted
	case StateAbort:
		return OutcomeAborted
	}
	return OutcomeUnresolved
}

// Report is what a process's run ends with. It is informational: failures
// the protocol recovers from never surface as errors.
type Report struct {
	Process group.ID
	Role    Role
	State   State
	Outcome Outcome
	Cause   string // message or local decision that set the final state
	Reason  string

	// Coordinator is the process a participant followed last: the original
	// coordinator or the substitute of its latest termination round.
	Coordinator group.ID
	Elections   int
}

func (r Report) String() string {
	name := "Participant"
	if r.Role == RoleCoordinator {
		name = "Coordinator"
	}
	switch r.Outcome {
	case OutcomeCrashed:
		return fmt.Sprintf("%s %v crashed in state %s.", name, r.Process, r.State)
	case OutcomeUnresolved:
		return fmt.Sprintf("%s %v is unresolved in state %s. Reason: %s.", name, r.Process, r.State, r.Reason)
	}
	if r.Role == RoleCoordinator && r.Reason != "" {
		return fmt.Sprintf("%s %v terminated in state %s. Reason: %s.", name, r.Process, r.State, r.Reason)
	}
	if r.Cause != "" {
		return fmt.Sprintf("%s %v terminated in state %s due to %s.", name, r.Process, r.State, r.Cause)
	}
	return fmt.Sprintf("%s %v terminated in state %s.", name, r.Process, r.State)
}
