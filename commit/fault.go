package commit

import (
	"fmt"
	"strings"

	"nbcommit/group"
)

// CrashPoint is a place a process may be stopped: just before or just
// after it sends Msg while in State.
type CrashPoint struct {
	Process group.ID
	Role    Role
	State   State
	Msg     MsgType
	After   bool
}

// Fault decides whether a process stops abruptly at a crash point. A
// stopped process sends nothing more and does no cleanup.
type Fault interface {
	Crash(pt CrashPoint) bool
}

type FaultFunc func(pt CrashPoint) bool

func (f FaultFunc) Crash(pt CrashPoint) bool { return f(pt) }

// CrashOn stops the process of the given role (and id, unless id is 0)
// around its send of msg.
func CrashOn(role Role, id group.ID, msg MsgType, after bool) Fault {
	return FaultFunc(func(pt CrashPoint) bool {
		return pt.Role == role && (id == 0 || pt.Process == id) && pt.Msg == msg && pt.After == after
	})
}

// Faults combines several faults; any one firing crashes the process.
func Faults(fs ...Fault) Fault {
	return FaultFunc(func(pt CrashPoint) bool {
		for _, f := range fs {
			if f != nil && f.Crash(pt) {
				return true
			}
		}
		return false
	})
}

// ParseCrash reads "role:id:before|after:MESSAGE", for example
// "coordinator:0:after:PREPARE_COMMIT". An empty spec means no crash.
func ParseCrash(spec string) (Fault, error) {
	if spec == "" {
		return nil, nil
	}
	parts := strings.Split(spec, ":")
	if len(parts) != 4 {
		return nil, fmt.Errorf("crash spec %q: want role:id:before|after:MESSAGE", spec)
	}
	role, err := ParseRole(parts[0])
	if err != nil {
		return nil, fmt.Errorf("crash spec %q: %w", spec, err)
	}
	id, err := group.ParseID(parts[1])
	if err != nil {
		return nil, fmt.Errorf("crash spec %q: bad id: %w", spec, err)
	}
	var after bool
	switch parts[2] {
	case "before":
	case "after":
		after = true
	default:
		return nil, fmt.Errorf("crash spec %q: want before or after, got %q", spec, parts[2])
	}
	msg, err := ParseMsgType(parts[3])
	if err != nil {
		return nil, fmt.Errorf("crash spec %q: %w", spec, err)
	}
	return CrashOn(role, id, msg, after), nil
}
