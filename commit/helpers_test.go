package commit

import (
	"errors"
	"testing"
	"time"

	"nbcommit/group"
)

var testTiming = Timing{Timeout: time.Second, Suspect: 2 * time.Second, Linger: 3 * time.Second}

func msgFrom(from group.ID, t MsgType) Event {
	return MessageEvent(from, Message{Type: t})
}

type stepper interface {
	Step(ev Event) ([]Effect, error)
}

func mustStep(t *testing.T, m stepper, ev Event) []Effect {
	t.Helper()
	effects, err := m.Step(ev)
	if err != nil {
		t.Fatalf("step %+v: %v", ev, err)
	}
	return effects
}

// expect checks effects against a compact description: "ENTER COMMIT",
// "SEND GLOBAL_COMMIT {3,4}" or "WORK".
func expect(t *testing.T, effects []Effect, want ...string) {
	t.Helper()
	got := make([]string, len(effects))
	for i, e := range effects {
		switch e.Kind {
		case EffectEnter:
			got[i] = "ENTER " + e.State.String()
		case EffectSend:
			got[i] = "SEND " + e.Msg.Type.String() + " " + e.To.String()
		case EffectWork:
			got[i] = "WORK"
		}
	}
	if len(got) != len(want) {
		t.Fatalf("effects = %q, want %q", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("effects = %q, want %q", got, want)
		}
	}
}

func expectErr(t *testing.T, m stepper, ev Event, target error) {
	t.Helper()
	if _, err := m.Step(ev); !errors.Is(err, target) {
		t.Fatalf("step %+v: err = %v, want %v", ev, err, target)
	}
}
