package group

import (
	"context"
	"errors"
	"testing"
	"time"
)

func joined(t *testing.T, h *Hub, group string) *Conn {
	t.Helper()
	c := h.Connect()
	id, err := c.Join(group)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := c.Bind(id); err != nil {
		t.Fatalf("bind: %v", err)
	}
	return c
}

func TestSubgroup(t *testing.T) {
	h := NewHub(nil)
	coord := joined(t, h, "coordinator")
	p1 := joined(t, h, "participant")
	p2 := joined(t, h, "participant")
	joined(t, h, "participants") // must not leak into "participant"

	got := h.Subgroup("participant")
	if got.Len() != 2 || !got.Has(p1.self) || !got.Has(p2.self) {
		t.Errorf("participants = %v", got)
	}
	if got := h.Subgroup("coordinator"); got.Len() != 1 || !got.Has(coord.self) {
		t.Errorf("coordinator = %v", got)
	}
	if min, _ := got.Min(); min != p1.self {
		t.Errorf("smallest participant = %v, want %v", min, p1.self)
	}
}

func TestPerSenderFIFO(t *testing.T) {
	h := NewHub(nil)
	a := joined(t, h, "participant")
	b := joined(t, h, "participant")
	r := joined(t, h, "participant")
	to := NewSet(r.self)

	for _, m := range []string{"a1", "a2"} {
		if err := a.SendTo(to, []byte(m)); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.SendTo(to, []byte("b1")); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	// Only b is asked for; a's messages stay queued.
	env, err := r.ReceiveFrom(ctx, NewSet(b.self), time.Second)
	if err != nil || string(env.Payload) != "b1" || env.From != b.self {
		t.Fatalf("got %+v, %v", env, err)
	}
	for _, want := range []string{"a1", "a2"} {
		env, err := r.ReceiveFrom(ctx, NewSet(a.self, b.self), time.Second)
		if err != nil || string(env.Payload) != want {
			t.Fatalf("got %q, %v; want %q", env.Payload, err, want)
		}
	}
}

func TestReceiveTimeout(t *testing.T) {
	h := NewHub(nil)
	a := joined(t, h, "participant")
	r := joined(t, h, "participant")

	start := time.Now()
	_, err := r.ReceiveFrom(context.Background(), NewSet(a.self), 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("returned before the timeout elapsed")
	}
}

func TestReceiveWakesOnSend(t *testing.T) {
	h := NewHub(nil)
	a := joined(t, h, "participant")
	r := joined(t, h, "participant")

	go func() {
		time.Sleep(10 * time.Millisecond)
		a.SendTo(NewSet(r.self), []byte("late"))
	}()
	env, err := r.ReceiveFrom(context.Background(), NewSet(a.self), time.Second)
	if err != nil || string(env.Payload) != "late" {
		t.Fatalf("got %+v, %v", env, err)
	}
}

func TestLeaveDropsMessages(t *testing.T) {
	h := NewHub(nil)
	a := joined(t, h, "participant")
	gone := joined(t, h, "participant")

	if err := gone.Leave(); err != nil {
		t.Fatal(err)
	}
	if err := a.SendTo(NewSet(gone.self), []byte("x")); err != nil {
		t.Errorf("send to a departed member should be dropped silently, got %v", err)
	}
	if h.Subgroup("participant").Has(gone.self) {
		t.Error("departed member still listed")
	}
	if err := a.SendTo(NewSet(ID(99)), []byte("x")); !errors.Is(err, ErrUnknownMember) {
		t.Errorf("err = %v, want ErrUnknownMember", err)
	}
}

func TestDuplicateSendDropped(t *testing.T) {
	h := NewHub(nil)
	a := joined(t, h, "participant")
	r := joined(t, h, "participant")
	to := NewSet(r.self)

	h.Send(a.self, 7, to, []byte("once"))
	h.Send(a.self, 7, to, []byte("once"))

	ctx := context.Background()
	if _, err := r.ReceiveFrom(ctx, NewSet(a.self), time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReceiveFrom(ctx, NewSet(a.self), 10*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("second delivery: err = %v, want ErrTimeout", err)
	}
}

func TestUnboundReceive(t *testing.T) {
	h := NewHub(nil)
	c := h.Connect()
	if _, err := c.ReceiveFrom(context.Background(), NewSet(1), time.Millisecond); !errors.Is(err, ErrNotJoined) {
		t.Errorf("err = %v, want ErrNotJoined", err)
	}
	c.Join("participant")
	if _, err := c.ReceiveFrom(context.Background(), NewSet(1), time.Millisecond); !errors.Is(err, ErrNotBound) {
		t.Errorf("err = %v, want ErrNotBound", err)
	}
}

func TestSetMin(t *testing.T) {
	if _, ok := NewSet().Min(); ok {
		t.Error("empty set has no minimum")
	}
	s := NewSet(9, 4, 7)
	if min, _ := s.Min(); min != 4 {
		t.Errorf("min = %v", min)
	}
	if s.String() != "{4,7,9}" {
		t.Errorf("String() = %s", s)
	}
}
