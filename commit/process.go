package commit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"

	"nbcommit/group"
)

// StableLog records every state a process enters before it acts on it.
type StableLog interface {
	Append(id uint64, state string) error
}

// Work is a participant's local unit of work on transaction txn.
type Work func(ctx context.Context, txn string) LocalDecision

// Env is everything a process talks to. Each process owns its own.
type Env struct {
	Channel group.Channel
	Log     StableLog
	Logger  hclog.Logger
	Metrics *metrics.Metrics
	Fault   Fault
}

type Options struct {
	Txn    string
	Timing Timing
	Work   Work
}

type machine interface {
	Start() []Effect
	Step(ev Event) ([]Effect, error)
	Await() Wait
	Done() bool
	Report() Report
}

// Process runs one coordinator or participant over its Env.
type Process struct {
	env     Env
	role    Role
	id      group.ID
	opts    Options
	m       machine
	logger  hclog.Logger
	metrics *metrics.Metrics

	window   uint64
	deadline time.Time
}

// NewProcess joins the group named after role. Init must be called once
// every member has joined.
func NewProcess(env Env, role Role, opts Options) (*Process, error) {
	id, err := env.Channel.Join(role.String())
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", role, err)
	}
	logger := env.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	m := env.Metrics
	if m == nil {
		m = metrics.Default()
	}
	return &Process{
		env:     env,
		role:    role,
		id:      id,
		opts:    opts,
		logger:  logger.Named(role.String()).With("id", id),
		metrics: m,
	}, nil
}

func (p *Process) ID() group.ID { return p.id }

// Txn is the transaction id. A participant started without one adopts the
// id of the first vote request it receives.
func (p *Process) Txn() string { return p.opts.Txn }

func (p *Process) Role() Role   { return p.role }

// Init binds to the channel and fixes the membership the run works with.
func (p *Process) Init() error {
	if err := p.env.Channel.Bind(p.id); err != nil {
		return err
	}
	participants, err := p.env.Channel.Subgroup(RoleParticipant.String())
	if err != nil {
		return err
	}

	if p.role == RoleCoordinator {
		p.m = NewCoordinator(p.id, participants, p.opts.Txn, p.opts.Timing)
		p.logger.Debug("initialized", "participants", participants)
		return nil
	}

	coordinators, err := p.env.Channel.Subgroup(RoleCoordinator.String())
	if err != nil {
		return err
	}
	coord, ok := coordinators.Min()
	if !ok {
		return errors.New("no coordinator has joined")
	}
	p.m = NewParticipant(p.id, coord, participants, p.opts.Txn, p.opts.Timing)
	p.logger.Debug("initialized", "coordinator", coord, "participants", participants)
	return nil
}

// Run executes the protocol to the end and reports how it ended. The error
// is non-nil only for protocol violations and channel failures.
func (p *Process) Run(ctx context.Context) (Report, error) {
	if p.m == nil {
		return Report{}, errors.New("process not initialized")
	}
	defer p.metrics.MeasureSince([]string{"run"}, time.Now())

	work, crashed := p.apply(ctx, p.m.Start())
	for !crashed && !p.m.Done() {
		var ev Event
		if work != nil {
			ev, work = *work, nil
		} else {
			var err error
			if ev, err = p.receive(ctx); err != nil {
				return p.m.Report(), err
			}
		}

		elections := p.m.Report().Elections
		effects, err := p.m.Step(ev)
		if err != nil {
			p.logger.Error("stopping on protocol failure", "error", err)
			return p.m.Report(), err
		}
		if r := p.m.Report(); r.Elections > elections {
			p.metrics.IncrCounter([]string{"election"}, 1)
			p.logger.Warn("starting termination protocol", "elections", r.Elections, "reason", r.Reason)
		}
		work, crashed = p.apply(ctx, effects)
	}

	report := p.m.Report()
	if crashed {
		report.Outcome = OutcomeCrashed
	}
	p.metrics.IncrCounter([]string{"outcome", report.Outcome.String()}, 1)
	if report.Outcome == OutcomeUnresolved {
		p.logger.Error(report.String())
	} else {
		p.logger.Info(report.String())
	}
	return report, nil
}

// apply carries out effects in order. It returns the event produced by
// local work, if any, and whether a fault stopped the process.
func (p *Process) apply(ctx context.Context, effects []Effect) (*Event, bool) {
	var work *Event
	for _, e := range effects {
		switch e.Kind {
		case EffectEnter:
			if p.env.Log != nil {
				if err := p.env.Log.Append(uint64(p.id), e.State.String()); err != nil {
					p.logger.Error("stable log append failed", "state", e.State, "error", err)
				}
			}
			p.metrics.IncrCounter([]string{"state", e.State.String()}, 1)
			p.logger.Info("entered state", "state", e.State)

		case EffectSend:
			if p.crash(e.Msg.Type, false) {
				return nil, true
			}
			p.send(e)
			if p.crash(e.Msg.Type, true) {
				return nil, true
			}

		case EffectWork:
			d := LocalSuccess
			if p.opts.Work != nil {
				d = p.opts.Work(ctx, p.opts.Txn)
			}
			p.logger.Debug("local work done", "decision", d)
			ev := WorkEvent(d)
			work = &ev
		}
	}
	return work, false
}

func (p *Process) send(e Effect) {
	payload, err := e.Msg.Encode()
	if err != nil {
		p.logger.Error("cannot encode message", "msg", e.Msg, "error", err)
		return
	}
	// Peers may be gone; that is what timeouts are for.
	if err := p.env.Channel.SendTo(e.To, payload); err != nil {
		p.logger.Warn("send failed", "msg", e.Msg, "to", e.To, "error", err)
		return
	}
	p.metrics.IncrCounter([]string{"msg", "sent"}, float32(e.To.Len()))
	p.logger.Debug("sent", "msg", e.Msg, "to", e.To)
}

func (p *Process) crash(msg MsgType, after bool) bool {
	if p.env.Fault == nil {
		return false
	}
	pt := CrashPoint{Process: p.id, Role: p.role, State: p.m.Report().State, Msg: msg, After: after}
	if !p.env.Fault.Crash(pt) {
		return false
	}
	when := "before"
	if after {
		when = "after"
	}
	p.logger.Warn("simulated crash", "state", pt.State, "when", when, "msg", msg)
	return true
}

// timeout is how long the next receive of w may block.
func (p *Process) timeout(w Wait) time.Duration {
	if w.Window == 0 {
		return w.Timeout
	}
	if w.Window != p.window {
		p.window = w.Window
		p.deadline = time.Now().Add(w.Timeout)
	}
	if left := time.Until(p.deadline); left > 0 {
		return left
	}
	return 0
}

func (p *Process) receive(ctx context.Context) (Event, error) {
	w := p.m.Await()
	for {
		env, err := p.env.Channel.ReceiveFrom(ctx, w.From, p.timeout(w))
		if errors.Is(err, group.ErrTimeout) {
			p.metrics.IncrCounter([]string{"timeout"}, 1)
			p.logger.Warn("receive timed out", "state", p.m.Report().State, "from", w.From, "timeout", w.Timeout)
			return TimeoutEvent(), nil
		}
		if err != nil {
			return Event{}, fmt.Errorf("receive: %w", err)
		}

		msg, err := DecodeMessage(env.Payload)
		if err != nil {
			return Event{}, fmt.Errorf("message from %v: %w", env.From, err)
		}
		if p.opts.Txn == "" && p.role == RoleParticipant && msg.Type == MsgVoteRequest && msg.Txn != "" {
			p.opts.Txn = msg.Txn
			p.logger.Info("adopted transaction", "txn", msg.Txn)
		}
		if msg.Txn != p.opts.Txn && msg.Txn != "" && p.opts.Txn != "" {
			p.logger.Warn("dropping message for another transaction", "from", env.From, "txn", msg.Txn)
			continue
		}
		p.metrics.IncrCounter([]string{"msg", "recv"}, 1)
		p.logger.Debug("received", "from", env.From, "msg", msg)
		return MessageEvent(env.From, msg), nil
	}
}
