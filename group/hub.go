package group

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
)

// dedupSize bounds how many (sender, seq) pairs the hub remembers.
const dedupSize = 4096

// Hub is an in-memory group channel shared by every process in a test or
// a single-binary cluster. The HTTP Server exposes one to remote processes.
type Hub struct {
	mu      sync.Mutex
	dir     *directory
	groups  map[ID]string
	boxes   map[ID]*mailbox
	left    Set
	next    ID
	arrival uint64
	seen    *lru.Cache
	logger  hclog.Logger
}

type queued struct {
	order uint64
	env   Envelope
}

// mailbox holds one FIFO per sender. wake is closed and replaced on every
// delivery so blocked receivers re-scan.
type mailbox struct {
	bound  bool
	queues map[ID][]queued
	wake   chan struct{}
}

func NewHub(logger hclog.Logger) *Hub {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	seen, err := lru.New(dedupSize)
	if err != nil {
		panic(err) // only fails for a non-positive size
	}
	return &Hub{
		dir:    newDirectory(),
		groups: make(map[ID]string),
		boxes:  make(map[ID]*mailbox),
		left:   NewSet(),
		seen:   seen,
		logger: logger.Named("hub"),
	}
}

// Connect returns a fresh per-process handle on the hub.
func (h *Hub) Connect() *Conn {
	return &Conn{hub: h}
}

// Join registers a new member of group and returns its id.
func (h *Hub) Join(group string) ID {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	id := h.next
	h.dir.add(group, id)
	h.groups[id] = group
	h.boxes[id] = &mailbox{queues: make(map[ID][]queued), wake: make(chan struct{})}
	h.logger.Debug("member joined", "group", group, "id", id)
	return id
}

func (h *Hub) Bind(id ID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	box, ok := h.boxes[id]
	if !ok {
		return fmt.Errorf("bind %v: %w", id, ErrUnknownMember)
	}
	box.bound = true
	return nil
}

// Leave drops a member. Later sends to it are discarded silently, which is
// how peers observe a crashed process.
func (h *Hub) Leave(id ID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[id]
	if !ok {
		return
	}
	h.dir.remove(group, id)
	delete(h.groups, id)
	if box, ok := h.boxes[id]; ok {
		delete(h.boxes, id)
		close(box.wake)
	}
	h.left.Add(id)
	h.logger.Debug("member left", "group", group, "id", id)
}

func (h *Hub) Subgroup(group string) Set {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dir.subgroup(group)
}

// Send queues payload for every recipient. A non-zero seq identifies the
// send so a retried request is delivered once.
func (h *Hub) Send(from ID, seq uint64, to Set, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if seq != 0 {
		key := fmt.Sprintf("%d/%d", from, seq)
		if h.seen.Contains(key) {
			h.logger.Trace("duplicate send dropped", "from", from, "seq", seq)
			return nil
		}
		h.seen.Add(key, struct{}{})
	}

	var unknown []ID
	for _, id := range to.Sorted() {
		box, ok := h.boxes[id]
		if !ok {
			if !h.left.Has(id) {
				unknown = append(unknown, id)
			}
			continue
		}
		h.arrival++
		body := append([]byte(nil), payload...)
		box.queues[from] = append(box.queues[from], queued{
			order: h.arrival,
			env:   Envelope{From: from, Payload: body},
		})
		close(box.wake)
		box.wake = make(chan struct{})
	}
	if len(unknown) > 0 {
		return fmt.Errorf("send from %v to %v: %w", from, unknown, ErrUnknownMember)
	}
	return nil
}

// Receive implements Channel.ReceiveFrom for member self.
func (h *Hub) Receive(ctx context.Context, self ID, from Set, timeout time.Duration) (Envelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		h.mu.Lock()
		box, ok := h.boxes[self]
		if !ok || !box.bound {
			h.mu.Unlock()
			return Envelope{}, fmt.Errorf("receive %v: %w", self, ErrNotBound)
		}
		if env, ok := box.pop(from); ok {
			h.mu.Unlock()
			return env, nil
		}
		wake := box.wake
		h.mu.Unlock()

		select {
		case <-wake:
		case <-timer.C:
			return Envelope{}, ErrTimeout
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		}
	}
}

// pop removes the oldest message sent by any member of from.
func (b *mailbox) pop(from Set) (Envelope, bool) {
	var (
		best  ID
		found bool
	)
	for id := range from {
		q := b.queues[id]
		if len(q) == 0 {
			continue
		}
		if !found || q[0].order < b.queues[best][0].order {
			best, found = id, true
		}
	}
	if !found {
		return Envelope{}, false
	}
	q := b.queues[best]
	env := q[0].env
	if len(q) == 1 {
		delete(b.queues, best)
	} else {
		b.queues[best] = q[1:]
	}
	return env, true
}

// Conn is a process's handle on an in-memory Hub.
type Conn struct {
	hub  *Hub
	self ID
	seq  atomic.Uint64
}

var _ Channel = (*Conn)(nil)

func (c *Conn) Join(group string) (ID, error) {
	c.self = c.hub.Join(group)
	return c.self, nil
}

func (c *Conn) Bind(id ID) error {
	if c.self == 0 {
		return ErrNotJoined
	}
	return c.hub.Bind(id)
}

// Leave simulates the process disappearing from the group.
func (c *Conn) Leave() error {
	if c.self == 0 {
		return ErrNotJoined
	}
	c.hub.Leave(c.self)
	return nil
}

func (c *Conn) Subgroup(group string) (Set, error) {
	return c.hub.Subgroup(group), nil
}

func (c *Conn) SendTo(to Set, payload []byte) error {
	if c.self == 0 {
		return ErrNotJoined
	}
	return c.hub.Send(c.self, c.seq.Add(1), to, payload)
}

func (c *Conn) ReceiveFrom(ctx context.Context, from Set, timeout time.Duration) (Envelope, error) {
	if c.self == 0 {
		return Envelope{}, ErrNotJoined
	}
	return c.hub.Receive(ctx, c.self, from, timeout)
}
