// Package group implements the process-group channel the commit protocol
// talks over: members join named groups, bind to receive, and exchange
// opaque payloads with per-sender FIFO delivery.
package group

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned by ReceiveFrom when no listed sender delivered
	// a message in time. It is a suspicion signal, not a failure.
	ErrTimeout = errors.New("group: receive timed out")

	ErrNotBound      = errors.New("group: member not bound")
	ErrNotJoined     = errors.New("group: connection has not joined a group")
	ErrUnknownMember = errors.New("group: unknown member")
)

// Envelope is one delivered message.
type Envelope struct {
	From    ID     `codec:"from"`
	Payload []byte `codec:"payload"`
}

// Channel is one process's handle on the group. Messages from a single
// sender arrive in send order; there is no ordering across senders.
type Channel interface {
	Join(group string) (ID, error)
	Bind(id ID) error
	Leave() error
	Subgroup(group string) (Set, error)
	SendTo(to Set, payload []byte) error
	// ReceiveFrom returns the oldest queued message from any of the given
	// senders, waiting at most timeout. Messages from other senders stay
	// queued.
	ReceiveFrom(ctx context.Context, from Set, timeout time.Duration) (Envelope, error)
}
