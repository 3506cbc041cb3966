package commit

import (
	"fmt"

	"nbcommit/codec"
)

type MsgType uint8

const (
	MsgVoteRequest MsgType = iota + 1
	MsgVoteCommit
	MsgVoteAbort
	MsgPrepareCommit
	MsgReadyCommit
	MsgGlobalCommit
	MsgGlobalAbort

	// Termination protocol, participant to participant.
	MsgNewCoordinator
	MsgStateChange
	MsgStateReport
)

var msgNames = map[MsgType]string{
	MsgVoteRequest:    "VOTE_REQUEST",
	MsgVoteCommit:     "VOTE_COMMIT",
	MsgVoteAbort:      "VOTE_ABORT",
	MsgPrepareCommit:  "PREPARE_COMMIT",
	MsgReadyCommit:    "READY_COMMIT",
	MsgGlobalCommit:   "GLOBAL_COMMIT",
	MsgGlobalAbort:    "GLOBAL_ABORT",
	MsgNewCoordinator: "NEW_COORDINATOR",
	MsgStateChange:    "STATE_CHANGE",
	MsgStateReport:    "STATE_REPORT",
}

func (t MsgType) String() string {
	if n, ok := msgNames[t]; ok {
		return n
	}
	return fmt.Sprintf("MsgType(%d)", uint8(t))
}

// ParseMsgType is the inverse of String.
func ParseMsgType(s string) (MsgType, error) {
	for t, n := range msgNames {
		if n == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown message %q", s)
}

// Message is the payload exchanged over the group channel. State is set on
// StateChange and StateReport; Round numbers termination protocol rounds.
type Message struct {
	Type  MsgType `codec:"type"`
	Txn   string  `codec:"txn,omitempty"`
	State State   `codec:"state,omitempty"`
	Round uint32  `codec:"round,omitempty"`
}

func (m Message) String() string {
	switch m.Type {
	case MsgStateChange, MsgStateReport:
		return fmt.Sprintf("%s(%s, round %d)", m.Type, m.State, m.Round)
	case MsgNewCoordinator:
		return fmt.Sprintf("%s(round %d)", m.Type, m.Round)
	}
	return m.Type.String()
}

func (m Message) Encode() ([]byte, error) {
	return codec.Encode(&m)
}

func DecodeMessage(b []byte) (Message, error) {
	var m Message
	if err := codec.Decode(b, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if _, ok := msgNames[m.Type]; !ok {
		return Message{}, fmt.Errorf("decode message: unknown type %d", m.Type)
	}
	return m, nil
}
