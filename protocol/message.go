package protocol

import (
	"fmt"

	"github.com/google/uuid"
)

// Message is a parsed EMQP message. Body holds the frames after the message
// id; its meaning depends on Command.
type Message struct {
	Sender  string
	Command string
	ID      string
	Body    []string
}

// NewMessageID returns a fresh opaque correlation token.
func NewMessageID() string {
	return uuid.NewString()
}

// ParseRouterMessage parses a message received on a ROUTER socket, where the
// transport prefixes the sender identity frame.
//
//	[sender] [""] [EMQP01] [command] [msgid] [body...]
func ParseRouterMessage(frames []string) (*Message, error) {
	if len(frames) < 5 {
		return nil, NewInvalidMessageError(
			fmt.Sprintf("message must have at least 5 frames, got %d", len(frames)), ErrInvalidMessage)
	}
	if frames[0] == "" {
		return nil, NewInvalidMessageError("frame 0 (sender) cannot be empty", ErrInvalidMessage)
	}

	m, err := parseTail(frames[1:])
	if err != nil {
		return nil, err
	}
	m.Sender = frames[0]

	return m, nil
}

// ParsePeerMessage parses a message received on a DEALER socket, where the
// routing identity has already been consumed by the transport.
//
//	[""] [EMQP01] [command] [msgid] [body...]
func ParsePeerMessage(frames []string) (*Message, error) {
	if len(frames) < 4 {
		return nil, NewInvalidMessageError(
			fmt.Sprintf("message must have at least 4 frames, got %d", len(frames)), ErrInvalidMessage)
	}
	return parseTail(frames)
}

func parseTail(frames []string) (*Message, error) {
	if frames[0] != "" {
		return nil, NewInvalidMessageError(
			fmt.Sprintf("delimiter frame must be empty, got %q", frames[0]), ErrInvalidMessage)
	}
	if frames[1] != Protocol {
		return nil, NewInvalidMessageError(
			fmt.Sprintf("protocol frame must be %s, got %q", Protocol, frames[1]), ErrInvalidMessage)
	}

	command := frames[2]
	if !commands[command] {
		return nil, NewInvalidMessageError(
			fmt.Sprintf("unknown command %q", command), ErrInvalidMessage)
	}

	body := frames[4:]
	if len(body) < minBody[command] {
		return nil, NewInvalidMessageError(
			fmt.Sprintf("%s requires at least %d body frames, got %d",
				command, minBody[command], len(body)), ErrInvalidMessage)
	}

	return &Message{
		Command: command,
		ID:      frames[3],
		Body:    body,
	}, nil
}

// RouterFrames builds the frame vector for a message sent from a ROUTER
// socket to the given recipient identity.
func RouterFrames(recipient string, m *Message) []string {
	out := make([]string, 0, 5+len(m.Body))
	out = append(out, recipient, "", Protocol, m.Command, m.ID)
	return append(out, m.Body...)
}

// PeerFrames builds the frame vector for a message sent from a DEALER
// socket, with the leading empty delimiter the router expects.
func PeerFrames(m *Message) []string {
	out := make([]string, 0, 4+len(m.Body))
	out = append(out, "", Protocol, m.Command, m.ID)
	return append(out, m.Body...)
}

// ForwardFrames rewrites an inbound ROUTER frame vector for onward delivery:
// the original sender identity is stripped and the destination identity
// prepended, everything else passes through untouched.
func ForwardFrames(recipient string, inbound []string) []string {
	out := make([]string, 0, len(inbound))
	out = append(out, recipient)
	return append(out, inbound[1:]...)
}

// StringsToFrames converts a string frame vector to the transport form.
func StringsToFrames(in []string) (out [][]byte) {
	for _, str := range in {
		out = append(out, []byte(str))
	}
	return
}

// FramesToStrings converts transport frames to a string frame vector.
func FramesToStrings(in [][]byte) (out []string) {
	for _, frame := range in {
		out = append(out, string(frame))
	}
	return
}
