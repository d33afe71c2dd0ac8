package message

import (
	"fmt"

	"github.com/weftlabs/weft/src/topic"
)

// DataMessage is a published value bound to its topic.
type DataMessage struct {
	Topic topic.Topic
	Value Data
}

// CommandMessage is a store command bound to the channel it travels on.
type CommandMessage struct {
	Topic topic.Topic
	Cmd   Command
}

// NodeMessage wraps a data or command message for a peer-to-peer hop.
// Exactly one of Data and Command is set. TTL counts the hops the
// message may still take; a receiver decrements it before forwarding.
type NodeMessage struct {
	TTL     uint16
	Sender  EntityID
	Data    *DataMessage
	Command *CommandMessage
}

// NewDataNodeMessage ...
func NewDataNodeMessage(ttl uint16, sender EntityID, t topic.Topic, value Data) NodeMessage {
	return NodeMessage{TTL: ttl, Sender: sender, Data: &DataMessage{Topic: t, Value: value}}
}

// NewCommandNodeMessage ...
func NewCommandNodeMessage(ttl uint16, sender EntityID, t topic.Topic, cmd Command) NodeMessage {
	return NodeMessage{TTL: ttl, Sender: sender, Command: &CommandMessage{Topic: t, Cmd: cmd}}
}

// IsData reports whether the message carries a data payload.
func (m NodeMessage) IsData() bool {
	return m.Data != nil
}

// Topic returns the topic of the wrapped payload.
func (m NodeMessage) Topic() topic.Topic {
	if m.Data != nil {
		return m.Data.Topic
	}
	if m.Command != nil {
		return m.Command.Topic
	}
	return ""
}

// String ...
func (m NodeMessage) String() string {
	if m.Data != nil {
		return fmt.Sprintf("data(%s, %s, ttl=%d)", m.Data.Topic, m.Data.Value.String(), m.TTL)
	}
	if m.Command != nil {
		return fmt.Sprintf("command(%s, %s, ttl=%d)", m.Command.Topic, m.Command.Cmd.Tag, m.TTL)
	}
	return "empty"
}
