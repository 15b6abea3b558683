// Package record defines the structured records written to channel log files and their
// canonical text encoding.
//
// A record is rendered as NAME(field:value,...) where string values are JSON-quoted and the
// tag map is a JSON object with sorted keys. Bytes that are not valid UTF-8 are kept as
// \udc80-\udcff escapes so every string survives Parse. For example:
//
//	PRIVMSG(sender:"alice",message:"hello",tags:{"id":"1"})
//
// Encoding never appends the timestamp suffix; that belongs to the log file writer.
// Parse reverses Encode.
package record

import "strings"

// Command names of the persisted record shapes.
const (
	CommandPrivMsg   = "PRIVMSG"
	CommandClearChat = "CLEARCHAT"
	CommandClearMsg  = "CLEARMSG"
)

// Record is one classified chat event ready to be persisted.
type Record interface {
	// Command is the protocol command the record was built from.
	Command() string
	// RecordTags returns the tag map attached to the record.
	RecordTags() Tags
	// Encode renders the canonical text form.
	Encode() string
}

// PrivateMessage is a chat line sent to a channel.
type PrivateMessage struct {
	Sender  string
	Message string
	Tags    Tags
}

func (PrivateMessage) Command() string { return CommandPrivMsg }
func (m PrivateMessage) RecordTags() Tags { return m.Tags }

func (m PrivateMessage) Encode() string {
	var b strings.Builder
	b.WriteString(CommandPrivMsg)
	b.WriteString("(sender:")
	b.WriteString(quote(m.Sender))
	b.WriteString(",message:")
	b.WriteString(quote(m.Message))
	b.WriteString(",tags:")
	b.WriteString(m.Tags.String())
	b.WriteByte(')')
	return b.String()
}

// ClearChat is a moderation purge. An empty User means the whole channel was cleared.
type ClearChat struct {
	User string
	Tags Tags
}

func (ClearChat) Command() string { return CommandClearChat }
func (c ClearChat) RecordTags() Tags { return c.Tags }

func (c ClearChat) Encode() string {
	var b strings.Builder
	b.WriteString(CommandClearChat)
	b.WriteByte('(')
	if c.User != "" {
		b.WriteString("user:")
		b.WriteString(quote(c.User))
		b.WriteByte(',')
	}
	b.WriteString("tags:")
	b.WriteString(c.Tags.String())
	b.WriteByte(')')
	return b.String()
}

// ClearMessage is the deletion of a single message by id.
type ClearMessage struct {
	MessageID string
	Tags      Tags
}

func (ClearMessage) Command() string { return CommandClearMsg }
func (c ClearMessage) RecordTags() Tags { return c.Tags }

func (c ClearMessage) Encode() string {
	return CommandClearMsg + "(message:" + quote(c.MessageID) + ",tags:" + c.Tags.String() + ")"
}

// Notice is a tag-only record for notice-class commands such as ROOMSTATE and USERNOTICE.
type Notice struct {
	Name string
	Tags Tags
}

func (n Notice) Command() string { return n.Name }
func (n Notice) RecordTags() Tags { return n.Tags }
func (n Notice) Encode() string { return n.Name + "(tags:" + n.Tags.String() + ")" }

// Encode renders r in its canonical form.
func Encode(r Record) string { return r.Encode() }
