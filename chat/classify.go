package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/onnwee/ghostlog/record"
)

// UnknownSender is recorded when a PRIVMSG carries no nickname.
const UnknownSender = "???"

// ErrMalformedEvent is returned for a persisted command with an unexpected parameter shape.
var ErrMalformedEvent = errors.New("malformed event")

// Action says what the dispatcher does with a classified event.
type Action int

const (
	// ActionPersist appends Record to Channel's log file.
	ActionPersist Action = iota
	// ActionPrint only reports the event on the diagnostic output.
	ActionPrint
)

func (a Action) String() string {
	switch a {
	case ActionPersist:
		return "persist"
	case ActionPrint:
		return "print"
	default:
		return "unknown"
	}
}

// Classification is the routing decision for one event.
type Classification struct {
	Action  Action
	Channel string
	Record  record.Record
}

// Classify routes an event to the record it persists, or to the print-only path.
//
//	PRIVMSG    (channel, message)       -> PrivateMessage
//	CLEARCHAT  (channel) | (channel, user) -> ClearChat
//	CLEARMSG   (channel, message id)    -> ClearMessage
//	ROOMSTATE, USERNOTICE (channel, ...) -> Notice
//	anything else                       -> print only
//
// Any other parameter count for those commands is ErrMalformedEvent.
func Classify(ev Event) (Classification, error) {
	n := len(ev.Params)
	switch ev.Command {
	case record.CommandPrivMsg:
		if n != 2 {
			return Classification{}, malformed(ev)
		}
		return persist(ev.Params[0], record.PrivateMessage{
			Sender:  sender(ev.Prefix),
			Message: ev.Params[1],
			Tags:    ev.TagMap(),
		}), nil

	case record.CommandClearChat:
		switch n {
		case 1:
			return persist(ev.Params[0], record.ClearChat{Tags: ev.TagMap()}), nil
		case 2:
			return persist(ev.Params[0], record.ClearChat{User: ev.Params[1], Tags: ev.TagMap()}), nil
		default:
			return Classification{}, malformed(ev)
		}

	case record.CommandClearMsg:
		if n != 2 {
			return Classification{}, malformed(ev)
		}
		return persist(ev.Params[0], record.ClearMessage{MessageID: ev.Params[1], Tags: ev.TagMap()}), nil

	case "ROOMSTATE", "USERNOTICE":
		if n < 1 {
			return Classification{}, malformed(ev)
		}
		return persist(ev.Params[0], record.Notice{Name: ev.Command, Tags: ev.TagMap()}), nil
	}
	return Classification{Action: ActionPrint}, nil
}

func persist(channel string, rec record.Record) Classification {
	return Classification{Action: ActionPersist, Channel: channel, Record: rec}
}

func malformed(ev Event) error {
	return fmt.Errorf("%w: unexpected number of params for %s: %q", ErrMalformedEvent, ev.Command, strings.Join(ev.Params, " "))
}

func sender(p *Prefix) string {
	if p == nil || p.Nick == "" {
		return UnknownSender
	}
	return p.Nick
}
