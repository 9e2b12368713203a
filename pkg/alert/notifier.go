// Package alert composes and delivers notifications for entity transitions
// and manages thread continuity across a notification's lifecycle. The
// outbound transport is abstracted behind Notifier; the only structural
// requirement on composed messages is the Anchor field the transport
// understands for threading.
package alert

import (
	"context"
	"fmt"

	"github.com/ajscolaro/gov-alerting-bot/pkg/watch"
)

// Message is the transport-agnostic notification payload.
type Message struct {
	// Title is the prominent headline.
	Title string
	// Body is the supporting text under the title.
	Body string
	// ActionText labels the action link button, when ActionURL is set.
	ActionText string
	// ActionURL is the canonical link for the entity, if any.
	ActionURL string
	// Anchor, when non-empty, makes the send a threaded follow-up to the
	// notification the anchor refers to.
	Anchor string
}

// SendResult reports the outcome of one send.
type SendResult struct {
	// OK is true when the transport accepted the message.
	OK bool
	// Anchor is the opaque reference to the posted notification, usable as
	// the Anchor of follow-ups. Empty when OK is false or the transport's
	// notification model is anchor-less.
	Anchor string
}

// Notifier posts a message to the configured channel. Implementations carry
// their own credentials and timeouts beyond the context deadline. A send
// rejected by the remote service returns OK=false with a nil error; err is
// reserved for transport failures.
type Notifier interface {
	Send(ctx context.Context, msg Message) (SendResult, error)
}

// Formatter composes the display parts of a message for one source. The
// dispatcher fills in the anchor afterwards.
type Formatter interface {
	Format(kind watch.Outcome, ent watch.Entity) Message
}

// ProjectFormatter is the default formatter: titles follow the
// "{project} {noun} {verb}" shape the alert channels expect.
type ProjectFormatter struct {
	// Project is the display name from the watchlist ("Uniswap", "Osmosis").
	Project string
	// Noun overrides the default "Proposal" entity noun ("Poll",
	// "Executive Vote", "Amendment").
	Noun string
	// ActionText overrides the default "View Proposal" button label.
	ActionText string
}

func (f ProjectFormatter) Format(kind watch.Outcome, ent watch.Entity) Message {
	noun := f.Noun
	if noun == "" {
		noun = "Proposal"
	}
	actionText := f.ActionText
	if actionText == "" {
		actionText = "View Proposal"
	}

	var verb string
	switch kind {
	case watch.NotifyInitial:
		verb = "Active"
	case watch.NotifyUpdate:
		verb = "Update"
	case watch.NotifyTerminal:
		verb = "Ended"
	default:
		verb = "Update"
	}

	msg := Message{
		Title: fmt.Sprintf("%s %s %s", f.Project, noun, verb),
		Body:  ent.Title,
	}
	if msg.Body == "" {
		msg.Body = ent.ID
	}
	if ent.URL != "" {
		msg.ActionText = actionText
		msg.ActionURL = ent.URL
	}
	return msg
}
