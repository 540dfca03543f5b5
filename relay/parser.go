package relay

import (
	"strings"
	"unicode"
)

const (
	fieldSeparator = "|"
	targetMarker   = '@'
)

// Message is one parsed inbound message.
type Message struct {
	// Origin is the label reported by the sender in the payload. It is not
	// checked against the identity of the connection that sent it.
	Origin string
	Body   string
	// Target is the unicast recipient, or empty for a broadcast.
	Target string
}

// IsUnicast reports whether the message addresses a single recipient
func (m Message) IsUnicast() bool {
	return m.Target != ""
}

// Line formats the message as it is delivered to recipients.
func (m Message) Line() string {
	return FormatLine(m.Origin, m.Body)
}

// FormatLine renders "<origin> : <body>".
func FormatLine(origin, body string) string {
	return origin + " : " + body
}

// Parse splits a raw wire message into origin, body and optional target.
//
// Without a separator the whole message becomes a broadcast body with an
// empty origin. A unicast body starts at the first space after the "@target"
// marker; a broadcast body is everything after the origin separator.
func Parse(raw string) Message {
	tokens := strings.Split(raw, fieldSeparator)
	if len(tokens) < 2 {
		return Message{Body: raw}
	}

	msg := Message{Origin: tokens[0]}
	first := tokens[1]
	rest := raw[len(tokens[0])+len(fieldSeparator):]

	if len(first) > 0 && first[0] == targetMarker {
		target := first[1:]
		if i := strings.Index(target, " "); i >= 0 {
			target = target[:i]
		}
		msg.Target = strings.TrimRightFunc(target, unicode.IsSpace)
	}

	switch {
	case !strings.Contains(first, " "):
		msg.Body = first
	case first[0] == targetMarker:
		msg.Body = strings.TrimLeftFunc(rest[strings.Index(rest, " "):], unicode.IsSpace)
	default:
		msg.Body = strings.TrimLeftFunc(rest, unicode.IsSpace)
	}

	return msg
}

// ParseFrom parses raw as sent by sender. A message without any separator
// takes sender as its origin; an empty token before a separator is kept.
func ParseFrom(raw, sender string) Message {
	msg := Parse(raw)
	if !strings.Contains(raw, fieldSeparator) {
		msg.Origin = sender
	}
	return msg
}
