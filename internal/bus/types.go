// Package bus carries normalized inbound events from the gateway socket
// to the dispatch consumer. The queue decouples wire-event receipt from
// message processing so a slow handler can never delay heartbeats.
package bus

import (
	"context"
	"time"
)

// EventKind identifies the conversation surface an event arrived on.
type EventKind string

const (
	KindC2C     EventKind = "c2c"     // 1:1 chat with the bot
	KindGroup   EventKind = "group"   // group chat @-mention
	KindChannel EventKind = "channel" // guild channel @-mention
	KindDirect  EventKind = "direct"  // guild direct message
)

// Event is a normalized inbound record created by the wire handler.
// It is owned by the queue until dequeued and discarded after processing.
type Event struct {
	Kind        EventKind    `json:"kind"`
	SenderID    string       `json:"sender_id"`
	SenderName  string       `json:"sender_name,omitempty"`
	Content     string       `json:"content"`
	EventID     string       `json:"event_id"`
	Timestamp   time.Time    `json:"timestamp"`
	GroupID     string       `json:"group_id,omitempty"`
	ChannelID   string       `json:"channel_id,omitempty"`
	GuildID     string       `json:"guild_id,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a media reference carried by an inbound message.
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Filename    string `json:"filename,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// Handler processes one dequeued event. ctx is the consumer loop's
// context; cancelling it must abort the in-flight turn. A returned
// error is logged by the consumer loop and never stops it.
type Handler func(ctx context.Context, ev Event) error
