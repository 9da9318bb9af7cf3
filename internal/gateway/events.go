package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/botgate/internal/bus"
)

// normalizeEvent converts a message-creation dispatch payload into the
// queue's wire-agnostic event shape.
func normalizeEvent(eventType string, raw json.RawMessage) (bus.Event, error) {
	var msg messageData
	if err := json.Unmarshal(raw, &msg); err != nil {
		return bus.Event{}, fmt.Errorf("gateway: parse %s: %w", eventType, err)
	}

	var kind bus.EventKind
	switch eventType {
	case eventC2CMessage:
		kind = bus.KindC2C
	case eventGroupAtMessage:
		kind = bus.KindGroup
	case eventChannelAt:
		kind = bus.KindChannel
	case eventDirectMessage:
		kind = bus.KindDirect
	default:
		return bus.Event{}, fmt.Errorf("gateway: unsupported event type %q", eventType)
	}

	ts := time.Now()
	if msg.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, msg.Timestamp); err == nil {
			ts = parsed
		}
	}

	ev := bus.Event{
		Kind:       kind,
		SenderID:   msg.Author.ID,
		SenderName: msg.Author.Username,
		Content:    strings.TrimSpace(msg.Content),
		EventID:    msg.ID,
		Timestamp:  ts,
		GroupID:    msg.GroupID,
		ChannelID:  msg.ChannelID,
		GuildID:    msg.GuildID,
	}
	for _, a := range msg.Attachments {
		ev.Attachments = append(ev.Attachments, bus.Attachment{
			URL:         a.URL,
			ContentType: a.ContentType,
			Filename:    a.Filename,
			Size:        a.Size,
		})
	}
	return ev, nil
}
