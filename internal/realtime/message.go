package realtime

import (
	"strings"

	"github.com/google/uuid"
)

type SSEEvent string

const (
	SSEEventThreadSnapshot SSEEvent = "ThreadSnapshot"
	SSEEventThreadDeleted  SSEEvent = "ThreadDeleted"
)

type SSEMessage struct {
	Channel string   `json:"channel"`
	Event   SSEEvent `json:"event"`
	Data    any      `json:"data,omitempty"`
	// Origin is the instance id that produced the message, set when it crosses the bus.
	Origin string `json:"origin,omitempty"`
}

const threadChannelPrefix = "thread:"

func ThreadChannel(threadID uuid.UUID) string {
	return threadChannelPrefix + threadID.String()
}

// ThreadIDFromChannel parses a "thread:<id>" channel name.
func ThreadIDFromChannel(channel string) (uuid.UUID, bool) {
	if !strings.HasPrefix(channel, threadChannelPrefix) {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(strings.TrimPrefix(channel, threadChannelPrefix))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
