// Package realtime serves the WebSocket side of the platform: group based
// fan-out, optional cross-process delivery over Redis, and the consumers
// mounted under /ws/.
package realtime

import (
	"encoding/json"
	"time"
)

// Message types understood by the consumers.
const (
	TypePing         = "ping"
	TypePong         = "pong"
	TypeUpdate       = "update"
	TypeNotification = "notification"
	TypeAnnouncement = "announcement"
	TypeError        = "error"
)

// Group names.
const (
	GroupAnnouncements = "announcements"
)

// Message is the envelope exchanged with clients and between processes.
type Message struct {
	Type    string          `json:"type"`
	Group   string          `json:"group,omitempty"`
	Sender  string          `json:"sender,omitempty"`
	Message string          `json:"message,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	SentAt  time.Time       `json:"sent_at"`
}

// UserGroup is the per-user notification group.
func UserGroup(id int64) string {
	return "user." + itoa(id)
}

// FarmGroup is the group shared by everyone watching a farm.
func FarmGroup(farmID string) string {
	return "farm." + farmID
}
