package timeline

import (
	"strings"

	"github.com/google/uuid"
)

// Status is the delivery status of a message.
type Status string

const (
	StatusSending Status = "sending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	// StatusPending means queued locally, waiting for the network to return.
	StatusPending Status = "pending"
)

// Message is one entry of the timeline. Timestamp is milliseconds since
// epoch and never changes once the message exists. Revoked and deleted
// messages stay in the timeline so they can be rendered as placeholders.
type Message struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Status    Status `json:"status"`
	Sender    string `json:"sender,omitempty"`
	IsRevoked bool   `json:"isRevoked"`
	IsDeleted bool   `json:"isDeleted"`

	// outbound marks messages created by Send; seeding never replaces them.
	outbound bool
}

// Filter narrows the timeline view. Empty fields match everything; set
// fields combine with AND.
type Filter struct {
	// Keyword is matched case-insensitively as a substring of the content.
	Keyword string `json:"keyword"`
	// Sender must equal the message sender exactly.
	Sender string `json:"sender"`
}

// Match reports whether msg passes the filter.
func (f Filter) Match(msg Message) bool {
	if f.Keyword != "" && !strings.Contains(strings.ToLower(msg.Content), strings.ToLower(f.Keyword)) {
		return false
	}
	if f.Sender != "" && msg.Sender != f.Sender {
		return false
	}
	return true
}

// newID returns a time-ordered unique id: a v7 UUID carries the millisecond
// timestamp followed by random bits.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
