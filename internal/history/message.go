package history

// Message is a chat message as kept by the archive. Timestamp is in
// milliseconds since epoch.
type Message struct {
	ID        string `json:"id"`
	Sender    string `json:"sender,omitempty"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Revoked   bool   `json:"revoked,omitempty"`
	Deleted   bool   `json:"deleted,omitempty"`
}
