package domain

// Message is a single entry of a conversation thread.
type Message struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	IsUser    bool   `json:"is_user"`
	Timestamp string `json:"timestamp"`
}
