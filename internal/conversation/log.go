// Package conversation implements the conversation controller: the owned
// message log, session flags and the text, file and voice paths.
package conversation

import (
	"sync"

	"github.com/xiaot623/relaychat/internal/domain"
)

// Log is an append-only, in-memory message sequence. Ids come from a
// monotonic counter starting at 1 and are never reused.
type Log struct {
	mu       sync.RWMutex
	messages []domain.Message
	nextID   int64
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{nextID: 1}
}

// Append adds a message and returns it with its assigned id.
func (l *Log) Append(text string, isUser bool, timestamp string) domain.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := domain.Message{
		ID:        l.nextID,
		Text:      text,
		IsUser:    isUser,
		Timestamp: timestamp,
	}
	l.nextID++
	l.messages = append(l.messages, msg)
	return msg
}

// Messages returns a copy of the log in display order.
func (l *Log) Messages() []domain.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Last returns the most recent message.
func (l *Log) Last() (domain.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.messages) == 0 {
		return domain.Message{}, false
	}
	return l.messages[len(l.messages)-1], true
}
