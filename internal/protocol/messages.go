// Package protocol defines the WebSocket message protocol between chat clients and chatd.
package protocol

import (
	"github.com/xiaot623/relaychat/internal/conversation"
	"github.com/xiaot623/relaychat/internal/domain"
	"github.com/xiaot623/relaychat/internal/speech"
)

// Message types from client to chatd
const (
	TypeHello        = "hello"
	TypeInput        = "input"
	TypeSend         = "send"
	TypeUpload       = "upload"
	TypeVoiceStart   = "voice_start"
	TypeVoiceStop    = "voice_stop"
	TypeSpeechResult = "speech_result"
	TypeSpeechError  = "speech_error"
	TypeSpeechEnd    = "speech_end"
	TypeFeedback     = "feedback"
	TypeCancel       = "cancel"
)

// Message types from chatd to client
const (
	TypeHelloAck    = "hello_ack"
	TypeMessage     = "message"
	TypeState       = "state"
	TypeNotice      = "notice"
	TypeSpeechStart = "speech_start"
	TypeSpeechStop  = "speech_stop"
	TypeError       = "error"
)

// ClientMetaSpeech is the client_meta key a client sets to "true" when it can capture speech.
const ClientMetaSpeech = "speech"

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	SessionID string `json:"session_id,omitempty"`
}

// HelloMessage is sent by client to establish connection. A known session_id
// reattaches to that conversation.
type HelloMessage struct {
	BaseMessage
	ClientMeta map[string]string `json:"client_meta,omitempty"`
}

// SupportsSpeech reports whether the client advertised speech capture.
func (m *HelloMessage) SupportsSpeech() bool {
	return m.ClientMeta[ClientMetaSpeech] == "true"
}

// HelloAckMessage is sent by chatd after hello with the conversation so far.
type HelloAckMessage struct {
	BaseMessage
	Messages []domain.Message  `json:"messages"`
	State    conversation.State `json:"state"`
}

// InputMessage replaces the input buffer.
type InputMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// SendMessage submits text, or the current input buffer when text is empty.
type SendMessage struct {
	BaseMessage
	Text string `json:"text,omitempty"`
}

// UploadMessage carries a picked file.
type UploadMessage struct {
	BaseMessage
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"` // base64
}

// SpeechResultMessage forwards a recognition event captured by the client.
type SpeechResultMessage struct {
	BaseMessage
	speech.Recognition
}

// SpeechErrorMessage reports a client-side recognition error.
type SpeechErrorMessage struct {
	BaseMessage
	Code string `json:"code"`
}

// FeedbackMessage rates an assistant message.
type FeedbackMessage struct {
	BaseMessage
	MessageID int64 `json:"message_id"`
	Positive  bool  `json:"positive"`
}

// MessageEvent announces an appended message. Feedback is true when the
// message is currently eligible for feedback.
type MessageEvent struct {
	BaseMessage
	Message  domain.Message `json:"message"`
	Feedback bool           `json:"feedback"`
}

// StateEvent announces new session flags.
type StateEvent struct {
	BaseMessage
	State conversation.State `json:"state"`
}

// NoticeEvent is a blocking user notice.
type NoticeEvent struct {
	BaseMessage
	Text string `json:"text"`
}

// SpeechStartEvent asks the client to begin capturing.
type SpeechStartEvent struct {
	BaseMessage
	Settings speech.Settings `json:"settings"`
}

// ErrorMessage is sent by chatd when an error occurs.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage  = "invalid_message"
	ErrorCodeSessionRequired = "session_required"
	ErrorCodeSpeechFailed    = "speech_failed"
	ErrorCodeFeedbackRefused = "feedback_refused"
	ErrorCodeSessionClosed   = "session_closed"
)
