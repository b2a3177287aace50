package ws

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/relaychat/internal/conversation"
	"github.com/xiaot623/relaychat/internal/domain"
	"github.com/xiaot623/relaychat/internal/hub"
	"github.com/xiaot623/relaychat/internal/protocol"
	"github.com/xiaot623/relaychat/internal/speech"
)

// Session is one conversation shared by every connection bound to it.
type Session struct {
	ID         string
	Controller *conversation.Controller
	// Remote is nil when the session was opened by a client without speech capture.
	Remote *speech.Remote
}

// ControllerFactory builds the controller for a new session.
type ControllerFactory func(recognizer speech.Recognizer, listener conversation.Listener) *conversation.Controller

// SessionManager owns the sessions of chatd. A session lives while at least
// one connection is bound to it.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	hub      *hub.Hub
	factory  ControllerFactory
	logger   *zap.Logger
}

// NewSessionManager creates a manager and subscribes it to the hub's session lifecycle.
func NewSessionManager(h *hub.Hub, factory ControllerFactory, logger *zap.Logger) *SessionManager {
	m := &SessionManager{
		sessions: make(map[string]*Session),
		hub:      h,
		factory:  factory,
		logger:   logger,
	}
	h.OnSessionEmpty(m.release)
	return m
}

// Attach joins conn to sessionID, creating the session if it does not exist.
func (m *SessionManager) Attach(conn *hub.Conn, sessionID string, speechCapable bool) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		s = m.newSessionLocked(sessionID, speechCapable)
	}
	if err := m.hub.Join(conn, sessionID); err != nil {
		if !ok {
			s.Controller.Close()
		}
		return nil, err
	}
	if !ok {
		m.sessions[sessionID] = s
		m.logger.Info("session opened", zap.String("session_id", sessionID), zap.Bool("speech", speechCapable))
	}
	return s, nil
}

// Get returns a live session.
func (m *SessionManager) Get(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionID]
}

// Count returns the number of live sessions.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close closes every session.
func (m *SessionManager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Controller.Close()
	}
}

// release closes a session whose last connection left, unless a client rejoined meanwhile.
func (m *SessionManager) release(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || m.hub.HasActiveConnections(sessionID) {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	s.Controller.Close()
	m.logger.Info("session closed", zap.String("session_id", sessionID))
}

func (m *SessionManager) newSessionLocked(sessionID string, speechCapable bool) *Session {
	s := &Session{ID: sessionID}
	listener := &sessionListener{sessionID: sessionID, hub: m.hub, logger: m.logger}

	var recognizer speech.Recognizer = speech.Unavailable{}
	if speechCapable {
		s.Remote = speech.NewRemote(
			func(settings speech.Settings) error {
				return m.hub.Publish(sessionID, protocol.SpeechStartEvent{
					BaseMessage: base(protocol.TypeSpeechStart, sessionID),
					Settings:    settings,
				})
			},
			func() error {
				return m.hub.Publish(sessionID, base(protocol.TypeSpeechStop, sessionID))
			},
		)
		recognizer = s.Remote
	}

	s.Controller = m.factory(recognizer, listener)
	return s
}

// sessionListener fans controller events out to the session's connections.
type sessionListener struct {
	sessionID string
	hub       *hub.Hub
	logger    *zap.Logger
}

func (l *sessionListener) MessageAppended(msg domain.Message) {
	l.broadcast(protocol.MessageEvent{
		BaseMessage: base(protocol.TypeMessage, l.sessionID),
		Message:     msg,
		Feedback:    !msg.IsUser,
	})
}

func (l *sessionListener) StateChanged(state conversation.State) {
	l.broadcast(protocol.StateEvent{
		BaseMessage: base(protocol.TypeState, l.sessionID),
		State:       state,
	})
}

func (l *sessionListener) Notice(text string) {
	l.broadcast(protocol.NoticeEvent{
		BaseMessage: base(protocol.TypeNotice, l.sessionID),
		Text:        text,
	})
}

func (l *sessionListener) broadcast(v interface{}) {
	if err := l.hub.Publish(l.sessionID, v); err != nil {
		l.logger.Warn("failed to broadcast session event", zap.String("session_id", l.sessionID), zap.Error(err))
	}
}

func base(msgType, sessionID string) protocol.BaseMessage {
	return protocol.BaseMessage{
		Type:      msgType,
		Ts:        time.Now().UnixMilli(),
		SessionID: sessionID,
	}
}
