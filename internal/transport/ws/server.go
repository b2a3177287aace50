// Package ws provides the chatd WebSocket server.
package ws

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/relaychat/internal/config"
	"github.com/xiaot623/relaychat/internal/conversation"
	"github.com/xiaot623/relaychat/internal/hub"
	"github.com/xiaot623/relaychat/internal/protocol"
	"github.com/xiaot623/relaychat/internal/speech"
)

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.ChatConfig
	hub      *hub.Hub
	sessions *SessionManager
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.ChatConfig, h *hub.Hub, sessions *SessionManager, logger *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		hub:      h,
		sessions: sessions,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes registers the WebSocket and health routes.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", s.HandleWebSocket)
	e.GET("/health", s.Health)
}

// Health returns health status.
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"connections": s.hub.ConnectionCount(),
		"sessions":    s.sessions.Count(),
	})
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", zap.Error(err))
		return err
	}

	conn := s.hub.NewConn(ws)
	s.hub.Register(conn)
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	// Start reader and writer goroutines
	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads client frames until the connection fails.
func (s *Server) readPump(conn *hub.Conn) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.WS.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.WS.SetPongHandler(func(string) error {
		return conn.WS.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	for {
		_, message, err := conn.WS.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket error", zap.String("conn_id", conn.ID), zap.Error(err))
			}
			break
		}

		s.handleMessage(conn, message)
	}
}

// writePump drains the outbound queue and keeps the connection alive with pings.
func (s *Server) writePump(conn *hub.Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame, ok := <-conn.Outbound:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if !ok {
				// Unregistered by the hub
				conn.Write(websocket.CloseMessage, []byte{}, deadline)
				return
			}
			if err := conn.Write(websocket.TextMessage, frame, deadline); err != nil {
				s.logger.Warn("failed to write frame", zap.String("conn_id", conn.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.Write(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(conn *hub.Conn, data []byte) {
	// Parse message type
	var baseMsg protocol.BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	if baseMsg.Type == protocol.TypeHello {
		s.handleHello(conn, data)
		return
	}

	// Require session binding
	sessionID := s.hub.SessionOf(conn)
	session := s.sessions.Get(sessionID)
	if sessionID == "" || session == nil {
		s.sendError(conn, protocol.ErrorCodeSessionRequired, "must send hello first")
		return
	}

	switch baseMsg.Type {
	case protocol.TypeInput:
		s.handleInput(conn, session, data)
	case protocol.TypeSend:
		s.handleSend(conn, session, data)
	case protocol.TypeUpload:
		s.handleUpload(conn, session, data)
	case protocol.TypeVoiceStart:
		s.handleVoiceStart(conn, session)
	case protocol.TypeVoiceStop:
		session.Controller.StopVoice()
	case protocol.TypeSpeechResult, protocol.TypeSpeechError, protocol.TypeSpeechEnd:
		s.handleSpeechEvent(conn, session, baseMsg.Type, data)
	case protocol.TypeFeedback:
		s.handleFeedback(conn, session, data)
	case protocol.TypeCancel:
		session.Controller.Cancel()
	default:
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "unknown message type: "+baseMsg.Type)
	}
}

// handleHello handles the hello handshake message.
func (s *Server) handleHello(conn *hub.Conn, data []byte) {
	var msg protocol.HelloMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid hello message")
		return
	}

	// Generate or use provided session ID
	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = "sess_" + uuid.New().String()[:8]
	}

	session, err := s.sessions.Attach(conn, sessionID, msg.SupportsSpeech())
	if err != nil {
		s.logger.Debug("hello on a closing connection", zap.String("conn_id", conn.ID), zap.Error(err))
		return
	}

	ack := protocol.HelloAckMessage{
		BaseMessage: base(protocol.TypeHelloAck, sessionID),
		Messages:    session.Controller.Messages(),
		State:       session.Controller.State(),
	}
	if err := s.hub.Deliver(conn, ack); err != nil {
		s.logger.Warn("failed to send hello_ack", zap.String("conn_id", conn.ID), zap.Error(err))
	}

	s.logger.Info("hello handshake completed", zap.String("session_id", sessionID), zap.String("conn_id", conn.ID))
}

func (s *Server) handleInput(conn *hub.Conn, session *Session, data []byte) {
	var msg protocol.InputMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid input message")
		return
	}
	session.Controller.SetInput(msg.Text)
}

func (s *Server) handleSend(conn *hub.Conn, session *Session, data []byte) {
	var msg protocol.SendMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid send message")
		return
	}
	if msg.Text != "" {
		session.Controller.Send(msg.Text)
		return
	}
	session.Controller.Submit()
}

func (s *Server) handleUpload(conn *hub.Conn, session *Session, data []byte) {
	var msg protocol.UploadMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid upload message")
		return
	}
	if msg.Name == "" {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "name is required")
		return
	}
	content, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "data must be base64")
		return
	}

	err = session.Controller.Upload(conversation.Attachment{
		Name:      msg.Name,
		MediaType: msg.MediaType,
		Data:      bytes.NewReader(content),
	})
	if err != nil {
		s.sendError(conn, protocol.ErrorCodeSessionClosed, err.Error())
	}
}

func (s *Server) handleVoiceStart(conn *hub.Conn, session *Session) {
	err := session.Controller.StartVoice()
	if err == nil || errors.Is(err, speech.ErrUnavailable) {
		// Unavailable is reported to the user through a notice.
		return
	}
	s.sendError(conn, protocol.ErrorCodeSpeechFailed, err.Error())
}

func (s *Server) handleSpeechEvent(conn *hub.Conn, session *Session, msgType string, data []byte) {
	if session.Remote == nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "speech was not enabled at hello")
		return
	}

	var err error
	switch msgType {
	case protocol.TypeSpeechResult:
		var msg protocol.SpeechResultMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid speech_result message")
			return
		}
		err = session.Remote.Deliver(msg.Recognition)
	case protocol.TypeSpeechError:
		var msg protocol.SpeechErrorMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid speech_error message")
			return
		}
		err = session.Remote.Fail(msg.Code)
	case protocol.TypeSpeechEnd:
		err = session.Remote.End()
	}

	switch {
	case err == nil:
	case errors.Is(err, speech.ErrNotCapturing):
		// Late events after a stop are expected.
		s.logger.Debug("speech event without capture", zap.String("session_id", session.ID), zap.String("type", msgType))
	default:
		s.logger.Warn("speech event dropped", zap.String("session_id", session.ID), zap.Error(err))
	}
}

func (s *Server) handleFeedback(conn *hub.Conn, session *Session, data []byte) {
	var msg protocol.FeedbackMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid feedback message")
		return
	}
	if err := session.Controller.Feedback(msg.MessageID, msg.Positive); err != nil {
		s.sendError(conn, protocol.ErrorCodeFeedbackRefused, err.Error())
	}
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *hub.Conn, code, message string) {
	errMsg := protocol.ErrorMessage{
		BaseMessage: base(protocol.TypeError, s.hub.SessionOf(conn)),
		Code:        code,
		Message:     message,
	}
	s.hub.Deliver(conn, errMsg)
}

// NewControllerFactory builds session controllers from the chatd configuration.
func NewControllerFactory(cfg *config.ChatConfig, relay conversation.Relay, logger *zap.Logger) ControllerFactory {
	settings := speech.DefaultSettings()
	settings.Locale = cfg.SpeechLocale

	return func(recognizer speech.Recognizer, listener conversation.Listener) *conversation.Controller {
		return conversation.New(relay, recognizer, listener,
			conversation.WithRequestTimeout(cfg.RequestTimeout),
			conversation.WithTimeFormat(cfg.TimeFormat),
			conversation.WithSpeechSettings(settings),
			conversation.WithLogger(logger),
		)
	}
}
