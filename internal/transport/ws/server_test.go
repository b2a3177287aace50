package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaot623/relaychat/internal/config"
	"github.com/xiaot623/relaychat/internal/conversation"
	"github.com/xiaot623/relaychat/internal/domain"
	"github.com/xiaot623/relaychat/internal/hub"
	"github.com/xiaot623/relaychat/internal/protocol"
)

type echoRelay struct{}

func (echoRelay) Call(_ context.Context, model domain.Model, inputs string) (json.RawMessage, error) {
	if model == domain.ModelImageClassification {
		return json.RawMessage(`[{"label":"cat","score":0.5}]`), nil
	}
	return json.Marshal(map[string]string{"generated_text": "echo: " + inputs})
}

type testEnv struct {
	url      string
	sessions *SessionManager
	hub      *hub.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	cfg := &config.ChatConfig{
		RequestTimeout: time.Second,
		TimeFormat:     "3:04 PM",
		SpeechLocale:   "en-US",
		PingInterval:   time.Minute,
		WriteTimeout:   time.Second,
		ReadTimeout:    time.Minute,
		MaxMessageSize: 1 << 20,
	}

	h := hub.NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	sessions := NewSessionManager(h, NewControllerFactory(cfg, echoRelay{}, logger), logger)
	e := echo.New()
	NewServer(cfg, h, sessions, logger).RegisterRoutes(e)

	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		srv.Close()
		sessions.Close()
		cancel()
	})

	return &testEnv{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		sessions: sessions,
		hub:      h,
	}
}

func (env *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(env.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// readUntil returns the first message of the given type, skipping others.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string, match func(raw []byte) bool) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", msgType)

		var base protocol.BaseMessage
		require.NoError(t, json.Unmarshal(data, &base))
		if base.Type == msgType && (match == nil || match(data)) {
			return data
		}
	}
}

func hello(t *testing.T, conn *websocket.Conn, sessionID string, speechCapable bool) protocol.HelloAckMessage {
	t.Helper()
	msg := protocol.HelloMessage{BaseMessage: protocol.BaseMessage{Type: protocol.TypeHello, SessionID: sessionID}}
	if speechCapable {
		msg.ClientMeta = map[string]string{protocol.ClientMetaSpeech: "true"}
	}
	sendJSON(t, conn, msg)

	var ack protocol.HelloAckMessage
	require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeHelloAck, nil), &ack))
	return ack
}

func assistantText(want string) func([]byte) bool {
	return func(raw []byte) bool {
		var ev protocol.MessageEvent
		return json.Unmarshal(raw, &ev) == nil && !ev.Message.IsUser && ev.Message.Text == want
	}
}

func TestSessionRequiredBeforeHello(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	sendJSON(t, conn, protocol.SendMessage{BaseMessage: protocol.BaseMessage{Type: protocol.TypeSend}, Text: "Hello"})

	var errMsg protocol.ErrorMessage
	require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeError, nil), &errMsg))
	assert.Equal(t, protocol.ErrorCodeSessionRequired, errMsg.Code)
}

func TestSendRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	ack := hello(t, conn, "", false)
	require.NotEmpty(t, ack.SessionID)
	assert.Empty(t, ack.Messages)

	sendJSON(t, conn, protocol.SendMessage{BaseMessage: protocol.BaseMessage{Type: protocol.TypeSend}, Text: "Hello"})

	var user protocol.MessageEvent
	require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeMessage, nil), &user))
	assert.Equal(t, "Hello", user.Message.Text)
	assert.True(t, user.Message.IsUser)
	assert.False(t, user.Feedback)

	var reply protocol.MessageEvent
	require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeMessage, assistantText("echo: Hello")), &reply))
	assert.Equal(t, int64(2), reply.Message.ID)
	assert.True(t, reply.Feedback)

	sendJSON(t, conn, protocol.FeedbackMessage{BaseMessage: protocol.BaseMessage{Type: protocol.TypeFeedback}, MessageID: 1, Positive: true})
	var errMsg protocol.ErrorMessage
	require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeError, nil), &errMsg))
	assert.Equal(t, protocol.ErrorCodeFeedbackRefused, errMsg.Code)
}

func TestInputThenSubmit(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	hello(t, conn, "", false)

	sendJSON(t, conn, protocol.InputMessage{BaseMessage: protocol.BaseMessage{Type: protocol.TypeInput}, Text: "typed"})
	sendJSON(t, conn, protocol.SendMessage{BaseMessage: protocol.BaseMessage{Type: protocol.TypeSend}})

	readUntil(t, conn, protocol.TypeMessage, assistantText("echo: typed"))
}

func TestUploadImage(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	hello(t, conn, "", false)

	sendJSON(t, conn, protocol.UploadMessage{
		BaseMessage: protocol.BaseMessage{Type: protocol.TypeUpload},
		Name:        "cat.png",
		MediaType:   "image/png",
		Data:        "aGk=",
	})

	readUntil(t, conn, protocol.TypeMessage, func(raw []byte) bool {
		var ev protocol.MessageEvent
		return json.Unmarshal(raw, &ev) == nil && ev.Message.Text == "📎 Analyzing image: cat.png"
	})
	readUntil(t, conn, protocol.TypeMessage, func(raw []byte) bool {
		var ev protocol.MessageEvent
		return json.Unmarshal(raw, &ev) == nil && strings.HasPrefix(ev.Message.Text, "I analyzed the image and found: ")
	})
}

func TestVoiceUnavailableNotice(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	hello(t, conn, "", false)

	sendJSON(t, conn, protocol.BaseMessage{Type: protocol.TypeVoiceStart})

	var notice protocol.NoticeEvent
	require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeNotice, nil), &notice))
	assert.Equal(t, conversation.VoiceNotice, notice.Text)
}

func TestRemoteVoiceCapture(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	hello(t, conn, "", true)

	sendJSON(t, conn, protocol.BaseMessage{Type: protocol.TypeVoiceStart})

	var start protocol.SpeechStartEvent
	require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeSpeechStart, nil), &start))
	assert.Equal(t, "en-US", start.Settings.Locale)
	assert.True(t, start.Settings.InterimResults)

	sendJSON(t, conn, map[string]interface{}{
		"type":         protocol.TypeSpeechResult,
		"result_index": 0,
		"results": []map[string]interface{}{
			{"transcript": "hello", "is_final": true},
			{"transcript": "wor", "is_final": false},
		},
	})
	readUntil(t, conn, protocol.TypeState, func(raw []byte) bool {
		var ev protocol.StateEvent
		return json.Unmarshal(raw, &ev) == nil && ev.State.Input == "hello wor" && ev.State.IsRecording
	})

	sendJSON(t, conn, protocol.BaseMessage{Type: protocol.TypeSpeechEnd})
	readUntil(t, conn, protocol.TypeState, func(raw []byte) bool {
		var ev protocol.StateEvent
		return json.Unmarshal(raw, &ev) == nil && !ev.State.IsRecording
	})
}

func TestReconnectRebindsSession(t *testing.T) {
	env := newTestEnv(t)

	first := env.dial(t)
	ack := hello(t, first, "", false)
	sendJSON(t, first, protocol.SendMessage{BaseMessage: protocol.BaseMessage{Type: protocol.TypeSend}, Text: "Hello"})
	readUntil(t, first, protocol.TypeMessage, assistantText("echo: Hello"))

	second := env.dial(t)
	again := hello(t, second, ack.SessionID, false)
	assert.Equal(t, ack.SessionID, again.SessionID)
	require.Len(t, again.Messages, 2)
	assert.Equal(t, "Hello", again.Messages[0].Text)
	assert.Equal(t, 1, env.sessions.Count())
}

func TestSessionClosedWhenLastConnectionLeaves(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t)
	ack := hello(t, conn, "", false)
	require.NotNil(t, env.sessions.Get(ack.SessionID))

	conn.Close()
	require.Eventually(t, func() bool { return env.sessions.Get(ack.SessionID) == nil }, 2*time.Second, 10*time.Millisecond)
}
