package main

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xiaot623/relaychat/internal/protocol"
)

// Client is a chatd WebSocket client.
type Client struct {
	conn      *websocket.Conn
	sessionID string

	writeMu sync.Mutex
}

// NewClient creates a new client and connects to chatd.
func NewClient(addr string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// SessionID returns the session bound by the last hello.
func (c *Client) SessionID() string {
	return c.sessionID
}

// SendHello sends a hello message and waits for hello_ack. An empty
// sessionID asks chatd for a new conversation.
func (c *Client) SendHello(sessionID string) (*protocol.HelloAckMessage, error) {
	msg := protocol.HelloMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeHello,
			Ts:        time.Now().UnixMilli(),
			SessionID: sessionID,
		},
		ClientMeta: map[string]string{
			"client": "relaychat-cli",
		},
	}
	if err := c.write(msg); err != nil {
		return nil, fmt.Errorf("write hello: %w", err)
	}

	// Wait for hello_ack
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read hello_ack: %w", err)
	}

	var base protocol.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("unmarshal hello_ack: %w", err)
	}

	if base.Type == protocol.TypeError {
		var errMsg protocol.ErrorMessage
		json.Unmarshal(data, &errMsg)
		return nil, fmt.Errorf("hello failed: %s - %s", errMsg.Code, errMsg.Message)
	}
	if base.Type != protocol.TypeHelloAck {
		return nil, fmt.Errorf("expected hello_ack, got: %s", base.Type)
	}

	var ack protocol.HelloAckMessage
	if err := json.Unmarshal(data, &ack); err != nil {
		return nil, fmt.Errorf("unmarshal hello_ack: %w", err)
	}
	c.sessionID = ack.SessionID
	return &ack, nil
}

// Send writes an outgoing message built by a command.
func (c *Client) Send(msg interface{}) error {
	return c.write(msg)
}

// Base returns the header for an outgoing message of the given type.
func (c *Client) Base(msgType string) protocol.BaseMessage {
	return protocol.BaseMessage{
		Type:      msgType,
		Ts:        time.Now().UnixMilli(),
		SessionID: c.sessionID,
	}
}

// ReadMessages passes every server message to handle until the connection
// closes. A normal closure returns nil.
func (c *Client) ReadMessages(handle func(data []byte)) error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		handle(data)
	}
}

func (c *Client) write(msg interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}
