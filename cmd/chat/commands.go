package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/xiaot623/relaychat/internal/protocol"
)

var (
	errQuit        = errors.New("quit")
	errNoEligible  = errors.New("no assistant message to rate")
	errMissingPath = errors.New("usage: /upload <path>")
)

const helpText = `Type a message and press Enter to send.
Commands:
  /upload <path>  attach a file (images are analyzed)
  /voice          start voice input
  /stop           stop voice input
  /cancel         abandon pending replies
  /good, /bad     rate the latest reply
  /quit           exit`

// commandContext supplies what a command needs to build its message.
type commandContext struct {
	base         func(msgType string) protocol.BaseMessage
	lastEligible func() (int64, bool)
}

// outgoing turns one line of user input into the message to send. Plain
// text becomes a send message; lines starting with "/" are commands.
func outgoing(line string, cc commandContext) (interface{}, error) {
	if !strings.HasPrefix(line, "/") {
		return protocol.SendMessage{BaseMessage: cc.base(protocol.TypeSend), Text: line}, nil
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return nil, errQuit
	case "/upload":
		if arg == "" {
			return nil, errMissingPath
		}
		return buildUpload(arg, cc.base(protocol.TypeUpload))
	case "/voice":
		return cc.base(protocol.TypeVoiceStart), nil
	case "/stop":
		return cc.base(protocol.TypeVoiceStop), nil
	case "/cancel":
		return cc.base(protocol.TypeCancel), nil
	case "/good", "/bad":
		id, ok := cc.lastEligible()
		if !ok {
			return nil, errNoEligible
		}
		return protocol.FeedbackMessage{
			BaseMessage: cc.base(protocol.TypeFeedback),
			MessageID:   id,
			Positive:    name == "/good",
		}, nil
	default:
		return nil, fmt.Errorf("unknown command %s, type /help", name)
	}
}

// buildUpload reads the file at path into an upload message.
func buildUpload(path string, base protocol.BaseMessage) (protocol.UploadMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return protocol.UploadMessage{}, fmt.Errorf("read %s: %w", path, err)
	}
	return protocol.UploadMessage{
		BaseMessage: base,
		Name:        filepath.Base(path),
		MediaType:   mediaType(path, data),
		Data:        base64.StdEncoding.EncodeToString(data),
	}, nil
}

func mediaType(path string, data []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		return t
	}
	return http.DetectContentType(data)
}
