package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"

	"github.com/xiaot623/relaychat/internal/conversation"
	"github.com/xiaot623/relaychat/internal/domain"
	"github.com/xiaot623/relaychat/internal/protocol"
)

// view renders chatd events to a terminal. Messages are keyed by id, so a
// message that arrives both in the hello snapshot and as an event prints once.
type view struct {
	mu  sync.Mutex
	out io.Writer

	seen     map[int64]bool
	eligible int64
	state    conversation.State

	markdown func(string) string

	you       func(a ...interface{}) string
	assistant func(a ...interface{}) string
	dim       func(a ...interface{}) string
	notice    func(a ...interface{}) string
	failure   func(a ...interface{}) string
}

func newView(out io.Writer, markdown func(string) string) *view {
	if markdown == nil {
		markdown = func(s string) string { return s }
	}
	return &view{
		out:       out,
		seen:      make(map[int64]bool),
		markdown:  markdown,
		you:       color.New(color.FgGreen, color.Bold).SprintFunc(),
		assistant: color.New(color.FgCyan, color.Bold).SprintFunc(),
		dim:       color.New(color.Faint).SprintFunc(),
		notice:    color.New(color.FgYellow).SprintFunc(),
		failure:   color.New(color.FgRed).SprintFunc(),
	}
}

// glamourMarkdown returns a terminal markdown renderer, or nil when one
// cannot be built.
func glamourMarkdown(width int) func(string) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	return func(s string) string {
		rendered, err := renderer.Render(s)
		if err != nil {
			return s
		}
		return strings.TrimRight(rendered, "\n")
	}
}

// Snapshot prints the conversation from a hello_ack.
func (v *view) Snapshot(ack *protocol.HelloAckMessage) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for i, msg := range ack.Messages {
		// Only the newest message can be rated, and only when it is a reply.
		v.printMessageLocked(msg, i == len(ack.Messages)-1 && !msg.IsUser)
	}
	v.state = ack.State
}

// Handle renders one server message.
func (v *view) Handle(data []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var base protocol.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		v.printf("%s\n", v.failure("malformed server message"))
		return
	}

	switch base.Type {
	case protocol.TypeMessage:
		var ev protocol.MessageEvent
		if json.Unmarshal(data, &ev) == nil {
			v.printMessageLocked(ev.Message, ev.Feedback)
		}
	case protocol.TypeState:
		var ev protocol.StateEvent
		if json.Unmarshal(data, &ev) == nil {
			v.stateLocked(ev.State)
		}
	case protocol.TypeNotice:
		var ev protocol.NoticeEvent
		if json.Unmarshal(data, &ev) == nil {
			v.printf("%s\n", v.notice("! "+ev.Text))
		}
	case protocol.TypeError:
		var ev protocol.ErrorMessage
		if json.Unmarshal(data, &ev) == nil {
			v.printf("%s\n", v.failure(fmt.Sprintf("error [%s]: %s", ev.Code, ev.Message)))
		}
	}
}

// LastEligible returns the id of the newest message that accepts feedback.
func (v *view) LastEligible() (int64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.eligible, v.eligible != 0
}

func (v *view) printMessageLocked(msg domain.Message, feedback bool) {
	if v.seen[msg.ID] {
		return
	}
	v.seen[msg.ID] = true
	v.eligible = 0
	if feedback {
		v.eligible = msg.ID
	}

	stamp := v.dim("[" + msg.Timestamp + "]")
	if msg.IsUser {
		v.printf("%s %s %s\n", stamp, v.you("You:"), msg.Text)
		return
	}
	v.printf("%s %s\n%s\n", stamp, v.assistant("Assistant:"), v.markdown(msg.Text))
	if feedback {
		v.printf("%s\n", v.dim("  (rate with /good or /bad)"))
	}
}

func (v *view) stateLocked(next conversation.State) {
	prev := v.state
	v.state = next

	switch {
	case next.IsGenerating && !prev.IsGenerating:
		v.printf("%s\n", v.dim("Assistant is typing..."))
	case next.IsAnalyzing && !prev.IsAnalyzing:
		v.printf("%s\n", v.dim("Analyzing image..."))
	}
	switch {
	case next.IsRecording && !prev.IsRecording:
		v.printf("%s\n", v.notice("Recording..."))
	case !next.IsRecording && prev.IsRecording:
		v.printf("%s\n", v.dim("Recording stopped."))
		if next.Input != "" {
			v.printf("%s %s\n", v.dim("Heard:"), next.Input)
		}
	}
}

func (v *view) printf(format string, args ...interface{}) {
	fmt.Fprintf(v.out, format, args...)
}
