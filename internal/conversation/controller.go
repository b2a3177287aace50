package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/relaychat/internal/domain"
	"github.com/xiaot623/relaychat/internal/speech"
)

// Assistant texts appended by the controller.
const (
	FallbackReply  = "I couldn't generate a response. Please try again."
	ApologyReply   = "I apologize, but I encountered an error while processing your request. Please try again."
	ImageFailReply = "I couldn't analyze that image. Please try again."
	VoiceNotice    = "Voice recognition is not supported on this client."
)

var (
	// ErrClosed is returned for operations on a closed controller.
	ErrClosed = errors.New("conversation closed")
	// ErrNotFeedbackEligible is returned when feedback targets anything but the latest assistant message.
	ErrNotFeedbackEligible = errors.New("message is not eligible for feedback")
)

// Relay is the inference call the controller depends on.
type Relay interface {
	Call(ctx context.Context, model domain.Model, inputs string) (json.RawMessage, error)
}

// Listener observes the controller. Callbacks run under the controller lock,
// in log order, and must not call back into the controller.
type Listener interface {
	MessageAppended(msg domain.Message)
	StateChanged(state State)
	Notice(text string)
}

// State is the session flags plus the current input buffer.
type State struct {
	Input        string `json:"input"`
	IsGenerating bool   `json:"is_generating"`
	IsRecording  bool   `json:"is_recording"`
	IsAnalyzing  bool   `json:"is_analyzing"`
}

// Controller owns one conversation.
type Controller struct {
	relay          Relay
	recognizer     speech.Recognizer
	listener       Listener
	logger         *zap.Logger
	requestTimeout time.Duration
	timeFormat     string
	speechSettings speech.Settings
	now            func() time.Time

	log *Log

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	input       string
	generating  int
	analyzing   int
	recording   bool
	requests    map[uint64]context.CancelFunc
	nextRequest uint64
	closed      bool
}

// New creates a controller. A nil recognizer means speech is unavailable.
func New(relay Relay, recognizer speech.Recognizer, listener Listener, opts ...Option) *Controller {
	if recognizer == nil {
		recognizer = speech.Unavailable{}
	}
	if listener == nil {
		listener = nopListener{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		relay:          relay,
		recognizer:     recognizer,
		listener:       listener,
		logger:         zap.NewNop(),
		requestTimeout: 60 * time.Second,
		timeFormat:     "3:04 PM",
		speechSettings: speech.DefaultSettings(),
		now:            time.Now,
		log:            NewLog(),
		ctx:            ctx,
		cancel:         cancel,
		requests:       make(map[uint64]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetInput replaces the input buffer.
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.input = text
	c.notifyStateLocked()
}

// Input returns the input buffer.
func (c *Controller) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// Submit sends the current input buffer.
func (c *Controller) Submit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(c.input)
}

// Send appends text as a user message and asks the relay for a reply. Blank
// text is ignored. The reply, fallback or apology is appended when the request
// settles. Concurrent sends are allowed and settle independently.
func (c *Controller) Send(text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(text)
}

func (c *Controller) sendLocked(text string) bool {
	if c.closed || strings.TrimSpace(text) == "" {
		return false
	}

	c.appendLocked(text, true)
	c.input = ""
	c.generating++
	c.notifyStateLocked()

	ctx, done := c.beginRequestLocked()
	go func() {
		raw, err := c.relay.Call(ctx, domain.ModelTextGeneration, text)

		c.mu.Lock()
		defer c.mu.Unlock()
		defer done()

		reply := FallbackReply
		if err != nil {
			c.logger.Warn("text generation failed", zap.Error(err))
			reply = ApologyReply
		} else if generated := generatedText(raw); generated != "" {
			reply = generated
		}
		c.appendLocked(reply, false)
		c.generating--
		c.notifyStateLocked()
	}()
	return true
}

// generatedText reads generated_text from an object or the first element of a list.
func generatedText(raw json.RawMessage) string {
	var out struct {
		GeneratedText string `json:"generated_text"`
	}
	if err := json.Unmarshal(raw, &out); err == nil {
		return out.GeneratedText
	}
	var list []struct {
		GeneratedText string `json:"generated_text"`
	}
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0].GeneratedText
	}
	return ""
}

// Cancel aborts every outstanding request. Each settles through its failure path.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cancel := range c.requests {
		cancel()
	}
}

// Close cancels outstanding requests, stops voice capture and waits for
// everything to settle. Later operations are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.wg.Wait()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.recognizer.Stop()
	c.wg.Wait()
}

// Wait blocks until every outstanding request and capture has settled.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Messages returns the conversation in display order.
func (c *Controller) Messages() []domain.Message {
	return c.log.Messages()
}

// State returns the current flags.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// FeedbackEnabled reports whether id is the latest message and from the assistant.
func (c *Controller) FeedbackEnabled(id int64) bool {
	last, ok := c.log.Last()
	return ok && !last.IsUser && last.ID == id
}

// Feedback records a rating for the latest assistant message. It is logged only.
func (c *Controller) Feedback(id int64, positive bool) error {
	if !c.FeedbackEnabled(id) {
		return ErrNotFeedbackEligible
	}
	c.logger.Info("message feedback", zap.Int64("message_id", id), zap.Bool("positive", positive))
	return nil
}

func (c *Controller) beginRequestLocked() (context.Context, func()) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if c.requestTimeout > 0 {
		ctx, cancel = context.WithTimeout(c.ctx, c.requestTimeout)
	} else {
		ctx, cancel = context.WithCancel(c.ctx)
	}

	id := c.nextRequest
	c.nextRequest++
	c.requests[id] = cancel
	c.wg.Add(1)

	return ctx, func() {
		delete(c.requests, id)
		cancel()
		c.wg.Done()
	}
}

func (c *Controller) appendLocked(text string, isUser bool) domain.Message {
	msg := c.log.Append(text, isUser, c.now().Format(c.timeFormat))
	c.listener.MessageAppended(msg)
	return msg
}

func (c *Controller) stateLocked() State {
	return State{
		Input:        c.input,
		IsGenerating: c.generating > 0,
		IsRecording:  c.recording,
		IsAnalyzing:  c.analyzing > 0,
	}
}

func (c *Controller) notifyStateLocked() {
	c.listener.StateChanged(c.stateLocked())
}

type nopListener struct{}

func (nopListener) MessageAppended(domain.Message) {}
func (nopListener) StateChanged(State)             {}
func (nopListener) Notice(string)                  {}
