package speech

import (
	"context"
	"errors"
	"sync"
)

// ErrNotCapturing is returned when a client delivers events with no capture running.
var ErrNotCapturing = errors.New("speech capture not running")

// ErrBacklog is returned when the consumer has fallen behind and an event was dropped.
var ErrBacklog = errors.New("speech event backlog full")

const remoteEventBuffer = 32

// Remote is a Recognizer whose audio is captured by a connected UI client.
// Start and Stop are forwarded through the start and stop hooks; the client's
// recognition events come back through Deliver, Fail and End.
type Remote struct {
	mu     sync.Mutex
	start  func(Settings) error
	stop   func() error
	events chan Event
	detach func() bool
}

var _ Recognizer = (*Remote)(nil)

// NewRemote creates a remote recognizer.
func NewRemote(start func(Settings) error, stop func() error) *Remote {
	return &Remote{start: start, stop: stop}
}

// Start asks the client to begin capturing.
func (r *Remote) Start(ctx context.Context, settings Settings) (<-chan Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.events != nil {
		return nil, ErrCapturing
	}
	if err := r.start(settings); err != nil {
		return nil, err
	}

	events := make(chan Event, remoteEventBuffer)
	r.events = events
	r.detach = context.AfterFunc(ctx, func() { r.stopCapture(events) })
	return events, nil
}

// Stop asks the client to stop capturing and ends the capture.
func (r *Remote) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.events == nil {
		return
	}
	_ = r.stop()
	r.finishLocked()
}

// stopCapture stops only the capture that owns events.
func (r *Remote) stopCapture(events chan Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.events != events {
		return
	}
	_ = r.stop()
	r.finishLocked()
}

// Capturing reports whether a capture is running.
func (r *Remote) Capturing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events != nil
}

// Deliver forwards a recognition event from the client.
func (r *Remote) Deliver(rec Recognition) error {
	return r.emit(Event{Kind: EventTranscript, Transcript: rec.Transcript()})
}

// Fail reports a client-side recognition error and ends the capture.
func (r *Remote) Fail(code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.events == nil {
		return ErrNotCapturing
	}
	err := r.sendLocked(Event{Kind: EventError, ErrorCode: code})
	r.finishLocked()
	return err
}

// End reports that the client's capture facility ended.
func (r *Remote) End() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.events == nil {
		return ErrNotCapturing
	}
	r.finishLocked()
	return nil
}

func (r *Remote) emit(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.events == nil {
		return ErrNotCapturing
	}
	return r.sendLocked(ev)
}

// sendLocked never blocks so a slow consumer cannot stall the client's read loop.
func (r *Remote) sendLocked(ev Event) error {
	select {
	case r.events <- ev:
		return nil
	default:
		return ErrBacklog
	}
}

func (r *Remote) finishLocked() {
	close(r.events)
	r.events = nil
	if r.detach != nil {
		r.detach()
		r.detach = nil
	}
}
