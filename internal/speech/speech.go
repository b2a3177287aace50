// Package speech provides the voice capture capability used by the conversation
// controller. A Recognizer is injected; clients without speech support get Unavailable.
package speech

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by Start when the client has no speech facility.
var ErrUnavailable = errors.New("speech recognition unavailable")

// ErrCapturing is returned by Start while a capture is already running.
var ErrCapturing = errors.New("speech capture already running")

// Settings configure a capture.
type Settings struct {
	Locale          string `json:"lang"`
	InterimResults  bool   `json:"interim_results"`
	MaxAlternatives int    `json:"max_alternatives"`
}

// DefaultSettings returns the en-US, interim-enabled, single-alternative configuration.
func DefaultSettings() Settings {
	return Settings{
		Locale:          "en-US",
		InterimResults:  true,
		MaxAlternatives: 1,
	}
}

// EventKind discriminates capture events.
type EventKind int

const (
	EventTranscript EventKind = iota
	EventError
)

// Event is emitted by a running capture. The channel is closed when capture ends.
type Event struct {
	Kind       EventKind
	Transcript Transcript
	ErrorCode  string
}

// Transcript is the recognized text of one recognition event.
type Transcript struct {
	Final   string
	Interim string
}

// Text is the value written into the input buffer.
func (t Transcript) Text() string {
	return t.Final + t.Interim
}

// Result is one recognition hypothesis.
type Result struct {
	Transcript string `json:"transcript"`
	IsFinal    bool   `json:"is_final"`
}

// Recognition is a raw recognition event: results from ResultIndex onward changed.
type Recognition struct {
	ResultIndex int      `json:"result_index"`
	Results     []Result `json:"results"`
}

// Transcript merges the changed results. Final pieces are each followed by a
// space; interim pieces are concatenated as-is.
func (r Recognition) Transcript() Transcript {
	var t Transcript
	start := r.ResultIndex
	if start < 0 {
		start = 0
	}
	for i := start; i < len(r.Results); i++ {
		if r.Results[i].IsFinal {
			t.Final += r.Results[i].Transcript + " "
		} else {
			t.Interim += r.Results[i].Transcript
		}
	}
	return t
}

// Recognizer is a speech capture facility.
type Recognizer interface {
	// Start begins a capture. Events arrive on the returned channel, which is
	// closed when the capture ends for any reason, including ctx being done.
	Start(ctx context.Context, settings Settings) (<-chan Event, error)
	// Stop ends the running capture, if any.
	Stop()
}

// Unavailable is the recognizer for clients without speech support.
type Unavailable struct{}

var _ Recognizer = Unavailable{}

func (Unavailable) Start(context.Context, Settings) (<-chan Event, error) {
	return nil, ErrUnavailable
}

func (Unavailable) Stop() {}
