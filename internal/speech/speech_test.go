package speech

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRecognitionTranscript(t *testing.T) {
	tests := []struct {
		name string
		rec  Recognition
		want Transcript
	}{
		{
			name: "interim only",
			rec:  Recognition{Results: []Result{{Transcript: "hel"}}},
			want: Transcript{Interim: "hel"},
		},
		{
			name: "final then interim",
			rec: Recognition{Results: []Result{
				{Transcript: "hello", IsFinal: true},
				{Transcript: "wor"},
			}},
			want: Transcript{Final: "hello ", Interim: "wor"},
		},
		{
			name: "finals accumulate with trailing space",
			rec: Recognition{Results: []Result{
				{Transcript: "hello", IsFinal: true},
				{Transcript: "world", IsFinal: true},
			}},
			want: Transcript{Final: "hello world "},
		},
		{
			name: "results before result index are skipped",
			rec: Recognition{ResultIndex: 1, Results: []Result{
				{Transcript: "old", IsFinal: true},
				{Transcript: "new", IsFinal: true},
				{Transcript: "ish"},
			}},
			want: Transcript{Final: "new ", Interim: "ish"},
		},
		{
			name: "index past end",
			rec:  Recognition{ResultIndex: 5, Results: []Result{{Transcript: "x"}}},
			want: Transcript{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.rec.Transcript()); diff != "" {
				t.Fatalf("Transcript() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTranscriptText(t *testing.T) {
	got := Transcript{Final: "hello ", Interim: "wor"}.Text()
	if got != "hello wor" {
		t.Fatalf("Text() = %q", got)
	}
}

func TestDefaultSettings(t *testing.T) {
	want := Settings{Locale: "en-US", InterimResults: true, MaxAlternatives: 1}
	if diff := cmp.Diff(want, DefaultSettings()); diff != "" {
		t.Fatalf("DefaultSettings() mismatch (-want +got):\n%s", diff)
	}
}

func TestUnavailable(t *testing.T) {
	var r Recognizer = Unavailable{}
	events, err := r.Start(context.Background(), DefaultSettings())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if events != nil {
		t.Fatalf("expected no channel")
	}
	r.Stop()
}

type hooks struct {
	started []Settings
	stopped int
}

func newTestRemote() (*Remote, *hooks) {
	h := &hooks{}
	r := NewRemote(
		func(s Settings) error { h.started = append(h.started, s); return nil },
		func() error { h.stopped++; return nil },
	)
	return r, h
}

func TestRemoteDeliverAndEnd(t *testing.T) {
	r, h := newTestRemote()

	events, err := r.Start(context.Background(), DefaultSettings())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if len(h.started) != 1 || h.started[0].Locale != "en-US" {
		t.Fatalf("start hook not called with settings: %+v", h.started)
	}

	if err := r.Deliver(Recognition{Results: []Result{{Transcript: "hi", IsFinal: true}}}); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if err := r.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	ev, ok := <-events
	if !ok || ev.Kind != EventTranscript || ev.Transcript.Text() != "hi " {
		t.Fatalf("unexpected event: %+v ok=%v", ev, ok)
	}
	if _, ok := <-events; ok {
		t.Fatalf("expected channel closed after End")
	}
	if h.stopped != 0 {
		t.Fatalf("stop hook must not run when the client ended the capture")
	}
	if r.Capturing() {
		t.Fatalf("expected capture finished")
	}
}

func TestRemoteFailEmitsErrorThenCloses(t *testing.T) {
	r, _ := newTestRemote()

	events, err := r.Start(context.Background(), DefaultSettings())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := r.Fail("no-speech"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	ev := <-events
	if ev.Kind != EventError || ev.ErrorCode != "no-speech" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if _, ok := <-events; ok {
		t.Fatalf("expected channel closed after Fail")
	}
}

func TestRemoteStopCallsHook(t *testing.T) {
	r, h := newTestRemote()

	events, err := r.Start(context.Background(), DefaultSettings())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := r.Start(context.Background(), DefaultSettings()); !errors.Is(err, ErrCapturing) {
		t.Fatalf("expected ErrCapturing, got %v", err)
	}

	r.Stop()
	r.Stop()
	if h.stopped != 1 {
		t.Fatalf("expected one stop hook call, got %d", h.stopped)
	}
	if _, ok := <-events; ok {
		t.Fatalf("expected channel closed after Stop")
	}
	if err := r.Deliver(Recognition{}); !errors.Is(err, ErrNotCapturing) {
		t.Fatalf("expected ErrNotCapturing, got %v", err)
	}
}

func TestRemoteStopsWhenContextDone(t *testing.T) {
	r, _ := newTestRemote()

	ctx, cancel := context.WithCancel(context.Background())
	events, err := r.Start(ctx, DefaultSettings())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatalf("expected channel closed")
		}
	case <-time.After(time.Second):
		t.Fatalf("capture did not end on context cancel")
	}
}

func TestRemoteBacklog(t *testing.T) {
	r, _ := newTestRemote()

	if _, err := r.Start(context.Background(), DefaultSettings()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.Stop()

	var err error
	for i := 0; i <= remoteEventBuffer; i++ {
		err = r.Deliver(Recognition{Results: []Result{{Transcript: "x"}}})
	}
	if !errors.Is(err, ErrBacklog) {
		t.Fatalf("expected ErrBacklog, got %v", err)
	}
}
