package conversation

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/relaychat/internal/speech"
)

const (
	time1s = time.Second
	tick   = 5 * time.Millisecond
)

type remoteHooks struct {
	mu       sync.Mutex
	settings []speech.Settings
	stops    int
}

func newRemote() (*speech.Remote, *remoteHooks) {
	h := &remoteHooks{}
	r := speech.NewRemote(
		func(s speech.Settings) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.settings = append(h.settings, s)
			return nil
		},
		func() error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.stops++
			return nil
		},
	)
	return r, h
}

func TestStartVoiceUnavailable(t *testing.T) {
	c, rec := newTestController(t, &fakeRelay{respond: replyWith(`{}`)}, speech.Unavailable{})

	err := c.StartVoice()
	assert.True(t, errors.Is(err, speech.ErrUnavailable))
	assert.Equal(t, []string{VoiceNotice}, rec.Notices())
	assert.False(t, c.State().IsRecording)
}

func TestVoiceTranscriptsOverwriteInput(t *testing.T) {
	remote, hooks := newRemote()
	c, _ := newTestController(t, &fakeRelay{respond: replyWith(`{}`)}, remote)

	c.SetInput("typed text")
	require.NoError(t, c.StartVoice())
	assert.True(t, c.State().IsRecording)
	require.Len(t, hooks.settings, 1)
	assert.Equal(t, speech.DefaultSettings(), hooks.settings[0])

	require.NoError(t, remote.Deliver(speech.Recognition{Results: []speech.Result{{Transcript: "hel"}}}))
	require.Eventually(t, func() bool { return c.Input() == "hel" }, time1s, tick)

	require.NoError(t, remote.Deliver(speech.Recognition{Results: []speech.Result{
		{Transcript: "hello", IsFinal: true},
		{Transcript: "wor"},
	}}))
	require.Eventually(t, func() bool { return c.Input() == "hello wor" }, time1s, tick)

	require.NoError(t, remote.End())
	require.Eventually(t, func() bool { return !c.State().IsRecording }, time1s, tick)
	assert.Equal(t, "hello wor", c.Input())
	assert.Empty(t, c.Messages(), "voice never sends on its own")
}

func TestVoiceErrorClearsRecording(t *testing.T) {
	remote, _ := newRemote()
	c, rec := newTestController(t, &fakeRelay{respond: replyWith(`{}`)}, remote)

	require.NoError(t, c.StartVoice())
	require.NoError(t, remote.Fail("not-allowed"))

	require.Eventually(t, func() bool { return !c.State().IsRecording }, time1s, tick)
	assert.Empty(t, rec.Notices())
}

func TestStopVoice(t *testing.T) {
	remote, hooks := newRemote()
	c, _ := newTestController(t, &fakeRelay{respond: replyWith(`{}`)}, remote)

	require.NoError(t, c.StartVoice())
	require.NoError(t, c.StartVoice(), "second start while recording is a no-op")

	c.StopVoice()
	require.Eventually(t, func() bool { return !c.State().IsRecording }, time1s, tick)

	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	assert.Equal(t, 1, hooks.stops)
	assert.Len(t, hooks.settings, 1)
}

func TestCloseStopsVoiceCapture(t *testing.T) {
	remote, _ := newRemote()
	c := New(&fakeRelay{respond: replyWith(`{}`)}, remote, nil)

	require.NoError(t, c.StartVoice())
	c.Close()

	assert.False(t, c.State().IsRecording)
	assert.False(t, remote.Capturing())
}

func TestWithSpeechSettings(t *testing.T) {
	remote, hooks := newRemote()
	settings := speech.Settings{Locale: "de-DE", InterimResults: false, MaxAlternatives: 1}
	c, _ := newTestController(t, &fakeRelay{respond: replyWith(`{}`)}, remote, WithSpeechSettings(settings))

	require.NoError(t, c.StartVoice())
	c.StopVoice()

	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	assert.Equal(t, []speech.Settings{settings}, hooks.settings)
}
