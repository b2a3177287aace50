package conversation

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xiaot623/relaychat/internal/speech"
)

// StartVoice begins voice capture. Transcripts overwrite the input buffer
// until capture ends. Without a recognizer the user gets a notice and
// speech.ErrUnavailable is returned.
func (c *Controller) StartVoice() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.recording {
		return nil
	}

	ctx, cancel := context.WithCancel(c.ctx)
	events, err := c.recognizer.Start(ctx, c.speechSettings)
	if err != nil {
		cancel()
		if errors.Is(err, speech.ErrUnavailable) {
			c.listener.Notice(VoiceNotice)
		} else {
			c.logger.Warn("failed to start voice capture", zap.Error(err))
		}
		return err
	}

	c.recording = true
	c.notifyStateLocked()

	c.wg.Add(1)
	go c.consumeSpeech(events, cancel)
	return nil
}

// StopVoice ends voice capture. The recording flag clears when the capture reports its end.
func (c *Controller) StopVoice() {
	c.mu.Lock()
	recording := c.recording
	c.mu.Unlock()

	if recording {
		c.recognizer.Stop()
	}
}

func (c *Controller) consumeSpeech(events <-chan speech.Event, cancel context.CancelFunc) {
	defer c.wg.Done()
	defer cancel()

	for ev := range events {
		switch ev.Kind {
		case speech.EventTranscript:
			c.mu.Lock()
			c.input = ev.Transcript.Text()
			c.notifyStateLocked()
			c.mu.Unlock()
		case speech.EventError:
			c.logger.Warn("speech recognition error", zap.String("code", ev.ErrorCode))
		}
	}

	c.mu.Lock()
	c.recording = false
	c.notifyStateLocked()
	c.mu.Unlock()
}
