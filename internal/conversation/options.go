package conversation

import (
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/relaychat/internal/speech"
)

// Option configures a Controller.
type Option func(*Controller)

// WithRequestTimeout bounds every relay request. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.requestTimeout = d
	}
}

// WithClock replaces the wall clock used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithTimeFormat sets the time layout for message timestamps.
func WithTimeFormat(layout string) Option {
	return func(c *Controller) {
		c.timeFormat = layout
	}
}

// WithSpeechSettings sets the capture configuration passed to the recognizer.
func WithSpeechSettings(s speech.Settings) Option {
	return func(c *Controller) {
		c.speechSettings = s
	}
}

// WithLogger sets the controller logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}
