package conversation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/xiaot623/relaychat/internal/domain"
)

// Attachment is a file the user picked.
type Attachment struct {
	Name      string
	MediaType string
	Data      io.Reader
}

// IsImage reports whether the attachment is routed to image classification.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MediaType, "image/")
}

// Upload handles a picked file. Images are announced, read, classified and
// the result appended; other files are only announced. The image path runs
// independently of the text path.
func (c *Controller) Upload(att Attachment) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if !att.IsImage() {
		c.appendLocked("📎 Uploaded file: "+att.Name, true)
		return nil
	}

	c.appendLocked("📎 Analyzing image: "+att.Name, true)
	c.analyzing++
	c.notifyStateLocked()

	ctx, done := c.beginRequestLocked()
	go func() {
		reply, err := c.classify(ctx, att)

		c.mu.Lock()
		defer c.mu.Unlock()
		defer done()

		if err != nil {
			c.logger.Warn("image analysis failed", zap.String("name", att.Name), zap.Error(err))
			reply = ImageFailReply
		}
		c.appendLocked(reply, false)
		c.analyzing--
		c.notifyStateLocked()
	}()
	return nil
}

func (c *Controller) classify(ctx context.Context, att Attachment) (string, error) {
	data, err := io.ReadAll(att.Data)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}

	dataURL := "data:" + att.MediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
	raw, err := c.relay.Call(ctx, domain.ModelImageClassification, dataURL)
	if err != nil {
		return "", err
	}

	var indented bytes.Buffer
	if err := json.Indent(&indented, raw, "", "  "); err != nil {
		return "", fmt.Errorf("failed to format result: %w", err)
	}
	return "I analyzed the image and found: " + indented.String(), nil
}
