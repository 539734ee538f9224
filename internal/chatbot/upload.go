package chatbot

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"TaxChat/internal/canned"
	"TaxChat/internal/session"
	"TaxChat/internal/transcript"
)

// Upload simulates sending a document: after the upload delay the user
// message is added, then after the typing delay a canned acknowledgment
// chosen by file name. Nothing is read and no request is sent.
func (cb *ChatBot) Upload(ctx context.Context, path string) error {
	name := filepath.Base(strings.TrimSpace(path))
	if !canned.IsAcceptedFile(name) {
		return fmt.Errorf("unsupported file type %q, accepted: %s", name, strings.Join(canned.AcceptedExtensions, " "))
	}
	if cb.controller.Busy() {
		return transcript.ErrBusy
	}

	cb.println(cb.render.Notice("Uploading " + name + "..."))
	if err := sleep(ctx, cb.opts.UploadDelay); err != nil {
		return err
	}
	cb.uploaded = append(cb.uploaded, name)

	userMsg := session.User(canned.UploadMessage(name), cb.now())
	if err := cb.controller.AppendLocal(userMsg); err != nil {
		return err
	}
	cb.println(cb.render.Message(userMsg))
	cb.logger.Info("file uploaded", "chat_id", cb.chatID, "file", name, "type", canned.FileType(name))

	cb.println(cb.render.Typing())
	if err := sleep(ctx, cb.opts.TypingDelay); err != nil {
		return err
	}
	reply := session.Assistant(cb.region.FileAcknowledgment(name), cb.now())
	if err := cb.controller.AppendLocal(reply); err != nil {
		return err
	}
	cb.println(cb.render.Message(reply))
	cb.autosave()
	return nil
}

// sleep waits for d or until ctx is done, without leaving a timer behind.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
