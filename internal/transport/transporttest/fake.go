// Package transporttest provides an in-memory chat adapter for tests.
package transporttest

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	kit "opsconsole/internal/transport"
)

// Sent is one outgoing message recorded by Fake.
type Sent struct {
	Kind    string // text, edit, photo, document, answer
	To      kit.ChatTarget
	Text    string
	Name    string
	Data    []byte
	Options kit.SendOptions
}

// Fake records everything sent through it. Files for Download are served
// from Files by file id.
type Fake struct {
	mu     sync.Mutex
	sent   []Sent
	nextID int
	notify chan struct{}

	Files map[string][]byte
	Menu  []kit.BotCommand
}

var _ kit.Adapter = (*Fake)(nil)

func New() *Fake {
	return &Fake{Files: map[string][]byte{}, notify: make(chan struct{}, 1)}
}

func (f *Fake) record(s Sent) kit.MessageRef {
	f.mu.Lock()
	f.nextID++
	f.sent = append(f.sent, s)
	id := f.nextID
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
	return kit.MessageRef{ChatID: s.To.ChatID, ThreadID: s.To.ThreadID, MessageID: id}
}

func (f *Fake) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *Fake) Stop(ctx context.Context) error                        { return nil }

func (f *Fake) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	s := Sent{Kind: "text", To: to, Text: text}
	if opt != nil {
		s.Options = *opt
	}
	return f.record(s), nil
}

func (f *Fake) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	s := Sent{Kind: "edit", To: kit.ChatTarget{ChatID: ref.ChatID, ThreadID: ref.ThreadID}, Text: text}
	if opt != nil {
		s.Options = *opt
	}
	f.record(s)
	return nil
}

func (f *Fake) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	f.record(Sent{Kind: "answer", Text: text, Name: callbackID})
	return nil
}

func (f *Fake) upload(kind string, to kit.ChatTarget, up kit.Upload) (kit.MessageRef, error) {
	var data []byte
	if up.Data != nil {
		b, err := io.ReadAll(up.Data)
		if err != nil {
			return kit.MessageRef{}, err
		}
		data = b
	}
	return f.record(Sent{Kind: kind, To: to, Text: up.Caption, Name: up.Name, Data: data}), nil
}

func (f *Fake) SendPhoto(ctx context.Context, to kit.ChatTarget, up kit.Upload) (kit.MessageRef, error) {
	return f.upload("photo", to, up)
}

func (f *Fake) SendDocument(ctx context.Context, to kit.ChatTarget, up kit.Upload) (kit.MessageRef, error) {
	return f.upload("document", to, up)
}

func (f *Fake) Download(ctx context.Context, ref kit.FileRef, limit int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.Files[ref.FileID]
	if !ok {
		return nil, errors.New("no such file")
	}
	if limit > 0 && int64(len(b)) > limit {
		return nil, errors.New("file too large")
	}
	return b, nil
}

func (f *Fake) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	f.Menu = append([]kit.BotCommand(nil), cmds...)
	f.mu.Unlock()
	return nil
}

// Sent returns a copy of everything sent so far.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// Reset forgets recorded messages.
func (f *Fake) Reset() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}

// WaitFor blocks until a recorded message satisfies match or the timeout
// passes.
func (f *Fake) WaitFor(timeout time.Duration, match func(Sent) bool) (Sent, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		for _, s := range f.Sent() {
			if match(s) {
				return s, true
			}
		}
		select {
		case <-f.notify:
		case <-deadline.C:
			return Sent{}, false
		}
	}
}

// WaitText waits for a message containing substr.
func (f *Fake) WaitText(timeout time.Duration, substr string) (Sent, bool) {
	return f.WaitFor(timeout, func(s Sent) bool { return strings.Contains(s.Text, substr) })
}
