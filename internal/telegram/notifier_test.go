package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	err   error
	block chan struct{}
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.texts = append(f.texts, msg.Text)
	}
	return tgbotapi.Message{}, f.err
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func TestNotifierDeliversInOrder(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, 42, zap.NewNop())

	n.Notify("one")
	n.Notify("two")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, n.Close(ctx))

	assert.Equal(t, []string{"one", "two"}, sender.sent())
}

func TestNotifierNeverBlocks(t *testing.T) {
	sender := &fakeSender{block: make(chan struct{})}
	n := NewNotifier(sender, 42, zap.NewNop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < queueSize*3; i++ {
			n.Notify("spam")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Notify blocked on a stuck transport")
	}

	close(sender.block)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	// the limiter makes a full drain slow; an error here is fine, a hang is not
	_ = n.Close(ctx)
}

func TestNotifierSurvivesSendErrors(t *testing.T) {
	sender := &fakeSender{err: errors.New("bad gateway")}
	n := NewNotifier(sender, 42, zap.NewNop())

	n.Notify("still logged")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, n.Close(ctx))
	assert.Len(t, sender.sent(), 1)

	assert.NotPanics(t, func() { n.Notify("after close") })
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		maxLength int
		wantParts int
	}{
		{"short", "hello", 10, 1},
		{"two lines", "aaaaa\nbbbbb", 8, 2},
		{"long single line", strings.Repeat("x", 25), 10, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts := splitMessage(tt.text, tt.maxLength)
			assert.Len(t, parts, tt.wantParts)
			for _, p := range parts {
				assert.LessOrEqual(t, len(p), tt.maxLength)
			}
		})
	}
}
