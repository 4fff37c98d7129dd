package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agendabot/internal/transport"
)

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	opts  []transport.SendOptions
}

func (f *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if opt != nil {
		f.opts = append(f.opts, *opt)
	}
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func TestNewWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := NewWriter(&buf, "info").With(String("comp", "test"))
	l.Debug("hidden")
	l.Info("hello", Int("n", 2), Err(nil), Err(errors.New("boom")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &m))
	assert.Equal(t, "hello", m["message"])
	assert.Equal(t, "info", m["level"])
	assert.Equal(t, "test", m["comp"])
	assert.Equal(t, float64(2), m["n"])
	assert.Equal(t, "boom", m["err"])
	assert.Contains(t, m["caller"], "logging_test.go:")

	assert.False(t, l.Enabled(LevelDebug))
	assert.True(t, l.Enabled(LevelWarn))
}

func TestZeroLogger(t *testing.T) {
	t.Parallel()

	var l Logger
	assert.True(t, l.IsZero())
	assert.NotPanics(t, func() { l.Error("nothing", String("k", "v")) })
	assert.False(t, l.With(String("k", "v")).IsZero())
	assert.False(t, Nop().IsZero())
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]Level{
		"":        LevelInfo,
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"Error":   LevelError,
		"trace":   LevelTrace,
		"loud":    LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in, LevelInfo), "input %q", in)
	}
}

func TestFormatChatLine(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "json",
			in:   `{"level":"warn","time":"2024-10-07T08:00:00Z","message":"send <failed>","chat_id":-100,"caller":"dispatch.go:9"}`,
			want: "<b>WARN</b> send &lt;failed&gt;\n<code>caller</code> dispatch.go:9\n<code>chat_id</code> -100",
		},
		{
			name: "plain",
			in:   "not & json\n",
			want: "not &amp; json",
		},
		{
			name: "message only",
			in:   `{"message":"hi"}`,
			want: "hi",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, formatChatLine([]byte(tc.in)))
		})
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "abc", truncate("abcdef", 3))
	// "é" is two bytes; the cut backs off to a rune start
	assert.Equal(t, "aaaaaa...", truncate("aaaaaaé-tail-tail", 10))
}

func TestService_ChatSink(t *testing.T) {
	t.Parallel()

	snd := &fakeSender{}
	svc, log := New(Config{
		Level: "debug",
		Chat:  ChatConfig{Enabled: true, ChatID: 42, MinLevel: "warn", RatePerSec: 1},
	}, snd)
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("below min level")
	log.Warn("first warning")
	log.Error("rate limited")

	require.Eventually(t, func() bool { return len(snd.sent()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := snd.sent()[0]
	assert.True(t, strings.HasPrefix(got, "<b>WARN</b> first warning"), got)
	assert.Equal(t, uint64(1), svc.ChatDropped())

	snd.mu.Lock()
	assert.Equal(t, "HTML", snd.opts[0].ParseMode)
	snd.mu.Unlock()
}

func TestService_ApplyKeepsDerivedLoggers(t *testing.T) {
	t.Parallel()

	svc, log := New(Config{Level: "error"}, nil)
	t.Cleanup(func() { _ = svc.Close() })

	child := log.With(String("comp", "x"))
	assert.False(t, child.Enabled(LevelInfo))

	svc.Apply(Config{Level: "debug"})
	assert.True(t, child.Enabled(LevelDebug))
	assert.Zero(t, svc.ChatDropped())
}
