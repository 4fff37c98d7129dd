package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"agendabot/internal/transport"
)

// ChatConfig mirrors log lines at or above MinLevel into a chat.
type ChatConfig struct {
	Enabled    bool
	ChatID     int64
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

// ChatSender is the part of the transport adapter the chat sink needs.
type ChatSender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

const (
	chatQueueSize   = 256
	chatSendTimeout = 10 * time.Second
	chatMaxLine     = 3500
	chatMaxValue    = 600
)

type chatLine struct {
	to   transport.ChatTarget
	text string
}

// chatSink is a zerolog.LevelWriter that forwards lines to a chat from a
// single background worker. Writes never block the logger.
type chatSink struct {
	sender ChatSender
	queue  chan chatLine

	mu       sync.Mutex
	target   transport.ChatTarget
	minLevel Level
	limiter  *rate.Limiter

	dropped atomic.Uint64

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func newChatSink(sender ChatSender) *chatSink {
	return &chatSink{
		sender: sender,
		queue:  make(chan chatLine, chatQueueSize),
		done:   make(chan struct{}),
	}
}

func (c *chatSink) configure(cfg ChatConfig) {
	rps := max(1, cfg.RatePerSec)

	c.mu.Lock()
	c.target = transport.ChatTarget{ChatID: cfg.ChatID, ThreadID: cfg.ThreadID}
	c.minLevel = parseLevel(cfg.MinLevel, LevelWarn)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	c.mu.Unlock()

	if !cfg.Enabled {
		return
	}
	if cfg.ChatID == 0 {
		fmt.Fprintln(os.Stderr, "logx: chat logging enabled without logging.chat.chat_id")
	}
	c.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.mu.Lock()
		c.cancel = cancel
		c.mu.Unlock()
		go c.run(ctx)
	})
}

func (c *chatSink) run(ctx context.Context) {
	defer close(c.done)
	opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}
	for {
		select {
		case <-ctx.Done():
			return
		case ln := <-c.queue:
			sctx, cancel := context.WithTimeout(ctx, chatSendTimeout)
			// errors are not logged: that would feed back into this sink
			_, _ = c.sender.SendText(sctx, ln.to, ln.text, opt)
			cancel()
		}
	}
}

func (c *chatSink) close() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		cancel := c.cancel
		c.mu.Unlock()
		if cancel == nil {
			return
		}
		cancel()
		<-c.done
	})
}

func (c *chatSink) Write(p []byte) (int, error) { return c.WriteLevel(LevelInfo, p) }

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	to, minLevel, lim := c.target, c.minLevel, c.limiter
	c.mu.Unlock()

	if to.ChatID == 0 || level < minLevel {
		return len(p), nil
	}
	if !lim.Allow() {
		c.dropped.Add(1)
		return len(p), nil
	}
	text := formatChatLine(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case c.queue <- chatLine{to: to, text: text}:
	default:
		c.dropped.Add(1)
	}
	return len(p), nil
}

// formatChatLine renders a JSON log line as Telegram HTML: the level in bold
// and the message, then one "<code>key</code> value" line per field in key
// order. Lines that are not JSON are sent escaped as they are.
func formatChatLine(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return html.EscapeString(truncate(raw, chatMaxLine))
	}

	var b strings.Builder
	if lvl, _ := m[zerolog.LevelFieldName].(string); lvl != "" {
		b.WriteString("<b>" + html.EscapeString(strings.ToUpper(lvl)) + "</b> ")
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(html.EscapeString(truncate(msg, chatMaxLine)))

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
		default:
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		if b.Len() >= chatMaxLine {
			b.WriteString("\n…")
			break
		}
		fmt.Fprintf(&b, "\n<code>%s</code> %s",
			html.EscapeString(k), html.EscapeString(truncate(fmt.Sprint(m[k]), chatMaxValue)))
	}
	return b.String()
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	suffix := "..."
	if n < 10 {
		suffix = ""
	}
	cut := n - len(suffix)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + suffix
}
