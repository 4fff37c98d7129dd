// Package bot routes chat messages to schedule commands and reaction
// triggers.
package bot

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jmhodges/clock"

	"agendabot/internal/embed"
	"agendabot/internal/eventbus"
	"agendabot/internal/language"
	"agendabot/internal/registry"
	rtsup "agendabot/internal/runtime/supervisor"
	"agendabot/internal/schedule"
	"agendabot/internal/transport"
	logx "agendabot/pkg/logx"
)

// Servers resolves the server configured for a chat.
type Servers interface {
	Get(id int64) (*schedule.Server, error)
}

// Settings are the hot-reloadable knobs of the bot.
type Settings struct {
	Prefix    string
	MaxLength int
	MaxFields int
}

func (s Settings) withDefaults() Settings {
	if s.Prefix == "" {
		s.Prefix = "!"
	}
	if s.MaxLength <= 0 {
		s.MaxLength = embed.DefaultMaxCombinedLength
	}
	if s.MaxFields <= 0 {
		s.MaxFields = embed.DefaultMaxFieldsPerPage
	}
	return s
}

type Config struct {
	Adapter  transport.Adapter
	Servers  Servers
	Settings Settings
	Clock    clock.Clock
	Bus      eventbus.Bus
	Log      logx.Logger
	// Workers defaults to NumCPU, at least 2.
	Workers int
}

type Bot struct {
	adapter transport.Adapter
	servers Servers
	clk     clock.Clock
	bus     eventbus.Bus
	log     logx.Logger
	workers int

	cmds  []Command
	index map[string]*Command

	cfg  atomic.Pointer[Settings]
	jobs chan func()
}

func New(cfg Config) *Bot {
	b := &Bot{
		adapter: cfg.Adapter,
		servers: cfg.Servers,
		clk:     cfg.Clock,
		bus:     cfg.Bus,
		log:     cfg.Log,
		workers: cfg.Workers,
		jobs:    make(chan func(), 256),
	}
	if b.clk == nil {
		b.clk = clock.New()
	}
	if b.bus == nil {
		b.bus = eventbus.Nop()
	}
	if b.log.IsZero() {
		b.log = logx.Nop()
	}
	if b.workers <= 0 {
		b.workers = max(runtime.NumCPU(), 2)
	}
	b.SetSettings(cfg.Settings)

	b.cmds = b.commands()
	b.index = map[string]*Command{}
	for i := range b.cmds {
		c := &b.cmds[i]
		b.index[c.Name] = c
		for _, a := range c.Aliases {
			b.index[a] = c
		}
	}
	return b
}

// SetSettings swaps the prefix and paging limits; safe during hot reload.
func (b *Bot) SetSettings(s Settings) {
	s = s.withDefaults()
	b.cfg.Store(&s)
}

func (b *Bot) settings() Settings { return *b.cfg.Load() }

// MenuCommands lists the commands for platform autocomplete menus.
func (b *Bot) MenuCommands(cat *language.Catalog) []transport.BotCommand {
	return buildMenu(b.cmds, cat)
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
// Handlers run on a bounded worker pool.
func (b *Bot) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(b.log.With(logx.String("comp", "bot.dispatch"))),
		rtsup.WithCancelOnError(false),
	)
	b.log.Info("command dispatcher started", logx.Int("workers", b.workers), logx.Int("job_queue_cap", cap(b.jobs)))

	for i := range b.workers {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-b.jobs:
					job()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		b.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind != transport.UpdateMessage || up.Message == nil {
				continue
			}
			msg := up.Message
			if !b.enqueue(func() { b.Handle(ctx, msg) }) {
				b.log.Warn("command queue full; dropping message", logx.Int64("chat_id", msg.ChatID))
			}
		}
	}
}

func (b *Bot) enqueue(fn func()) bool {
	select {
	case b.jobs <- fn:
		return true
	default:
		return false
	}
}

// Handle processes one message synchronously: a command when the text
// carries the prefix, otherwise a reaction trigger check.
func (b *Bot) Handle(ctx context.Context, msg *transport.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic handling message", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	st := b.settings()
	name, args, isCmd := parseCommand(msg.Text, st.Prefix)

	server, err := b.servers.Get(msg.ChatID)
	if err != nil {
		if !errors.Is(err, registry.ErrServerNotFound) {
			b.log.Error("server lookup failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
			return
		}
		server = nil
	}

	if isCmd {
		cmd, ok := b.index[name]
		if !ok {
			return
		}
		if server == nil && !cmd.Anywhere {
			b.log.Error("Server not found", logx.Int64("chat_id", msg.ChatID), logx.String("cmd", name))
			return
		}
		b.runCommand(ctx, cmd, msg, server, args)
		return
	}

	if server == nil {
		return
	}
	b.react(ctx, server, msg)
}

func (b *Bot) runCommand(ctx context.Context, cmd *Command, msg *transport.Message, server *schedule.Server, args []string) {
	rid := newReqID()
	req := &Request{
		Msg:     msg,
		Server:  server,
		Command: cmd.Name,
		Args:    args,
		Now:     b.clk.Now(),
		ReqID:   rid,
		Log: b.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int("thread_id", msg.ThreadID),
			logx.Int64("from_id", msg.FromID),
		),
	}
	h := wrap(cmd.Handle, recoverPanics, logOutcome, deadline(commandTimeout(cmd)))
	err := h(ctx, req)
	b.bus.Publish(eventbus.Event{Type: eventbus.TypeCommandHandled, Data: CommandResult{
		ChatID:  msg.ChatID,
		Command: cmd.Name,
		Err:     err,
	}})
}

// CommandResult is published on the bus after every command.
type CommandResult struct {
	ChatID  int64
	Command string
	Err     error
}

func commandTimeout(c *Command) time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 15 * time.Second
}

// react adds the configured emojis when the message's topic (or the chat
// itself) has a reaction whose prompt appears in the text.
func (b *Bot) react(ctx context.Context, server *schedule.Server, msg *transport.Message) {
	emojis, ok := b.reactionFor(server, msg)
	if !ok {
		return
	}
	if err := b.adapter.React(ctx, msg.Ref(), emojis); err != nil {
		b.log.Warn("add reactions failed", logx.Int64("chat_id", msg.ChatID), logx.Int("message_id", msg.ID), logx.Err(err))
	}
}

func (b *Bot) reactionFor(server *schedule.Server, msg *transport.Message) ([]string, bool) {
	if msg.ThreadID != 0 {
		if emojis, ok := server.ReactionFor(int64(msg.ThreadID), msg.Text); ok {
			return emojis, true
		}
	}
	return server.ReactionFor(msg.ChatID, msg.Text)
}

// UpdateMenu pushes the command menu to the adapter when it supports one.
func (b *Bot) UpdateMenu(ctx context.Context, cat *language.Catalog) {
	up, ok := b.adapter.(transport.CommandMenuUpdater)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := up.UpdateMenuCommands(ctx, b.MenuCommands(cat)); err != nil {
		b.log.Warn("menu update failed", logx.Err(err))
	}
}
