package bot

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"agendabot/internal/announce"
	"agendabot/internal/calendar"
	"agendabot/internal/embed"
	"agendabot/internal/language"
	"agendabot/internal/schedule"
	"agendabot/internal/transport"
	logx "agendabot/pkg/logx"
)

// Command is one chat command. Name and Aliases are matched lower-case.
type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description func(*language.Catalog) string
	Timeout     time.Duration
	Handle      HandlerFunc
	// Anywhere allows the command in chats with no configured server.
	Anywhere bool
}

// Request is what a handler sees. Server is nil only for Anywhere commands.
type Request struct {
	Msg     *transport.Message
	Server  *schedule.Server
	Command string
	Args    []string
	Now     time.Time
	ReqID   string
	Log     logx.Logger
}

func (r *Request) catalog() *language.Catalog {
	if r.Server != nil {
		return r.Server.Catalog()
	}
	c, _ := language.Lookup(language.EN)
	return c
}

func (b *Bot) commands() []Command {
	return []Command{
		{
			Name:        "help",
			Usage:       "help",
			Description: func(c *language.Catalog) string { return c.Embed.HelpDescription },
			Handle:      b.cmdHelp,
		},
		{
			Name:        "hello",
			Usage:       "hello",
			Description: func(c *language.Catalog) string { return c.Embed.HelloDescription },
			Handle:      b.cmdHello,
			Anywhere:    true,
		},
		{
			Name:        "test",
			Usage:       "test",
			Description: func(c *language.Catalog) string { return c.Embed.Test },
			Handle:      b.cmdTest,
			Anywhere:    true,
		},
		{
			Name:        "schedule",
			Usage:       "schedule [today|full|all]",
			Description: func(c *language.Catalog) string { return c.Embed.ScheduleDescription },
			Handle:      b.cmdSchedule,
		},
		{
			Name:        "schedule-full",
			Aliases:     []string{"schedule_full"},
			Usage:       "schedule-full",
			Description: func(c *language.Catalog) string { return c.Embed.ScheduleFullDescription },
			Handle: func(ctx context.Context, req *Request) error {
				return b.sendSchedule(ctx, req, true)
			},
		},
		{
			Name:        "calendar",
			Aliases:     []string{"ics"},
			Usage:       "calendar",
			Description: func(c *language.Catalog) string { return c.Embed.CalendarDescription },
			Timeout:     30 * time.Second,
			Handle:      b.cmdCalendar,
		},
	}
}

func (b *Bot) cmdHelp(ctx context.Context, req *Request) error {
	cat := req.catalog()
	prefix := b.settings().Prefix

	cmds := slices.Clone(b.cmds)
	slices.SortFunc(cmds, func(x, y Command) int {
		// help first, then alphabetical
		if (x.Name == "help") != (y.Name == "help") {
			if x.Name == "help" {
				return -1
			}
			return 1
		}
		return strings.Compare(x.Name, y.Name)
	})

	fields := make([]embed.Field, 0, len(cmds))
	for _, c := range cmds {
		fields = append(fields, embed.Field{Name: prefix + c.Usage, Value: c.Description(cat)})
	}
	return b.sendPages(ctx, req, embed.Embed{
		Title:       cat.Embed.Help,
		Description: cat.Embed.AvailableCommands,
		Color:       announce.ReminderColor,
	}, fields)
}

func (b *Bot) cmdHello(ctx context.Context, req *Request) error {
	text := "Hello!"
	if u := req.Msg.FromUsername; u != "" {
		text = "Hello @" + u + "!"
	}
	_, err := b.adapter.SendText(ctx, req.Msg.Target(), text, nil)
	return err
}

func (b *Bot) cmdTest(ctx context.Context, req *Request) error {
	text := req.catalog().Message.Test
	if req.Server == nil {
		text = req.catalog().Message.NotConfigured
	}
	_, err := b.adapter.SendText(ctx, req.Msg.Target(), text, nil)
	return err
}

func (b *Bot) cmdSchedule(ctx context.Context, req *Request) error {
	full := false
	if len(req.Args) > 0 {
		switch strings.ToLower(req.Args[0]) {
		case "full", "all":
			full = true
		}
	}
	return b.sendSchedule(ctx, req, full)
}

func (b *Bot) sendSchedule(ctx context.Context, req *Request, full bool) error {
	s := req.Server
	cat := s.Catalog()

	var (
		title  string
		fields []embed.Field
	)
	if full {
		title = cat.Embed.Schedule + " - " + s.Name()
		fields = slices.Collect(s.FullScheduleFields())
	} else {
		title = cat.Embed.ScheduleToday + " - " + s.Name()
		fields = slices.Collect(s.TodaysScheduleFields(s.Today(req.Now)))
	}
	return b.sendPages(ctx, req, embed.Embed{Title: title, Color: announce.ReminderColor}, fields)
}

func (b *Bot) sendPages(ctx context.Context, req *Request, tmpl embed.Embed, fields []embed.Field) error {
	st := b.settings()
	pages, err := embed.Split(tmpl, fields,
		embed.WithMaxCombinedLength(st.MaxLength),
		embed.WithMaxFields(st.MaxFields),
		embed.WithHeaderPrefix(schedule.HeaderPrefix),
	)
	if err != nil {
		return fmt.Errorf("paginate %q: %w", tmpl.Title, err)
	}
	for _, p := range pages {
		if _, err := b.adapter.SendPage(ctx, req.Msg.Target(), p); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) cmdCalendar(ctx context.Context, req *Request) error {
	_, err := b.adapter.SendDocument(ctx, req.Msg.Target(), calendar.Document(req.Server, req.Now))
	return err
}
