package schedule

import (
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"
	"time"

	"agendabot/internal/embed"
	"agendabot/internal/language"
)

// HeaderPrefix marks the per-date header fields of the full schedule.
const HeaderPrefix = "━━━━━━"

const headerPadding = "      "

// ServerConfig is the input of NewServer.
type ServerConfig struct {
	Name                  string
	ID                    int64
	AnnouncementChannelID int64
	Reactions             map[int64]Reaction
	Language              language.Language
	Timezones             []Timezone
	Schedule              []*ScheduleEvent
	Deadlines             []*Deadline
}

// Server is one organization's schedule. It is immutable once built; the
// sorted event list and the per-date index are computed by NewServer.
type Server struct {
	name      string
	id        int64
	channelID int64
	reactions map[int64]Reaction
	lang      language.Language
	catalog   *language.Catalog
	timezones []Timezone
	schedule  []*ScheduleEvent
	deadlines []*Deadline

	events []Event
	dates  []Date
	byDate map[Date][]Event
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, &FieldError{Field: "name", Reason: "must not be empty"}
	}
	catalog, err := language.Lookup(cfg.Language)
	if err != nil {
		return nil, &FieldError{Field: "language", Reason: err.Error()}
	}
	if len(cfg.Timezones) == 0 {
		return nil, &FieldError{Field: "timezones", Reason: "at least one timezone is required"}
	}
	for i, tz := range cfg.Timezones {
		for _, prev := range cfg.Timezones[:i] {
			if prev.Equal(tz) {
				return nil, &FieldError{Field: fmt.Sprintf("timezones[%d]", i), Reason: "timezones must be distinct"}
			}
		}
	}
	for i, e := range cfg.Schedule {
		if e == nil {
			return nil, &FieldError{Field: fmt.Sprintf("schedule[%d]", i), Reason: "must not be null"}
		}
	}
	for i, d := range cfg.Deadlines {
		if d == nil {
			return nil, &FieldError{Field: fmt.Sprintf("deadlines[%d]", i), Reason: "must not be null"}
		}
	}

	s := &Server{
		name:      cfg.Name,
		id:        cfg.ID,
		channelID: cfg.AnnouncementChannelID,
		reactions: make(map[int64]Reaction, len(cfg.Reactions)),
		lang:      cfg.Language,
		catalog:   catalog,
		timezones: slices.Clone(cfg.Timezones),
		schedule:  slices.Clone(cfg.Schedule),
		deadlines: slices.Clone(cfg.Deadlines),
	}
	for id, r := range cfg.Reactions {
		s.reactions[id] = r.clone()
	}

	s.events = make([]Event, 0, len(s.schedule)+len(s.deadlines))
	for _, e := range s.schedule {
		s.events = append(s.events, e)
	}
	for _, d := range s.deadlines {
		s.events = append(s.events, d)
	}
	slices.SortStableFunc(s.events, func(a, b Event) int {
		return a.ReminderTime().Compare(b.ReminderTime())
	})

	s.byDate = make(map[Date][]Event)
	for _, e := range s.events {
		d := e.AnchorDate()
		if _, ok := s.byDate[d]; !ok {
			s.dates = append(s.dates, d)
		}
		s.byDate[d] = append(s.byDate[d], e)
	}
	return s, nil
}

func (s *Server) Name() string                   { return s.name }
func (s *Server) ID() int64                      { return s.id }
func (s *Server) AnnouncementChannelID() int64   { return s.channelID }
func (s *Server) Language() language.Language    { return s.lang }
func (s *Server) Catalog() *language.Catalog     { return s.catalog }
func (s *Server) Timezones() []Timezone          { return slices.Clone(s.timezones) }
func (s *Server) Schedule() []*ScheduleEvent     { return slices.Clone(s.schedule) }
func (s *Server) Deadlines() []*Deadline         { return slices.Clone(s.deadlines) }
func (s *Server) ReactionChannels() []int64      { return slices.Sorted(maps.Keys(s.reactions)) }
func (s *Server) Reaction(chatID int64) (Reaction, bool) {
	r, ok := s.reactions[chatID]
	if !ok {
		return Reaction{}, false
	}
	return r.clone(), true
}

// Events are sorted by reminder time; ties keep sessions before deadlines in
// file order.
func (s *Server) Events() []Event { return slices.Clone(s.events) }

// Dates lists every anchor date with at least one event, ascending.
func (s *Server) Dates() []Date { return slices.Clone(s.dates) }

func (s *Server) EventsOn(d Date) []Event { return slices.Clone(s.byDate[d]) }

// Today is the current date in the server's first timezone.
func (s *Server) Today(now time.Time) Date {
	return DateOf(now.In(s.timezones[0].Location()))
}

// ReactionFor returns the emojis to add to a message with text posted in
// chatID.
func (s *Server) ReactionFor(chatID int64, text string) ([]string, bool) {
	r, ok := s.reactions[chatID]
	if !ok || !r.Matches(text) {
		return nil, false
	}
	return slices.Clone(r.Emojis), true
}

// DateHeader is the name of the header field that opens date d.
func DateHeader(d Date) string {
	return HeaderPrefix + headerPadding + d.String() + headerPadding + HeaderPrefix
}

// FullScheduleFields yields, per date, a header spanning that day's events
// followed by the rendered events.
func (s *Server) FullScheduleFields() iter.Seq[embed.Field] {
	return func(yield func(embed.Field) bool) {
		if len(s.events) == 0 {
			yield(embed.Field{Name: s.catalog.Embed.ScheduleEmpty})
			return
		}
		for _, d := range s.dates {
			events := s.byDate[d]
			if !yield(embed.Field{Name: DateHeader(d), Value: s.daySpan(events)}) {
				return
			}
			for _, e := range events {
				name, value := Render(e, s.timezones)
				if !yield(embed.Field{Name: name, Value: value}) {
					return
				}
			}
		}
	}
}

// TodaysScheduleFields yields one field per event anchored on d, named
// "<title>: <time>" with the description as value.
func (s *Server) TodaysScheduleFields(d Date) iter.Seq[embed.Field] {
	return func(yield func(embed.Field) bool) {
		events := s.byDate[d]
		if len(events) == 0 {
			yield(embed.Field{Name: s.catalog.Embed.ScheduleTodayEmpty})
			return
		}
		for _, e := range events {
			desc, _ := e.Description()
			f := embed.Field{Name: e.Title() + titleSeparator + TimeText(e, s.timezones), Value: desc}
			if !yield(f) {
				return
			}
		}
	}
}

func (s *Server) daySpan(events []Event) string {
	start := events[0].ReminderTime()
	end := events[0].EndTime()
	for _, e := range events[1:] {
		if e.ReminderTime().Before(start) {
			start = e.ReminderTime()
		}
		if e.EndTime().After(end) {
			end = e.EndTime()
		}
	}
	return spanText(start, end, s.timezones)
}
