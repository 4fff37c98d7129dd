package schedule

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// TimestampLayout is the wall-clock format of event times in server files.
// Times are always read as UTC.
const TimestampLayout = "2006-01-02 15:04"

const (
	clockLayout    = "15:04"
	spanSeparator  = " → "
	zoneSeparator  = " | "
	titleSeparator = ": "
)

var (
	defaultScheduleAnnouncements = []int{10}
	defaultDeadlineAnnouncements = []int{600, 240, 120}
)

// MaxLeadMinutes caps a lead time at one year, well inside what
// time.Duration can represent in minutes.
const MaxLeadMinutes = 365 * 24 * 60

// ParseTimestamp parses a YYYY-MM-DD HH:MM timestamp as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q does not match format YYYY-MM-DD HH:MM", s)
	}
	return t, nil
}

// Event is either a *ScheduleEvent or a *Deadline.
type Event interface {
	Title() string
	Description() (string, bool)
	// Announcements lists lead times in minutes before ReminderTime.
	Announcements() []int
	ReminderTime() time.Time
	EndTime() time.Time
	AnchorDate() Date
	Name(tzs []Timezone) string
	Value(tzs []Timezone) string

	isEvent()
}

// Render returns the display pair of e for the given timezones.
func Render(e Event, tzs []Timezone) (name, value string) {
	return e.Name(tzs), e.Value(tzs)
}

// TimeText renders only the time part of e, one segment per timezone.
func TimeText(e Event, tzs []Timezone) string {
	switch ev := e.(type) {
	case *ScheduleEvent:
		return joinZones(tzs, ev.timeText)
	case *Deadline:
		return joinZones(tzs, ev.timeText)
	default:
		return ""
	}
}

type EventOption func(*eventBase)

// WithDescription sets the description. An empty string still counts as set.
func WithDescription(d string) EventOption {
	return func(b *eventBase) {
		b.description = d
		b.hasDescription = true
	}
}

// WithAnnouncements replaces the default lead times. An empty list disables
// reminders for the event.
func WithAnnouncements(leads ...int) EventOption {
	return func(b *eventBase) {
		b.announcements = slices.Clone(leads)
		if b.announcements == nil {
			b.announcements = []int{}
		}
	}
}

type eventBase struct {
	title          string
	description    string
	hasDescription bool
	announcements  []int
}

func newEventBase(title string, defaults []int, opts []EventOption) (eventBase, error) {
	b := eventBase{title: title}
	for _, opt := range opts {
		if opt != nil {
			opt(&b)
		}
	}
	if strings.TrimSpace(b.title) == "" {
		return eventBase{}, &FieldError{Field: "title", Reason: "must not be empty"}
	}
	if b.announcements == nil {
		b.announcements = slices.Clone(defaults)
	}
	seen := make(map[int]struct{}, len(b.announcements))
	for i, lead := range b.announcements {
		if lead < 0 {
			return eventBase{}, &FieldError{Field: fmt.Sprintf("announcements[%d]", i), Reason: "must not be negative"}
		}
		if lead > MaxLeadMinutes {
			return eventBase{}, &FieldError{Field: fmt.Sprintf("announcements[%d]", i), Reason: fmt.Sprintf("must not exceed %d minutes", MaxLeadMinutes)}
		}
		if _, dup := seen[lead]; dup {
			return eventBase{}, &FieldError{Field: fmt.Sprintf("announcements[%d]", i), Reason: fmt.Sprintf("duplicate lead time %d", lead)}
		}
		seen[lead] = struct{}{}
	}
	return b, nil
}

func (b *eventBase) Title() string                { return b.title }
func (b *eventBase) Description() (string, bool) { return b.description, b.hasDescription }
func (b *eventBase) Announcements() []int         { return slices.Clone(b.announcements) }

func (b *eventBase) name(tzs []Timezone, text func(Timezone) string) string {
	if !b.hasDescription {
		return b.title
	}
	return b.title + titleSeparator + joinZones(tzs, text)
}

func (b *eventBase) value(tzs []Timezone, text func(Timezone) string) string {
	if b.hasDescription {
		return b.description
	}
	return joinZones(tzs, text)
}

func joinZones(tzs []Timezone, text func(Timezone) string) string {
	parts := make([]string, 0, len(tzs))
	for _, tz := range tzs {
		parts = append(parts, text(tz))
	}
	return strings.Join(parts, zoneSeparator)
}

// ScheduleEvent is a session with a start and an end.
type ScheduleEvent struct {
	eventBase
	start time.Time
	end   time.Time
}

// NewScheduleEvent fails when start is after end. Without WithAnnouncements
// the event is announced 10 minutes ahead.
func NewScheduleEvent(title string, start, end time.Time, opts ...EventOption) (*ScheduleEvent, error) {
	b, err := newEventBase(title, defaultScheduleAnnouncements, opts)
	if err != nil {
		return nil, err
	}
	start, end = start.UTC(), end.UTC()
	if start.After(end) {
		return nil, &FieldError{
			Field:  "start",
			Reason: fmt.Sprintf("start of event %s cannot happen after the event has ended", title),
		}
	}
	return &ScheduleEvent{eventBase: b, start: start, end: end}, nil
}

func (e *ScheduleEvent) Start() time.Time        { return e.start }
func (e *ScheduleEvent) End() time.Time          { return e.end }
func (e *ScheduleEvent) ReminderTime() time.Time { return e.start }
func (e *ScheduleEvent) EndTime() time.Time      { return e.end }
func (e *ScheduleEvent) AnchorDate() Date        { return DateOf(e.start) }
func (e *ScheduleEvent) Name(tzs []Timezone) string {
	return e.name(tzs, e.timeText)
}
func (e *ScheduleEvent) Value(tzs []Timezone) string {
	return e.value(tzs, e.timeText)
}
func (*ScheduleEvent) isEvent() {}

func (e *ScheduleEvent) timeText(tz Timezone) string {
	start := e.start.In(tz.Location())
	end := e.end.In(tz.Location())

	layout := TimestampLayout
	if DateOf(start) == DateOf(end) {
		layout = clockLayout
	}
	return start.Format(layout) + spanSeparator + end.Format(layout) + " " + tz.Label
}

// Deadline is a single instant.
type Deadline struct {
	eventBase
	at time.Time
}

// NewDeadline builds a point event. Without WithAnnouncements it is announced
// 600, 240 and 120 minutes ahead.
func NewDeadline(title string, at time.Time, opts ...EventOption) (*Deadline, error) {
	b, err := newEventBase(title, defaultDeadlineAnnouncements, opts)
	if err != nil {
		return nil, err
	}
	return &Deadline{eventBase: b, at: at.UTC()}, nil
}

func (d *Deadline) At() time.Time           { return d.at }
func (d *Deadline) ReminderTime() time.Time { return d.at }
func (d *Deadline) EndTime() time.Time      { return d.at }
func (d *Deadline) AnchorDate() Date        { return DateOf(d.at) }
func (d *Deadline) Name(tzs []Timezone) string {
	return d.name(tzs, d.timeText)
}
func (d *Deadline) Value(tzs []Timezone) string {
	return d.value(tzs, d.timeText)
}
func (*Deadline) isEvent() {}

func (d *Deadline) timeText(tz Timezone) string {
	return d.at.In(tz.Location()).Format(clockLayout) + " " + tz.Label
}

// spanText renders the time span from start to end the way an untitled event
// covering it would.
func spanText(start, end time.Time, tzs []Timezone) string {
	if start.Equal(end) {
		d := &Deadline{at: start.UTC()}
		return joinZones(tzs, d.timeText)
	}
	e := &ScheduleEvent{start: start.UTC(), end: end.UTC()}
	return joinZones(tzs, e.timeText)
}
