// Package calendar exports a server's events as an iCalendar document.
package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"agendabot/internal/schedule"
	"agendabot/internal/transport"
)

const (
	ProductID = "-//agendabot//schedule export//EN"
	MIME      = "text/calendar"
)

// uidSpace scopes event UIDs so re-exports of the same event keep the same UID.
var uidSpace = uuid.MustParse("7c0f6a52-4a7e-4b7e-9d0e-3b1c3f0e8a11")

// Build converts every event of s into a VEVENT. Reminder leads become
// display alarms. stamp is written as DTSTAMP.
func Build(s *schedule.Server, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(ProductID)
	cal.SetXWRCalName(s.Name())

	for _, e := range s.Events() {
		ev := cal.AddEvent(EventUID(s.ID(), e))
		ev.SetDtStampTime(stamp.UTC())
		ev.SetStartAt(e.ReminderTime())
		ev.SetEndAt(e.EndTime())
		ev.SetSummary(e.Title())
		if d, ok := e.Description(); ok {
			ev.SetDescription(d)
		}
		for _, lead := range e.Announcements() {
			alarm := ev.AddAlarm()
			alarm.SetProperty(ical.ComponentPropertyAction, string(ical.ActionDisplay))
			alarm.SetProperty(ical.ComponentPropertyTrigger, trigger(lead))
			alarm.SetProperty(ical.ComponentPropertyDescription, e.Title())
		}
	}
	return cal
}

// Document serializes the calendar of s as an attachment.
func Document(s *schedule.Server, stamp time.Time) transport.Document {
	return transport.Document{
		FileName: FileName(s.Name()),
		MIME:     MIME,
		Caption:  s.Name(),
		Data:     []byte(Build(s, stamp).Serialize()),
	}
}

// EventUID is stable for the same server, title and start.
func EventUID(serverID int64, e schedule.Event) string {
	key := strconv.FormatInt(serverID, 10) + "\x00" + e.Title() + "\x00" + e.ReminderTime().Format(time.RFC3339)
	return uuid.NewSHA1(uidSpace, []byte(key)).String() + "@agendabot"
}

func trigger(lead int) string {
	if lead == 0 {
		return "PT0M"
	}
	return fmt.Sprintf("-PT%dM", lead)
}

// FileName turns a server name into a safe .ics file name.
func FileName(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	base := strings.TrimRight(b.String(), "-")
	if base == "" {
		base = "schedule"
	}
	return base + ".ics"
}
