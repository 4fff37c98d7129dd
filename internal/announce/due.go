// Package announce decides which reminders are due at a given minute and
// delivers them to each server's announcement chat.
package announce

import (
	"cmp"
	"slices"
	"time"

	"agendabot/internal/embed"
	"agendabot/internal/schedule"
)

// ReminderColor is the accent colour of reminder pages.
const ReminderColor = 0x2F3855

// Announcement is one reminder bound for one chat.
type Announcement struct {
	ChannelID int64
	ServerID  int64
	Title     string
	Name      string
	Value     string
}

type dedupKey struct {
	channel int64
	name    string
}

func (a Announcement) key() dedupKey { return dedupKey{a.ChannelID, a.Name} }

// Page renders the reminder as a single-field page.
func (a Announcement) Page() embed.Embed {
	return embed.Embed{
		Title:  a.Title,
		Color:  ReminderColor,
		Fields: []embed.Field{{Name: a.Name, Value: a.Value}},
	}
}

// Due returns every reminder that fires at the minute containing now.
//
// An event with lead L fires when now+L minutes equals its reminder time.
// Announcements that would render identically in the same chat are sent
// once. The result is ordered by chat then name.
func Due(servers map[int64]*schedule.Server, now time.Time) []Announcement {
	minute := now.UTC().Truncate(time.Minute)

	seen := map[dedupKey]struct{}{}
	var out []Announcement
	for _, s := range servers {
		if s == nil {
			continue
		}
		tzs := s.Timezones()
		title := s.Catalog().Embed.Reminder
		for _, e := range s.Events() {
			if !firesAt(e, minute) {
				continue
			}
			name, value := schedule.Render(e, tzs)
			a := Announcement{
				ChannelID: s.AnnouncementChannelID(),
				ServerID:  s.ID(),
				Title:     title,
				Name:      name,
				Value:     value,
			}
			if _, dup := seen[a.key()]; dup {
				continue
			}
			seen[a.key()] = struct{}{}
			out = append(out, a)
		}
	}

	slices.SortFunc(out, func(a, b Announcement) int {
		return cmp.Or(cmp.Compare(a.ChannelID, b.ChannelID), cmp.Compare(a.Name, b.Name))
	})
	return out
}

func firesAt(e schedule.Event, minute time.Time) bool {
	at := e.ReminderTime()
	for _, lead := range e.Announcements() {
		if minute.Add(time.Duration(lead) * time.Minute).Equal(at) {
			return true
		}
	}
	return false
}
