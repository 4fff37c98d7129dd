package schedule

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := ParseTimestamp(s)
	require.NoError(t, err)
	return v
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	got, err := ParseTimestamp("2024-10-07 17:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 10, 7, 17, 0, 0, 0, time.UTC), got)
	assert.Equal(t, time.UTC, got.Location())

	for _, bad := range []string{"", "2024-10-07", "2024-10-07T17:00", "07.10.2024 17:00", "2024-10-07 17:00:00"} {
		_, err := ParseTimestamp(bad)
		assert.Error(t, err, bad)
	}
}

func TestRender_ScheduleEvent(t *testing.T) {
	t.Parallel()

	utc := MustTimezone("UTC", "UTC")
	cet := MustTimezone("CET", "CET")

	tests := []struct {
		name      string
		start     string
		end       string
		desc      *string
		tzs       []Timezone
		wantName  string
		wantValue string
	}{
		{
			name:      "single zone without description",
			start:     "2024-10-07 17:00",
			end:       "2024-10-07 20:00",
			tzs:       []Timezone{utc},
			wantName:  "Title",
			wantValue: "17:00 → 20:00 UTC",
		},
		{
			name:      "two zones with description",
			start:     "2024-10-07 17:00",
			end:       "2024-10-07 20:00",
			desc:      ptr("- intro"),
			tzs:       []Timezone{utc, cet},
			wantName:  "Title: 17:00 → 20:00 UTC | 19:00 → 22:00 CET",
			wantValue: "- intro",
		},
		{
			name:      "crosses local midnight",
			start:     "2024-10-09 17:00",
			end:       "2024-10-09 20:00",
			tzs:       []Timezone{MustTimezone("Asia/Dubai", "GST")},
			wantName:  "Title",
			wantValue: "2024-10-09 21:00 → 2024-10-10 00:00 GST",
		},
		{
			name:      "three zones with 45 and 30 minute offsets",
			start:     "2024-10-07 17:00",
			end:       "2024-10-07 18:00",
			tzs:       []Timezone{utc, MustTimezone("Asia/Kathmandu", "NPT"), MustTimezone("Asia/Kolkata", "IST")},
			wantName:  "Title",
			wantValue: "17:00 → 18:00 UTC | 22:45 → 23:45 NPT | 22:30 → 23:30 IST",
		},
		{
			name:      "half hour zone crossing midnight",
			start:     "2024-10-07 17:00",
			end:       "2024-10-07 20:00",
			tzs:       []Timezone{MustTimezone("Asia/Kolkata", "IST")},
			wantName:  "Title",
			wantValue: "2024-10-07 22:30 → 2024-10-08 01:30 IST",
		},
		{
			name:      "same local date on a different day than UTC",
			start:     "2024-10-07 17:00",
			end:       "2024-10-07 20:00",
			tzs:       []Timezone{MustTimezone("Australia/Adelaide", "ACDT")},
			wantName:  "Title",
			wantValue: "03:30 → 06:30 ACDT",
		},
		{
			name:      "multi day in UTC",
			start:     "2024-10-07 17:00",
			end:       "2024-10-08 09:00",
			tzs:       []Timezone{utc},
			wantName:  "Title",
			wantValue: "2024-10-07 17:00 → 2024-10-08 09:00 UTC",
		},
		{
			name:      "empty description still counts",
			start:     "2024-10-07 17:00",
			end:       "2024-10-07 17:00",
			desc:      ptr(""),
			tzs:       []Timezone{utc},
			wantName:  "Title: 17:00 → 17:00 UTC",
			wantValue: "",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var opts []EventOption
			if tt.desc != nil {
				opts = append(opts, WithDescription(*tt.desc))
			}
			e, err := NewScheduleEvent("Title", ts(t, tt.start), ts(t, tt.end), opts...)
			require.NoError(t, err)

			name, value := Render(e, tt.tzs)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantValue, value)
		})
	}
}

func TestRender_Deadline(t *testing.T) {
	t.Parallel()

	d, err := NewDeadline("Registration", ts(t, "2024-10-07 10:00"))
	require.NoError(t, err)

	name, value := Render(d, []Timezone{MustTimezone("UTC", ""), MustTimezone("CET", "")})
	assert.Equal(t, "Registration", name)
	assert.Equal(t, "10:00 UTC | 12:00 CET", value)

	// A point in time never shows a date, even in a zone on the next day.
	late, err := NewDeadline("Submit", ts(t, "2024-10-07 20:00"), WithDescription("upload"))
	require.NoError(t, err)
	name, value = Render(late, []Timezone{MustTimezone("Asia/Kathmandu", "NPT")})
	assert.Equal(t, "Submit: 01:45 NPT", name)
	assert.Equal(t, "upload", value)
}

func TestRender_SegmentPerTimezone(t *testing.T) {
	t.Parallel()

	zones := []Timezone{
		MustTimezone("UTC", ""),
		MustTimezone("Europe/Warsaw", "Warsaw"),
		MustTimezone("America/St_Johns", "NST"),
		MustTimezone("Pacific/Chatham", "CHAST"),
		MustTimezone("Asia/Kathmandu", "NPT"),
	}
	session, err := NewScheduleEvent("S", ts(t, "2024-03-31 00:30"), ts(t, "2024-03-31 23:15"))
	require.NoError(t, err)
	point, err := NewDeadline("D", ts(t, "2024-03-31 01:00"))
	require.NoError(t, err)

	for n := 1; n <= len(zones); n++ {
		for _, e := range []Event{session, point} {
			value := e.Value(zones[:n])
			assert.Len(t, strings.Split(value, " | "), n, value)
			assert.Equal(t, value, TimeText(e, zones[:n]))
		}
	}
}

func TestNewScheduleEvent_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewScheduleEvent("Late start", ts(t, "2024-10-07 20:00"), ts(t, "2024-10-07 17:00"))
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "start", fe.Field)
	assert.Contains(t, fe.Reason, "Late start")

	_, err = NewScheduleEvent("  ", ts(t, "2024-10-07 17:00"), ts(t, "2024-10-07 18:00"))
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "title", fe.Field)

	_, err = NewScheduleEvent("x", ts(t, "2024-10-07 17:00"), ts(t, "2024-10-07 18:00"), WithAnnouncements(10, -5))
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "announcements[1]", fe.Field)

	_, err = NewScheduleEvent("x", ts(t, "2024-10-07 17:00"), ts(t, "2024-10-07 18:00"), WithAnnouncements(10, 5, 10))
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "announcements[2]", fe.Field)

	_, err = NewScheduleEvent("x", ts(t, "2024-10-07 17:00"), ts(t, "2024-10-07 18:00"), WithAnnouncements(MaxLeadMinutes+1))
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "announcements[0]", fe.Field)
	assert.Contains(t, fe.Reason, "must not exceed")

	_, err = NewDeadline("x", ts(t, "2024-10-07 17:00"), WithAnnouncements(MaxLeadMinutes, 1<<62))
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "announcements[1]", fe.Field)

	ok, err := NewDeadline("x", ts(t, "2024-10-07 17:00"), WithAnnouncements(MaxLeadMinutes))
	require.NoError(t, err)
	assert.Equal(t, []int{MaxLeadMinutes}, ok.Announcements())
}

func TestEventDefaults(t *testing.T) {
	t.Parallel()

	s, err := NewScheduleEvent("s", ts(t, "2024-10-07 17:00"), ts(t, "2024-10-07 18:00"))
	require.NoError(t, err)
	assert.Equal(t, []int{10}, s.Announcements())
	assert.Equal(t, s.Start(), s.ReminderTime())
	assert.Equal(t, s.End(), s.EndTime())
	assert.Equal(t, Date{Year: 2024, Month: time.October, Day: 7}, s.AnchorDate())
	_, hasDesc := s.Description()
	assert.False(t, hasDesc)

	d, err := NewDeadline("d", ts(t, "2024-10-10 10:00"))
	require.NoError(t, err)
	assert.Equal(t, []int{600, 240, 120}, d.Announcements())
	assert.Equal(t, d.At(), d.ReminderTime())
	assert.Equal(t, d.At(), d.EndTime())

	silent, err := NewDeadline("d", ts(t, "2024-10-10 10:00"), WithAnnouncements())
	require.NoError(t, err)
	assert.Empty(t, silent.Announcements())

	leads := d.Announcements()
	leads[0] = 1
	assert.Equal(t, []int{600, 240, 120}, d.Announcements())
}

func TestTimezone(t *testing.T) {
	t.Parallel()

	_, err := NewTimezone("Mars/Olympus_Mons", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "isn't a valid timezone")

	_, err = NewTimezone("", "x")
	require.Error(t, err)

	_, err = NewTimezone("Local", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "isn't a valid timezone")

	a := MustTimezone("Europe/Warsaw", "Warsaw")
	b := MustTimezone("Europe/Warsaw", "Poland")
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(MustTimezone("UTC", "")))
	assert.Equal(t, "Europe/Warsaw", MustTimezone("Europe/Warsaw", "").Label)
	assert.Equal(t, time.UTC, Timezone{}.Location())
}

func ptr[T any](v T) *T { return &v }
