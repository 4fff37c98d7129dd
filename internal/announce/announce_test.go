package announce

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agendabot/internal/embed"
	"agendabot/internal/eventbus"
	"agendabot/internal/language"
	"agendabot/internal/schedule"
	"agendabot/internal/storage"
	"agendabot/internal/transport"
	logx "agendabot/pkg/logx"
)

var utc = schedule.MustTimezone("UTC", "")

func at(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := schedule.ParseTimestamp(s)
	require.NoError(t, err)
	return ts
}

type serverOpts struct {
	id, channel int64
	lang        language.Language
	schedule    []*schedule.ScheduleEvent
	deadlines   []*schedule.Deadline
}

func newServer(t *testing.T, o serverOpts) *schedule.Server {
	t.Helper()
	if o.lang == "" {
		o.lang = language.EN
	}
	s, err := schedule.NewServer(schedule.ServerConfig{
		Name:                  "srv",
		ID:                    o.id,
		AnnouncementChannelID: o.channel,
		Language:              o.lang,
		Timezones:             []schedule.Timezone{utc},
		Schedule:              o.schedule,
		Deadlines:             o.deadlines,
	})
	require.NoError(t, err)
	return s
}

func lecture(t *testing.T, title, start, end string, opts ...schedule.EventOption) *schedule.ScheduleEvent {
	t.Helper()
	e, err := schedule.NewScheduleEvent(title, at(t, start), at(t, end), opts...)
	require.NoError(t, err)
	return e
}

func TestDue_MinuteAlignment(t *testing.T) {
	t.Parallel()

	servers := map[int64]*schedule.Server{
		1: newServer(t, serverOpts{id: 1, channel: 100, schedule: []*schedule.ScheduleEvent{
			lecture(t, "Opening", "2024-10-07 17:00", "2024-10-07 18:00"),
		}}),
	}

	tests := []struct {
		now  time.Time
		want int
	}{
		{now: time.Date(2024, 10, 7, 16, 50, 0, 0, time.UTC), want: 1},
		{now: time.Date(2024, 10, 7, 16, 50, 30, 0, time.UTC), want: 1},
		{now: time.Date(2024, 10, 7, 16, 50, 59, 999, time.UTC), want: 1},
		{now: time.Date(2024, 10, 7, 16, 51, 0, 0, time.UTC), want: 0},
		{now: time.Date(2024, 10, 7, 16, 49, 0, 0, time.UTC), want: 0},
		{now: time.Date(2024, 10, 7, 17, 0, 0, 0, time.UTC), want: 0},
		// Same instant expressed in another zone.
		{now: time.Date(2024, 10, 7, 18, 50, 10, 0, time.FixedZone("CEST", 2*3600)), want: 1},
	}
	for _, tt := range tests {
		got := Due(servers, tt.now)
		assert.Len(t, got, tt.want, "now=%s", tt.now)
	}

	got := Due(servers, time.Date(2024, 10, 7, 16, 50, 0, 0, time.UTC))
	require.Len(t, got, 1)
	assert.Equal(t, Announcement{
		ChannelID: 100,
		ServerID:  1,
		Title:     "Reminder!",
		Name:      "Opening",
		Value:     "17:00 → 18:00 UTC",
	}, got[0])
}

func TestDue_DeadlineLeads(t *testing.T) {
	t.Parallel()

	dl, err := schedule.NewDeadline("Submissions", at(t, "2024-10-08 20:00"))
	require.NoError(t, err)
	servers := map[int64]*schedule.Server{
		1: newServer(t, serverOpts{id: 1, channel: 100, deadlines: []*schedule.Deadline{dl}}),
	}

	for _, lead := range []int{600, 240, 120} {
		now := dl.At().Add(-time.Duration(lead) * time.Minute)
		assert.Len(t, Due(servers, now), 1, "lead %d", lead)
	}
	assert.Empty(t, Due(servers, dl.At()))
	assert.Empty(t, Due(servers, dl.At().Add(-60*time.Minute)))
}

func TestDue_ZeroLeadAndDisabled(t *testing.T) {
	t.Parallel()

	servers := map[int64]*schedule.Server{
		1: newServer(t, serverOpts{id: 1, channel: 100, schedule: []*schedule.ScheduleEvent{
			lecture(t, "Now", "2024-10-07 12:00", "2024-10-07 13:00", schedule.WithAnnouncements(0)),
			lecture(t, "Silent", "2024-10-07 12:10", "2024-10-07 13:00", schedule.WithAnnouncements()),
		}}),
	}
	got := Due(servers, at(t, "2024-10-07 12:00"))
	require.Len(t, got, 1)
	assert.Equal(t, "Now", got[0].Name)
	assert.Empty(t, Due(servers, at(t, "2024-10-07 12:10")))
}

func TestDue_DedupAndOrder(t *testing.T) {
	t.Parallel()

	shared := func() []*schedule.ScheduleEvent {
		return []*schedule.ScheduleEvent{lecture(t, "Keynote", "2024-10-07 17:00", "2024-10-07 18:00")}
	}
	servers := map[int64]*schedule.Server{
		1: newServer(t, serverOpts{id: 1, channel: 200, schedule: shared()}),
		2: newServer(t, serverOpts{id: 2, channel: 200, schedule: shared()}),
		3: newServer(t, serverOpts{id: 3, channel: 100, schedule: append(shared(),
			lecture(t, "Another", "2024-10-07 17:00", "2024-10-07 17:30"))}),
		4: newServer(t, serverOpts{id: 4, channel: -5, lang: language.PL, schedule: shared()}),
	}

	got := Due(servers, at(t, "2024-10-07 16:50"))
	require.Len(t, got, 4)

	type key struct {
		ch   int64
		name string
	}
	var keys []key
	for _, a := range got {
		keys = append(keys, key{a.ChannelID, a.Name})
	}
	assert.Equal(t, []key{
		{-5, "Keynote"},
		{100, "Another"},
		{100, "Keynote"},
		{200, "Keynote"},
	}, keys)

	assert.NotEqual(t, "Reminder!", got[0].Title, "polish server uses its own catalog")
	assert.Empty(t, Due(nil, at(t, "2024-10-07 16:50")))
}

func TestAnnouncement_Page(t *testing.T) {
	t.Parallel()

	a := Announcement{Title: "Reminder!", Name: "n", Value: "v"}
	p := a.Page()
	assert.Equal(t, "Reminder!", p.Title)
	assert.Equal(t, ReminderColor, p.Color)
	assert.Equal(t, []embed.Field{{Name: "n", Value: "v"}}, p.Fields)
}

type fakeSender struct {
	mu    sync.Mutex
	fail  map[int64]error
	pages map[int64][]embed.Embed
}

func newFakeSender() *fakeSender {
	return &fakeSender{fail: map[int64]error{}, pages: map[int64][]embed.Embed{}}
}

func (f *fakeSender) SendPage(_ context.Context, to transport.ChatTarget, page embed.Embed) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[to.ChatID]; err != nil {
		return transport.MessageRef{}, err
	}
	f.pages[to.ChatID] = append(f.pages[to.ChatID], page)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.pages[to.ChatID])}, nil
}

var errChatNotFound = errors.New("chat not found")

func TestDispatcher_IsolatesFailures(t *testing.T) {
	t.Parallel()

	sender := newFakeSender()
	sender.fail[2] = errChatNotFound
	d := NewDispatcher(sender, WithRate(0), WithSendTimeout(time.Second), WithLogger(logx.Nop()))

	anns := []Announcement{
		{ChannelID: 1, Name: "a"},
		{ChannelID: 2, Name: "b"},
		{ChannelID: 3, Name: "c"},
	}
	results, err := d.Deliver(context.Background(), anns)
	require.Error(t, err)
	require.ErrorIs(t, err, errChatNotFound)

	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, int64(2), de.ChannelID)
	assert.Equal(t, "b", de.Name)

	require.Len(t, results, 3)
	assert.True(t, results[0].OK())
	assert.False(t, results[1].OK())
	assert.True(t, results[2].OK())
	assert.Len(t, sender.pages[1], 1)
	assert.Len(t, sender.pages[3], 1)
}

func TestDispatcher_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDispatcher(newFakeSender(), WithRate(1))
	results, err := d.Deliver(ctx, []Announcement{{ChannelID: 1, Name: "a"}, {ChannelID: 2, Name: "b"}})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 2)
	assert.False(t, results[0].OK())
	assert.False(t, results[1].OK())
}

type staticSource map[int64]*schedule.Server

func (s staticSource) Snapshot() map[int64]*schedule.Server { return s }

func TestRunner_Tick(t *testing.T) {
	t.Parallel()

	src := staticSource{
		1: newServer(t, serverOpts{id: 1, channel: 10, schedule: []*schedule.ScheduleEvent{
			lecture(t, "Opening", "2024-10-07 17:00", "2024-10-07 18:00"),
		}}),
		2: newServer(t, serverOpts{id: 2, channel: 20, schedule: []*schedule.ScheduleEvent{
			lecture(t, "Opening", "2024-10-07 17:00", "2024-10-07 18:00"),
		}}),
	}

	sender := newFakeSender()
	sender.fail[20] = errChatNotFound

	store, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "journal")}, logx.Nop())
	require.NoError(t, err)
	defer store.Close()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	clk := clock.NewFake()
	clk.Set(time.Date(2024, 10, 7, 16, 50, 42, 0, time.UTC))

	r := NewRunner(RunnerConfig{
		Source:     src,
		Dispatcher: NewDispatcher(sender),
		Clock:      clk,
		Store:      store,
		Bus:        bus,
	})

	sum, err := r.Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, sum.Due)
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, 1, sum.Failed)
	assert.NotEmpty(t, sum.BatchID)
	assert.Equal(t, time.Date(2024, 10, 7, 16, 50, 0, 0, time.UTC), sum.At)
	assert.Len(t, sender.pages[10], 1)

	recent, err := store.RecentDeliveries(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	for _, d := range recent {
		assert.Equal(t, sum.BatchID, d.BatchID)
		assert.Equal(t, "Opening", d.Name)
	}
	assert.Equal(t, int64(20), recent[0].ChannelID)
	assert.False(t, recent[0].OK)
	assert.Equal(t, "chat not found", recent[0].Error)
	assert.True(t, recent[1].OK)

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Equal(t, []string{
		eventbus.TypeAnnouncementTick,
		eventbus.TypeAnnouncementSent,
		eventbus.TypeAnnouncementFailed,
	}, types)

	// A minute later nothing is due.
	clk.Add(time.Minute)
	sum, err = r.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Due)
}
