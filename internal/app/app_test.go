package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agendabot/internal/config"
	"agendabot/internal/embed"
	"agendabot/internal/eventbus"
	"agendabot/internal/language"
	"agendabot/internal/transport"
	logx "agendabot/pkg/logx"
)

const (
	serverChat   int64 = -100123
	announceChat int64 = -100999
)

const serverDoc = `{
  "name": "Hack Day",
  "server_id": -100123,
  "announcement_channel_id": -100999,
  "language": "EN",
  "timezones": ["UTC"],
  "deadlines": [{"title": "Registration", "time": "2024-10-07 10:00"}]
}`

const configDoc = `{
  "telegram": {"token": "test-token", "command_prefix": "PREFIX"},
  "logging": {"level": "ERROR", "console": false},
  "servers": {"dir": "SERVERS", "watch": false},
  "announcements": {"schedule": "0 0 1 1 *", "rate_per_sec": 0},
  "storage": {"driver": "file", "path": "JOURNAL"}
}`

type page struct {
	chat int64
	page embed.Embed
}

type fakeAdapter struct {
	mu    sync.Mutex
	out   chan<- transport.Update
	texts map[int64][]string
	pages []page
}

func (f *fakeAdapter) Start(_ context.Context, out chan<- transport.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts[to.ChatID] = append(f.texts[to.ChatID], text)
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) SendPage(_ context.Context, to transport.ChatTarget, p embed.Embed) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = append(f.pages, page{to.ChatID, p})
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) SendDocument(_ context.Context, to transport.ChatTarget, _ transport.Document) (transport.MessageRef, error) {
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) React(context.Context, transport.MessageRef, []string) error { return nil }

func (f *fakeAdapter) textsFor(chat int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts[chat]...)
}

func (f *fakeAdapter) push(t *testing.T, text string) {
	t.Helper()
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	require.NotNil(t, out, "adapter not started")
	out <- transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{
		ID:     1,
		ChatID: serverChat,
		Text:   text,
	}}
}

type fixture struct {
	dir     string
	cfgPath string
	journal string
	ad      *fakeAdapter
	clk     clock.FakeClock
	app     *App
}

func writeConfig(t *testing.T, fx *fixture, prefix string) {
	t.Helper()
	body := strings.NewReplacer(
		"PREFIX", prefix,
		"SERVERS", filepath.ToSlash(filepath.Join(fx.dir, "servers")),
		"JOURNAL", filepath.ToSlash(fx.journal),
	).Replace(configDoc)
	require.NoError(t, os.WriteFile(fx.cfgPath, []byte(body), 0o644))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("QUANTUM_BOT_PREFIX", "")
	t.Setenv("AGENDABOT_SERVERS_DIR", "")

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "servers"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "servers", "hackday.json"), []byte(serverDoc), 0o644))

	fx := &fixture{
		dir:     dir,
		cfgPath: filepath.Join(dir, "config.json"),
		journal: filepath.Join(dir, "deliveries.jsonl"),
		ad:      &fakeAdapter{texts: map[int64][]string{}},
		clk:     clock.NewFake(),
	}
	fx.clk.Set(time.Date(2024, 10, 7, 8, 0, 0, 0, time.UTC))
	writeConfig(t, fx, "!")

	a, err := NewApp(fx.cfgPath, WithAdapter(fx.ad), WithClock(fx.clk))
	require.NoError(t, err)
	fx.app = a

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = a.Stop(sctx, StopAppStop)
	})
	return fx
}

func catalog(t *testing.T) *language.Catalog {
	t.Helper()
	c, err := language.Lookup(language.EN)
	require.NoError(t, err)
	return c
}

func TestApp_StartLoadsServersAndAnswersCommands(t *testing.T) {
	fx := newFixture(t)
	assert.Equal(t, 1, fx.app.Servers().Len())

	fx.ad.push(t, "!test")
	want := catalog(t).Message.Test
	require.Eventually(t, func() bool {
		return len(fx.ad.textsFor(serverChat)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, fx.ad.textsFor(serverChat)[0])
}

func TestApp_ConfigReloadAppliesPrefix(t *testing.T) {
	fx := newFixture(t)

	events, unsub := fx.app.bus.Subscribe(4, eventbus.TypeConfigReloaded)
	defer unsub()

	writeConfig(t, fx, "?")
	// The file watcher may win the race; either path publishes once.
	_, err := fx.app.cfgm.Reload(context.Background())
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case <-events:
			reloaded = true
		case <-deadline:
			t.Fatal("config reload was not applied")
		}
	}

	fx.ad.push(t, "?test")
	require.Eventually(t, func() bool {
		return len(fx.ad.textsFor(serverChat)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestApp_AnnouncementTickJournalsDeliveries(t *testing.T) {
	fx := newFixture(t)

	r := fx.app.ann.runner.Load()
	require.NotNil(t, r)

	// The deadline's 120 minute reminder is due at 08:00 UTC.
	sum, err := r.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Due)
	assert.Equal(t, 1, sum.Sent)

	fx.ad.mu.Lock()
	pages := append([]page(nil), fx.ad.pages...)
	fx.ad.mu.Unlock()
	require.Len(t, pages, 1)
	assert.Equal(t, announceChat, pages[0].chat)
	assert.Equal(t, catalog(t).Embed.Reminder, pages[0].page.Title)

	got, err := fx.app.store.RecentDeliveries(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].OK)
	assert.Equal(t, serverChat, got[0].ServerID)
	assert.Equal(t, sum.BatchID, got[0].BatchID)
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		driver  string
		path    string
		busy    string
		enabled bool
		wantErr bool
	}{
		{name: "none", driver: "none"},
		{name: "empty"},
		{name: "file", driver: "file", path: "x", enabled: true},
		{name: "sqlite", driver: "SQLite", path: "x.db", busy: "2s", enabled: true},
		{name: "sqlite needs path", driver: "sqlite", wantErr: true},
		{name: "bad busy", driver: "sqlite", path: "x.db", busy: "nope", wantErr: true},
		{name: "unknown", driver: "redis", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{Storage: &config.StorageConfig{
				Driver:      tc.driver,
				Path:        tc.path,
				BusyTimeout: tc.busy,
			}}

			sc, enabled, err := mapStorageConfig(cfg)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.enabled, enabled)
			if tc.driver == "SQLite" {
				assert.Equal(t, "sqlite", sc.Driver)
				assert.Equal(t, 2*time.Second, sc.BusyTimeout)
			}
		})
	}
}

func TestAnnouncer_Schedule(t *testing.T) {
	t.Parallel()

	a := newAnnouncer(logx.Nop())
	ctx := context.Background()

	require.Error(t, a.Start(ctx, "not a cron"))
	assert.Nil(t, a.c)

	require.NoError(t, a.Start(ctx, "*/5 * * * *"))
	first := a.c
	require.NoError(t, a.Start(ctx, " */5 * * * * "))
	assert.Same(t, first, a.c, "same schedule keeps the running cron")

	require.Error(t, a.Start(ctx, "61 * * * *"))
	assert.Same(t, first, a.c, "bad schedule keeps the previous cron")

	require.NoError(t, a.Start(ctx, "@hourly"))
	assert.NotSame(t, first, a.c)

	sctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	a.Stop(sctx)
	assert.Nil(t, a.c)
}
