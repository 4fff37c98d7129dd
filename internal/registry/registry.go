// Package registry holds the loaded servers and swaps them atomically on
// reload, so readers always see one consistent snapshot.
package registry

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"agendabot/internal/eventbus"
	"agendabot/internal/schedule"
	logx "agendabot/pkg/logx"
)

var ErrServerNotFound = errors.New("server not found")

type snapshot struct {
	servers  map[int64]*schedule.Server
	loadedAt time.Time
}

// Report summarizes one reload.
type Report struct {
	Dir    string
	Loaded int
	Failed []*schedule.FileError
}

type Registry struct {
	reloadMu sync.Mutex
	dir      string

	cur atomic.Pointer[snapshot]

	log logx.Logger
	bus eventbus.Bus
}

func New(dir string, log logx.Logger, bus eventbus.Bus) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	r := &Registry{dir: dir, log: log, bus: bus}
	r.cur.Store(&snapshot{servers: map[int64]*schedule.Server{}})
	return r
}

// SetDir changes the directory used by the next Reload.
func (r *Registry) SetDir(dir string) {
	r.reloadMu.Lock()
	r.dir = dir
	r.reloadMu.Unlock()
}

func (r *Registry) Dir() string {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()
	return r.dir
}

// Reload reads the servers directory and replaces the whole server map.
//
// If the directory itself is unreadable the previous snapshot stays in place
// and the wrapped schedule.ErrDirectory is returned. Otherwise the servers
// that validated replace the old map wholesale, and a *schedule.LoadError is
// returned alongside the report when some files were rejected.
func (r *Registry) Reload() (Report, error) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	rep := Report{Dir: r.dir}
	servers, err := schedule.LoadDirectory(r.dir)
	if errors.Is(err, schedule.ErrDirectory) {
		r.log.Error("servers directory unreadable; keeping previous schedules", logx.String("dir", r.dir), logx.Err(err))
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeServersLoadFailed, Data: rep})
		return rep, err
	}

	r.cur.Store(&snapshot{servers: servers, loadedAt: time.Now()})
	rep.Loaded = len(servers)

	var le *schedule.LoadError
	if errors.As(err, &le) {
		rep.Failed = le.Files
		for _, f := range le.Files {
			r.log.Warn("server file rejected",
				logx.String("file", f.File),
				logx.String("field", f.Field),
				logx.String("reason", f.Reason),
			)
		}
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeServersLoadFailed, Data: rep})
	}

	r.log.Info(fmt.Sprintf("Successfully loaded %d servers", rep.Loaded),
		logx.String("dir", r.dir),
		logx.Int("failed", len(rep.Failed)),
	)
	r.bus.Publish(eventbus.Event{Type: eventbus.TypeServersReloaded, Data: rep})
	return rep, err
}

// Replace installs servers directly, bypassing the directory.
func (r *Registry) Replace(servers map[int64]*schedule.Server) {
	r.cur.Store(&snapshot{servers: maps.Clone(servers), loadedAt: time.Now()})
}

// Snapshot returns the current server map. The map is shared; callers must
// treat it as read-only.
func (r *Registry) Snapshot() map[int64]*schedule.Server {
	return r.cur.Load().servers
}

func (r *Registry) LoadedAt() time.Time { return r.cur.Load().loadedAt }

func (r *Registry) Len() int { return len(r.cur.Load().servers) }

// Get looks up a server by id.
func (r *Registry) Get(id int64) (*schedule.Server, error) {
	s, ok := r.cur.Load().servers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrServerNotFound, id)
	}
	return s, nil
}
