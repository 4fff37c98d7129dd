package config

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "agendabot/pkg/logx"
)

const (
	defaultDebounce    = 250 * time.Millisecond
	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// DirWatcher calls OnChange (debounced) whenever a file in Dir accepted by
// Match is written, created, renamed or removed.
type DirWatcher struct {
	Dir      string
	Match    func(name string) bool
	OnChange func()
	Debounce time.Duration
	Log      logx.Logger
}

// Run blocks until ctx is done. When fsnotify gets into a bad state (common
// on Windows with certain editors) the watcher may stop delivering events or
// close its channels; Run recreates it with a jittered exponential backoff.
func (w *DirWatcher) Run(ctx context.Context) error {
	log := w.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	debounceFor := w.Debounce
	if debounceFor <= 0 {
		debounceFor = defaultDebounce
	}

	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	nextWait := func() time.Duration {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		if backoff < restartBackoffMax {
			backoff = min(backoff*2, restartBackoffMax)
		}
		return wait
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceFor, func() {
			if ctx.Err() != nil {
				return
			}
			w.OnChange()
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	sleep := func(d time.Duration) bool {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
			return true
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		fw, err := fsnotify.NewWatcher()
		if err != nil {
			log.Warn("watch init failed", logx.Err(err), logx.String("dir", w.Dir))
			if !sleep(nextWait()) {
				return nil
			}
			continue
		}
		if err := fw.Add(w.Dir); err != nil {
			_ = fw.Close()
			log.Warn("watch add failed", logx.Err(err), logx.String("dir", w.Dir))
			if !sleep(nextWait()) {
				return nil
			}
			continue
		}

		// success; reset backoff so transient issues don't cause long restart delays
		backoff = restartBackoffBase
		log.Debug("watcher started", logx.String("dir", w.Dir))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = fw.Close()
				return nil
			case ev, ok := <-fw.Events:
				if !ok {
					broken = true
					break
				}
				if w.Match != nil && !w.Match(ev.Name) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					log.Debug("change detected; scheduling reload", logx.String("file", ev.Name))
					debounce()
				}
			case err, ok := <-fw.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				// Overflow means events may have been missed; reload once and keep going.
				if strings.Contains(strings.ToLower(err.Error()), "overflow") {
					log.Warn("watch overflow; forcing reload", logx.Err(err), logx.String("dir", w.Dir))
					debounce()
					continue
				}
				log.Warn("watch error", logx.Err(err), logx.String("dir", w.Dir))
				if strings.Contains(strings.ToLower(err.Error()), "closed") {
					broken = true
				}
			}
		}

		_ = fw.Close()
		if ctx.Err() != nil {
			return nil
		}
		wait := nextWait()
		log.Warn("watcher stopped; restarting", logx.String("dir", w.Dir), logx.Duration("backoff", wait))
		if !sleep(wait) {
			return nil
		}
	}
}
