package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	logx "agendabot/pkg/logx"
)

// committed is one accepted config plus the hash used to skip no-op reloads.
type committed struct {
	cfg  *Config
	hash uint64
}

// ConfigManager owns the config file: it loads it, validates reloads and
// hands every accepted version to its subscribers.
type ConfigManager struct {
	path string
	cur  atomic.Pointer[committed]

	// reloadMu serializes Reload so the watcher and manual reloads cannot
	// interleave validate and commit.
	reloadMu sync.Mutex

	subsMu sync.Mutex
	subs   map[uint64]chan *Config
	nextID uint64

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, subs: map[uint64]chan *Config{}, log: logx.Nop()}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs a hook that can veto a reloaded config before it is
// committed and published.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse reads the config file, overlays environment overrides, fills
// defaults and validates the result. It does not commit.
func (m *ConfigManager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	cfg, err := Decode(m.path, b)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Decode strictly decodes a JSON or YAML document (chosen by path's
// extension). Unknown keys and trailing data are rejected.
func Decode(path string, data []byte) (*Config, error) {
	jb, err := ToJSON(path, data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	switch err := dec.Decode(&struct{}{}); {
	case errors.Is(err, io.EOF):
		return &cfg, nil
	case err == nil:
		return nil, errors.New("invalid config: trailing data")
	default:
		return nil, err
	}
}

// Load parses and commits without notifying subscribers. Use it once at
// startup.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.commit(cfg, fingerprint(cfg))
	return cfg, nil
}

// Get returns the last committed config, nil before Load.
func (m *ConfigManager) Get() *Config {
	if c := m.cur.Load(); c != nil {
		return c.cfg
	}
	return nil
}

func (m *ConfigManager) commit(cfg *Config, hash uint64) {
	m.cur.Store(&committed{cfg: cfg, hash: hash})
}

// fingerprint hashes the decoded config, so formatting-only edits and the
// several write events editors fire per save publish nothing.
func fingerprint(cfg *Config) uint64 {
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Subscribe returns a channel that receives each newly committed config.
// A subscriber only ever needs the latest one: when it falls behind, stale
// entries are replaced. Call the returned func to unsubscribe.
func (m *ConfigManager) Subscribe(buffer int) (<-chan *Config, func()) {
	ch := make(chan *Config, max(buffer, 1))

	m.subsMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, id)
			m.subsMu.Unlock()
			close(ch)
		})
	}
}

func (m *ConfigManager) publish(cfg *Config) {
	// held while sending so unsubscribe cannot close a channel mid-send
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		for range 2 {
			select {
			case ch <- cfg:
			default:
				// full: evict the oldest pending config and retry once
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Reload parses the file and, if it changed and passes the validator,
// commits and publishes it. It reports whether a new config was published.
func (m *ConfigManager) Reload(ctx context.Context) (bool, error) {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	cfg, err := m.Parse()
	if err != nil {
		return false, err
	}
	h := fingerprint(cfg)
	if cur := m.cur.Load(); cur != nil && h != 0 && h == cur.hash {
		return false, nil
	}

	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			return false, fmt.Errorf("config rejected: %w", err)
		}
	}

	m.commit(cfg, h)
	m.publish(cfg)
	return true, nil
}

// Watch reloads the config file whenever it changes on disk, until ctx is
// done.
func (m *ConfigManager) Watch(ctx context.Context) error {
	file := filepath.Base(m.path)
	w := &DirWatcher{
		Dir: filepath.Dir(m.path),
		// basename match survives relative vs absolute paths
		Match: func(name string) bool { return strings.EqualFold(filepath.Base(name), file) },
		OnChange: func() {
			published, err := m.Reload(ctx)
			switch {
			case err != nil:
				m.log.Warn("config reload failed", logx.String("path", m.path), logx.Err(err))
			case published:
				m.log.Debug("config published", logx.String("path", m.path))
			}
		},
		Log: m.log.With(logx.String("comp", "config.watch")),
	}
	return w.Run(ctx)
}
