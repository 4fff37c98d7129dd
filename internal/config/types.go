package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	Logging       LoggingConfig       `json:"logging"`
	Servers       ServersConfig       `json:"servers"`
	Announcements AnnouncementsConfig `json:"announcements"`
	Paging        PagingConfig        `json:"paging"`
	Storage       *StorageConfig      `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// CommandPrefix starts every bot command, "!" by default.
	CommandPrefix string `json:"command_prefix,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat mirrors warnings and errors into an operator chat.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// ServersConfig points at the directory of per-organization schedule files.
type ServersConfig struct {
	Dir string `json:"dir"`
	// Watch reloads the directory when files change.
	Watch bool `json:"watch"`
}

// AnnouncementsConfig controls the reminder tick.
//
// Defaults (when fields are omitted/zero):
//   - schedule: "* * * * *" (every minute; reminders match on whole minutes)
//   - rate_per_sec: 5
//   - send_timeout: "15s"
type AnnouncementsConfig struct {
	Schedule    string `json:"schedule,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

// PagingConfig bounds the size of one rendered schedule page.
type PagingConfig struct {
	MaxLength int `json:"max_length,omitempty"`
	MaxFields int `json:"max_fields,omitempty"`
}

// StorageConfig controls the optional delivery journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/deliveries.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

const (
	DefaultCommandPrefix   = "!"
	DefaultServersDir      = "./servers"
	DefaultAnnounceCron    = "* * * * *"
	DefaultAnnounceRate    = 5
	DefaultSendTimeout     = 15 * time.Second
	DefaultPollTimeout     = 10 * time.Second
	DefaultPagingMaxLength = 3500
	DefaultPagingMaxFields = 25
)

// ApplyDefaults fills zero values in place.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Telegram.CommandPrefix) == "" {
		c.Telegram.CommandPrefix = DefaultCommandPrefix
	}
	if strings.TrimSpace(c.Servers.Dir) == "" {
		c.Servers.Dir = DefaultServersDir
	}
	if strings.TrimSpace(c.Announcements.Schedule) == "" {
		c.Announcements.Schedule = DefaultAnnounceCron
	}
	if c.Announcements.RatePerSec <= 0 {
		c.Announcements.RatePerSec = DefaultAnnounceRate
	}
	if c.Paging.MaxLength <= 0 {
		c.Paging.MaxLength = DefaultPagingMaxLength
	}
	if c.Paging.MaxFields <= 0 {
		c.Paging.MaxFields = DefaultPagingMaxFields
	}
}

// Validate checks values that cannot be defaulted. Call after ApplyDefaults.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required (or set BOT_TOKEN)"))
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("announcements.send_timeout", c.Announcements.SendTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := cron.ParseStandard(c.Announcements.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("announcements.schedule: %w", err))
	}
	if c.Logging.Chat.Enabled && c.Logging.Chat.ChatID == 0 {
		errs = append(errs, errors.New("logging.chat.chat_id is required when logging.chat.enabled"))
	}
	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Config) PollTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, DefaultPollTimeout)
	return d
}

func (c *Config) SendTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("announcements.send_timeout", c.Announcements.SendTimeout, DefaultSendTimeout)
	return d
}
