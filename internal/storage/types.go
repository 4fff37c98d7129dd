package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free JSON Lines journal
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Delivery records one attempt to post a reminder.
// Keep it compact and schema-stable.
type Delivery struct {
	At        time.Time `json:"at"`
	BatchID   string    `json:"batch_id"`
	ServerID  int64     `json:"server_id"`
	ChannelID int64     `json:"channel_id"`
	Name      string    `json:"name"`
	OK        bool      `json:"ok"`
	Error     string    `json:"err,omitempty"`
	TookMS    int64     `json:"took_ms"`
}
