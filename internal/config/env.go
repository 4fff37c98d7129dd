package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file settings.
const (
	EnvToken      = "BOT_TOKEN"
	EnvPrefix     = "QUANTUM_BOT_PREFIX"
	EnvServersDir = "AGENDABOT_SERVERS_DIR"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overwriting variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overlays environment overrides onto c.
func (c *Config) ApplyEnv() {
	c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvToken); ok && strings.TrimSpace(v) != "" {
		c.Telegram.Token = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvPrefix); ok && strings.TrimSpace(v) != "" {
		c.Telegram.CommandPrefix = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvServersDir); ok && strings.TrimSpace(v) != "" {
		c.Servers.Dir = strings.TrimSpace(v)
	}
}
