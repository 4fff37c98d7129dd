// Package language holds the static translation catalogs shipped with the bot.
package language

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

//go:embed resources/*.json
var resources embed.FS

var (
	ErrUnknownLanguage = errors.New("unknown language")
	ErrUnknownWeekday  = errors.New("unknown weekday")
)

type Language string

const (
	EN Language = "EN"
	PL Language = "PL"
)

var supported = []Language{EN, PL}

// Supported lists every language with a bundled catalog.
func Supported() []Language { return slices.Clone(supported) }

// Parse resolves a language tag, ignoring case.
func Parse(s string) (Language, error) {
	l := Language(strings.ToUpper(strings.TrimSpace(s)))
	if !slices.Contains(supported, l) {
		return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, s)
	}
	return l, nil
}

func (l Language) String() string { return string(l) }

type Weekdays struct {
	Monday    string `json:"monday"`
	Tuesday   string `json:"tuesday"`
	Wednesday string `json:"wednesday"`
	Thursday  string `json:"thursday"`
	Friday    string `json:"friday"`
	Saturday  string `json:"saturday"`
	Sunday    string `json:"sunday"`
}

type Messages struct {
	Test          string `json:"test"`
	NotConfigured string `json:"not_configured"`
}

type EmbedText struct {
	Reminder                string `json:"reminder"`
	Schedule                string `json:"schedule"`
	ScheduleToday           string `json:"schedule_today"`
	ScheduleEmpty           string `json:"schedule_empty"`
	ScheduleTodayEmpty      string `json:"schedule_today_empty"`
	AvailableCommands       string `json:"available_commands"`
	Help                    string `json:"help"`
	HelpDescription         string `json:"help_description"`
	HelloDescription        string `json:"hello_description"`
	ScheduleDescription     string `json:"schedule_description"`
	ScheduleFullDescription string `json:"schedule_full_description"`
	CalendarDescription     string `json:"calendar_description"`
	Task                    string `json:"task"`
	Test                    string `json:"test"`
}

// Catalog is the immutable set of strings for one language.
type Catalog struct {
	Weekday Weekdays  `json:"weekday"`
	Message Messages  `json:"message"`
	Embed   EmbedText `json:"embed"`
}

// DayName returns the translated day name. Index order follows time.Weekday
// (Sunday == 0).
func (c *Catalog) DayName(d time.Weekday) (string, error) {
	names := [...]string{
		c.Weekday.Sunday,
		c.Weekday.Monday,
		c.Weekday.Tuesday,
		c.Weekday.Wednesday,
		c.Weekday.Thursday,
		c.Weekday.Friday,
		c.Weekday.Saturday,
	}
	if d < time.Sunday || int(d) >= len(names) {
		return "", fmt.Errorf("%w: %d", ErrUnknownWeekday, int(d))
	}
	return names[d], nil
}

var loadCatalogs = sync.OnceValues(func() (map[Language]*Catalog, error) {
	out := make(map[Language]*Catalog, len(supported))
	for _, l := range supported {
		name := "resources/" + strings.ToLower(string(l)) + ".json"
		raw, err := resources.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		var c Catalog
		if err := dec.Decode(&c); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		out[l] = &c
	}
	return out, nil
})

// Lookup returns the catalog for l.
func Lookup(l Language) (*Catalog, error) {
	all, err := loadCatalogs()
	if err != nil {
		return nil, err
	}
	c, ok := all[l]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLanguage, string(l))
	}
	return c, nil
}
