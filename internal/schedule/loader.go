package schedule

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"agendabot/internal/config"
	"agendabot/internal/language"
)

// ErrDirectory means the servers directory itself could not be read.
var ErrDirectory = errors.New("servers directory unreadable")

// FieldError is a validation failure attributed to one field of a server
// document. Field is a JSON path such as "schedule[1].start".
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

// FileError reports why one server file was rejected.
type FileError struct {
	File   string
	Field  string
	Reason string
}

func (e *FileError) Error() string {
	if e.Field == "" {
		return e.File + ": " + e.Reason
	}
	return e.File + ": " + e.Field + ": " + e.Reason
}

// LoadError aggregates every rejected file of a directory load.
type LoadError struct {
	Files []*FileError
}

func (e *LoadError) Error() string {
	parts := make([]string, 0, len(e.Files))
	for _, f := range e.Files {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("error loading server data (%d failed): %s", len(e.Files), strings.Join(parts, "; "))
}

func (e *LoadError) Unwrap() []error {
	out := make([]error, 0, len(e.Files))
	for _, f := range e.Files {
		out = append(out, f)
	}
	return out
}

// IsServerFile reports whether name has a server document extension.
func IsServerFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// LoadDirectory parses every server file in dir. Each file succeeds or fails
// on its own: the returned map holds the servers that validated and, when at
// least one file failed, err is a *LoadError listing the failures.
func LoadDirectory(dir string) (map[int64]*Server, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDirectory, dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		if !ent.Type().IsRegular() || !IsServerFile(ent.Name()) {
			continue
		}
		names = append(names, ent.Name())
	}
	slices.Sort(names)

	servers := make(map[int64]*Server, len(names))
	owner := make(map[int64]string, len(names))
	var failed []*FileError
	for _, name := range names {
		s, ferr := loadFile(filepath.Join(dir, name))
		if ferr != nil {
			ferr.File = name
			failed = append(failed, ferr)
			continue
		}
		if prev, dup := owner[s.ID()]; dup {
			failed = append(failed, &FileError{
				File:   name,
				Field:  "server_id",
				Reason: fmt.Sprintf("server_id %d already defined in %s", s.ID(), prev),
			})
			continue
		}
		owner[s.ID()] = name
		servers[s.ID()] = s
	}

	if len(failed) > 0 {
		return servers, &LoadError{Files: failed}
	}
	return servers, nil
}

// LoadFile parses and validates a single server document. Failures are
// returned as *FileError.
func LoadFile(path string) (*Server, error) {
	s, ferr := loadFile(path)
	if ferr != nil {
		return nil, ferr
	}
	return s, nil
}

func loadFile(path string) (*Server, *FileError) {
	fail := func(field, reason string) *FileError {
		return &FileError{File: path, Field: field, Reason: reason}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fail("", err.Error())
	}
	data, err = config.ToJSON(path, data)
	if err != nil {
		return nil, fail("", err.Error())
	}

	var raw rawServer
	if err := decodeStrict(data, &raw); err != nil {
		field, reason := describeDecodeError(err)
		return nil, fail(field, reason)
	}

	s, err := raw.build()
	if err != nil {
		var fe *FieldError
		if errors.As(err, &fe) {
			return nil, fail(fe.Field, fe.Reason)
		}
		return nil, fail("", err.Error())
	}
	return s, nil
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		return errors.New("unexpected trailing data")
	}
	return nil
}

func describeDecodeError(err error) (field, reason string) {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return typeErr.Field, fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value)
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return "", fmt.Sprintf("invalid syntax at offset %d: %v", syntaxErr.Offset, syntaxErr)
	}
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, "json: unknown field "); ok {
		if name, uerr := strconv.Unquote(rest); uerr == nil {
			return name, "unknown field"
		}
	}
	return "", msg
}

type rawServer struct {
	Name                  *string                `json:"name"`
	ServerID              *int64                 `json:"server_id"`
	AnnouncementChannelID *int64                 `json:"announcement_channel_id"`
	Reactions             map[string]rawReaction `json:"reactions"`
	Language              *string                `json:"language"`
	Timezones             []json.RawMessage      `json:"timezones"`
	Schedule              []rawScheduleEvent     `json:"schedule"`
	Deadlines             []rawDeadline          `json:"deadlines"`
}

type rawReaction struct {
	PromptText *string  `json:"prompt_text"`
	Emojis     []string `json:"emojis"`
}

type rawTimezone struct {
	Name *string `json:"name"`
	Text *string `json:"text"`
}

type rawScheduleEvent struct {
	Title         *string `json:"title"`
	Description   *string `json:"description"`
	Start         *string `json:"start"`
	End           *string `json:"end"`
	Announcements *[]int  `json:"announcements"`
}

type rawDeadline struct {
	Title         *string `json:"title"`
	Description   *string `json:"description"`
	Time          *string `json:"time"`
	Announcements *[]int  `json:"announcements"`
}

func missing(field string) error {
	return &FieldError{Field: field, Reason: "field required"}
}

// within prefixes the field path of a *FieldError.
func within(prefix string, err error) error {
	var fe *FieldError
	if !errors.As(err, &fe) {
		return &FieldError{Field: prefix, Reason: err.Error()}
	}
	field := prefix
	switch {
	case fe.Field == "":
	case strings.HasPrefix(fe.Field, "["):
		field += fe.Field
	default:
		field += "." + fe.Field
	}
	return &FieldError{Field: field, Reason: fe.Reason}
}

func (r *rawServer) build() (*Server, error) {
	if r.Name == nil {
		return nil, missing("name")
	}
	if r.ServerID == nil {
		return nil, missing("server_id")
	}
	if r.AnnouncementChannelID == nil {
		return nil, missing("announcement_channel_id")
	}
	if r.Language == nil {
		return nil, missing("language")
	}
	if r.Timezones == nil {
		return nil, missing("timezones")
	}

	lang, err := language.Parse(*r.Language)
	if err != nil {
		return nil, &FieldError{Field: "language", Reason: err.Error()}
	}

	tzs := make([]Timezone, 0, len(r.Timezones))
	for i, item := range r.Timezones {
		tz, err := parseTimezone(item)
		if err != nil {
			return nil, within(fmt.Sprintf("timezones[%d]", i), err)
		}
		tzs = append(tzs, tz)
	}

	reactions := make(map[int64]Reaction, len(r.Reactions))
	for _, key := range slices.Sorted(maps.Keys(r.Reactions)) {
		rr := r.Reactions[key]
		path := "reactions." + key
		id, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil {
			return nil, &FieldError{Field: path, Reason: "key must be an integer channel id"}
		}
		if rr.PromptText == nil {
			return nil, missing(path + ".prompt_text")
		}
		if rr.Emojis == nil {
			return nil, missing(path + ".emojis")
		}
		reactions[id] = Reaction{PromptText: *rr.PromptText, Emojis: rr.Emojis}
	}

	sched := make([]*ScheduleEvent, 0, len(r.Schedule))
	for i, re := range r.Schedule {
		e, err := re.build()
		if err != nil {
			return nil, within(fmt.Sprintf("schedule[%d]", i), err)
		}
		sched = append(sched, e)
	}

	deadlines := make([]*Deadline, 0, len(r.Deadlines))
	for i, rd := range r.Deadlines {
		d, err := rd.build()
		if err != nil {
			return nil, within(fmt.Sprintf("deadlines[%d]", i), err)
		}
		deadlines = append(deadlines, d)
	}

	return NewServer(ServerConfig{
		Name:                  *r.Name,
		ID:                    *r.ServerID,
		AnnouncementChannelID: *r.AnnouncementChannelID,
		Reactions:             reactions,
		Language:              lang,
		Timezones:             tzs,
		Schedule:              sched,
		Deadlines:             deadlines,
	})
}

// parseTimezone accepts either "Area/City" or {"name": ..., "text": ...}.
func parseTimezone(raw json.RawMessage) (Timezone, error) {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) > 0 && trimmed[0] == '"':
		var name string
		if err := json.Unmarshal(trimmed, &name); err != nil {
			return Timezone{}, &FieldError{Reason: err.Error()}
		}
		tz, err := NewTimezone(name, name)
		if err != nil {
			return Timezone{}, &FieldError{Reason: err.Error()}
		}
		return tz, nil
	case len(trimmed) > 0 && trimmed[0] == '{':
		var rt rawTimezone
		if err := decodeStrict(trimmed, &rt); err != nil {
			field, reason := describeDecodeError(err)
			return Timezone{}, &FieldError{Field: field, Reason: reason}
		}
		if rt.Name == nil {
			return Timezone{}, missing("name")
		}
		label := ""
		if rt.Text != nil {
			label = *rt.Text
		}
		tz, err := NewTimezone(*rt.Name, label)
		if err != nil {
			return Timezone{}, &FieldError{Field: "name", Reason: err.Error()}
		}
		return tz, nil
	default:
		return Timezone{}, &FieldError{Reason: fmt.Sprintf("unsupported timezone type: %s", string(trimmed))}
	}
}

func eventOptions(description *string, announcements *[]int) []EventOption {
	var opts []EventOption
	if description != nil {
		opts = append(opts, WithDescription(*description))
	}
	if announcements != nil {
		opts = append(opts, WithAnnouncements(*announcements...))
	}
	return opts
}

func (r rawScheduleEvent) build() (*ScheduleEvent, error) {
	if r.Title == nil {
		return nil, missing("title")
	}
	if r.Start == nil {
		return nil, missing("start")
	}
	if r.End == nil {
		return nil, missing("end")
	}
	start, err := ParseTimestamp(*r.Start)
	if err != nil {
		return nil, &FieldError{Field: "start", Reason: err.Error()}
	}
	end, err := ParseTimestamp(*r.End)
	if err != nil {
		return nil, &FieldError{Field: "end", Reason: err.Error()}
	}
	return NewScheduleEvent(*r.Title, start, end, eventOptions(r.Description, r.Announcements)...)
}

func (r rawDeadline) build() (*Deadline, error) {
	if r.Title == nil {
		return nil, missing("title")
	}
	if r.Time == nil {
		return nil, missing("time")
	}
	at, err := ParseTimestamp(*r.Time)
	if err != nil {
		return nil, &FieldError{Field: "time", Reason: err.Error()}
	}
	return NewDeadline(*r.Title, at, eventOptions(r.Description, r.Announcements)...)
}
