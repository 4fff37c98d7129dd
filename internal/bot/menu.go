package bot

import (
	"slices"
	"strings"
	"unicode"

	"agendabot/internal/language"
	"agendabot/internal/transport"
)

// sanitizeTelegramCommand converts a command name into a Telegram-safe bot command.
// Telegram command names are restricted to [a-z0-9_]{1,32}.
func sanitizeTelegramCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))

	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}

	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = strings.TrimRight(("cmd_" + out)[:min(32, len(out)+4)], "_")
	}
	return out
}

// buildMenu lists each command once under its Telegram-safe name, sorted.
func buildMenu(cmds []Command, cat *language.Catalog) []transport.BotCommand {
	seen := map[string]bool{}
	out := make([]transport.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description(cat)), "\n", " ")
		if desc == "" {
			desc = name
		}
		out = append(out, transport.BotCommand{Command: name, Description: desc})
	}
	slices.SortFunc(out, func(a, b transport.BotCommand) int { return strings.Compare(a.Command, b.Command) })
	if len(out) > 100 {
		out = out[:100]
	}
	return out
}
