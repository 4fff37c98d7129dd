package bot

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

func newReqID() string { return uuid.NewString()[:8] }

// tokenizeCommandLine splits command text into tokens while supporting quotes.
// Examples:
//
//	!schedule "full" 'a b' c\ d
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar rune
		esc   bool
		quote bool // current token contained quotes, so keep it even if empty
	)
	flush := func() {
		if buf.Len() > 0 || quote {
			out = append(out, buf.String())
			buf.Reset()
		}
		quote = false
	}
	for _, ch := range s {
		switch {
		case esc:
			buf.WriteRune(ch)
			esc = false
		case ch == '\\':
			esc = true
		case inQ:
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteRune(ch)
		case ch == '"' || ch == '\'':
			inQ, qChar, quote = true, ch, true
		case unicode.IsSpace(ch):
			flush()
		default:
			buf.WriteRune(ch)
		}
	}
	flush()
	return out
}

// parseCommand recognises "<prefix>name args..." and the Telegram-native
// "/name@bot args...". The name is lower-cased.
func parseCommand(text, prefix string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	var rest string
	switch {
	case prefix != "" && strings.HasPrefix(text, prefix):
		rest = text[len(prefix):]
	case strings.HasPrefix(text, "/"):
		rest = text[1:]
	default:
		return "", nil, false
	}

	parts := tokenizeCommandLine(rest)
	if len(parts) == 0 {
		return "", nil, false
	}
	word := parts[0]
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", nil, false
	}
	return strings.ToLower(word), parts[1:], true
}
