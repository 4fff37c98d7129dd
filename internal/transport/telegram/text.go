package telegram

import (
	"html"
	"strings"
	"unicode/utf8"

	"agendabot/internal/embed"
)

const telegramTextLimit = 4000

// htmlBlock is one paragraph of a rendered page. text is raw; before and after
// wrap every piece the text is split into, prefix only the first.
type htmlBlock struct {
	prefix      string
	before, after string
	text        string
}

func (b htmlBlock) render() string {
	return b.prefix + b.before + html.EscapeString(b.text) + b.after
}

func pageBlocks(p embed.Embed) []htmlBlock {
	var blocks []htmlBlock
	if p.Title != "" {
		blocks = append(blocks, htmlBlock{before: "<b>", after: "</b>", text: p.Title})
	}
	if p.Description != "" {
		blocks = append(blocks, htmlBlock{text: p.Description})
	}
	for _, f := range p.Fields {
		name := "<b>" + html.EscapeString(f.Name) + "</b>"
		if f.Value == "" {
			blocks = append(blocks, htmlBlock{prefix: name})
			continue
		}
		blocks = append(blocks, htmlBlock{prefix: name + "\n", text: f.Value})
	}
	if p.Footer != "" {
		blocks = append(blocks, htmlBlock{before: "<i>", after: "</i>", text: p.Footer})
	}
	return blocks
}

// RenderHTML formats a page for Telegram's HTML parse mode: bold title,
// description, one bold name line plus value per field, italic footer.
func RenderHTML(p embed.Embed) string {
	blocks := pageBlocks(p)
	parts := make([]string, len(blocks))
	for i, b := range blocks {
		parts[i] = b.render()
	}
	return strings.Join(parts, "\n\n")
}

// renderHTMLChunks renders p as messages of at most limit runes each. It
// splits between blocks before escaping, so no message ends inside an
// entity or an open tag. A block too long on its own is cut on its raw text.
func renderHTMLChunks(p embed.Embed, limit int) []string {
	var (
		out []string
		cur strings.Builder
		n   int
	)
	flush := func() {
		if n > 0 {
			out = append(out, cur.String())
			cur.Reset()
			n = 0
		}
	}
	for _, b := range pageBlocks(p) {
		r := b.render()
		rn := utf8.RuneCountInString(r)
		if rn > limit {
			flush()
			out = append(out, b.pieces(limit)...)
			continue
		}
		if n > 0 && n+2+rn > limit {
			flush()
		}
		if n > 0 {
			cur.WriteString("\n\n")
			n += 2
		}
		cur.WriteString(r)
		n += rn
	}
	flush()
	return out
}

// escapedLen is the rune count html.EscapeString produces for r.
func escapedLen(r rune) int {
	switch r {
	case '<', '>':
		return 4
	case '&', '"', '\'':
		return 5
	}
	return 1
}

// pieces cuts the block's text so every rendered piece fits in limit runes,
// preferring the last newline of a piece.
func (b htmlBlock) pieces(limit int) []string {
	var out []string
	prefix := b.prefix
	wrap := utf8.RuneCountInString(b.before) + utf8.RuneCountInString(b.after)
	emit := func(rs []rune) {
		text := strings.TrimRight(string(rs), "\n")
		out = append(out, prefix+b.before+html.EscapeString(text)+b.after)
		prefix = ""
	}

	var cur []rune
	width, lastNL := 0, -1
	for _, r := range b.text {
		w := escapedLen(r)
		for len(cur) > 0 && width+w > max(limit-wrap-utf8.RuneCountInString(prefix), 1) {
			cut := len(cur)
			if lastNL > 0 {
				cut = lastNL
			}
			emit(cur[:cut])
			cur = append([]rune(nil), cur[cut:]...)
			width, lastNL = 0, -1
			for i, c := range cur {
				width += escapedLen(c)
				if c == '\n' {
					lastNL = i + 1
				}
			}
		}
		cur = append(cur, r)
		width += w
		if r == '\n' {
			lastNL = len(cur)
		}
	}
	if len(cur) > 0 || len(out) == 0 {
		emit(cur)
	}
	return out
}

// splitTelegramText splits long messages into chunks that are safe to send to Telegram.
// It prefers newline boundaries and avoids splitting inside HTML tags when parseMode is HTML.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		// Prefer a newline near the end of the window, but not a tiny chunk.
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, "HTML") && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
			// nor inside an entity such as &#34;
			for i := end - 1; i > start && i >= end-10; i-- {
				if rs[i] == ';' {
					break
				}
				if rs[i] == '&' {
					end = i
					break
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
