package embed

import "unicode/utf8"

// Field is one name/value entry of a page.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Len counts characters, not bytes.
func (f Field) Len() int {
	return utf8.RuneCountInString(f.Name) + utf8.RuneCountInString(f.Value)
}

// Embed is a single rendered page: a title, optional description and footer,
// and an ordered list of fields.
type Embed struct {
	Title       string
	Description string
	Footer      string
	Color       int
	Fields      []Field
}

// FixedLen is the length of the non-field content of the page.
func (e Embed) FixedLen() int {
	return utf8.RuneCountInString(e.Title) +
		utf8.RuneCountInString(e.Description) +
		utf8.RuneCountInString(e.Footer)
}

// Len is the combined length of the page including all fields.
func (e Embed) Len() int {
	n := e.FixedLen()
	for _, f := range e.Fields {
		n += f.Len()
	}
	return n
}
