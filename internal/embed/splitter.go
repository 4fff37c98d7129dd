package embed

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultMaxCombinedLength = 5000
	DefaultMaxFieldsPerPage  = 25
)

var ErrFieldTooLarge = errors.New("field too large")

// FieldTooLargeError reports a field that cannot fit on any page.
type FieldTooLargeError struct {
	Index int
}

func (e *FieldTooLargeError) Error() string {
	return fmt.Sprintf("unable to split fields: single field at index %d too large", e.Index)
}

func (e *FieldTooLargeError) Is(target error) bool { return target == ErrFieldTooLarge }

type options struct {
	maxLength    int
	maxFields    int
	headerPrefix string
}

type Option func(*options)

// WithMaxCombinedLength bounds fixed content plus field lengths (exclusive).
func WithMaxCombinedLength(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLength = n
		}
	}
}

func WithMaxFields(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxFields = n
		}
	}
}

// WithHeaderPrefix marks fields whose name starts with p as headers. A header
// is never left as the last field of a page when its follower moves on.
func WithHeaderPrefix(p string) Option {
	return func(o *options) { o.headerPrefix = p }
}

// Split distributes fields over as many copies of tmpl as needed so that each
// page stays within the configured limits. Field order is preserved.
func Split(tmpl Embed, fields []Field, opts ...Option) ([]Embed, error) {
	o := options{maxLength: DefaultMaxCombinedLength, maxFields: DefaultMaxFieldsPerPage}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	fixed := tmpl.FixedLen()
	for i, f := range fields {
		if fixed+f.Len() >= o.maxLength {
			return nil, &FieldTooLargeError{Index: i}
		}
	}

	isHeader := func(f Field) bool {
		return o.headerPrefix != "" && strings.HasPrefix(f.Name, o.headerPrefix)
	}

	var (
		groups [][]Field
		cur    []Field
		sum    int
	)
	for _, f := range fields {
		if len(cur) > 0 && (len(cur)+1 > o.maxFields || fixed+sum+f.Len() >= o.maxLength) {
			var carry []Field
			last := cur[len(cur)-1]
			if len(cur) > 1 && o.maxFields > 1 && isHeader(last) && fixed+last.Len()+f.Len() < o.maxLength {
				carry = []Field{last}
				cur = cur[:len(cur)-1]
			}
			groups = append(groups, cur)
			cur = carry
			sum = 0
			for _, c := range carry {
				sum += c.Len()
			}
		}
		cur = append(cur, f)
		sum += f.Len()
	}
	if len(cur) > 0 || len(groups) == 0 {
		groups = append(groups, cur)
	}

	pages := make([]Embed, 0, len(groups))
	for i, g := range groups {
		p := tmpl
		p.Fields = g
		if len(groups) > 1 {
			suffix := fmt.Sprintf("(%d/%d)", i+1, len(groups))
			if tmpl.Title == "" {
				p.Title = suffix
			} else {
				p.Title = tmpl.Title + " " + suffix
			}
		}
		pages = append(pages, p)
	}
	return pages, nil
}
