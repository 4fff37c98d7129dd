package embed

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeFields(n, size int) []Field {
	out := make([]Field, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Field{Name: "", Value: strings.Repeat("a", size)})
	}
	return out
}

func pageSizes(pages []Embed) []int {
	out := make([]int, 0, len(pages))
	for _, p := range pages {
		out = append(out, len(p.Fields))
	}
	return out
}

func TestSplit_PageShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		fields []Field
		opts   []Option
		want   []int
	}{
		{name: "field count limit", fields: makeFields(60, 2), want: []int{25, 25, 10}},
		{name: "length limit", fields: makeFields(10, 1600), want: []int{3, 3, 3, 1}},
		{name: "one per page", fields: makeFields(10, 2600), want: []int{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}},
		{name: "custom limits", fields: makeFields(7, 10), opts: []Option{WithMaxFields(3)}, want: []int{3, 3, 1}},
		{name: "custom length", fields: makeFields(4, 40), opts: []Option{WithMaxCombinedLength(100)}, want: []int{2, 2}},
		{name: "empty", fields: nil, want: []int{0}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pages, err := Split(Embed{Title: "T"}, tt.fields, tt.opts...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, pageSizes(pages))
		})
	}
}

func TestSplit_Titles(t *testing.T) {
	t.Parallel()

	pages, err := Split(Embed{}, makeFields(60, 2))
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, "(1/3)", pages[0].Title)
	assert.Equal(t, "(2/3)", pages[1].Title)
	assert.Equal(t, "(3/3)", pages[2].Title)

	pages, err = Split(Embed{Title: "Schedule", Description: "d", Footer: "f", Color: 7}, makeFields(30, 2))
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "Schedule (1/2)", pages[0].Title)
	assert.Equal(t, "Schedule (2/2)", pages[1].Title)
	for _, p := range pages {
		assert.Equal(t, "d", p.Description)
		assert.Equal(t, "f", p.Footer)
		assert.Equal(t, 7, p.Color)
	}

	pages, err = Split(Embed{Title: "Schedule"}, makeFields(3, 2))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "Schedule", pages[0].Title)
}

func TestSplit_FieldTooLarge(t *testing.T) {
	t.Parallel()

	fields := makeFields(5, 10)
	fields[3] = Field{Name: "big", Value: strings.Repeat("x", 5000)}

	_, err := Split(Embed{}, fields)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFieldTooLarge)

	var tooLarge *FieldTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, 3, tooLarge.Index)
	assert.Contains(t, err.Error(), "index 3")
}

func TestSplit_FieldTooLargeCountsFixedContent(t *testing.T) {
	t.Parallel()

	// 10 + 90 == 100 is not below the limit.
	fields := []Field{{Name: "ok", Value: "1"}, {Value: strings.Repeat("x", 90)}}
	_, err := Split(Embed{Title: strings.Repeat("t", 10)}, fields, WithMaxCombinedLength(100))

	var tooLarge *FieldTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, 1, tooLarge.Index)
}

func TestSplit_HeaderTether(t *testing.T) {
	t.Parallel()

	var fields []Field
	for i := 0; i < 5; i++ {
		fields = append(fields,
			Field{Name: fmt.Sprintf("### Header %d", i)},
			Field{Value: strings.Repeat("a", 4000)},
		)
	}

	pages, err := Split(Embed{}, fields, WithHeaderPrefix("###"))
	require.NoError(t, err)
	require.Len(t, pages, 5)
	for i, p := range pages {
		require.Len(t, p.Fields, 2)
		assert.Equal(t, fmt.Sprintf("### Header %d", i), p.Fields[0].Name)
		assert.Equal(t, 4000, p.Fields[1].Len())
	}

	// Without the prefix the header stays behind.
	pages, err = Split(Embed{}, fields)
	require.NoError(t, err)
	assert.Equal(t, "### Header 1", pages[0].Fields[len(pages[0].Fields)-1].Name)
}

func TestSplit_HeaderAloneIsNotPulled(t *testing.T) {
	t.Parallel()

	fields := []Field{
		{Name: "## H"},
		{Value: strings.Repeat("a", 4997)},
	}
	pages, err := Split(Embed{}, fields, WithHeaderPrefix("##"))
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, []Field{fields[0]}, pages[0].Fields)
	assert.Equal(t, []Field{fields[1]}, pages[1].Fields)
}

func TestSplit_LengthCountsCharacters(t *testing.T) {
	t.Parallel()

	// 3 runes, 9 bytes per field.
	fields := []Field{{Value: "→→→"}, {Value: "→→→"}}
	pages, err := Split(Embed{}, fields, WithMaxCombinedLength(7))
	require.NoError(t, err)
	assert.Equal(t, []int{2}, pageSizes(pages))
}

func TestSplit_Invariants(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		maxLen := 200 + rng.Intn(2000)
		n := rng.Intn(120)
		fields := make([]Field, 0, n)
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("f%d", i)
			if rng.Intn(5) == 0 {
				name = "## " + name
			}
			fields = append(fields, Field{Name: name, Value: strings.Repeat("v", rng.Intn(maxLen/3))})
		}
		tmpl := Embed{Title: "title", Footer: "foot"}

		pages, err := Split(tmpl, fields, WithMaxCombinedLength(maxLen), WithHeaderPrefix("##"))
		require.NoError(t, err, "round %d", round)

		var joined []Field
		for _, p := range pages {
			require.LessOrEqual(t, len(p.Fields), DefaultMaxFieldsPerPage)
			sum := tmpl.FixedLen()
			for _, f := range p.Fields {
				sum += f.Len()
			}
			require.Less(t, sum, maxLen, "round %d", round)
			joined = append(joined, p.Fields...)
		}
		if n == 0 {
			require.Empty(t, joined)
			continue
		}
		require.Equal(t, fields, joined, "round %d", round)
	}
}
