package extractor

import (
	"reflect"
	"strings"
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Entity
	}{
		{
			name: "single line formula",
			text: "a\n$$x^2$$\nb",
			want: []Entity{{Text: "x^2", StartLine: 2, EndLine: 2}},
		},
		{
			name: "single line formula is trimmed",
			text: "see $$  \\alpha + \\beta  $$ here",
			want: []Entity{{Text: "\\alpha + \\beta", StartLine: 1, EndLine: 1}},
		},
		{
			name: "multi line formula",
			text: "intro\n$$\n  E = mc^2\n  + \\gamma\n$$\noutro",
			want: []Entity{{Text: "E = mc^2\n+ \\gamma", StartLine: 2, EndLine: 5}},
		},
		{
			name: "blank line inside formula is kept",
			text: "$$\na = 1\n\nb = 2\n$$",
			want: []Entity{{Text: "a = 1\n\nb = 2", StartLine: 1, EndLine: 5}},
		},
		{
			name: "text around delimiters on opening and closing lines",
			text: "$$ \\int_0^1\nf(x)\\,dx $$ trailing",
			want: []Entity{{Text: "\\int_0^1\nf(x)\\,dx", StartLine: 1, EndLine: 2}},
		},
		{
			name: "several formulas",
			text: "$$a$$\ntext\n$$\nb\n$$\n$$c$$",
			want: []Entity{
				{Text: "a", StartLine: 1, EndLine: 1},
				{Text: "b", StartLine: 3, EndLine: 5},
				{Text: "c", StartLine: 6, EndLine: 6},
			},
		},
		{
			name: "empty formula dropped",
			text: "$$  $$\n$$\n\n$$\n$$y$$",
			want: []Entity{{Text: "y", StartLine: 5, EndLine: 5}},
		},
		{
			name: "unterminated delimiter",
			text: "a\n$$x^2\nb",
			want: []Entity{},
		},
		{
			name: "unterminated after a valid formula",
			text: "$$a$$\n$$b\nc",
			want: []Entity{{Text: "a", StartLine: 1, EndLine: 1}},
		},
		{
			name: "no formulas",
			text: "plain text\nwith $ inline $ math",
			want: []Entity{},
		},
		{
			name: "empty document",
			text: "",
			want: []Entity{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Extract() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestExtractWithReport(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		wantEntities int
		wantDegraded int
	}{
		{"clean", "$$a$$\n$$b$$", 2, 0},
		{"empty body", "$$ $$\n$$b$$", 1, 1},
		{"unterminated", "$$a$$\n$$b", 1, 1},
		{"empty multi line", "$$\n\n$$", 0, 1},
		{"blank lines only", "$$\n  \n\n$$", 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New().ExtractWithReport(tt.text)
			if len(r.Entities) != tt.wantEntities || r.Degraded != tt.wantDegraded {
				t.Errorf("got %d entities / %d degraded, want %d / %d",
					len(r.Entities), r.Degraded, tt.wantEntities, tt.wantDegraded)
			}
		})
	}
}

func TestWithDelimiters(t *testing.T) {
	e := New(WithDelimiters("\\[", "\\]"))
	got := e.Extract("a\n\\[ x + y \\]\n\\[\nz\n\\]")
	want := []Entity{
		{Text: "x + y", StartLine: 2, EndLine: 2},
		{Text: "z", StartLine: 3, EndLine: 5},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Extract() = %+v, want %+v", got, want)
	}

	// Empty delimiters keep the default.
	if got := New(WithDelimiters("", "")).Extract("$$q$$"); len(got) != 1 {
		t.Errorf("expected default delimiters to apply, got %+v", got)
	}
}

func TestExtractIdempotentUnderNoOpEdits(t *testing.T) {
	doc := "# Title\n$$a+b$$\nbody\n$$\n\\frac{1}{2}\n$$\nend"
	first := Extract(doc)

	// Rewrite every formula line with its own content, which is a no-op edit.
	lines := strings.Split(doc, "\n")
	for _, ent := range first {
		for i := ent.StartLine - 1; i < ent.EndLine; i++ {
			lines[i] = string([]byte(lines[i]))
		}
	}
	second := Extract(strings.Join(lines, "\n"))

	if !reflect.DeepEqual(first, second) {
		t.Errorf("re-extraction changed entities: %+v vs %+v", first, second)
	}
	if !reflect.DeepEqual(Extract(doc), first) {
		t.Error("Extract is not deterministic")
	}
}

func TestExtractLinesNeverDoubleCounted(t *testing.T) {
	got := Extract("$$\na\n$$b$$")
	// The closing line of the first formula is consumed; "b$$" is not rescanned.
	want := []Entity{{Text: "a", StartLine: 1, EndLine: 3}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Extract() = %+v, want %+v", got, want)
	}
}
