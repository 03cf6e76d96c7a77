// Package extractor locates display formulas in a markdown document.
package extractor

import (
	"strings"
)

// DefaultDelimiter opens and closes a display formula.
const DefaultDelimiter = "$$"

// Entity is one formula found in a document. Line numbers are 1-based and
// inclusive.
type Entity struct {
	Text      string `json:"text" yaml:"text"`
	StartLine int    `json:"start_line" yaml:"start_line"`
	EndLine   int    `json:"end_line" yaml:"end_line"`
}

// Report is the result of ExtractWithReport.
type Report struct {
	Entities []Entity `json:"entities"`
	// Degraded counts spans that produced no entity: formulas with empty
	// bodies and an unterminated opening delimiter.
	Degraded int `json:"degraded"`
}

// Extractor scans text for delimited formulas
type Extractor struct {
	open  string
	close string
}

// Option configures an Extractor
type Option func(*Extractor)

// WithDelimiters overrides the opening and closing delimiters.
// Empty values keep the default.
func WithDelimiters(open, close string) Option {
	return func(e *Extractor) {
		if open != "" {
			e.open = open
		}
		if close != "" {
			e.close = close
		}
	}
}

// New creates an Extractor using $$ delimiters unless overridden.
func New(opts ...Option) *Extractor {
	e := &Extractor{open: DefaultDelimiter, close: DefaultDelimiter}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the formulas in text in document order.
func (e *Extractor) Extract(text string) []Entity {
	return e.ExtractWithReport(text).Entities
}

// ExtractWithReport is Extract plus the count of spans that yielded nothing.
func (e *Extractor) ExtractWithReport(text string) Report {
	report := Report{Entities: []Entity{}}
	if text == "" {
		return report
	}

	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		start := strings.Index(line, e.open)
		if start < 0 {
			continue
		}
		rest := line[start+len(e.open):]

		// Opening and closing delimiter on the same line.
		if end := strings.Index(rest, e.close); end >= 0 {
			body := strings.TrimSpace(rest[:end])
			if body == "" {
				report.Degraded++
				continue
			}
			report.Entities = append(report.Entities, Entity{Text: body, StartLine: i + 1, EndLine: i + 1})
			continue
		}

		var parts []string
		if head := strings.TrimSpace(rest); head != "" {
			parts = append(parts, head)
		}
		closed := false
		j := i + 1
		for ; j < len(lines); j++ {
			if end := strings.Index(lines[j], e.close); end >= 0 {
				if tail := strings.TrimSpace(lines[j][:end]); tail != "" {
					parts = append(parts, tail)
				}
				closed = true
				break
			}
			parts = append(parts, strings.TrimSpace(lines[j]))
		}

		if !closed {
			report.Degraded++
			break
		}

		body := strings.Join(parts, "\n")
		if strings.TrimSpace(body) == "" {
			report.Degraded++
		} else {
			report.Entities = append(report.Entities, Entity{Text: body, StartLine: i + 1, EndLine: j + 1})
		}
		i = j
	}
	return report
}

// Extract runs the default extractor over text.
func Extract(text string) []Entity {
	return New().Extract(text)
}
