// Package diff renders line diffs between the analysis document and its
// corrected version.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Line is one line of a diff.
type Line struct {
	Type    string `json:"type" yaml:"type"`
	Text    string `json:"text" yaml:"text"`
	OldLine int    `json:"old_line,omitempty" yaml:"old_line,omitempty"`
	NewLine int    `json:"new_line,omitempty" yaml:"new_line,omitempty"`
}

const (
	LineContext = "context"
	LineAdded   = "added"
	LineRemoved = "removed"
)

// DefaultContext is the number of unchanged lines around each hunk
const DefaultContext = 3

// Stats counts changed lines
type Stats struct {
	Added   int `json:"added" yaml:"added"`
	Removed int `json:"removed" yaml:"removed"`
}

// Lines returns the line-level diff of before and after.
func Lines(before, after string) []Line {
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var lines []Line
	oldLine := 1
	newLine := 1
	for _, d := range diffs {
		chunkLines := strings.Split(d.Text, "\n")
		if len(chunkLines) > 0 && chunkLines[len(chunkLines)-1] == "" {
			chunkLines = chunkLines[:len(chunkLines)-1]
		}
		for _, line := range chunkLines {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				lines = append(lines, Line{Type: LineContext, Text: line, OldLine: oldLine, NewLine: newLine})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				lines = append(lines, Line{Type: LineRemoved, Text: line, OldLine: oldLine})
				oldLine++
			case diffmatchpatch.DiffInsert:
				lines = append(lines, Line{Type: LineAdded, Text: line, NewLine: newLine})
				newLine++
			}
		}
	}
	return lines
}

// Count returns the number of added and removed lines.
func Count(lines []Line) Stats {
	var s Stats
	for _, l := range lines {
		switch l.Type {
		case LineAdded:
			s.Added++
		case LineRemoved:
			s.Removed++
		}
	}
	return s
}

// Unified renders before and after as a unified diff with n context lines.
// Identical inputs produce an empty string.
func Unified(before, after, oldName, newName string, n int) string {
	if n < 0 {
		n = DefaultContext
	}
	lines := Lines(before, after)

	// oldPos[i] and newPos[i] count the lines preceding lines[i].
	oldPos := make([]int, len(lines)+1)
	newPos := make([]int, len(lines)+1)
	for i, l := range lines {
		oldPos[i+1] = oldPos[i]
		newPos[i+1] = newPos[i]
		if l.Type != LineAdded {
			oldPos[i+1]++
		}
		if l.Type != LineRemoved {
			newPos[i+1]++
		}
	}

	var sb strings.Builder
	i := 0
	for i < len(lines) {
		if lines[i].Type == LineContext {
			i++
			continue
		}

		lo := i - n
		if lo < 0 {
			lo = 0
		}
		// Extend the hunk while the next change is within 2n lines.
		hi := i
		for j := i; j < len(lines); j++ {
			if lines[j].Type != LineContext {
				hi = j
			} else if j-hi > 2*n {
				break
			}
		}
		end := hi + n + 1
		if end > len(lines) {
			end = len(lines)
		}

		if sb.Len() == 0 {
			fmt.Fprintf(&sb, "--- %s\n+++ %s\n", oldName, newName)
		}
		oldCount := oldPos[end] - oldPos[lo]
		newCount := newPos[end] - newPos[lo]
		fmt.Fprintf(&sb, "@@ -%s +%s @@\n", hunkRange(oldPos[lo], oldCount), hunkRange(newPos[lo], newCount))
		for _, l := range lines[lo:end] {
			switch l.Type {
			case LineContext:
				sb.WriteString(" ")
			case LineAdded:
				sb.WriteString("+")
			case LineRemoved:
				sb.WriteString("-")
			}
			sb.WriteString(l.Text)
			sb.WriteString("\n")
		}
		i = end
	}
	return sb.String()
}

func hunkRange(before, count int) string {
	if count == 0 {
		return fmt.Sprintf("%d,0", before)
	}
	if count == 1 {
		return fmt.Sprintf("%d", before+1)
	}
	return fmt.Sprintf("%d,%d", before+1, count)
}
