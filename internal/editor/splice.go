package editor

import (
	"fmt"
	"strings"
)

// splice computes the post-edit line slice on a copy of the buffer. Ranges
// are half-open [lo, hi) over 0-based indices. A panic is converted to an
// error so Apply can restore the snapshot.
func (e *SafeTextEditor) splice(op Operation, end int) (res EditResult, next []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			next = nil
			err = fmt.Errorf("splice failed: %v", r)
		}
	}()

	lines := make([]string, len(e.lines))
	copy(lines, e.lines)
	n := len(lines)

	if spliceHook != nil {
		spliceHook()
	}

	switch op.Kind {
	case OpReplace:
		lo, hi := op.StartLine-1, end
		repl := SplitLines(*op.NewContent)
		if strings.HasSuffix(lines[hi-1], "\n") {
			repl = terminate(repl)
		}
		next = join(lines[:lo], repl, lines[hi:])
		res.AffectedLines = &LineRange{Start: op.StartLine, End: end}
		res.LinesAdded = len(repl)
		res.LinesRemoved = hi - lo

	case OpInsertBefore, OpInsertAfter:
		at := op.StartLine - 1
		if op.Kind == OpInsertAfter {
			at = op.StartLine
		}
		if at > n {
			at = n
		}

		// Empty content inserts one blank line.
		ins := SplitLines(*op.NewContent)
		if len(ins) == 0 {
			ins = []string{"\n"}
		}
		if at < n {
			ins = terminate(ins)
		} else if n > 0 {
			// Appending: the old last line gains a terminator and the
			// document keeps its trailing-newline state.
			if strings.HasSuffix(lines[n-1], "\n") {
				ins = terminate(ins)
			} else {
				lines[n-1] += "\n"
			}
		}
		next = join(lines[:at], ins, lines[at:])
		res.AffectedLines = &LineRange{Start: at + 1, End: at + len(ins)}
		res.LinesAdded = len(ins)

	case OpDelete:
		lo, hi := op.StartLine-1, end
		next = join(lines[:lo], lines[hi:])
		res.AffectedLines = &LineRange{Start: op.StartLine, End: end}
		res.LinesRemoved = hi - lo

	default:
		return res, nil, fmt.Errorf("unsupported operation %q", op.Kind)
	}
	return res, next, nil
}

// terminate makes sure the last line ends with "\n". An empty slice becomes
// one blank line.
func terminate(lines []string) []string {
	if len(lines) == 0 {
		return []string{"\n"}
	}
	last := len(lines) - 1
	if !strings.HasSuffix(lines[last], "\n") {
		lines[last] += "\n"
	}
	return lines
}

func join(parts ...[]string) []string {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make([]string, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
