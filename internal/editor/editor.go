// Package editor provides a line-addressed text editor with content-hash
// verification and atomic rollback.
package editor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"formula-corrector/internal/logger"
)

// OperationKind names an edit operation
type OperationKind string

const (
	OpReplace      OperationKind = "replace"
	OpInsertBefore OperationKind = "insert_before"
	OpInsertAfter  OperationKind = "insert_after"
	OpDelete       OperationKind = "delete"
)

// ErrorKind classifies a failed Apply
type ErrorKind string

const (
	ErrRange            ErrorKind = "RangeError"
	ErrHashMismatch     ErrorKind = "HashMismatch"
	ErrApply            ErrorKind = "ApplyError"
	ErrInvalidOperation ErrorKind = "InvalidOperation"
)

// ParseOperationKind converts a wire name to an OperationKind.
func ParseOperationKind(name string) (OperationKind, bool) {
	switch k := OperationKind(strings.ToLower(strings.TrimSpace(name))); k {
	case OpReplace, OpInsertBefore, OpInsertAfter, OpDelete:
		return k, true
	default:
		return "", false
	}
}

// Operation is one edit request. Line numbers are 1-based and inclusive.
type Operation struct {
	Kind         OperationKind
	StartLine    int
	EndLine      *int
	NewContent   *string
	ExpectedHash string
}

// LineRange is an inclusive 1-based line span
type LineRange struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// EditResult reports the outcome of Apply. On success AffectedLines is the
// addressed span for replace and delete, and the span of the inserted lines
// in the new document for inserts.
type EditResult struct {
	Success       bool          `json:"success"`
	OperationKind OperationKind `json:"operation_kind,omitempty"`
	AffectedLines *LineRange    `json:"affected_line_range,omitempty"`
	LinesAdded    int           `json:"lines_added"`
	LinesRemoved  int           `json:"lines_removed"`
	BaseHash      string        `json:"base_hash,omitempty"`
	NewHash       string        `json:"new_hash,omitempty"`
	EditedContent string        `json:"edited_content,omitempty"`

	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

func failure(kind ErrorKind, format string, args ...interface{}) EditResult {
	return EditResult{Success: false, ErrorKind: kind, Detail: fmt.Sprintf(format, args...)}
}

// HashContent returns the hex SHA-256 digest of content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// SplitLines splits content into lines that keep their "\n" terminators.
// A trailing terminator does not produce an extra empty line.
func SplitLines(content string) []string {
	if content == "" {
		return []string{}
	}
	lines := strings.SplitAfter(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// spliceHook runs inside every splice; tests use it to force a failure.
var spliceHook func()

// SafeTextEditor holds one document buffer. All methods are safe for
// concurrent use.
type SafeTextEditor struct {
	mu    sync.Mutex
	lines []string
	hash  string
}

// New creates an editor with an empty buffer.
func New() *SafeTextEditor {
	return &SafeTextEditor{lines: []string{}, hash: HashContent("")}
}

// Load replaces the buffer with content and returns its hash.
func (e *SafeTextEditor) Load(content string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lines = SplitLines(content)
	e.hash = HashContent(content)
	return e.hash
}

// Content returns the current document.
func (e *SafeTextEditor) Content() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return strings.Join(e.lines, "")
}

// Hash returns the hash of the current document.
func (e *SafeTextEditor) Hash() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hash
}

// LineCount returns the number of lines in the buffer.
func (e *SafeTextEditor) LineCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.lines)
}

// ReadLines returns lines start..end (1-based, inclusive) without terminators.
// end == -1 reads to the end of the buffer.
func (e *SafeTextEditor) ReadLines(start, end int) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.lines)
	if end == -1 {
		end = n
	}
	if start < 1 || end > n || start > end {
		return nil, fmt.Errorf("invalid line range: %d-%d (document has %d lines)", start, end, n)
	}
	out := make([]string, 0, end-start+1)
	for _, line := range e.lines[start-1 : end] {
		out = append(out, strings.TrimSuffix(line, "\n"))
	}
	return out, nil
}

// SearchLines returns the 1-based numbers of lines containing text.
func (e *SafeTextEditor) SearchLines(text string) []int {
	e.mu.Lock()
	defer e.mu.Unlock()

	var matches []int
	for i, line := range e.lines {
		if strings.Contains(line, text) {
			matches = append(matches, i+1)
		}
	}
	return matches
}

// validateShape checks the operation independent of the buffer.
func validateShape(op Operation) (EditResult, bool) {
	if _, ok := ParseOperationKind(string(op.Kind)); !ok {
		return failure(ErrInvalidOperation, "unknown operation type %q", op.Kind), false
	}
	if op.StartLine < 1 {
		return failure(ErrInvalidOperation, "start_line must be >= 1, got %d", op.StartLine), false
	}
	if op.EndLine != nil && *op.EndLine < op.StartLine {
		return failure(ErrInvalidOperation, "end_line %d is before start_line %d", *op.EndLine, op.StartLine), false
	}
	switch op.Kind {
	case OpReplace:
		if op.NewContent == nil {
			return failure(ErrInvalidOperation, "replace requires new_content"), false
		}
	case OpInsertBefore, OpInsertAfter:
		if op.NewContent == nil {
			return failure(ErrInvalidOperation, "%s requires new_content", op.Kind), false
		}
		if op.EndLine != nil {
			return failure(ErrInvalidOperation, "%s does not take end_line", op.Kind), false
		}
	}
	return EditResult{}, true
}

// Apply performs op against the buffer. Failures leave the buffer untouched.
func (e *SafeTextEditor) Apply(op Operation) EditResult {
	if res, ok := validateShape(op); !ok {
		logger.Debug("rejected edit operation", logger.String("detail", res.Detail))
		return res
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if op.ExpectedHash != "" && op.ExpectedHash != e.hash {
		return failure(ErrHashMismatch, "expected hash %s but document hash is %s", op.ExpectedHash, e.hash)
	}

	n := len(e.lines)
	if op.StartLine > n+1 {
		return failure(ErrRange, "start_line %d out of range (document has %d lines)", op.StartLine, n)
	}
	if op.EndLine != nil && *op.EndLine > n {
		return failure(ErrRange, "end_line %d out of range (document has %d lines)", *op.EndLine, n)
	}
	end := op.StartLine
	if op.EndLine != nil {
		end = *op.EndLine
	}
	if (op.Kind == OpReplace || op.Kind == OpDelete) && end > n {
		return failure(ErrRange, "line %d out of range (document has %d lines)", end, n)
	}

	snapshot := e.lines
	snapshotHash := e.hash
	baseHash := e.hash

	res, next, err := e.splice(op, end)
	if err != nil {
		e.lines = snapshot
		e.hash = snapshotHash
		logger.Error("edit splice failed, buffer restored", err,
			logger.String("operation", string(op.Kind)),
			logger.Int("startLine", op.StartLine))
		return failure(ErrApply, "%v", err)
	}

	content := strings.Join(next, "")
	e.lines = next
	e.hash = HashContent(content)

	res.Success = true
	res.OperationKind = op.Kind
	res.BaseHash = baseHash
	res.NewHash = e.hash
	res.EditedContent = content

	logger.Debug("edit applied",
		logger.String("operation", string(op.Kind)),
		logger.Int("start", res.AffectedLines.Start),
		logger.Int("end", res.AffectedLines.End),
		logger.Int("added", res.LinesAdded),
		logger.Int("removed", res.LinesRemoved))
	return res
}
