// Package agent runs the tool-calling correction loop: the model reasons over
// the analysis document, requests tools, and the session applies them until
// the model signals completion or a budget is spent.
package agent

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"formula-corrector/internal/editor"
	"formula-corrector/internal/extractor"
	"formula-corrector/internal/reference"
)

// ChatModel is the language model collaborator. Any eino chat model
// satisfies it.
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// State is a position in the session state machine
type State string

const (
	StateInit            State = "init"
	StateExtracted       State = "extracted"
	StateReferenceLoaded State = "reference_loaded"
	StateAnalyzing       State = "analyzing"
	StateToolCall        State = "tool_call"
	StateFinalized       State = "finalized"
)

// Status is the outcome of a session
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// StopReason records which rule finalized a session
type StopReason string

const (
	StopCompletionPhrase StopReason = "completion_phrase"
	StopFinishTool       StopReason = "finish_tool"
	StopMessageBudget    StopReason = "message_budget"
	StopToolBudget       StopReason = "tool_budget"
	StopCancelled        StopReason = "cancelled"
)

const (
	// DefaultMaxToolCalls is the cumulative tool-call budget
	DefaultMaxToolCalls = 8
	// DefaultMaxMessages is the message-history budget
	DefaultMaxMessages = 20
	// inlineReferencePath names a reference given as text
	inlineReferencePath = "reference.md"
)

// DefaultCompletionPhrases are matched case-insensitively against the
// model's text when it requests no tools.
var DefaultCompletionPhrases = []string{
	"correction complete",
	"corrections complete",
	"no further corrections",
	"no more corrections",
	"task complete",
	"修正完成",
	"校正完成",
	"任务完成",
}

// Config controls a correction session
type Config struct {
	MaxToolCalls         int
	MaxMessages          int
	CompletionPhrases    []string
	StructuredCompletion bool
	Extractor            *extractor.Extractor
	IndexOptions         []reference.Option
	// ReadAnalysis and ReadReference load documents given by path. They
	// default to document.ReadText and reference.ReadFile.
	ReadAnalysis  func(path string) (string, error)
	ReadReference func(path string) (string, error)
}

// Source is a document given either inline or by path. Text wins when both
// are set.
type Source struct {
	Text string
	Path string
}

// Request is the input of one correction session
type Request struct {
	Analysis  Source
	Reference Source
}

// SessionState is the mutable state of a running session. Counters only
// grow.
type SessionState struct {
	Messages      []*schema.Message
	ToolCallCount int
	StepCount     int
	Status        Status
}

// Correction is one entry of the correction log
type Correction struct {
	Operation     editor.OperationKind `json:"operation" yaml:"operation"`
	AffectedLines editor.LineRange     `json:"affected_lines" yaml:"affected_lines"`
	Message       string               `json:"message" yaml:"message"`
	BaseHash      string               `json:"base_hash" yaml:"base_hash"`
	NewHash       string               `json:"new_hash" yaml:"new_hash"`
}

// Result is returned by every finished session
type Result struct {
	SessionID          string             `json:"session_id" yaml:"session_id"`
	IsComplete         bool               `json:"is_complete" yaml:"is_complete"`
	Status             Status             `json:"status" yaml:"status"`
	StopReason         StopReason         `json:"stop_reason" yaml:"stop_reason"`
	OriginalContent    string             `json:"-" yaml:"-"`
	CorrectedContent   string             `json:"corrected_content" yaml:"-"`
	CorrectionsApplied []Correction       `json:"corrections_applied" yaml:"corrections_applied"`
	Entities           []extractor.Entity `json:"entities" yaml:"entities"`
	DegradedSpans      int                `json:"degraded_spans" yaml:"degraded_spans"`
	ReferenceChunks    int                `json:"reference_chunks" yaml:"reference_chunks"`
	ReferenceBackend   string             `json:"reference_backend" yaml:"reference_backend"`
	ReferenceDegraded  bool               `json:"reference_degraded" yaml:"reference_degraded"`
	ToolCallCount      int                `json:"tool_call_count" yaml:"tool_call_count"`
	StepCount          int                `json:"step_count" yaml:"step_count"`
	MessageCount       int                `json:"message_count" yaml:"message_count"`
	ModelFailures      int                `json:"model_failures" yaml:"model_failures"`
}

// Changed reports whether the corrected document differs from the original.
func (r *Result) Changed() bool {
	return r.CorrectedContent != r.OriginalContent
}
