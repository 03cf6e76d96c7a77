package tools

import (
	"encoding/json"

	"formula-corrector/internal/editor"
	"formula-corrector/internal/extractor"
	"formula-corrector/internal/reference"
)

// ErrorKindDispatch is the error_kind of every failure produced by the
// dispatcher itself, as opposed to editor failures.
const ErrorKindDispatch = "ToolDispatchFailure"

// Reasons attached to dispatcher failures.
const (
	ReasonUnknownTool     = "unknown_tool"
	ReasonMalformedArgs   = "malformed_arguments"
	ReasonInvalidArgs     = "invalid_arguments"
	ReasonIO              = "io_error"
	ReasonBackend         = "backend_error"
	ReasonBudgetExhausted = "budget_exhausted"
	ReasonInternal        = "internal_error"
)

// ErrorResult is the tool result of a call that could not be executed.
type ErrorResult struct {
	Success   bool   `json:"success"`
	ErrorKind string `json:"error_kind"`
	Reason    string `json:"reason"`
	Detail    string `json:"detail"`
}

// ExtractResult is the result of extract_formulas
type ExtractResult struct {
	Success    bool               `json:"success"`
	Formulas   []extractor.Entity `json:"formulas"`
	TotalCount int                `json:"total_count"`
	Degraded   int                `json:"degraded"`
}

// ReferenceResult is the result of load_reference
type ReferenceResult struct {
	Success       bool                     `json:"success"`
	FilePath      string                   `json:"file_path"`
	TotalChunks   int                      `json:"total_chunks"`
	Backend       string                   `json:"backend"`
	Degraded      bool                     `json:"degraded"`
	SearchResults []reference.SearchResult `json:"search_results"`
}

// ValidateResult is the result of validate_formula
type ValidateResult struct {
	Success bool           `json:"success"`
	Valid   bool           `json:"valid"`
	Issues  []editor.Issue `json:"issues"`
	Summary string         `json:"summary"`
}

// FinishResult is the result of finish_correction
type FinishResult struct {
	Success  bool   `json:"success"`
	Finished bool   `json:"finished"`
	Summary  string `json:"summary"`
}

// NewErrorResult encodes a dispatcher failure as a tool result string.
func NewErrorResult(reason, detail string) string {
	return encode(ErrorResult{Success: false, ErrorKind: ErrorKindDispatch, Reason: reason, Detail: detail})
}

// encode marshals v; the result types above always marshal.
func encode(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(ErrorResult{ErrorKind: ErrorKindDispatch, Reason: ReasonInternal, Detail: err.Error()})
	}
	return string(data)
}

// status is the common prefix of every tool result.
type status struct {
	Success   *bool  `json:"success"`
	Finished  bool   `json:"finished"`
	ErrorKind string `json:"error_kind"`
}

func parseStatus(content string) status {
	var s status
	_ = json.Unmarshal([]byte(content), &s)
	return s
}
