package tools

// Tool names exposed to the model.
const (
	ToolExtractFormulas  = "extract_formulas"
	ToolLoadReference    = "load_reference"
	ToolEditText         = "edit_text"
	ToolValidateFormula  = "validate_formula"
	ToolFinishCorrection = "finish_correction"
)

// Tool parameter structs with jsonschema tags for eino's InferTool

// ExtractFormulasParams parameters for extract_formulas tool
type ExtractFormulasParams struct {
	MarkdownText string `json:"markdown_text,omitempty" jsonschema:"description=Markdown text to scan for $$ formulas. Give this or file_path but not both" validate:"required_without=FilePath,excluded_with=FilePath"`
	FilePath     string `json:"file_path,omitempty" jsonschema:"description=Path of a markdown file to scan. Give this or markdown_text but not both"`
}

// LoadReferenceParams parameters for load_reference tool
type LoadReferenceParams struct {
	FilePath string `json:"file_path" jsonschema:"description=Path of the OCR reference document (markdown/text or PDF)" validate:"required"`
	Query    string `json:"query,omitempty" jsonschema:"description=Formula or text to look up. Omit to only load the reference"`
}

// EditTextParams parameters for edit_text tool
type EditTextParams struct {
	Content       string  `json:"content" jsonschema:"description=The complete current document text to edit"`
	OperationType string  `json:"operation_type" jsonschema:"description=One of replace / insert_before / insert_after / delete" validate:"required"`
	StartLine     int     `json:"start_line" jsonschema:"description=First line of the edit (1-based)"`
	EndLine       *int    `json:"end_line,omitempty" jsonschema:"description=Last line of the edit (inclusive). Only for replace and delete"`
	NewContent    *string `json:"new_content,omitempty" jsonschema:"description=Replacement or inserted text. Required for replace and inserts"`
	ValidateHash  string  `json:"validate_hash,omitempty" jsonschema:"description=Expected SHA-256 of content. The edit is rejected if it differs"`
}

// ValidateFormulaParams parameters for validate_formula tool
type ValidateFormulaParams struct {
	Formula string `json:"formula" jsonschema:"description=LaTeX formula body without the $$ delimiters" validate:"required"`
}

// FinishCorrectionParams parameters for finish_correction tool
type FinishCorrectionParams struct {
	Summary string `json:"summary" jsonschema:"description=A summary of all corrections applied"`
}
