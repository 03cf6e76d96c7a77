// Package tools exposes the extractor, reference index, editor and formula
// validator to the model as a tagged dispatch table of eino tools.
package tools

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"github.com/go-playground/validator/v10"

	"formula-corrector/internal/document"
	"formula-corrector/internal/editor"
	"formula-corrector/internal/extractor"
	"formula-corrector/internal/logger"
	"formula-corrector/internal/reference"
)

// Config holds the collaborators of a Dispatcher. Zero values fall back to
// the defaults of each package.
type Config struct {
	Extractor *extractor.Extractor
	// IndexOptions configure every reference index the dispatcher builds
	IndexOptions []reference.Option
	// ReadDocument loads a markdown file for extract_formulas
	ReadDocument func(path string) (string, error)
	// ReadReference loads a reference file for load_reference
	ReadReference func(path string) (string, error)
	// StructuredCompletion exposes the finish_correction tool
	StructuredCompletion bool
}

// Outcome is the result of one dispatched call.
type Outcome struct {
	CallID   string
	Name     string
	Content  string // JSON tool result
	Success  bool
	Finished bool // finish_correction was called
}

// Dispatcher maps tool names to eino tools. Every failure is returned as a
// typed JSON result, never as a Go error or panic.
type Dispatcher struct {
	cfg       Config
	validate  *validator.Validate
	formulas  *editor.FormulaValidator
	tools     map[string]tool.InvokableTool
	infos     []*schema.ToolInfo
	indexMu   sync.Mutex
	indexes   map[string]*reference.Index
	indexErrs map[string]error
}

// NewDispatcher builds the dispatch table.
func NewDispatcher(ctx context.Context, cfg Config) (*Dispatcher, error) {
	if cfg.Extractor == nil {
		cfg.Extractor = extractor.New()
	}
	if cfg.ReadDocument == nil {
		cfg.ReadDocument = document.ReadText
	}
	if cfg.ReadReference == nil {
		cfg.ReadReference = reference.ReadFile
	}

	d := &Dispatcher{
		cfg:       cfg,
		validate:  validator.New(),
		formulas:  editor.NewFormulaValidator(),
		tools:     make(map[string]tool.InvokableTool),
		indexes:   make(map[string]*reference.Index),
		indexErrs: make(map[string]error),
	}

	list, err := d.createTools()
	if err != nil {
		return nil, err
	}
	for _, t := range list {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get tool info: %w", err)
		}
		d.tools[info.Name] = t
		d.infos = append(d.infos, info)
	}
	return d, nil
}

// createTools creates the tools for the correction loop
func (d *Dispatcher) createTools() ([]tool.InvokableTool, error) {
	extractTool, err := utils.InferTool(
		ToolExtractFormulas,
		"Extract all $$-delimited LaTeX formulas from markdown text or a markdown file. Returns each formula with its 1-based start and end line.",
		func(ctx context.Context, params *ExtractFormulasParams) (string, error) {
			return d.extractFormulas(params), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s tool: %w", ToolExtractFormulas, err)
	}

	referenceTool, err := utils.InferTool(
		ToolLoadReference,
		"Load the OCR reference document and optionally search it. Returns the reference chunks most similar to the query. An empty result means no match.",
		func(ctx context.Context, params *LoadReferenceParams) (string, error) {
			return d.loadReference(ctx, params), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s tool: %w", ToolLoadReference, err)
	}

	editTool, err := utils.InferTool(
		ToolEditText,
		"Apply one line-based edit (replace, insert_before, insert_after or delete) to the given document text. Returns the edited document and its new hash. Pass the returned edited_content as content for the next edit.",
		func(ctx context.Context, params *EditTextParams) (string, error) {
			return d.editText(params), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s tool: %w", ToolEditText, err)
	}

	validateTool, err := utils.InferTool(
		ToolValidateFormula,
		"Check a LaTeX formula for unbalanced braces, unpaired \\left/\\right and mismatched environments before applying it.",
		func(ctx context.Context, params *ValidateFormulaParams) (string, error) {
			return d.validateFormula(params), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s tool: %w", ToolValidateFormula, err)
	}

	list := []tool.InvokableTool{extractTool, referenceTool, editTool, validateTool}

	if d.cfg.StructuredCompletion {
		finishTool, err := utils.InferTool(
			ToolFinishCorrection,
			"Call this when every formula has been checked and all corrections are applied.",
			func(ctx context.Context, params *FinishCorrectionParams) (string, error) {
				return encode(FinishResult{Success: true, Finished: true, Summary: params.Summary}), nil
			},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s tool: %w", ToolFinishCorrection, err)
		}
		list = append(list, finishTool)
	}
	return list, nil
}

// ToolInfos returns the schemas of all tools in registration order.
func (d *Dispatcher) ToolInfos() []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, len(d.infos))
	copy(out, d.infos)
	return out
}

// Dispatch executes one tool call.
func (d *Dispatcher) Dispatch(ctx context.Context, call schema.ToolCall) (out Outcome) {
	out = Outcome{CallID: call.ID, Name: call.Function.Name}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("tool panicked", fmt.Errorf("%v", r),
				logger.String("tool", call.Function.Name),
				logger.String("stack", string(debug.Stack())))
			out.Content = NewErrorResult(ReasonInternal, fmt.Sprintf("tool %s failed: %v", call.Function.Name, r))
			out.Success = false
			out.Finished = false
		}
	}()

	t, ok := d.tools[call.Function.Name]
	if !ok {
		logger.Warn("unknown tool requested", logger.String("tool", call.Function.Name))
		out.Content = NewErrorResult(ReasonUnknownTool, fmt.Sprintf("unknown tool: %s", call.Function.Name))
		return out
	}

	args := call.Function.Arguments
	if args == "" {
		args = "{}"
	}

	content, err := t.InvokableRun(ctx, args)
	if err != nil {
		logger.Warn("tool call failed",
			logger.String("tool", call.Function.Name),
			logger.Err(err))
		out.Content = NewErrorResult(ReasonMalformedArgs, err.Error())
		return out
	}

	st := parseStatus(content)
	out.Content = content
	out.Success = st.Success != nil && *st.Success
	out.Finished = st.Finished
	logger.Debug("tool call completed",
		logger.String("tool", call.Function.Name),
		logger.Bool("success", out.Success))
	return out
}

// validationError converts validator output to a tool result.
func (d *Dispatcher) validationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return NewErrorResult(ReasonInvalidArgs, fmt.Sprintf("argument %s failed %s check", fe.Field(), fe.Tag()))
	}
	return NewErrorResult(ReasonInvalidArgs, err.Error())
}

func (d *Dispatcher) extractFormulas(params *ExtractFormulasParams) string {
	if err := d.validate.Struct(params); err != nil {
		return NewErrorResult(ReasonInvalidArgs, "exactly one of markdown_text or file_path is required")
	}

	text := params.MarkdownText
	if params.FilePath != "" {
		loaded, err := d.cfg.ReadDocument(params.FilePath)
		if err != nil {
			return NewErrorResult(ReasonIO, err.Error())
		}
		text = loaded
	}

	report := d.cfg.Extractor.ExtractWithReport(text)
	if report.Degraded > 0 {
		logger.Warn("formula extraction degraded", logger.Int("skippedSpans", report.Degraded))
	}
	return encode(ExtractResult{
		Success:    true,
		Formulas:   report.Entities,
		TotalCount: len(report.Entities),
		Degraded:   report.Degraded,
	})
}

// index returns the cached index for path, building it on first use.
func (d *Dispatcher) index(path string) (*reference.Index, error) {
	d.indexMu.Lock()
	defer d.indexMu.Unlock()

	if ix, ok := d.indexes[path]; ok {
		return ix, nil
	}
	if err, ok := d.indexErrs[path]; ok {
		return nil, err
	}

	text, err := d.cfg.ReadReference(path)
	if err != nil {
		d.indexErrs[path] = err
		return nil, err
	}
	ix := reference.NewIndex(d.cfg.IndexOptions...)
	n := ix.Load(text)
	d.indexes[path] = ix

	logger.Info("reference indexed",
		logger.String("path", path),
		logger.Int("chunks", n),
		logger.String("backend", ix.Backend()))
	if ix.Degraded() {
		logger.Warn("reference index has no similarity backend; queries will return no results",
			logger.String("path", path))
	}
	return ix, nil
}

// Preload registers text as the content of path so load_reference does not
// read it from disk.
func (d *Dispatcher) Preload(path, text string) *reference.Index {
	ix := reference.NewIndex(d.cfg.IndexOptions...)
	ix.Load(text)

	d.indexMu.Lock()
	d.indexes[path] = ix
	delete(d.indexErrs, path)
	d.indexMu.Unlock()
	return ix
}

func (d *Dispatcher) loadReference(ctx context.Context, params *LoadReferenceParams) string {
	if err := d.validate.Struct(params); err != nil {
		return d.validationError(err)
	}

	ix, err := d.index(params.FilePath)
	if err != nil {
		return NewErrorResult(ReasonIO, err.Error())
	}

	results := []reference.SearchResult{}
	if params.Query != "" {
		results, err = ix.Query(ctx, params.Query)
		if err != nil {
			return NewErrorResult(ReasonBackend, err.Error())
		}
	}

	return encode(ReferenceResult{
		Success:       true,
		FilePath:      params.FilePath,
		TotalChunks:   len(ix.Chunks()),
		Backend:       ix.Backend(),
		Degraded:      ix.Degraded(),
		SearchResults: results,
	})
}

func (d *Dispatcher) editText(params *EditTextParams) string {
	if err := d.validate.Struct(params); err != nil {
		return d.validationError(err)
	}

	kind, ok := editor.ParseOperationKind(params.OperationType)
	if !ok {
		kind = editor.OperationKind(params.OperationType)
	}

	ed := editor.New()
	ed.Load(params.Content)
	return encode(ed.Apply(editor.Operation{
		Kind:         kind,
		StartLine:    params.StartLine,
		EndLine:      params.EndLine,
		NewContent:   params.NewContent,
		ExpectedHash: params.ValidateHash,
	}))
}

func (d *Dispatcher) validateFormula(params *ValidateFormulaParams) string {
	if err := d.validate.Struct(params); err != nil {
		return d.validationError(err)
	}
	check := d.formulas.Validate(params.Formula)
	return encode(ValidateResult{
		Success: true,
		Valid:   check.Valid,
		Issues:  check.Issues,
		Summary: check.Summary(),
	})
}
