package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"formula-corrector/internal/document"
	"formula-corrector/internal/extractor"
	"formula-corrector/internal/logger"
	"formula-corrector/internal/reference"
	"formula-corrector/internal/tools"
	"formula-corrector/internal/types"
)

// Orchestrator creates correction sessions around one model collaborator.
type Orchestrator struct {
	model ChatModel
	cfg   Config
}

// NewOrchestrator creates an Orchestrator. Zero config fields take defaults.
func NewOrchestrator(m ChatModel, cfg Config) *Orchestrator {
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = DefaultMaxToolCalls
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if len(cfg.CompletionPhrases) == 0 {
		cfg.CompletionPhrases = DefaultCompletionPhrases
	}
	if cfg.Extractor == nil {
		cfg.Extractor = extractor.New()
	}
	if cfg.ReadAnalysis == nil {
		cfg.ReadAnalysis = document.ReadText
	}
	if cfg.ReadReference == nil {
		cfg.ReadReference = reference.ReadFile
	}
	return &Orchestrator{model: m, cfg: cfg}
}

// Correct runs one session to completion.
func (o *Orchestrator) Correct(ctx context.Context, req Request) (*Result, error) {
	return o.NewSession(req).Run(ctx)
}

// Session is one run of the state machine. A session is driven by a single
// goroutine; Cancel and the accessors may be called from others.
type Session struct {
	id  string
	o   *Orchestrator
	req Request

	mu       sync.Mutex
	state    State
	st       SessionState
	cancel   context.CancelFunc
	canceled bool

	dispatcher *tools.Dispatcher
	// dispatch executes one tool call; it defaults to dispatcher.Dispatch.
	dispatch func(ctx context.Context, call schema.ToolCall) tools.Outcome
	original   string
	refPath    string
	report     extractor.Report
	refIndex   *reference.Index
	failures   int
}

// NewSession creates a session in the Init state.
func (o *Orchestrator) NewSession(req Request) *Session {
	return &Session{
		id:    uuid.NewString(),
		o:     o,
		req:   req,
		state: StateInit,
		st:    SessionState{Status: StatusRunning},
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.st
	st.Messages = append([]*schema.Message(nil), s.st.Messages...)
	return st
}

// Cancel stops the session at the next state boundary or blocking call.
// Edits already applied are kept.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = true
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()
	logger.Debug("session transition",
		logger.String("session", s.id),
		logger.String("from", string(prev)),
		logger.String("to", string(state)))
}

func (s *Session) appendMessage(m *schema.Message) {
	s.mu.Lock()
	s.st.Messages = append(s.st.Messages, m)
	s.mu.Unlock()
}

func (s *Session) messages() []*schema.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*schema.Message(nil), s.st.Messages...)
}

func (s *Session) stopped(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled || ctx.Err() != nil
}

// Run drives the session from Init to Finalized. The only error returned is
// an unreadable input at Init; every later failure ends in a Result.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.state != StateInit {
		s.mu.Unlock()
		return nil, types.NewAppError(types.ErrInvalidInput, "session already started", nil)
	}
	s.cancel = cancel
	if s.canceled {
		cancel()
	}
	s.mu.Unlock()

	logger.Info("correction session started", logger.String("session", s.id))

	if err := s.init(ctx); err != nil {
		s.setState(StateFinalized)
		return nil, err
	}

	if s.stopped(ctx) {
		return s.finalize(StatusAborted, StopCancelled), nil
	}
	s.extract()
	s.setState(StateExtracted)

	if s.stopped(ctx) {
		return s.finalize(StatusAborted, StopCancelled), nil
	}
	s.loadReference()
	s.setState(StateReferenceLoaded)

	s.setState(StateAnalyzing)
	for {
		if s.stopped(ctx) {
			return s.finalize(StatusAborted, StopCancelled), nil
		}

		msg := s.analyze(ctx)
		if s.stopped(ctx) {
			return s.finalize(StatusAborted, StopCancelled), nil
		}

		next, reason := s.decide(msg)
		if next == StateFinalized {
			return s.finalize(StatusCompleted, reason), nil
		}
		if next != StateToolCall {
			continue
		}

		s.setState(StateToolCall)
		finished := s.runTools(ctx, msg.ToolCalls)
		if finished {
			return s.finalize(StatusCompleted, StopFinishTool), nil
		}
		s.setState(StateAnalyzing)
	}
}

// init loads both documents and builds the dispatcher. No model call.
func (s *Session) init(ctx context.Context) error {
	cfg := s.o.cfg

	analysis, err := loadSource(s.req.Analysis, cfg.ReadAnalysis)
	if err != nil {
		logger.Error("failed to load analysis document", err, logger.String("session", s.id))
		return err
	}
	s.original = analysis

	refText, err := loadSource(s.req.Reference, cfg.ReadReference)
	if err != nil {
		logger.Error("failed to load reference document", err, logger.String("session", s.id))
		return err
	}
	s.refPath = s.req.Reference.Path
	if s.req.Reference.Text != "" || s.refPath == "" {
		s.refPath = inlineReferencePath
	}

	d, err := tools.NewDispatcher(ctx, tools.Config{
		Extractor:            cfg.Extractor,
		IndexOptions:         cfg.IndexOptions,
		ReadDocument:         cfg.ReadAnalysis,
		ReadReference:        cfg.ReadReference,
		StructuredCompletion: cfg.StructuredCompletion,
	})
	if err != nil {
		return types.NewAppError(types.ErrInternal, "failed to build tools", err)
	}
	s.dispatcher = d
	if s.dispatch == nil {
		s.dispatch = d.Dispatch
	}
	// Kept for loadReference; the index is built there, exactly once.
	s.req.Reference.Text = refText
	return nil
}

func loadSource(src Source, read func(string) (string, error)) (string, error) {
	if src.Text != "" || src.Path == "" {
		return src.Text, nil
	}
	return read(src.Path)
}

func (s *Session) extract() {
	s.report = s.o.cfg.Extractor.ExtractWithReport(s.original)
	if s.report.Degraded > 0 {
		logger.Warn("formula extraction degraded",
			logger.String("session", s.id),
			logger.Int("skippedSpans", s.report.Degraded))
	}
	logger.Info("formulas extracted",
		logger.String("session", s.id),
		logger.Int("count", len(s.report.Entities)))
}

func (s *Session) loadReference() {
	s.refIndex = s.dispatcher.Preload(s.refPath, s.req.Reference.Text)
	if s.refIndex.Degraded() {
		logger.Warn("reference index degraded: no similarity backend configured",
			logger.String("session", s.id))
	}
	logger.Info("reference loaded",
		logger.String("session", s.id),
		logger.Int("chunks", len(s.refIndex.Chunks())),
		logger.String("backend", s.refIndex.Backend()))
}

// analyze performs one Analyzing step: one model call whose response is
// appended to the history.
func (s *Session) analyze(ctx context.Context) *schema.Message {
	if len(s.messages()) == 0 {
		s.appendMessage(schema.SystemMessage(buildSystemPrompt(s.original, s.report.Entities, s.refPath, s.dispatcher.ToolInfos())))
	}

	resp, err := s.o.model.Generate(ctx, s.messages(), model.WithTools(s.dispatcher.ToolInfos()))
	if err != nil || resp == nil {
		if err == nil {
			err = fmt.Errorf("model returned no message")
		}
		s.failures++
		logger.Error("model invocation failed", err, logger.String("session", s.id))
		resp = &schema.Message{
			Role:    schema.Assistant,
			Content: fmt.Sprintf("Model invocation failed: %v", err),
		}
	}
	if resp.Role == "" {
		resp.Role = schema.Assistant
	}

	s.appendMessage(resp)
	s.mu.Lock()
	s.st.StepCount++
	step := s.st.StepCount
	s.mu.Unlock()

	logger.Debug("analysis step",
		logger.String("session", s.id),
		logger.Int("step", step),
		logger.Int("toolCalls", len(resp.ToolCalls)))
	return resp
}

// decide applies the transition rules in order after an Analyzing step.
// Tool calls are only honoured while both budgets still allow dispatching.
func (s *Session) decide(msg *schema.Message) (State, StopReason) {
	s.mu.Lock()
	n := len(s.st.Messages)
	calls := s.st.ToolCallCount
	s.mu.Unlock()

	cfg := s.o.cfg
	withinBudget := n <= cfg.MaxMessages && calls < cfg.MaxToolCalls

	if len(msg.ToolCalls) > 0 && withinBudget {
		return StateToolCall, ""
	}
	if containsCompletionPhrase(msg.Content, cfg.CompletionPhrases) {
		return StateFinalized, StopCompletionPhrase
	}
	if n > cfg.MaxMessages {
		return StateFinalized, StopMessageBudget
	}
	if calls >= cfg.MaxToolCalls {
		return StateFinalized, StopToolBudget
	}
	return StateAnalyzing, ""
}

func containsCompletionPhrase(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// runTools dispatches calls in order and appends one tool message per call.
// It reports whether finish_correction succeeded.
func (s *Session) runTools(ctx context.Context, calls []schema.ToolCall) (finished bool) {
	answered := 0
	defer func() {
		if r := recover(); r != nil {
			logger.Error("tool batch failed", fmt.Errorf("%v", r), logger.String("session", s.id))
			for _, call := range calls[answered:] {
				s.appendMessage(toolMessage(call, tools.NewErrorResult(tools.ReasonInternal, "tool batch aborted")))
			}
			finished = false
		}
	}()

	for i, call := range calls {
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%d_%d", s.Snapshot().StepCount, i)
			calls[i].ID = call.ID
		}

		s.mu.Lock()
		exhausted := s.st.ToolCallCount >= s.o.cfg.MaxToolCalls
		if !exhausted {
			s.st.ToolCallCount++
		}
		s.mu.Unlock()

		var content string
		if exhausted {
			content = tools.NewErrorResult(tools.ReasonBudgetExhausted,
				fmt.Sprintf("tool call budget of %d exhausted; call not executed", s.o.cfg.MaxToolCalls))
			logger.Warn("tool call skipped: budget exhausted",
				logger.String("session", s.id),
				logger.String("tool", call.Function.Name))
		} else {
			out := s.dispatch(ctx, call)
			content = out.Content
			if out.Finished {
				finished = true
			}
			logger.Info("tool executed",
				logger.String("session", s.id),
				logger.String("tool", call.Function.Name),
				logger.Bool("success", out.Success))
		}

		s.appendMessage(toolMessage(call, content))
		answered++
	}
	return finished
}

func toolMessage(call schema.ToolCall, content string) *schema.Message {
	return &schema.Message{
		Role:       schema.Tool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Function.Name,
	}
}
