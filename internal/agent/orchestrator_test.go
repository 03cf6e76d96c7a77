package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"formula-corrector/internal/editor"
	"formula-corrector/internal/tools"
	"formula-corrector/internal/types"
)

// scriptedModel answers each Generate call with respond(step, input).
type scriptedModel struct {
	respond func(step int, input []*schema.Message) (*schema.Message, error)
	steps   int
	tools   [][]string
	inputs  [][]*schema.Message
}

func (m *scriptedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.steps++
	var names []string
	for _, info := range model.GetCommonOptions(nil, opts...).Tools {
		names = append(names, info.Name)
	}
	m.tools = append(m.tools, names)
	m.inputs = append(m.inputs, input)
	return m.respond(m.steps, input)
}

func assistant(text string) *schema.Message {
	return &schema.Message{Role: schema.Assistant, Content: text}
}

func requestTools(calls ...schema.ToolCall) *schema.Message {
	return &schema.Message{Role: schema.Assistant, ToolCalls: calls}
}

func toolCall(t *testing.T, id, name string, args interface{}) schema.ToolCall {
	t.Helper()
	data, err := json.Marshal(args)
	if err != nil {
		t.Fatal(err)
	}
	return schema.ToolCall{ID: id, Function: schema.FunctionCall{Name: name, Arguments: string(data)}}
}

func replaceLine(t *testing.T, id, content string, line int, text string) schema.ToolCall {
	return toolCall(t, id, tools.ToolEditText, map[string]interface{}{
		"content":        content,
		"operation_type": "replace",
		"start_line":     line,
		"new_content":    text,
		"validate_hash":  editor.HashContent(content),
	})
}

func run(t *testing.T, m ChatModel, cfg Config, req Request) *Result {
	t.Helper()
	res, err := NewOrchestrator(m, cfg).Correct(context.Background(), req)
	if err != nil {
		t.Fatalf("Correct failed: %v", err)
	}
	return res
}

func TestCorrectEndToEnd(t *testing.T) {
	doc := "a\n$$x^2$$\nb"
	m := &scriptedModel{}
	m.respond = func(step int, input []*schema.Message) (*schema.Message, error) {
		switch step {
		case 1:
			return requestTools(toolCall(t, "c1", tools.ToolLoadReference, map[string]string{
				"file_path": "reference.md",
				"query":     "x^2",
			})), nil
		case 2:
			return requestTools(replaceLine(t, "c2", doc, 2, "$$x^2 + 1$$")), nil
		default:
			return assistant("Correction complete. Fixed one formula."), nil
		}
	}

	res := run(t, m, Config{}, Request{
		Analysis:  Source{Text: doc},
		Reference: Source{Text: "The reference gives $$x^2 + 1$$ for the energy."},
	})

	if res.CorrectedContent != "a\n$$x^2 + 1$$\nb" {
		t.Errorf("CorrectedContent = %q", res.CorrectedContent)
	}
	if !res.IsComplete || res.Status != StatusCompleted || res.StopReason != StopCompletionPhrase {
		t.Errorf("unexpected completion: complete=%v status=%s reason=%s", res.IsComplete, res.Status, res.StopReason)
	}
	if len(res.CorrectionsApplied) != 1 {
		t.Fatalf("got %d corrections, want 1", len(res.CorrectionsApplied))
	}
	c := res.CorrectionsApplied[0]
	if c.Operation != editor.OpReplace || c.AffectedLines != (editor.LineRange{Start: 2, End: 2}) {
		t.Errorf("unexpected correction: %+v", c)
	}
	if c.BaseHash != editor.HashContent(doc) || c.NewHash != editor.HashContent(res.CorrectedContent) {
		t.Errorf("correction hashes do not match documents: %+v", c)
	}
	if len(res.Entities) != 1 || res.Entities[0].Text != "x^2" || res.Entities[0].StartLine != 2 {
		t.Errorf("unexpected entities: %+v", res.Entities)
	}
	if res.ToolCallCount != 2 || res.StepCount != 3 || res.MessageCount != 6 {
		t.Errorf("counts = tools %d steps %d messages %d, want 2 3 6", res.ToolCallCount, res.StepCount, res.MessageCount)
	}
	if !res.Changed() || res.SessionID == "" {
		t.Errorf("unexpected result metadata: %+v", res)
	}

	first := m.inputs[0]
	if len(first) != 1 || first[0].Role != schema.System {
		t.Fatalf("first model call should only see the system prompt, got %d messages", len(first))
	}
	for _, want := range []string{"line 2: x^2", "   2 | $$x^2$$", tools.ToolEditText, `"reference.md"`} {
		if !strings.Contains(first[0].Content, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if len(m.tools[0]) != 4 {
		t.Errorf("model was offered %v, want 4 tools", m.tools[0])
	}

	// The reference query result was fed back as a tool message.
	second := m.inputs[1]
	last := second[len(second)-1]
	if last.Role != schema.Tool || last.ToolCallID != "c1" || last.ToolName != tools.ToolLoadReference {
		t.Fatalf("unexpected tool message: %+v", last)
	}
	var ref tools.ReferenceResult
	if err := json.Unmarshal([]byte(last.Content), &ref); err != nil || !ref.Success || len(ref.SearchResults) == 0 {
		t.Errorf("unexpected reference result: %s", last.Content)
	}
}

func TestLoopTerminatesOnMessageBudget(t *testing.T) {
	m := &scriptedModel{respond: func(int, []*schema.Message) (*schema.Message, error) {
		return assistant("Still looking at the formulas."), nil
	}}
	doc := "a\n$$x$$\n"
	res := run(t, m, Config{}, Request{Analysis: Source{Text: doc}, Reference: Source{Text: "x"}})

	if res.MessageCount != DefaultMaxMessages+1 || res.StepCount != DefaultMaxMessages {
		t.Errorf("messages = %d steps = %d, want %d and %d", res.MessageCount, res.StepCount, DefaultMaxMessages+1, DefaultMaxMessages)
	}
	if res.StopReason != StopMessageBudget || res.IsComplete || res.Status != StatusCompleted {
		t.Errorf("unexpected stop: reason=%s complete=%v status=%s", res.StopReason, res.IsComplete, res.Status)
	}
	if res.CorrectedContent != doc || len(res.CorrectionsApplied) != 0 {
		t.Errorf("no-op session changed the document: %q", res.CorrectedContent)
	}
}

func TestLoopTerminatesOnToolBudget(t *testing.T) {
	m := &scriptedModel{}
	m.respond = func(step int, _ []*schema.Message) (*schema.Message, error) {
		return requestTools(toolCall(t, fmt.Sprintf("c%d", step), tools.ToolValidateFormula,
			map[string]string{"formula": "x^2"})), nil
	}
	res := run(t, m, Config{}, Request{Analysis: Source{Text: "$$x^2$$"}, Reference: Source{Text: "x^2"}})

	if res.ToolCallCount != DefaultMaxToolCalls {
		t.Errorf("ToolCallCount = %d, want %d", res.ToolCallCount, DefaultMaxToolCalls)
	}
	if res.StopReason != StopToolBudget || res.MessageCount != 18 || res.StepCount != 9 {
		t.Errorf("reason=%s messages=%d steps=%d, want %s 18 9", res.StopReason, res.MessageCount, res.StepCount, StopToolBudget)
	}
}

func TestToolBudgetInsideBatch(t *testing.T) {
	m := &scriptedModel{}
	m.respond = func(step int, _ []*schema.Message) (*schema.Message, error) {
		var calls []schema.ToolCall
		for i := 0; i < 3; i++ {
			calls = append(calls, toolCall(t, fmt.Sprintf("c%d-%d", step, i), tools.ToolValidateFormula,
				map[string]string{"formula": "y"}))
		}
		return requestTools(calls...), nil
	}
	o := NewOrchestrator(m, Config{})
	s := o.NewSession(Request{Analysis: Source{Text: "$$y$$"}, Reference: Source{Text: "y"}})
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if res.ToolCallCount != DefaultMaxToolCalls || res.MessageCount != 14 || res.StopReason != StopToolBudget {
		t.Fatalf("tools=%d messages=%d reason=%s, want 8 14 %s", res.ToolCallCount, res.MessageCount, res.StopReason, StopToolBudget)
	}

	// Every requested call is answered, the ninth with budget_exhausted.
	msgs := s.Snapshot().Messages
	var answered []string
	for _, msg := range msgs {
		if msg.Role == schema.Tool {
			answered = append(answered, msg.ToolCallID)
		}
	}
	if len(answered) != 9 {
		t.Fatalf("got %d tool messages, want 9", len(answered))
	}
	last := msgs[len(msgs)-2]
	var er tools.ErrorResult
	if err := json.Unmarshal([]byte(last.Content), &er); err != nil || er.Reason != tools.ReasonBudgetExhausted {
		t.Errorf("expected budget_exhausted result, got %s", last.Content)
	}
	if last.ToolCallID != "c3-2" {
		t.Errorf("ToolCallID = %s, want c3-2", last.ToolCallID)
	}
	if s.State() != StateFinalized || s.Snapshot().Status != StatusCompleted {
		t.Errorf("state = %s status = %s", s.State(), s.Snapshot().Status)
	}
}

func TestToolBatchFailureContinuesSession(t *testing.T) {
	doc := "a\n$$x^2$$\nb"
	m := &scriptedModel{}
	m.respond = func(step int, input []*schema.Message) (*schema.Message, error) {
		if step == 1 {
			return requestTools(
				replaceLine(t, "c1", doc, 2, "$$x^2 + 1$$"),
				toolCall(t, "c2", tools.ToolValidateFormula, map[string]string{"formula": "x^2 + 1"}),
				toolCall(t, "c3", tools.ToolValidateFormula, map[string]string{"formula": "y"}),
			), nil
		}
		return assistant("Correction complete."), nil
	}

	sess := NewOrchestrator(m, Config{}).NewSession(Request{
		Analysis:  Source{Text: doc},
		Reference: Source{Text: "x^2 + 1"},
	})
	sess.dispatch = func(ctx context.Context, call schema.ToolCall) tools.Outcome {
		if call.ID == "c2" {
			panic("dispatcher crashed")
		}
		return sess.dispatcher.Dispatch(ctx, call)
	}

	res, err := sess.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != StatusCompleted || res.StopReason != StopCompletionPhrase || !res.IsComplete {
		t.Errorf("status = %s/%s, want completed/completion_phrase", res.Status, res.StopReason)
	}
	if m.steps != 2 {
		t.Errorf("model called %d times, want 2", m.steps)
	}
	if res.CorrectedContent != "a\n$$x^2 + 1$$\nb" || len(res.CorrectionsApplied) != 1 {
		t.Errorf("edit before the failure was lost: %q, %d corrections", res.CorrectedContent, len(res.CorrectionsApplied))
	}

	// Every call of the batch is answered before the next model call.
	input := m.inputs[1]
	toolMsgs := input[len(input)-3:]
	for i, id := range []string{"c1", "c2", "c3"} {
		msg := toolMsgs[i]
		if msg.Role != schema.Tool || msg.ToolCallID != id {
			t.Fatalf("message %d = %+v, want tool result for %s", i, msg, id)
		}
		failed := strings.Contains(msg.Content, tools.ReasonInternal)
		if failed != (id != "c1") {
			t.Errorf("%s: internal_error = %v, content %s", id, failed, msg.Content)
		}
	}
	if st := sess.Snapshot(); st.ToolCallCount != 2 || len(st.Messages) != 6 {
		t.Errorf("tool calls %d messages %d, want 2 and 6", st.ToolCallCount, len(st.Messages))
	}
}

func TestCompletionPhrase(t *testing.T) {
	tests := []struct {
		name     string
		phrases  []string
		reply    string
		complete bool
	}{
		{"default phrase any case", nil, "CORRECTION COMPLETE: nothing to fix.", true},
		{"chinese phrase", nil, "所有公式已检查，修正完成。", true},
		{"custom phrase", []string{"all done"}, "All Done.", true},
		{"custom replaces defaults", []string{"all done"}, "Correction complete", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &scriptedModel{respond: func(int, []*schema.Message) (*schema.Message, error) {
				return assistant(tt.reply), nil
			}}
			res := run(t, m, Config{CompletionPhrases: tt.phrases}, Request{Analysis: Source{Text: "$$x$$"}})
			if res.IsComplete != tt.complete {
				t.Fatalf("IsComplete = %v, want %v", res.IsComplete, tt.complete)
			}
			if tt.complete && (res.MessageCount != 2 || res.StopReason != StopCompletionPhrase) {
				t.Errorf("messages=%d reason=%s", res.MessageCount, res.StopReason)
			}
		})
	}
}

func TestToolRequestWinsOverCompletionPhrase(t *testing.T) {
	doc := "$$x$$\n"
	m := &scriptedModel{}
	m.respond = func(step int, _ []*schema.Message) (*schema.Message, error) {
		if step == 1 {
			msg := requestTools(replaceLine(t, "c1", doc, 1, "$$y$$"))
			msg.Content = "Correction complete after this edit."
			return msg, nil
		}
		return assistant("correction complete"), nil
	}
	res := run(t, m, Config{}, Request{Analysis: Source{Text: doc}})
	if res.CorrectedContent != "$$y$$\n" || res.ToolCallCount != 1 || res.StepCount != 2 {
		t.Errorf("corrected=%q tools=%d steps=%d", res.CorrectedContent, res.ToolCallCount, res.StepCount)
	}
}

func TestModelFailureBecomesMessage(t *testing.T) {
	m := &scriptedModel{}
	m.respond = func(step int, _ []*schema.Message) (*schema.Message, error) {
		if step == 1 {
			return nil, errors.New("rate limited")
		}
		return assistant("Correction complete"), nil
	}
	res := run(t, m, Config{}, Request{Analysis: Source{Text: "$$x$$"}})

	if res.ModelFailures != 1 || res.MessageCount != 3 || !res.IsComplete {
		t.Fatalf("failures=%d messages=%d complete=%v", res.ModelFailures, res.MessageCount, res.IsComplete)
	}
	synthetic := m.inputs[1][1]
	if synthetic.Role != schema.Assistant || !strings.Contains(synthetic.Content, "rate limited") {
		t.Errorf("unexpected synthetic message: %+v", synthetic)
	}
}

func TestCancelKeepsPartialCorrections(t *testing.T) {
	doc := "$$a$$\n$$b$$\n"
	var s *Session
	m := &scriptedModel{}
	m.respond = func(step int, _ []*schema.Message) (*schema.Message, error) {
		if step == 1 {
			return requestTools(replaceLine(t, "c1", doc, 1, "$$A$$")), nil
		}
		s.Cancel()
		return requestTools(replaceLine(t, "c2", "$$A$$\n$$b$$\n", 2, "$$B$$")), nil
	}
	s = NewOrchestrator(m, Config{}).NewSession(Request{Analysis: Source{Text: doc}})

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusAborted || res.StopReason != StopCancelled || res.IsComplete {
		t.Errorf("status=%s reason=%s complete=%v", res.Status, res.StopReason, res.IsComplete)
	}
	if res.CorrectedContent != "$$A$$\n$$b$$\n" || res.ToolCallCount != 1 {
		t.Errorf("corrected=%q tools=%d", res.CorrectedContent, res.ToolCallCount)
	}
}

func TestCancelledContextAbortsBeforeModelCall(t *testing.T) {
	m := &scriptedModel{respond: func(int, []*schema.Message) (*schema.Message, error) {
		return assistant("Correction complete"), nil
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewOrchestrator(m, Config{}).Correct(ctx, Request{Analysis: Source{Text: "$$x$$"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusAborted || m.steps != 0 || res.CorrectedContent != "$$x$$" {
		t.Errorf("status=%s steps=%d corrected=%q", res.Status, m.steps, res.CorrectedContent)
	}
}

func TestStructuredCompletion(t *testing.T) {
	m := &scriptedModel{}
	m.respond = func(step int, _ []*schema.Message) (*schema.Message, error) {
		return requestTools(toolCall(t, "f1", tools.ToolFinishCorrection, map[string]string{"summary": "nothing to fix"})), nil
	}
	res := run(t, m, Config{StructuredCompletion: true}, Request{Analysis: Source{Text: "$$x$$"}})

	if !res.IsComplete || res.StopReason != StopFinishTool || res.StepCount != 1 || res.MessageCount != 3 {
		t.Errorf("complete=%v reason=%s steps=%d messages=%d", res.IsComplete, res.StopReason, res.StepCount, res.MessageCount)
	}
	offered := strings.Join(m.tools[0], ",")
	if !strings.Contains(offered, tools.ToolFinishCorrection) {
		t.Errorf("finish tool not offered: %s", offered)
	}
}

func TestUnterminatedFormula(t *testing.T) {
	doc := "a\n$$x^2\nb"
	m := &scriptedModel{respond: func(int, []*schema.Message) (*schema.Message, error) {
		return assistant("No formulas to check. Correction complete."), nil
	}}
	res := run(t, m, Config{}, Request{Analysis: Source{Text: doc}})

	if len(res.Entities) != 0 || res.DegradedSpans != 1 {
		t.Errorf("entities=%v degraded=%d", res.Entities, res.DegradedSpans)
	}
	if res.CorrectedContent != doc || !res.IsComplete {
		t.Errorf("corrected=%q complete=%v", res.CorrectedContent, res.IsComplete)
	}
}

func TestStaleEditIsRejected(t *testing.T) {
	doc := "$$a$$\n$$b$$\n"
	m := &scriptedModel{}
	m.respond = func(step int, _ []*schema.Message) (*schema.Message, error) {
		switch step {
		case 1:
			return requestTools(replaceLine(t, "c1", doc, 1, "$$A$$")), nil
		case 2:
			// Second edit reuses the original content but claims a stale hash.
			call := toolCall(t, "c2", tools.ToolEditText, map[string]interface{}{
				"content":        doc,
				"operation_type": "replace",
				"start_line":     2,
				"new_content":    "$$B$$",
				"validate_hash":  editor.HashContent("$$A$$\n$$b$$\n"),
			})
			return requestTools(call), nil
		default:
			return assistant("correction complete"), nil
		}
	}
	res := run(t, m, Config{}, Request{Analysis: Source{Text: doc}})

	if res.CorrectedContent != "$$A$$\n$$b$$\n" || len(res.CorrectionsApplied) != 1 {
		t.Errorf("corrected=%q corrections=%d", res.CorrectedContent, len(res.CorrectionsApplied))
	}
	reply := m.inputs[2][len(m.inputs[2])-1]
	if !strings.Contains(reply.Content, string(editor.ErrHashMismatch)) {
		t.Errorf("expected hash mismatch result, got %s", reply.Content)
	}
}

func TestCollectCorrectionsFollowsHashChain(t *testing.T) {
	original := "one\ntwo\nthree\n"
	apply := func(content string, line int, text string) editor.EditResult {
		ed := editor.New()
		ed.Load(content)
		return ed.Apply(editor.Operation{Kind: editor.OpReplace, StartLine: line, NewContent: &text})
	}
	asMessage := func(res editor.EditResult) *schema.Message {
		data, _ := json.Marshal(res)
		return &schema.Message{Role: schema.Tool, ToolName: tools.ToolEditText, Content: string(data)}
	}

	abandoned := apply(original, 1, "ONE")
	branch := apply(original, 2, "TWO")
	tip := apply(branch.EditedContent, 3, "THREE")

	msgs := []*schema.Message{
		schema.SystemMessage("prompt"),
		asMessage(abandoned),
		asMessage(branch),
		{Role: schema.Tool, ToolName: tools.ToolEditText, Content: `{"success":false,"error_kind":"RangeError"}`},
		asMessage(tip),
	}
	corrected, log := collectCorrections(original, msgs)

	if corrected != "one\nTWO\nTHREE\n" {
		t.Errorf("corrected = %q", corrected)
	}
	if len(log) != 2 || log[0].AffectedLines.Start != 2 || log[1].AffectedLines.Start != 3 {
		t.Errorf("unexpected log: %+v", log)
	}
	if log[0].BaseHash != editor.HashContent(original) || log[1].NewHash != editor.HashContent(corrected) {
		t.Errorf("log does not chain from the original: %+v", log)
	}

	corrected, log = collectCorrections(original, msgs[:1])
	if corrected != original || len(log) != 0 {
		t.Errorf("no edits should be a no-op, got %q %v", corrected, log)
	}
}

func TestInitFailureReturnsError(t *testing.T) {
	m := &scriptedModel{respond: func(int, []*schema.Message) (*schema.Message, error) {
		return assistant("Correction complete"), nil
	}}
	_, err := NewOrchestrator(m, Config{}).Correct(context.Background(), Request{
		Analysis: Source{Path: "/nonexistent/analysis.md"},
	})
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrFileNotFound {
		t.Fatalf("expected FILE_NOT_FOUND, got %v", err)
	}
	if m.steps != 0 {
		t.Errorf("model called %d times before init succeeded", m.steps)
	}
}

func TestSessionRunsOnce(t *testing.T) {
	m := &scriptedModel{respond: func(int, []*schema.Message) (*schema.Message, error) {
		return assistant("Correction complete"), nil
	}}
	s := NewOrchestrator(m, Config{}).NewSession(Request{Analysis: Source{Text: "$$x$$"}})
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Run(context.Background()); err == nil {
		t.Error("expected second Run to fail")
	}
}
